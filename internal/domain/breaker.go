package domain

import "time"

// CircuitBreaker cuenta intentos fallidos consecutivos y pausa la ejecución.
// El escaneo sigue corriendo mientras está abierto.
type CircuitBreaker struct {
	ConsecutiveFailures int
	MaxFailures         int
	CooldownUntil       time.Time
	CooldownDuration    time.Duration
	TotalProfit         float64
	TriggeredReason     string
}

// NewCircuitBreaker crea un breaker con el umbral y cooldown dados.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &CircuitBreaker{MaxFailures: maxFailures, CooldownDuration: cooldown}
}

// Allows devuelve true si se permite ejecutar en now.
func (cb *CircuitBreaker) Allows(now time.Time) bool {
	return !now.Before(cb.CooldownUntil)
}

// RecordFailure registra un intento fallido y puede activar el cooldown.
func (cb *CircuitBreaker) RecordFailure(now time.Time, reason string) {
	cb.ConsecutiveFailures++
	if cb.ConsecutiveFailures >= cb.MaxFailures {
		cb.CooldownUntil = now.Add(cb.CooldownDuration)
		cb.ConsecutiveFailures = 0
		cb.TriggeredReason = "consecutive failures: " + reason
	}
}

// RecordSuccess resetea el contador de fallos consecutivos.
func (cb *CircuitBreaker) RecordSuccess(profit float64) {
	cb.ConsecutiveFailures = 0
	cb.TotalProfit += profit
	cb.TriggeredReason = ""
}
