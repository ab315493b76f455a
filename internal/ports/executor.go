package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// ArbitrageExecutor lanza un intento atómico de ciclo.
type ArbitrageExecutor interface {
	// Execute envía el intento y espera su resultado. Un intento revertido
	// devuelve error y no deja efectos.
	Execute(ctx context.Context, params domain.ArbitrageParameters) (domain.ExecutionResult, error)

	// Mode indica si el ejecutor es real o simulado.
	Mode() domain.ExecutionMode
}

// GasOracle devuelve el precio de gas actual en gwei.
type GasOracle interface {
	GasPriceGwei(ctx context.Context) (float64, error)
}

// ExecutionLock impide que dos réplicas ejecuten a la vez.
type ExecutionLock interface {
	// Acquire devuelve domain.ErrLockHeld si otro proceso lo tiene.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// ExecutionPreparer lo implementan los ejecutores que necesitan ver el estado
// del pool antes de cada intento (el simulado de paper trading).
type ExecutionPreparer interface {
	Prepare(ctx context.Context, market domain.Market, state domain.PoolState) error
}
