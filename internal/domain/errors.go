package domain

import (
	"errors"
	"strings"
)

// Errores de la máquina de estados de ejecución. Cualquiera de ellos aborta el
// intento completo; el host revierte todos los efectos.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotVault           = errors.New("caller is not the vault")
	ErrExpired            = errors.New("market expired")
	ErrInsufficientOutput = errors.New("insufficient output to repay flash loan")
	ErrNoProfit           = errors.New("no profit")
	ErrZeroAddress        = errors.New("zero address")
)

// ErrLockHeld indica que otra réplica tiene el lock de ejecución.
var ErrLockHeld = errors.New("execution lock held")

// FailureKind clasifica el motivo de un intento fallido para el journal.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureUnauthorized       FailureKind = "unauthorized"
	FailureExpired            FailureKind = "expired"
	FailureInsufficientOutput FailureKind = "insufficient_output"
	FailureNoProfit           FailureKind = "no_profit"
	FailureSlippage           FailureKind = "slippage"
	FailureTransport          FailureKind = "transport"
)

// ClassifyFailure mapea un error de ejecución a su FailureKind.
// Los errores que vienen como texto de revert (RPC) se reconocen por su mensaje.
func ClassifyFailure(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotVault):
		return FailureUnauthorized
	case errors.Is(err, ErrExpired):
		return FailureExpired
	case errors.Is(err, ErrInsufficientOutput):
		return FailureInsufficientOutput
	case errors.Is(err, ErrNoProfit):
		return FailureNoProfit
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "slippage") || strings.Contains(msg, "min out") {
		return FailureSlippage
	}
	return FailureTransport
}
