package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToWei convierte una cantidad en unidades de token a su entero base.
// Trunca hacia cero cualquier fracción por debajo de la precisión del token.
func ToWei(amount float64, decimals uint8) *big.Int {
	if amount <= 0 {
		return new(big.Int)
	}
	return decimal.NewFromFloat(amount).Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromWei convierte un entero base a unidades de token.
func FromWei(v *big.Int, decimals uint8) float64 {
	if v == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(v, -int32(decimals)).Float64()
	return f
}

// ApplyBps devuelve v * (10000 - bps) / 10000, redondeado hacia abajo.
// Se usa para derivar el mínimo de salida a partir de una tolerancia.
func ApplyBps(v *big.Int, bps int64) *big.Int {
	if v == nil || v.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(v, big.NewInt(10_000-bps))
	return out.Quo(out, big.NewInt(10_000))
}
