package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Market representa un mercado PT/SY de tokenización de rendimiento.
// Agrupa las direcciones de todos los contratos que intervienen en un ciclo.
type Market struct {
	Address    common.Address // AMM PT/SY
	Name       string         // enriquecido desde la API de mercados
	ChainID    int64
	Underlying common.Address
	SY         common.Address // wrapper estandarizado
	PT         common.Address // principal
	YT         common.Address // rendimiento; también hace split/merge

	UnderlyingDecimals uint8
	Expiry             time.Time
	LiquidityUSD       float64
}

// IsExpired devuelve true si el mercado ya venció en now.
// Un mercado sin fecha de vencimiento conocida se trata como vencido: no es operable.
func (m Market) IsExpired(now time.Time) bool {
	if m.Expiry.IsZero() {
		return true
	}
	return !now.Before(m.Expiry)
}

// Label devuelve un nombre legible para logs y tablas.
func (m Market) Label() string {
	if m.Name != "" {
		return m.Name
	}
	return shortAddr(m.Address)
}

// PoolState es la lectura de reservas del AMM en un bloque dado.
type PoolState struct {
	ReservePT   float64 // en unidades de token, no wei
	ReserveSY   float64
	Expired     bool
	BlockNumber uint64
}

func shortAddr(a common.Address) string {
	h := a.Hex()
	return fmt.Sprintf("%s…%s", h[:6], h[len(h)-4:])
}
