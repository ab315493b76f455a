package scanner

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Filter descarta mercados antes de leer reservas: vencidos, sin liquidez
// suficiente o con direcciones incompletas.
type Filter struct {
	minLiquidityUSD float64
}

// NewFilter crea un Filter con el mínimo de liquidez dado (USD).
func NewFilter(minLiquidityUSD float64) *Filter {
	return &Filter{minLiquidityUSD: minLiquidityUSD}
}

// Apply devuelve los mercados elegibles en el mismo orden en que llegaron.
func (f *Filter) Apply(markets []domain.Market, now time.Time) []domain.Market {
	out := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if m.IsExpired(now) {
			continue
		}
		if m.LiquidityUSD < f.minLiquidityUSD {
			continue
		}
		if !complete(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func complete(m domain.Market) bool {
	for _, a := range []common.Address{m.Address, m.Underlying, m.SY, m.PT, m.YT} {
		if a == (common.Address{}) {
			return false
		}
	}
	return true
}
