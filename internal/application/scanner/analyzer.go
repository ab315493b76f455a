package scanner

import (
	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Analyzer dimensiona un ciclo para un mercado usando el modelo de precio.
// Es puro: no hace I/O y se puede llamar desde varias goroutines.
type Analyzer struct {
	ladder       []float64
	minProfitBps float64
}

// NewAnalyzer crea un Analyzer con la escalera de tamaños y el umbral dados.
func NewAnalyzer(ladder []float64, minProfitBps float64) *Analyzer {
	return &Analyzer{ladder: ladder, minProfitBps: minProfitBps}
}

// Best evalúa cada tamaño de la escalera vendiendo PT contra SY y devuelve el de
// mayor beneficio neto absoluto entre los que superan el umbral en bps.
// Con empate gana el primero de la escalera.
func (a *Analyzer) Best(state domain.PoolState, cost domain.CostModel) (domain.Estimate, bool) {
	var best domain.Estimate
	found := false
	for _, size := range a.ladder {
		e, ok := domain.EstimateProfit(state.ReservePT, state.ReserveSY, size, cost)
		if !ok || e.ProfitBps < a.minProfitBps {
			continue
		}
		if !found || e.NetProfit > best.NetProfit {
			best = e
			found = true
		}
	}
	return best, found
}
