package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/flashpendle/internal/domain"
	"github.com/alejandrodnm/flashpendle/internal/ports"
)

// Config contiene la configuración del scanner.
type Config struct {
	SizeLadder      []float64 // tamaños candidatos, en unidades del underlying
	MinProfitBps    float64
	MinLiquidityUSD float64
	Cost            domain.CostModel
	ReadWorkers     int              // goroutines para lectura de reservas (0 = NumCPU*2)
	Now             func() time.Time // reloj inyectable para tests
}

// DefaultConfig devuelve la configuración por defecto.
func DefaultConfig() Config {
	return Config{
		SizeLadder:      []float64{1, 10, 100, 1000},
		MinProfitBps:    15,
		MinLiquidityUSD: 100_000,
		Cost:            domain.DefaultCostModel(),
		ReadWorkers:     8,
		Now:             time.Now,
	}
}

// Report es el resultado de un escaneo.
type Report struct {
	Opportunities []domain.Opportunity // ordenadas por beneficio neto desc
	MarketsSeen   int
	Eligible      int
	Unreadable    int
}

// Best devuelve la mejor oportunidad, si hay alguna.
func (r Report) Best() (domain.Opportunity, bool) {
	if len(r.Opportunities) == 0 {
		return domain.Opportunity{}, false
	}
	return r.Opportunities[0], true
}

// Scanner encuentra y dimensiona oportunidades. No ejecuta nada.
type Scanner struct {
	cfg      Config
	markets  ports.MarketProvider
	reader   ports.PoolStateReader
	analyzer *Analyzer
	filter   *Filter

	mu   sync.RWMutex
	cost domain.CostModel
}

// New crea un Scanner con todas las dependencias inyectadas.
func New(cfg Config, markets ports.MarketProvider, reader ports.PoolStateReader) *Scanner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scanner{
		cfg:      cfg,
		markets:  markets,
		reader:   reader,
		analyzer: NewAnalyzer(cfg.SizeLadder, cfg.MinProfitBps),
		filter:   NewFilter(cfg.MinLiquidityUSD),
		cost:     cfg.Cost,
	}
}

// SetGasPriceGwei actualiza el precio de gas usado por el modelo de costes.
func (s *Scanner) SetGasPriceGwei(gwei float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cost.GasPriceGwei = gwei
}

// CostModel devuelve el modelo de costes vigente.
func (s *Scanner) CostModel() domain.CostModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cost
}

// RunOnce hace fetch de mercados y un escaneo completo.
func (s *Scanner) RunOnce(ctx context.Context) (Report, error) {
	markets, err := s.markets.FetchMarkets(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("scanner.RunOnce: fetch markets: %w", err)
	}
	return s.Scan(ctx, markets)
}

// Scan hace filter → lectura concurrente → sizing → rank sobre los mercados dados.
// Un mercado que no se puede leer se descarta; solo la cancelación del contexto
// devuelve error.
func (s *Scanner) Scan(ctx context.Context, markets []domain.Market) (Report, error) {
	now := s.cfg.Now()
	report := Report{MarketsSeen: len(markets)}

	eligible := s.filter.Apply(markets, now)
	report.Eligible = len(eligible)
	if len(eligible) == 0 {
		return report, nil
	}

	states := readStatesConcurrent(ctx, s.reader, eligible, s.cfg.ReadWorkers)
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("scanner.Scan: %w", err)
	}

	cost := s.CostModel()
	opps := make([]domain.Opportunity, 0, len(eligible))
	for i, m := range eligible {
		r := states[i]
		if r.err != nil {
			report.Unreadable++
			slog.Debug("skipping unreadable market", "market", m.Label(), "err", r.err)
			continue
		}
		if r.state.Expired {
			slog.Debug("skipping market expired on-chain", "market", m.Label())
			continue
		}
		est, ok := s.analyzer.Best(r.state, cost)
		if !ok {
			continue
		}
		opps = append(opps, domain.Opportunity{
			Market:    m,
			State:     r.state,
			Estimate:  est,
			ScannedAt: now,
		})
	}

	report.Opportunities = rankByProfit(opps)
	return report, nil
}

// rankByProfit ordena por beneficio neto descendente. Es estable: con empate
// se conserva el orden en que se encontraron los mercados.
func rankByProfit(opps []domain.Opportunity) []domain.Opportunity {
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].NetProfit() > opps[j].NetProfit()
	})
	return opps
}
