package engine

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/flashpendle/internal/application/scanner"
	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// ScannerService is the minimal surface the loop needs from the scanner.
// Decouples Loop from a concrete *scanner.Scanner.
type ScannerService interface {
	RunOnce(ctx context.Context) (scanner.Report, error)
	SetGasPriceGwei(gwei float64)
	CostModel() domain.CostModel
}

// Stats are the loop counters. Owned by one Loop; safe to read concurrently.
type Stats struct {
	mu sync.Mutex
	s  StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Cycles             int
	OpportunitiesFound int
	TradesExecuted     int
	TradesFailed       int
	TotalProfit        float64
	LastCycle          time.Time
}

// NewStats creates zeroed counters.
func NewStats() *Stats { return &Stats{} }

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s
}

func (s *Stats) recordCycle(at time.Time, opportunities int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.Cycles++
	s.s.OpportunitiesFound += opportunities
	s.s.LastCycle = at
}

func (s *Stats) recordOutcome(o domain.ExecutionOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Status == domain.StatusSuccess {
		s.s.TradesExecuted++
		s.s.TotalProfit += o.RealizedProfit
		return
	}
	s.s.TradesFailed++
}

// TruncateStr truncates s to maxLen characters adding "..." if needed.
func TruncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
