package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/flashpendle/internal/domain"
	"github.com/alejandrodnm/flashpendle/internal/ports"
)

const (
	defaultInterval    = 15 * time.Second
	defaultLockTTL     = 2 * time.Minute
	defaultMaxFailures = 3
	defaultCooldown    = 10 * time.Minute
	defaultLockKey     = "flashpendle:execute"
)

// Config holds configuration for the orchestration loop.
type Config struct {
	Interval    time.Duration
	Lender      domain.LenderRef
	Router      common.Address
	StopFile    string // if this file exists the loop stops at the next cycle boundary
	LockKey     string
	LockTTL     time.Duration
	MaxFailures int
	Cooldown    time.Duration
}

// Loop runs scan → execute-best → sleep until stopped.
// One cycle at a time, at most one execution attempt per cycle.
type Loop struct {
	cfg      Config
	scanner  ScannerService
	executor ports.ArbitrageExecutor
	store    ports.Storage
	notifier ports.Notifier
	lock     ports.ExecutionLock
	gas      ports.GasOracle
	stats    *Stats
	breaker  *domain.CircuitBreaker
	now      func() time.Time

	stopped atomic.Bool
}

// New creates a loop. store and notifier may be nil; stats nil means fresh counters.
func New(
	cfg Config,
	scanner ScannerService,
	executor ports.ArbitrageExecutor,
	store ports.Storage,
	notifier ports.Notifier,
	stats *Stats,
) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.LockKey == "" {
		cfg.LockKey = defaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if stats == nil {
		stats = NewStats()
	}
	return &Loop{
		cfg:      cfg,
		scanner:  scanner,
		executor: executor,
		store:    store,
		notifier: notifier,
		stats:    stats,
		breaker:  domain.NewCircuitBreaker(cfg.MaxFailures, cfg.Cooldown),
		now:      time.Now,
	}
}

// SetLock enables the cross-process execution lock.
func (l *Loop) SetLock(lock ports.ExecutionLock) { l.lock = lock }

// SetGasOracle enables gas price refresh at the start of each cycle.
func (l *Loop) SetGasOracle(gas ports.GasOracle) { l.gas = gas }

// SetClock replaces the clock. Used in tests.
func (l *Loop) SetClock(now func() time.Time) { l.now = now }

// Stats returns the loop's counters.
func (l *Loop) Stats() *Stats { return l.stats }

// Stop asks the loop to exit. It takes effect at the next cycle boundary;
// an attempt in flight is not interrupted.
func (l *Loop) Stop() { l.stopped.Store(true) }

// Run executes cycles until Stop, ctx cancellation or the stop file appears.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("engine starting",
		"interval", l.cfg.Interval,
		"mode", l.executor.Mode(),
		"lender", l.cfg.Lender.Kind,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopped", "reason", "context cancelled")
			return nil
		case <-timer.C:
		}

		if reason, stop := l.shouldStop(ctx); stop {
			slog.Info("engine stopped", "reason", reason)
			return nil
		}

		l.RunCycle(ctx)
		timer.Reset(l.cfg.Interval)
	}
}

func (l *Loop) shouldStop(ctx context.Context) (string, bool) {
	if l.stopped.Load() {
		return "stop requested", true
	}
	if ctx.Err() != nil {
		return "context cancelled", true
	}
	if l.cfg.StopFile != "" {
		if _, err := os.Stat(l.cfg.StopFile); err == nil {
			return "stop file " + l.cfg.StopFile, true
		}
	}
	return "", false
}

// RunCycle runs one full cycle. Every failure is logged and turned into
// "this cycle produced nothing"; it never returns an error.
func (l *Loop) RunCycle(ctx context.Context) domain.CycleSummary {
	start := l.now()
	summary := domain.CycleSummary{StartedAt: start}

	l.refreshGas(ctx)

	report, err := l.scanner.RunOnce(ctx)
	if err != nil {
		slog.Error("scan cycle failed", "err", err)
		l.stats.recordCycle(start, 0)
		l.finish(ctx, &summary, start)
		return summary
	}

	summary.MarketsSeen = report.MarketsSeen
	summary.Opportunities = len(report.Opportunities)
	l.stats.recordCycle(start, len(report.Opportunities))

	if l.notifier != nil {
		if err := l.notifier.Notify(ctx, report.Opportunities); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}

	if best, ok := report.Best(); ok {
		summary.BestMarket = best.Market.Label()
		summary.BestProfit = best.NetProfit()
		summary.Attempted = l.attempt(ctx, best)
	}

	l.finish(ctx, &summary, start)
	return summary
}

func (l *Loop) finish(ctx context.Context, summary *domain.CycleSummary, start time.Time) {
	summary.Duration = l.now().Sub(start)
	if l.store != nil {
		if err := l.store.SaveCycle(ctx, *summary); err != nil {
			slog.Warn("storage error", "err", err)
		}
	}
	slog.Info("cycle complete",
		"markets", summary.MarketsSeen,
		"opportunities", summary.Opportunities,
		"attempted", summary.Attempted,
		"duration", summary.Duration.Round(time.Millisecond),
	)
}

func (l *Loop) refreshGas(ctx context.Context) {
	if l.gas == nil {
		return
	}
	gwei, err := l.gas.GasPriceGwei(ctx)
	if err != nil {
		slog.Warn("gas price refresh failed, keeping previous", "err", err)
		return
	}
	l.scanner.SetGasPriceGwei(gwei)
}

// attempt executes opp if the breaker and the lock allow it. Returns true if
// an execution was actually submitted.
func (l *Loop) attempt(ctx context.Context, opp domain.Opportunity) bool {
	now := l.now()
	if !l.breaker.Allows(now) {
		slog.Warn("circuit breaker open, skipping execution",
			"until", l.breaker.CooldownUntil.Format(time.RFC3339),
			"reason", l.breaker.TriggeredReason,
		)
		return false
	}

	if l.lock != nil {
		release, err := l.lock.Acquire(ctx, l.cfg.LockKey, l.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				slog.Info("execution lock held by another instance, skipping")
			} else {
				slog.Warn("execution lock unavailable, skipping", "err", err)
			}
			return false
		}
		defer release()
	}

	params, err := l.buildParams(opp)
	if err != nil {
		slog.Warn("cannot build execution parameters", "market", opp.Market.Label(), "err", err)
		return false
	}

	if p, ok := l.executor.(ports.ExecutionPreparer); ok {
		if err := p.Prepare(ctx, opp.Market, opp.State); err != nil {
			slog.Warn("executor prepare failed", "market", opp.Market.Label(), "err", err)
			return false
		}
	}

	if ctx.Err() != nil {
		return false
	}
	// from here the attempt and its journal entry complete even if ctx is cancelled
	execCtx := context.WithoutCancel(ctx)

	slog.Info("executing arbitrage",
		"market", TruncateStr(opp.Market.Label(), 40),
		"size", fmt.Sprintf("%.4f", opp.Size()),
		"est_profit", fmt.Sprintf("%.6f", opp.NetProfit()),
		"bps", fmt.Sprintf("%.1f", opp.ProfitBps()),
	)

	res, execErr := l.executor.Execute(execCtx, params)
	outcome := domain.NewOutcome(opp, l.executor.Mode(), res, execErr, l.now())
	l.stats.recordOutcome(outcome)

	if execErr != nil {
		l.breaker.RecordFailure(l.now(), string(outcome.Kind))
		slog.Warn("execution failed",
			"market", TruncateStr(opp.Market.Label(), 40),
			"kind", outcome.Kind,
			"err", execErr,
		)
	} else {
		l.breaker.RecordSuccess(outcome.RealizedProfit)
		slog.Info("arbitrage executed",
			"market", TruncateStr(opp.Market.Label(), 40),
			"profit", fmt.Sprintf("%.6f", outcome.RealizedProfit),
			"tx", outcome.TxHash,
		)
	}

	if l.notifier != nil {
		if err := l.notifier.NotifyExecution(execCtx, outcome); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
	if l.store != nil {
		if err := l.store.SaveOutcome(execCtx, outcome); err != nil {
			slog.Warn("storage error", "err", err)
		}
	}
	return true
}

// buildParams sizes the attempt: PT amount is the scanned size, the borrow
// adds the slippage allowance so the buy-back leg is funded, and the output
// guard is the repayment floor including the expected flash fee.
func (l *Loop) buildParams(opp domain.Opportunity) (domain.ArbitrageParameters, error) {
	cost := l.scanner.CostModel()
	dec := opp.Market.UnderlyingDecimals

	ptAmount := domain.ToWei(opp.Size(), dec)
	borrow := domain.ToWei(opp.Size()*(1+cost.SlippageBps/10_000), dec)

	fee := decimal.NewFromBigInt(borrow, 0).
		Mul(decimal.NewFromFloat(cost.FlashFeeBps)).
		Div(decimal.NewFromInt(10_000)).
		Ceil()
	minOut := decimal.NewFromBigInt(borrow, 0).Add(fee).BigInt()

	return domain.NewArbitrageParameters(opp.Market, l.cfg.Lender, l.cfg.Router, borrow, ptAmount, minOut)
}
