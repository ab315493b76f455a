package engine_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flashpendle/internal/application/engine"
	"github.com/alejandrodnm/flashpendle/internal/application/scanner"
	"github.com/alejandrodnm/flashpendle/internal/domain"
	"github.com/alejandrodnm/flashpendle/internal/ports"
)

// --- mocks ---

type mockScanner struct {
	mu     sync.Mutex
	report scanner.Report
	err    error
	runs   int
	gas    float64
	cost   domain.CostModel
}

func (s *mockScanner) RunOnce(_ context.Context) (scanner.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	return s.report, s.err
}

func (s *mockScanner) SetGasPriceGwei(gwei float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gas = gwei
}

func (s *mockScanner) CostModel() domain.CostModel { return s.cost }

func (s *mockScanner) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

type mockExecutor struct {
	mu     sync.Mutex
	calls  []domain.ArbitrageParameters
	err    error
	profit *big.Int
}

func (e *mockExecutor) Execute(_ context.Context, p domain.ArbitrageParameters) (domain.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, p)
	if e.err != nil {
		return domain.ExecutionResult{}, e.err
	}
	return domain.ExecutionResult{TxHash: "0xabc", Profit: e.profit, GasUsed: 420_000}, nil
}

func (e *mockExecutor) Mode() domain.ExecutionMode { return domain.ModePaper }

func (e *mockExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// cancellingExecutor simulates a shutdown signal arriving mid-execution.
type cancellingExecutor struct {
	mockExecutor
	cancel context.CancelFunc
	ctxErr error
}

func (e *cancellingExecutor) Execute(ctx context.Context, p domain.ArbitrageParameters) (domain.ExecutionResult, error) {
	e.cancel()
	e.ctxErr = ctx.Err()
	return e.mockExecutor.Execute(ctx, p)
}

type preparingExecutor struct {
	mockExecutor
	prepared []domain.PoolState
	err      error
}

func (e *preparingExecutor) Prepare(_ context.Context, _ domain.Market, st domain.PoolState) error {
	e.prepared = append(e.prepared, st)
	return e.err
}

type mockStore struct {
	mu          sync.Mutex
	cycles      []domain.CycleSummary
	outcomes    []domain.ExecutionOutcome
	outcomeErrs []error
}

func (s *mockStore) SaveCycle(_ context.Context, c domain.CycleSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, c)
	return nil
}

func (s *mockStore) SaveOutcome(ctx context.Context, o domain.ExecutionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	s.outcomeErrs = append(s.outcomeErrs, ctx.Err())
	return nil
}

func (s *mockStore) ListOutcomes(_ context.Context, _, _ time.Time) ([]domain.ExecutionOutcome, error) {
	return s.outcomes, nil
}

func (s *mockStore) Close() error { return nil }

type mockNotifier struct {
	notified   int
	executions []domain.ExecutionOutcome
	execErrs   []error
}

func (n *mockNotifier) Notify(_ context.Context, _ []domain.Opportunity) error {
	n.notified++
	return nil
}

func (n *mockNotifier) NotifyExecution(ctx context.Context, o domain.ExecutionOutcome) error {
	n.executions = append(n.executions, o)
	n.execErrs = append(n.execErrs, ctx.Err())
	return nil
}

type mockLock struct {
	err      error
	acquired int
	released int
}

func (l *mockLock) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

type mockGas struct {
	gwei float64
	err  error
}

func (g mockGas) GasPriceGwei(_ context.Context) (float64, error) { return g.gwei, g.err }

// --- helpers ---

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func addr(n uint64) common.Address { return common.BigToAddress(new(big.Int).SetUint64(n)) }

func market(n uint64, name string) domain.Market {
	base := n << 8
	return domain.Market{
		Address:            addr(base + 1),
		Name:               name,
		Underlying:         addr(base + 2),
		SY:                 addr(base + 3),
		PT:                 addr(base + 4),
		YT:                 addr(base + 5),
		UnderlyingDecimals: 18,
		Expiry:             t0.Add(30 * 24 * time.Hour),
		LiquidityUSD:       1_000_000,
	}
}

func opportunity(n uint64, name string, size, profit float64) domain.Opportunity {
	return domain.Opportunity{
		Market:    market(n, name),
		State:     domain.PoolState{ReservePT: 1e6, ReserveSY: 1.2e6},
		Estimate:  domain.Estimate{Size: size, NetProfit: profit, ProfitBps: profit / size * 1e4},
		ScannedAt: t0,
	}
}

func loopConfig() engine.Config {
	return engine.Config{
		Interval:    time.Millisecond,
		Lender:      domain.LenderRef{Kind: domain.LenderPool, Address: addr(0xB2)},
		Router:      addr(0xB0),
		MaxFailures: 2,
		Cooldown:    time.Hour,
	}
}

func newLoop(sc *mockScanner, ex ports.ArbitrageExecutor) (*engine.Loop, *mockStore, *mockNotifier) {
	store := &mockStore{}
	notifier := &mockNotifier{}
	l := engine.New(loopConfig(), sc, ex, store, notifier, nil)
	l.SetClock(func() time.Time { return t0 })
	return l, store, notifier
}

func twoOpps() scanner.Report {
	return scanner.Report{
		MarketsSeen: 3,
		Opportunities: []domain.Opportunity{
			opportunity(1, "best", 1_000, 50),
			opportunity(2, "second", 100, 5),
		},
	}
}

// --- tests ---

func TestRunCycle_ExecutesOnlyBest(t *testing.T) {
	sc := &mockScanner{report: twoOpps(), cost: domain.CostModel{SlippageBps: 200, FlashFeeBps: 5}}
	ex := &mockExecutor{profit: domain.ToWei(42, 18)}
	l, store, notifier := newLoop(sc, ex)

	summary := l.RunCycle(context.Background())

	require.Equal(t, 1, ex.callCount())
	assert.Equal(t, market(1, "best").Address, ex.calls[0].Market)
	assert.True(t, summary.Attempted)
	assert.Equal(t, 2, summary.Opportunities)
	assert.Equal(t, 3, summary.MarketsSeen)
	assert.InDelta(t, 50, summary.BestProfit, 1e-9)

	require.Len(t, store.outcomes, 1)
	assert.Equal(t, domain.StatusSuccess, store.outcomes[0].Status)
	assert.InDelta(t, 42, store.outcomes[0].RealizedProfit, 1e-9)
	require.Len(t, store.cycles, 1)
	assert.Equal(t, 1, notifier.notified)
	assert.Len(t, notifier.executions, 1)

	snap := l.Stats().Snapshot()
	assert.Equal(t, 1, snap.Cycles)
	assert.Equal(t, 2, snap.OpportunitiesFound)
	assert.Equal(t, 1, snap.TradesExecuted)
	assert.InDelta(t, 42, snap.TotalProfit, 1e-9)
}

func TestRunCycle_BuildsParameters(t *testing.T) {
	sc := &mockScanner{report: twoOpps(), cost: domain.CostModel{SlippageBps: 200, FlashFeeBps: 5}}
	ex := &mockExecutor{profit: big.NewInt(1)}
	l, _, _ := newLoop(sc, ex)

	l.RunCycle(context.Background())
	require.Equal(t, 1, ex.callCount())
	p := ex.calls[0]

	borrow := domain.ToWei(1_020, 18)
	assert.Equal(t, 0, domain.ToWei(1_000, 18).Cmp(p.PTAmount))
	assert.Equal(t, 0, borrow.Cmp(p.BorrowAmount))

	// 1020e18 * 5 / 10000 = 0.51e18
	fee := new(big.Int).Div(new(big.Int).Mul(borrow, big.NewInt(5)), big.NewInt(10_000))
	assert.Equal(t, 0, new(big.Int).Add(borrow, fee).Cmp(p.MinUnderlyingOut))
	assert.Equal(t, domain.LenderPool, p.Lender.Kind)
	assert.Equal(t, addr(0xB0), p.Router)
}

func TestRunCycle_NoOpportunityNoExecution(t *testing.T) {
	sc := &mockScanner{report: scanner.Report{MarketsSeen: 4}}
	ex := &mockExecutor{}
	l, store, _ := newLoop(sc, ex)

	summary := l.RunCycle(context.Background())
	assert.False(t, summary.Attempted)
	assert.Zero(t, ex.callCount())
	assert.Len(t, store.cycles, 1)
	assert.Empty(t, store.outcomes)
}

func TestRunCycle_ScanErrorIsSwallowed(t *testing.T) {
	sc := &mockScanner{err: errors.New("rpc down")}
	ex := &mockExecutor{}
	l, store, _ := newLoop(sc, ex)

	summary := l.RunCycle(context.Background())
	assert.False(t, summary.Attempted)
	assert.Zero(t, ex.callCount())
	assert.Len(t, store.cycles, 1)
	assert.Equal(t, 1, l.Stats().Snapshot().Cycles)
}

func TestRunCycle_FailureRecorded(t *testing.T) {
	sc := &mockScanner{report: twoOpps()}
	ex := &mockExecutor{err: domain.ErrInsufficientOutput}
	l, store, _ := newLoop(sc, ex)

	l.RunCycle(context.Background())
	require.Len(t, store.outcomes, 1)
	assert.Equal(t, domain.StatusFailure, store.outcomes[0].Status)
	assert.Equal(t, domain.FailureInsufficientOutput, store.outcomes[0].Kind)
	assert.Equal(t, 1, l.Stats().Snapshot().TradesFailed)
}

func TestRunCycle_CircuitBreakerSkipsAfterFailures(t *testing.T) {
	sc := &mockScanner{report: twoOpps()}
	ex := &mockExecutor{err: errors.New("transport error")}
	l, _, _ := newLoop(sc, ex)

	l.RunCycle(context.Background())
	l.RunCycle(context.Background())
	summary := l.RunCycle(context.Background())

	assert.Equal(t, 2, ex.callCount(), "breaker opens after MaxFailures")
	assert.False(t, summary.Attempted)
	assert.Equal(t, 3, sc.runCount(), "scanning continues while the breaker is open")
}

func TestRunCycle_LockHeldSkips(t *testing.T) {
	sc := &mockScanner{report: twoOpps()}
	ex := &mockExecutor{}
	l, _, _ := newLoop(sc, ex)
	l.SetLock(&mockLock{err: domain.ErrLockHeld})

	summary := l.RunCycle(context.Background())
	assert.False(t, summary.Attempted)
	assert.Zero(t, ex.callCount())
}

func TestRunCycle_LockReleased(t *testing.T) {
	sc := &mockScanner{report: twoOpps()}
	ex := &mockExecutor{profit: big.NewInt(1)}
	l, _, _ := newLoop(sc, ex)
	lock := &mockLock{}
	l.SetLock(lock)

	l.RunCycle(context.Background())
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestRunCycle_PreparerSeesPoolState(t *testing.T) {
	sc := &mockScanner{report: twoOpps()}
	ex := &preparingExecutor{mockExecutor: mockExecutor{profit: big.NewInt(1)}}
	l, _, _ := newLoop(sc, ex)

	l.RunCycle(context.Background())
	require.Len(t, ex.prepared, 1)
	assert.InDelta(t, 1.2e6, ex.prepared[0].ReserveSY, 1e-9)
	assert.Equal(t, 1, ex.callCount())
}

func TestRunCycle_PrepareErrorSkips(t *testing.T) {
	sc := &mockScanner{report: twoOpps()}
	ex := &preparingExecutor{err: errors.New("seed failed")}
	l, _, _ := newLoop(sc, ex)

	summary := l.RunCycle(context.Background())
	assert.False(t, summary.Attempted)
	assert.Zero(t, ex.callCount())
}

func TestRunCycle_CancelDuringExecuteStillJournals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := &mockScanner{report: twoOpps()}
	ex := &cancellingExecutor{mockExecutor: mockExecutor{profit: domain.ToWei(3, 18)}, cancel: cancel}
	l, store, notifier := newLoop(sc, ex)

	summary := l.RunCycle(ctx)

	require.Error(t, ctx.Err())
	assert.True(t, summary.Attempted)
	assert.NoError(t, ex.ctxErr, "execution must not see the shutdown")
	require.Len(t, store.outcomes, 1)
	assert.Equal(t, domain.StatusSuccess, store.outcomes[0].Status)
	assert.NoError(t, store.outcomeErrs[0])
	require.Len(t, notifier.execErrs, 1)
	assert.NoError(t, notifier.execErrs[0])
}

func TestRunCycle_CancelledBeforeExecuteSkips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sc := &mockScanner{report: twoOpps()}
	ex := &mockExecutor{profit: big.NewInt(1)}
	l, store, _ := newLoop(sc, ex)

	summary := l.RunCycle(ctx)
	assert.False(t, summary.Attempted)
	assert.Zero(t, ex.callCount())
	assert.Empty(t, store.outcomes)
}

func TestRunCycle_GasOracleFeedsScanner(t *testing.T) {
	sc := &mockScanner{}
	l, _, _ := newLoop(sc, &mockExecutor{})
	l.SetGasOracle(mockGas{gwei: 17})

	l.RunCycle(context.Background())
	assert.InDelta(t, 17, sc.gas, 1e-9)

	l.SetGasOracle(mockGas{err: errors.New("rpc")})
	l.RunCycle(context.Background())
	assert.InDelta(t, 17, sc.gas, 1e-9, "keeps the previous price on error")
}

func TestRun_StopsOnStop(t *testing.T) {
	sc := &mockScanner{}
	l, _, _ := newLoop(sc, &mockExecutor{})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	require.Eventually(t, func() bool { return sc.runCount() >= 2 }, time.Second, time.Millisecond)
	l.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	sc := &mockScanner{}
	l, _, _ := newLoop(sc, &mockExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))
	assert.Zero(t, sc.runCount())
}

func TestRun_StopsOnStopFile(t *testing.T) {
	stop := filepath.Join(t.TempDir(), "STOP")
	require.NoError(t, os.WriteFile(stop, nil, 0o600))

	sc := &mockScanner{}
	cfg := loopConfig()
	cfg.StopFile = stop
	l := engine.New(cfg, sc, &mockExecutor{}, nil, nil, nil)

	require.NoError(t, l.Run(context.Background()))
	assert.Zero(t, sc.runCount())
}

func TestTruncateStr(t *testing.T) {
	assert.Equal(t, "short", engine.TruncateStr("short", 10))
	assert.Equal(t, "abcdefg...", engine.TruncateStr("abcdefghijklmnop", 10))
}
