package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/flashpendle/config"
	"github.com/alejandrodnm/flashpendle/internal/adapters/notify"
	"github.com/alejandrodnm/flashpendle/internal/adapters/onchain"
	"github.com/alejandrodnm/flashpendle/internal/adapters/pendle"
	"github.com/alejandrodnm/flashpendle/internal/adapters/redislock"
	"github.com/alejandrodnm/flashpendle/internal/adapters/storage"
	"github.com/alejandrodnm/flashpendle/internal/application/engine"
	"github.com/alejandrodnm/flashpendle/internal/application/scanner"
	"github.com/alejandrodnm/flashpendle/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one scan+execute cycle and exit")
	live := flag.Bool("live", false, "sign and send real transactions (default: paper)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full opportunity table (default: compact 1-line)")
	validate := flag.Bool("validate", false, "print step-by-step calculation for top 3 opportunities")
	report := flag.Bool("report", false, "print the execution journal and exit")
	reportDays := flag.Int("days", 7, "journal window for -report, in days")
	updateOwner := flag.String("update-owner", "", "transfer contract ownership to this address and exit")
	rescueToken := flag.String("rescue-token", "", "sweep this token's contract balance to the owner and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		runReport(ctx, cfg.Storage.DSN, time.Duration(*reportDays)*24*time.Hour)
		return
	}

	mode := config.ModePaper
	if *live || *updateOwner != "" || *rescueToken != "" {
		mode = config.ModeLive
	}
	if err := cfg.Validate(mode); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	slog.Info("flashpendle starting",
		"config", *configPath,
		"mode", mode,
		"interval", cfg.ScanInterval(),
		"chain", cfg.Chain.ID,
		"lender", cfg.Execution.LenderKind,
		"once", *once,
	)

	key := ""
	if mode == config.ModeLive {
		key = cfg.Chain.PrivateKey
	}
	chain, err := onchain.Dial(ctx, cfg.Chain.RPCURL, key, cfg.ContractAddress())
	if err != nil {
		slog.Error("failed to connect to chain", "err", err)
		os.Exit(1)
	}

	if *updateOwner != "" || *rescueToken != "" {
		runAdmin(ctx, chain, *updateOwner, *rescueToken)
		return
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	notifier := notify.NewConsole(*table, *validate)

	scanCfg := scanner.DefaultConfig()
	scanCfg.SizeLadder = cfg.Scanner.SizeLadder
	scanCfg.MinProfitBps = cfg.Scanner.MinProfitBps
	scanCfg.MinLiquidityUSD = cfg.Scanner.MinLiquidityUSD
	scanCfg.ReadWorkers = cfg.Scanner.ReadWorkers
	scanCfg.Cost = cfg.CostModel()

	markets := pendle.NewClient(cfg.API.PendleBase, cfg.Chain.ID)
	sc := scanner.New(scanCfg, markets, chain)

	var executor ports.ArbitrageExecutor = chain
	if mode == config.ModePaper {
		executor, err = newPaperExecutor(cfg)
		if err != nil {
			slog.Error("failed to build paper deployment", "err", err)
			os.Exit(1)
		}
	}

	loop := engine.New(engine.Config{
		Interval:    cfg.ScanInterval(),
		Lender:      cfg.Lender(),
		Router:      cfg.RouterAddress(),
		StopFile:    cfg.Execution.StopFile,
		LockKey:     cfg.Execution.LockKey,
		LockTTL:     cfg.LockTTL(),
		MaxFailures: cfg.Execution.MaxFailures,
		Cooldown:    cfg.Cooldown(),
	}, sc, executor, store, notifier, nil)
	loop.SetGasOracle(chain)

	if cfg.Redis.Addr != "" {
		lock, err := redislock.New(ctx, redislock.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "err", err, "addr", cfg.Redis.Addr)
			os.Exit(1)
		}
		defer lock.Close()
		loop.SetLock(lock)
		slog.Info("execution lock enabled", "addr", cfg.Redis.Addr, "key", cfg.Execution.LockKey)
	}

	if mode == config.ModeLive && !confirmLive(ctx, chain) {
		return
	}

	if *once {
		summary := loop.RunCycle(ctx)
		printSummary(loop.Stats().Snapshot(), summary.Attempted)
		return
	}

	if err := loop.Run(ctx); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	printSummary(loop.Stats().Snapshot(), false)
	slog.Info("flashpendle stopped cleanly")
}

// confirmLive gives the operator a few seconds to abort before real money moves.
func confirmLive(ctx context.Context, chain *onchain.Client) bool {
	fmt.Printf("\nLIVE MODE: transactions will be signed by %s\n", chain.From().Hex())
	fmt.Printf("   Press Ctrl+C within 5 seconds to abort...\n\n")

	abort := time.NewTimer(5 * time.Second)
	defer abort.Stop()
	select {
	case <-abort.C:
		return true
	case <-ctx.Done():
		slog.Info("live mode aborted by user")
		return false
	}
}

func printSummary(s engine.StatsSnapshot, attempted bool) {
	slog.Info("session summary",
		"cycles", s.Cycles,
		"opportunities", s.OpportunitiesFound,
		"executed", s.TradesExecuted,
		"failed", s.TradesFailed,
		"profit", fmt.Sprintf("%.6f", s.TotalProfit),
		"last_attempted", attempted,
	)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
