package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/flashpendle/internal/adapters/notify"
	"github.com/alejandrodnm/flashpendle/internal/adapters/onchain"
	"github.com/alejandrodnm/flashpendle/internal/adapters/storage"
)

// runAdmin sends the owner-only maintenance transactions and exits.
func runAdmin(ctx context.Context, chain *onchain.Client, updateOwner, rescueToken string) {
	if rescueToken != "" {
		token, err := parseAddressFlag("rescue-token", rescueToken)
		if err != nil {
			slog.Error("invalid flag", "err", err)
			os.Exit(1)
		}
		tx, err := chain.RescueToken(ctx, token)
		if err != nil {
			slog.Error("rescue failed", "token", token.Hex(), "err", err)
			os.Exit(1)
		}
		slog.Info("token rescued", "token", token.Hex(), "tx", tx)
	}

	if updateOwner != "" {
		owner, err := parseAddressFlag("update-owner", updateOwner)
		if err != nil {
			slog.Error("invalid flag", "err", err)
			os.Exit(1)
		}
		tx, err := chain.UpdateOwner(ctx, owner)
		if err != nil {
			slog.Error("owner update failed", "new_owner", owner.Hex(), "err", err)
			os.Exit(1)
		}
		slog.Info("owner updated", "new_owner", owner.Hex(), "tx", tx)
	}
}

func parseAddressFlag(name, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("-%s: invalid address %q", name, v)
	}
	return common.HexToAddress(v), nil
}

// runReport prints the execution journal for the last window.
func runReport(ctx context.Context, dsn string, window time.Duration) {
	store, err := storage.NewSQLiteStorage(dsn)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", dsn)
		os.Exit(1)
	}
	defer store.Close()

	to := time.Now()
	from := to.Add(-window)

	outcomes, err := store.ListOutcomes(ctx, from, to)
	if err != nil {
		slog.Error("failed to list executions", "err", err)
		os.Exit(1)
	}
	realized, err := store.RealizedProfit(ctx, from, to)
	if err != nil {
		slog.Error("failed to sum realized profit", "err", err)
		os.Exit(1)
	}

	fmt.Printf("\n  Execution journal %s -> %s\n\n", from.Format("2006-01-02 15:04"), to.Format("2006-01-02 15:04"))
	notify.NewConsole(true, false).PrintJournal(outcomes, realized)
}
