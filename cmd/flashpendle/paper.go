package main

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/flashpendle/config"
	"github.com/alejandrodnm/flashpendle/internal/adapters/simchain"
	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Placeholder identities on the simulated chain when no contract is deployed.
var (
	paperContract = common.HexToAddress("0x00000000000000000000000000000000F1a5F1a5")
	paperOwner    = common.HexToAddress("0x000000000000000000000000000000000000bEEF")
)

// newPaperExecutor deploys the protocol and the arbitrage contract on a
// simulated chain. Pools are seeded per attempt from live reserves.
func newPaperExecutor(cfg *config.Config) (*simchain.PaperExecutor, error) {
	contract := cfg.ContractAddress()
	if contract == (common.Address{}) {
		contract = paperContract
	}

	d, err := simchain.NewDeployment(simchain.DeploymentConfig{
		Contract:     contract,
		Owner:        paperOwner,
		Router:       cfg.RouterAddress(),
		RedeemFeeBps: cfg.Paper.RedeemFeeBps,
		PoolFeeBps:   cfg.Paper.PoolFeeBps,
		Lenders:      []domain.LenderRef{cfg.Lender()},
		LenderFeeBps: int64(cfg.Execution.FlashFeeBps),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("paper deployment ready",
		"contract", contract.Hex(),
		"lender", cfg.Lender().Address.Hex(),
		"pool_fee_bps", cfg.Paper.PoolFeeBps,
	)
	return simchain.NewPaperExecutor(d), nil
}
