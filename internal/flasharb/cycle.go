package flasharb

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Step names the state reached by an attempt. Used in error wrapping.
type Step string

const (
	StepBorrowed        Step = "borrowed"
	StepMarketValidated Step = "market_validated"
	StepWrapped         Step = "converted_to_wrapper"
	StepSplit           Step = "split_minted"
	StepSpread          Step = "spread_captured"
	StepMerged          Step = "merged"
	StepUnwound         Step = "unwound"
)

// run drives one attempt from Borrowed through settlement. repay makes
// borrowed+fee available to the lender in its callback-specific way.
func (c *Contract) run(p domain.ArbitrageParameters, borrowed, fee *big.Int, repay func(owed *big.Int) error) error {
	if fee == nil {
		fee = new(big.Int)
	}

	expired, err := c.env.Tokenizer.IsExpired(p.YT)
	if err != nil {
		return stepErr(StepBorrowed, err)
	}
	if expired {
		return stepErr(StepBorrowed, domain.ErrExpired)
	}

	if err := c.grantApprovals(p); err != nil {
		return stepErr(StepMarketValidated, err)
	}

	// underlying → SY, no minimum: the final guard is MinUnderlyingOut
	syReceived, err := c.env.Router.MintSyFromToken(c.self, c.self, p.SY, new(big.Int), domain.TokenInput{
		TokenIn:     p.Underlying,
		NetTokenIn:  new(big.Int).Set(borrowed),
		TokenMintSy: p.Underlying,
		Swap:        domain.NoSwap(),
	})
	if err != nil {
		return stepErr(StepMarketValidated, err)
	}

	// split at most the cycle size, then clamp again to what was minted
	toSplit := minInt(syReceived, p.PTAmount)
	if err := c.env.Ledger.Transfer(p.SY, c.self, p.YT, toSplit); err != nil {
		return stepErr(StepWrapped, err)
	}
	minted, err := c.env.Tokenizer.MintPY(p.YT, c.self, c.self)
	if err != nil {
		return stepErr(StepWrapped, err)
	}
	cycle := minInt(minted, p.PTAmount)

	if _, err := c.env.Exchange.SwapExactPtForSy(c.self, p.Market, c.self, cycle); err != nil {
		return stepErr(StepSplit, err)
	}
	if _, err := c.env.Exchange.SwapSyForExactPt(c.self, p.Market, c.self, cycle); err != nil {
		return stepErr(StepSplit, err)
	}

	if err := c.merge(p); err != nil {
		return stepErr(StepSpread, err)
	}

	if syBal := c.env.Ledger.BalanceOf(p.SY, c.self); syBal.Sign() > 0 {
		if _, err := c.env.Router.RedeemSyToToken(c.self, c.self, p.SY, syBal, domain.TokenOutput{
			TokenOut:      p.Underlying,
			MinTokenOut:   new(big.Int).Set(p.MinUnderlyingOut),
			TokenRedeemSy: p.Underlying,
			Swap:          domain.NoSwap(),
		}); err != nil {
			return stepErr(StepMerged, err)
		}
	}

	return c.settle(p, borrowed, fee, repay)
}

// merge pushes the matched PT/YT pair back to the YT contract and redeems SY.
func (c *Contract) merge(p domain.ArbitrageParameters) error {
	pair := minInt(
		c.env.Ledger.BalanceOf(p.PT, c.self),
		c.env.Ledger.BalanceOf(p.YT, c.self),
	)
	if pair.Sign() == 0 {
		return nil
	}
	if err := c.env.Ledger.Transfer(p.PT, c.self, p.YT, pair); err != nil {
		return err
	}
	if err := c.env.Ledger.Transfer(p.YT, c.self, p.YT, pair); err != nil {
		return err
	}
	_, err := c.env.Tokenizer.RedeemPY(p.YT, c.self)
	return err
}

func (c *Contract) settle(p domain.ArbitrageParameters, borrowed, fee *big.Int, repay func(*big.Int) error) error {
	owed := new(big.Int).Add(borrowed, fee)
	bal := c.env.Ledger.BalanceOf(p.Underlying, c.self)
	if bal.Cmp(owed) < 0 {
		return stepErr(StepUnwound, fmt.Errorf("%w: have %s, owe %s", domain.ErrInsufficientOutput, bal, owed))
	}
	if err := repay(owed); err != nil {
		return stepErr(StepUnwound, err)
	}

	profit := new(big.Int).Sub(bal, owed)
	if profit.Sign() == 0 {
		return stepErr(StepUnwound, domain.ErrNoProfit)
	}
	if err := c.env.Ledger.Transfer(p.Underlying, c.self, c.owner, profit); err != nil {
		return stepErr(StepUnwound, err)
	}

	c.last = Settlement{
		Market:   p.Market,
		Borrowed: new(big.Int).Set(borrowed),
		Fee:      new(big.Int).Set(fee),
		Profit:   profit,
	}
	if c.env.Events != nil {
		c.env.Events.Emit(ArbitrageExecuted{
			Market:   p.Market,
			Borrowed: new(big.Int).Set(borrowed),
			Fee:      new(big.Int).Set(fee),
			Profit:   new(big.Int).Set(profit),
		})
	}
	return nil
}

// grantApprovals gives every collaborator an unlimited allowance for the
// tokens it pulls during the attempt.
func (c *Contract) grantApprovals(p domain.ArbitrageParameters) error {
	grants := []struct{ token, spender common.Address }{
		{p.Underlying, p.YT},
		{p.SY, p.YT},
		{p.PT, p.YT},
		{p.YT, p.YT},
		{p.PT, p.Market},
		{p.SY, p.Market},
		{p.SY, p.Router},
		{p.Underlying, p.Router},
	}
	for _, g := range grants {
		if err := c.env.Ledger.Approve(g.token, c.self, g.spender, MaxUint256); err != nil {
			return fmt.Errorf("approve %s for %s: %w", g.token.Hex(), g.spender.Hex(), err)
		}
	}
	return nil
}

// stepErr records the last state reached before the failure.
func stepErr(reached Step, err error) error {
	return fmt.Errorf("flasharb: failed after %s: %w", reached, err)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
