package flasharb

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Settlement describes the last successful attempt.
type Settlement struct {
	Market   common.Address
	Borrowed *big.Int
	Fee      *big.Int
	Profit   *big.Int
}

// Contract is the arbitrage contract: owner-gated entry points plus the two
// flash-loan callbacks. It holds no funds between attempts.
type Contract struct {
	self    common.Address
	owner   common.Address
	env     Env
	lenders map[common.Address]FlashLender

	// set only while ExecuteArbitrage is waiting on the lender
	inFlight bool
	last     Settlement
}

// NewContract deploys a contract at self owned by owner.
func NewContract(self, owner common.Address, env Env, lenders ...FlashLender) (*Contract, error) {
	if self == (common.Address{}) || owner == (common.Address{}) {
		return nil, fmt.Errorf("flasharb.NewContract: %w", domain.ErrZeroAddress)
	}
	if env.Ledger == nil || env.Router == nil || env.Tokenizer == nil || env.Exchange == nil {
		return nil, fmt.Errorf("flasharb.NewContract: incomplete env")
	}
	c := &Contract{
		self:    self,
		owner:   owner,
		env:     env,
		lenders: make(map[common.Address]FlashLender, len(lenders)),
	}
	for _, l := range lenders {
		c.lenders[l.Address()] = l
	}
	return c, nil
}

// Address returns the contract's own address.
func (c *Contract) Address() common.Address { return c.self }

// Owner returns the current owner.
func (c *Contract) Owner() common.Address { return c.owner }

// ExecuteArbitrage borrows params.BorrowAmount of the underlying from the
// referenced lender and runs the cycle inside its callback.
func (c *Contract) ExecuteArbitrage(caller common.Address, params domain.ArbitrageParameters) (Settlement, error) {
	if caller != c.owner {
		return Settlement{}, domain.ErrUnauthorized
	}
	lender, ok := c.lenders[params.Lender.Address]
	if !ok || lender.Kind() != params.Lender.Kind {
		return Settlement{}, fmt.Errorf("flasharb.ExecuteArbitrage: unknown lender %s: %w", params.Lender.Address.Hex(), domain.ErrUnauthorized)
	}
	data, err := domain.EncodeArbitrageParameters(params)
	if err != nil {
		return Settlement{}, fmt.Errorf("flasharb.ExecuteArbitrage: %w", err)
	}

	c.inFlight = true
	c.last = Settlement{}
	defer func() { c.inFlight = false }()

	if err := lender.FlashLoan(c.self, c, params.Underlying, params.BorrowAmount, data); err != nil {
		return Settlement{}, err
	}
	return c.last, nil
}

// ReceiveFlashLoan is the multi-asset vault callback. Repayment is pushed back
// to the vault by transfer before returning.
func (c *Contract) ReceiveFlashLoan(caller common.Address, tokens []common.Address, amounts, fees []*big.Int, userData []byte) error {
	lender, ok := c.lenders[caller]
	if !ok || lender.Kind() != domain.LenderVault {
		return domain.ErrNotVault
	}
	if !c.inFlight {
		return fmt.Errorf("flasharb.ReceiveFlashLoan: unsolicited loan: %w", domain.ErrUnauthorized)
	}
	if len(tokens) != 1 || len(amounts) != 1 || len(fees) != 1 {
		return fmt.Errorf("flasharb.ReceiveFlashLoan: expected a single asset, got %d", len(tokens))
	}
	params, err := domain.DecodeArbitrageParameters(userData)
	if err != nil {
		return err
	}
	if tokens[0] != params.Underlying {
		return fmt.Errorf("flasharb.ReceiveFlashLoan: borrowed %s, params expect %s", tokens[0].Hex(), params.Underlying.Hex())
	}

	repay := func(owed *big.Int) error {
		return c.env.Ledger.Transfer(params.Underlying, c.self, caller, owed)
	}
	return c.run(params, amounts[0], fees[0], repay)
}

// ExecuteOperation is the single-asset pool callback. Repayment is authorised
// by approval and pulled by the pool after return.
func (c *Contract) ExecuteOperation(caller, asset common.Address, amount, premium *big.Int, initiator common.Address, data []byte) (bool, error) {
	lender, ok := c.lenders[caller]
	if !ok || lender.Kind() != domain.LenderPool {
		return false, domain.ErrUnauthorized
	}
	if initiator != c.self || !c.inFlight {
		return false, domain.ErrUnauthorized
	}
	params, err := domain.DecodeArbitrageParameters(data)
	if err != nil {
		return false, err
	}
	if asset != params.Underlying {
		return false, fmt.Errorf("flasharb.ExecuteOperation: borrowed %s, params expect %s", asset.Hex(), params.Underlying.Hex())
	}

	repay := func(owed *big.Int) error {
		return c.env.Ledger.Approve(params.Underlying, c.self, caller, owed)
	}
	if err := c.run(params, amount, premium, repay); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateOwner hands the contract to newOwner.
func (c *Contract) UpdateOwner(caller, newOwner common.Address) error {
	if caller != c.owner {
		return domain.ErrUnauthorized
	}
	if newOwner == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	c.owner = newOwner
	return nil
}

// RescueToken sends the contract's entire balance of token to the owner.
func (c *Contract) RescueToken(caller, token common.Address) (*big.Int, error) {
	if caller != c.owner {
		return nil, domain.ErrUnauthorized
	}
	bal := c.env.Ledger.BalanceOf(token, c.self)
	if err := c.env.Ledger.Transfer(token, c.self, c.owner, bal); err != nil {
		return nil, fmt.Errorf("flasharb.RescueToken: %w", err)
	}
	return bal, nil
}
