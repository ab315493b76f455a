// Package simchain is an in-memory host for the execution state machine:
// an ERC20 ledger with snapshot/revert, plus minimal router, tokenizer, AMM
// and flash lenders. It backs paper trading and the state-machine tests.
package simchain

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

var (
	ErrInsufficientBalance   = errors.New("simchain: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("simchain: insufficient allowance")
)

// ErrSlippage is the router's minimum-output guard. It is a repayment shortfall
// from the contract's point of view.
var ErrSlippage = fmt.Errorf("simchain: slippage, output below minimum: %w", domain.ErrInsufficientOutput)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type allowanceKey struct{ token, owner, spender common.Address }

type ledgerState struct {
	balances   map[common.Address]map[common.Address]*big.Int // token → holder → balance
	supply     map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	events     []any
}

// Chain is the simulated host. Every attempt runs inside Atomic.
type Chain struct {
	txMu sync.Mutex // serialises Atomic
	mu   sync.Mutex // guards st

	st    ledgerState
	block uint64
	now   func() time.Time
}

// NewChain creates an empty chain whose clock is time.Now.
func NewChain() *Chain {
	return &Chain{
		st: ledgerState{
			balances:   make(map[common.Address]map[common.Address]*big.Int),
			supply:     make(map[common.Address]*big.Int),
			allowances: make(map[allowanceKey]*big.Int),
		},
		now: time.Now,
	}
}

// SetClock replaces the chain clock. Used by expiry checks.
func (c *Chain) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Now returns the current chain time.
func (c *Chain) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// Block returns the number of committed attempts.
func (c *Chain) Block() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Atomic runs fn as a single transaction: if fn fails, every balance,
// allowance and event change it made is discarded.
func (c *Chain) Atomic(fn func() error) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	snap := c.snapshot()
	if err := fn(); err != nil {
		c.restore(snap)
		return err
	}
	c.mu.Lock()
	c.block++
	c.mu.Unlock()
	return nil
}

func (c *Chain) snapshot() ledgerState {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := ledgerState{
		balances:   make(map[common.Address]map[common.Address]*big.Int, len(c.st.balances)),
		supply:     make(map[common.Address]*big.Int, len(c.st.supply)),
		allowances: make(map[allowanceKey]*big.Int, len(c.st.allowances)),
		events:     append([]any(nil), c.st.events...),
	}
	for token, holders := range c.st.balances {
		cp := make(map[common.Address]*big.Int, len(holders))
		for h, v := range holders {
			cp[h] = new(big.Int).Set(v)
		}
		s.balances[token] = cp
	}
	for k, v := range c.st.supply {
		s.supply[k] = new(big.Int).Set(v)
	}
	for k, v := range c.st.allowances {
		s.allowances[k] = new(big.Int).Set(v)
	}
	return s
}

func (c *Chain) restore(s ledgerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st = s
}

// BalanceOf returns a copy of owner's balance of token.
func (c *Chain) BalanceOf(token, owner common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceLocked(token, owner))
}

// TotalSupply returns a copy of token's supply.
func (c *Chain) TotalSupply(token common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.st.supply[token]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Allowance returns a copy of the allowance owner gave spender.
func (c *Chain) Allowance(token, owner, spender common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.st.allowances[allowanceKey{token, owner, spender}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Transfer moves amount of token from → to.
func (c *Chain) Transfer(token, from, to common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transferLocked(token, from, to, amount)
}

// TransferFrom moves amount on behalf of from, spending spender's allowance.
// An unlimited allowance is never decremented.
func (c *Chain) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.spendAllowanceLocked(token, from, spender, amount); err != nil {
		return err
	}
	return c.transferLocked(token, from, to, amount)
}

// Approve sets the allowance owner gives spender.
func (c *Chain) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("simchain: approve: invalid amount")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
	return nil
}

// Mint creates amount of token for to.
func (c *Chain) Mint(token, to common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mintLocked(token, to, amount)
}

// Burn destroys amount of token held by from.
func (c *Chain) Burn(token, from common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.burnLocked(token, from, amount)
}

// SetBalance forces holder's balance of token, adjusting supply.
func (c *Chain) SetBalance(token, holder common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.balanceLocked(token, holder)
	switch d := new(big.Int).Sub(amount, cur); d.Sign() {
	case 1:
		c.mintLocked(token, holder, d)
	case -1:
		_ = c.burnLocked(token, holder, d.Neg(d))
	}
}

// Emit appends an event to the log.
func (c *Chain) Emit(event any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.events = append(c.st.events, event)
}

// Events returns a copy of the event log.
func (c *Chain) Events() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.st.events...)
}

// Holders returns every non-zero balance of token. Used in tests.
func (c *Chain) Holders(token common.Address) map[common.Address]*big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[common.Address]*big.Int)
	for h, v := range c.st.balances[token] {
		if v.Sign() != 0 {
			out[h] = new(big.Int).Set(v)
		}
	}
	return out
}

// --- locked helpers ---

func (c *Chain) balanceLocked(token, owner common.Address) *big.Int {
	if holders, ok := c.st.balances[token]; ok {
		if v, ok := holders[owner]; ok {
			return v
		}
	}
	return new(big.Int)
}

func (c *Chain) setBalanceLocked(token, owner common.Address, v *big.Int) {
	holders, ok := c.st.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		c.st.balances[token] = holders
	}
	holders[owner] = v
}

func (c *Chain) transferLocked(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("simchain: transfer: invalid amount")
	}
	fromBal := c.balanceLocked(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s holder %s has %s, needs %s",
			ErrInsufficientBalance, token.Hex(), from.Hex(), fromBal, amount)
	}
	c.setBalanceLocked(token, from, new(big.Int).Sub(fromBal, amount))
	c.setBalanceLocked(token, to, new(big.Int).Add(c.balanceLocked(token, to), amount))
	return nil
}

func (c *Chain) spendAllowanceLocked(token, owner, spender common.Address, amount *big.Int) error {
	if owner == spender {
		return nil
	}
	k := allowanceKey{token, owner, spender}
	cur, ok := c.st.allowances[k]
	if !ok || cur.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s owner %s spender %s", ErrInsufficientAllowance, token.Hex(), owner.Hex(), spender.Hex())
	}
	if cur.Cmp(maxUint256) != 0 {
		c.st.allowances[k] = new(big.Int).Sub(cur, amount)
	}
	return nil
}

func (c *Chain) mintLocked(token, to common.Address, amount *big.Int) {
	c.setBalanceLocked(token, to, new(big.Int).Add(c.balanceLocked(token, to), amount))
	sup, ok := c.st.supply[token]
	if !ok {
		sup = new(big.Int)
	}
	c.st.supply[token] = new(big.Int).Add(sup, amount)
}

func (c *Chain) burnLocked(token, from common.Address, amount *big.Int) error {
	bal := c.balanceLocked(token, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s from %s", ErrInsufficientBalance, amount, from.Hex())
	}
	c.setBalanceLocked(token, from, new(big.Int).Sub(bal, amount))
	if sup, ok := c.st.supply[token]; ok {
		c.st.supply[token] = new(big.Int).Sub(sup, amount)
	}
	return nil
}
