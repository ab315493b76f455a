package simchain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/flashpendle/internal/domain"
	"github.com/alejandrodnm/flashpendle/internal/flasharb"
)

// ErrNotRepaid is returned by a lender whose balance did not come back.
var ErrNotRepaid = errors.New("simchain: flash loan not repaid")

// Vault is a multi-asset lender: it calls ReceiveFlashLoan and expects the
// receiver to transfer amount+fee back before returning.
type Vault struct {
	chain  *Chain
	addr   common.Address
	feeBps int64
}

// NewVault creates a vault lender at addr.
func NewVault(chain *Chain, addr common.Address, feeBps int64) *Vault {
	return &Vault{chain: chain, addr: addr, feeBps: feeBps}
}

func (v *Vault) Kind() domain.LenderKind { return domain.LenderVault }
func (v *Vault) Address() common.Address { return v.addr }

// FlashLoan lends amount of token to receiver for the duration of its callback.
func (v *Vault) FlashLoan(_ common.Address, receiver flasharb.FlashReceiver, token common.Address, amount *big.Int, userData []byte) error {
	before := v.chain.BalanceOf(token, v.addr)
	if before.Cmp(amount) < 0 {
		return fmt.Errorf("simchain: vault: liquidity %s below %s", before, amount)
	}
	fee := premium(amount, v.feeBps)

	if err := v.chain.Transfer(token, v.addr, receiver.Address(), amount); err != nil {
		return err
	}
	if err := receiver.ReceiveFlashLoan(v.addr, []common.Address{token}, []*big.Int{new(big.Int).Set(amount)}, []*big.Int{fee}, userData); err != nil {
		return err
	}
	if v.chain.BalanceOf(token, v.addr).Cmp(new(big.Int).Add(before, fee)) < 0 {
		return ErrNotRepaid
	}
	return nil
}

// Pool is a single-asset lender: it calls ExecuteOperation and pulls
// amount+premium through the allowance the receiver granted.
type Pool struct {
	chain      *Chain
	addr       common.Address
	premiumBps int64
}

// NewPool creates a pool lender at addr.
func NewPool(chain *Chain, addr common.Address, premiumBps int64) *Pool {
	return &Pool{chain: chain, addr: addr, premiumBps: premiumBps}
}

func (p *Pool) Kind() domain.LenderKind { return domain.LenderPool }
func (p *Pool) Address() common.Address { return p.addr }

// FlashLoan lends amount of token to receiver and pulls repayment afterwards.
func (p *Pool) FlashLoan(initiator common.Address, receiver flasharb.FlashReceiver, token common.Address, amount *big.Int, params []byte) error {
	if p.chain.BalanceOf(token, p.addr).Cmp(amount) < 0 {
		return fmt.Errorf("simchain: pool: insufficient liquidity for %s", amount)
	}
	prem := premium(amount, p.premiumBps)

	if err := p.chain.Transfer(token, p.addr, receiver.Address(), amount); err != nil {
		return err
	}
	ok, err := receiver.ExecuteOperation(p.addr, token, new(big.Int).Set(amount), prem, initiator, params)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("simchain: pool: receiver returned false")
	}
	owed := new(big.Int).Add(amount, prem)
	if err := p.chain.TransferFrom(token, p.addr, receiver.Address(), p.addr, owed); err != nil {
		return fmt.Errorf("%w: %v", ErrNotRepaid, err)
	}
	return nil
}

func premium(amount *big.Int, bps int64) *big.Int {
	if bps <= 0 {
		return new(big.Int)
	}
	f := new(big.Int).Mul(amount, big.NewInt(bps))
	return f.Quo(f, big.NewInt(10_000))
}

var (
	_ flasharb.FlashLender = (*Vault)(nil)
	_ flasharb.FlashLender = (*Pool)(nil)
)
