// Package flasharb is the atomic execution state machine that runs inside a
// flash-loan callback. It never compensates on failure: every error aborts the
// attempt and the host (chain or simulator) reverts all effects.
package flasharb

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Ledger is the token layer: ERC20 balances and allowances.
type Ledger interface {
	BalanceOf(token, owner common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	Approve(token, owner, spender common.Address, amount *big.Int) error
}

// EventSink receives events emitted by the contract.
type EventSink interface {
	Emit(event any)
}

// Router converts between the underlying and the SY wrapper.
// Inputs are pulled from caller through allowances.
type Router interface {
	MintSyFromToken(caller, receiver, sy common.Address, minSyOut *big.Int, input domain.TokenInput) (*big.Int, error)
	// RedeemSyToToken reverts when the output is below output.MinTokenOut.
	RedeemSyToToken(caller, receiver, sy common.Address, netSyIn *big.Int, output domain.TokenOutput) (*big.Int, error)
}

// YieldTokenizer splits SY into PT+YT and merges them back. SY and the PT/YT
// pair are pushed to the YT contract before MintPY / RedeemPY.
type YieldTokenizer interface {
	IsExpired(yt common.Address) (bool, error)
	MintPY(yt, receiverPT, receiverYT common.Address) (*big.Int, error)
	RedeemPY(yt, receiver common.Address) (*big.Int, error)
}

// Exchange is the PT/SY AMM. Inputs are pulled from caller through allowances.
type Exchange interface {
	SwapExactPtForSy(caller, market, receiver common.Address, exactPtIn *big.Int) (*big.Int, error)
	SwapSyForExactPt(caller, market, receiver common.Address, exactPtOut *big.Int) (*big.Int, error)
}

// Env bundles the collaborators the contract talks to.
type Env struct {
	Ledger    Ledger
	Router    Router
	Tokenizer YieldTokenizer
	Exchange  Exchange
	Events    EventSink // optional
}

// FlashReceiver is implemented by Contract: the two callback shapes of the
// same flash-borrow capability.
type FlashReceiver interface {
	Address() common.Address
	ReceiveFlashLoan(caller common.Address, tokens []common.Address, amounts, fees []*big.Int, userData []byte) error
	ExecuteOperation(caller, asset common.Address, amount, premium *big.Int, initiator common.Address, params []byte) (bool, error)
}

// FlashLender lends amount of token to receiver, drives the matching callback
// and collects repayment. It fails if repayment is not available on return.
type FlashLender interface {
	Kind() domain.LenderKind
	Address() common.Address
	FlashLoan(initiator common.Address, receiver FlashReceiver, token common.Address, amount *big.Int, userData []byte) error
}

// ArbitrageExecuted is emitted on a successful settlement.
type ArbitrageExecuted struct {
	Market   common.Address
	Borrowed *big.Int
	Fee      *big.Int
	Profit   *big.Int
}

// MaxUint256 is the allowance granted to every collaborator.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
