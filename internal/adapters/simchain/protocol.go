package simchain

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Router mints SY 1:1 from its underlying and redeems it back, minus an
// optional redeem fee. The underlying backing sits on the SY address.
type Router struct {
	chain   *Chain
	addr    common.Address
	feeBps  int64
	mu      sync.RWMutex
	backing map[common.Address]common.Address // sy → underlying
}

// NewRouter creates a router at addr charging feeBps on redeem.
func NewRouter(chain *Chain, addr common.Address, feeBps int64) *Router {
	return &Router{chain: chain, addr: addr, feeBps: feeBps, backing: make(map[common.Address]common.Address)}
}

// Address returns the router's address.
func (r *Router) Address() common.Address { return r.addr }

// RegisterSY declares the underlying of sy.
func (r *Router) RegisterSY(sy, underlying common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backing[sy] = underlying
}

func (r *Router) underlying(sy common.Address) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.backing[sy]
	if !ok {
		return common.Address{}, fmt.Errorf("simchain: router: unknown sy %s", sy.Hex())
	}
	return u, nil
}

// MintSyFromToken pulls input.NetTokenIn of the underlying from caller and
// mints the same amount of SY to receiver.
func (r *Router) MintSyFromToken(caller, receiver, sy common.Address, minSyOut *big.Int, input domain.TokenInput) (*big.Int, error) {
	if !input.Swap.IsNone() {
		return nil, fmt.Errorf("simchain: router: swap kind %s not supported", input.Swap.Kind)
	}
	u, err := r.underlying(sy)
	if err != nil {
		return nil, err
	}
	if input.TokenIn != u {
		return nil, fmt.Errorf("simchain: router: token %s cannot mint %s", input.TokenIn.Hex(), sy.Hex())
	}
	amount := new(big.Int).Set(input.NetTokenIn)
	if minSyOut != nil && amount.Cmp(minSyOut) < 0 {
		return nil, ErrSlippage
	}
	if err := r.chain.TransferFrom(u, r.addr, caller, sy, amount); err != nil {
		return nil, fmt.Errorf("simchain: router: pull underlying: %w", err)
	}
	r.chain.Mint(sy, receiver, amount)
	return amount, nil
}

// RedeemSyToToken burns netSyIn SY pulled from caller and pays the underlying
// to receiver. Fails with ErrSlippage below output.MinTokenOut.
func (r *Router) RedeemSyToToken(caller, receiver, sy common.Address, netSyIn *big.Int, output domain.TokenOutput) (*big.Int, error) {
	if !output.Swap.IsNone() {
		return nil, fmt.Errorf("simchain: router: swap kind %s not supported", output.Swap.Kind)
	}
	u, err := r.underlying(sy)
	if err != nil {
		return nil, err
	}
	if output.TokenOut != u {
		return nil, fmt.Errorf("simchain: router: %s does not redeem to %s", sy.Hex(), output.TokenOut.Hex())
	}
	out := domain.ApplyBps(netSyIn, r.feeBps)
	if output.MinTokenOut != nil && out.Cmp(output.MinTokenOut) < 0 {
		return nil, fmt.Errorf("%w: got %s, min %s", ErrSlippage, out, output.MinTokenOut)
	}
	if err := r.chain.TransferFrom(sy, r.addr, caller, r.addr, netSyIn); err != nil {
		return nil, fmt.Errorf("simchain: router: pull sy: %w", err)
	}
	if err := r.chain.Burn(sy, r.addr, netSyIn); err != nil {
		return nil, err
	}
	if err := r.chain.Transfer(u, sy, receiver, out); err != nil {
		return nil, fmt.Errorf("simchain: router: pay underlying: %w", err)
	}
	return out, nil
}

type ytInfo struct {
	sy, pt common.Address
	expiry time.Time
}

// Tokenizer splits SY into PT+YT 1:1 and merges them back. The YT token
// address is also the tokenizer contract that receives pushed funds.
type Tokenizer struct {
	chain *Chain
	mu    sync.RWMutex
	yts   map[common.Address]ytInfo
}

// NewTokenizer creates an empty tokenizer.
func NewTokenizer(chain *Chain) *Tokenizer {
	return &Tokenizer{chain: chain, yts: make(map[common.Address]ytInfo)}
}

// Register declares a YT with its SY, PT and expiry.
func (t *Tokenizer) Register(yt, sy, pt common.Address, expiry time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.yts[yt] = ytInfo{sy: sy, pt: pt, expiry: expiry}
}

func (t *Tokenizer) info(yt common.Address) (ytInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.yts[yt]
	if !ok {
		return ytInfo{}, fmt.Errorf("simchain: tokenizer: unknown yt %s", yt.Hex())
	}
	return i, nil
}

// IsExpired reports whether yt has reached its expiry at chain time.
func (t *Tokenizer) IsExpired(yt common.Address) (bool, error) {
	i, err := t.info(yt)
	if err != nil {
		return false, err
	}
	return !t.chain.Now().Before(i.expiry), nil
}

// MintPY mints PT and YT for the SY pushed to yt since the last accounting.
func (t *Tokenizer) MintPY(yt, receiverPT, receiverYT common.Address) (*big.Int, error) {
	i, err := t.info(yt)
	if err != nil {
		return nil, err
	}
	if expired, _ := t.IsExpired(yt); expired {
		return nil, fmt.Errorf("simchain: tokenizer: %w", domain.ErrExpired)
	}
	// SY held beyond outstanding PT is fresh
	fresh := new(big.Int).Sub(t.chain.BalanceOf(i.sy, yt), t.chain.TotalSupply(i.pt))
	if fresh.Sign() <= 0 {
		return nil, fmt.Errorf("simchain: tokenizer: nothing to mint")
	}
	t.chain.Mint(i.pt, receiverPT, fresh)
	t.chain.Mint(yt, receiverYT, fresh)
	return fresh, nil
}

// RedeemPY burns the matched PT/YT pair pushed to yt and pays SY to receiver.
func (t *Tokenizer) RedeemPY(yt, receiver common.Address) (*big.Int, error) {
	i, err := t.info(yt)
	if err != nil {
		return nil, err
	}
	pt := t.chain.BalanceOf(i.pt, yt)
	y := t.chain.BalanceOf(yt, yt)
	amount := pt
	if y.Cmp(amount) < 0 {
		amount = y
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("simchain: tokenizer: nothing to redeem")
	}
	if err := t.chain.Burn(i.pt, yt, amount); err != nil {
		return nil, err
	}
	if err := t.chain.Burn(yt, yt, amount); err != nil {
		return nil, err
	}
	if err := t.chain.Transfer(i.sy, yt, receiver, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

type poolInfo struct {
	pt, sy common.Address
	feeBps int64
}

// Exchange is a set of constant-product PT/SY pools. Reserves are the
// balances held by each market address.
type Exchange struct {
	chain *Chain
	mu    sync.RWMutex
	pools map[common.Address]poolInfo
}

// NewExchange creates an empty exchange.
func NewExchange(chain *Chain) *Exchange {
	return &Exchange{chain: chain, pools: make(map[common.Address]poolInfo)}
}

// RegisterPool declares a pool at market trading pt against sy.
func (e *Exchange) RegisterPool(market, pt, sy common.Address, feeBps int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pools[market] = poolInfo{pt: pt, sy: sy, feeBps: feeBps}
}

// Reserves returns the pool's PT and SY reserves.
func (e *Exchange) Reserves(market common.Address) (pt, sy *big.Int, err error) {
	p, err := e.pool(market)
	if err != nil {
		return nil, nil, err
	}
	return e.chain.BalanceOf(p.pt, market), e.chain.BalanceOf(p.sy, market), nil
}

func (e *Exchange) pool(market common.Address) (poolInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pools[market]
	if !ok {
		return poolInfo{}, fmt.Errorf("simchain: exchange: unknown market %s", market.Hex())
	}
	return p, nil
}

// SwapExactPtForSy sells exactPtIn PT pulled from caller.
func (e *Exchange) SwapExactPtForSy(caller, market, receiver common.Address, exactPtIn *big.Int) (*big.Int, error) {
	p, err := e.pool(market)
	if err != nil {
		return nil, err
	}
	rPT, rSY := e.chain.BalanceOf(p.pt, market), e.chain.BalanceOf(p.sy, market)
	if rPT.Sign() == 0 || rSY.Sign() == 0 {
		return nil, fmt.Errorf("simchain: exchange: empty pool")
	}
	in := domain.ApplyBps(exactPtIn, p.feeBps)
	// rSY - k/(rPT+in) == rSY*in/(rPT+in)
	out := new(big.Int).Mul(rSY, in)
	out.Quo(out, new(big.Int).Add(rPT, in))

	if err := e.chain.TransferFrom(p.pt, market, caller, market, exactPtIn); err != nil {
		return nil, fmt.Errorf("simchain: exchange: pull pt: %w", err)
	}
	if err := e.chain.Transfer(p.sy, market, receiver, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SwapSyForExactPt buys exactPtOut PT, pulling whatever SY it costs from caller.
func (e *Exchange) SwapSyForExactPt(caller, market, receiver common.Address, exactPtOut *big.Int) (*big.Int, error) {
	p, err := e.pool(market)
	if err != nil {
		return nil, err
	}
	rPT, rSY := e.chain.BalanceOf(p.pt, market), e.chain.BalanceOf(p.sy, market)
	if exactPtOut.Cmp(rPT) >= 0 {
		return nil, fmt.Errorf("simchain: exchange: pt out %s exceeds reserve %s", exactPtOut, rPT)
	}
	// ceil(rSY*out/(rPT-out)), grossed up by the fee
	num := new(big.Int).Mul(rSY, exactPtOut)
	den := new(big.Int).Sub(rPT, exactPtOut)
	in := ceilDiv(num, den)
	in = ceilDiv(new(big.Int).Mul(in, big.NewInt(10_000)), big.NewInt(10_000-p.feeBps))

	if err := e.chain.TransferFrom(p.sy, market, caller, market, in); err != nil {
		return nil, fmt.Errorf("simchain: exchange: pull sy: %w", err)
	}
	if err := e.chain.Transfer(p.pt, market, receiver, exactPtOut); err != nil {
		return nil, err
	}
	return in, nil
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, m := new(big.Int).QuoRem(a, b, new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
