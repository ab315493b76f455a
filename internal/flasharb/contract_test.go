package flasharb_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flashpendle/internal/adapters/simchain"
	"github.com/alejandrodnm/flashpendle/internal/domain"
	"github.com/alejandrodnm/flashpendle/internal/flasharb"
)

func addr(n uint64) common.Address { return common.BigToAddress(new(big.Int).SetUint64(n)) }

var (
	owner        = addr(0xA1)
	stranger     = addr(0xA2)
	contractAddr = addr(0xC0)
	routerAddr   = addr(0xB0)
	vaultAddr    = addr(0xB1)
	poolAddr     = addr(0xB2)

	vaultRef = domain.LenderRef{Kind: domain.LenderVault, Address: vaultAddr}
	poolRef  = domain.LenderRef{Kind: domain.LenderPool, Address: poolAddr}

	market = domain.Market{
		Address:            addr(0x10),
		Underlying:         addr(0x11),
		SY:                 addr(0x12),
		PT:                 addr(0x13),
		YT:                 addr(0x14),
		UnderlyingDecimals: 6,
		Expiry:             time.Now().Add(30 * 24 * time.Hour),
	}
)

const lenderLiquidity = 100_000_000

// fixedExchange quotes PT at fixed rates (bps of par) in each direction.
type fixedExchange struct {
	chain           *simchain.Chain
	sellBps, buyBps int64
}

func (f *fixedExchange) SwapExactPtForSy(caller, m, receiver common.Address, in *big.Int) (*big.Int, error) {
	out := new(big.Int).Mul(in, big.NewInt(f.sellBps))
	out.Quo(out, big.NewInt(10_000))
	if err := f.chain.TransferFrom(market.PT, m, caller, m, in); err != nil {
		return nil, err
	}
	return out, f.chain.Transfer(market.SY, m, receiver, out)
}

func (f *fixedExchange) SwapSyForExactPt(caller, m, receiver common.Address, out *big.Int) (*big.Int, error) {
	in := new(big.Int).Mul(out, big.NewInt(f.buyBps))
	in.Quo(in, big.NewInt(10_000))
	if err := f.chain.TransferFrom(market.SY, m, caller, m, in); err != nil {
		return nil, err
	}
	return in, f.chain.Transfer(market.PT, m, receiver, out)
}

type harness struct {
	d        *simchain.Deployment
	contract *flasharb.Contract
}

// newHarness deploys the contract with a pool lender (5 bps premium) and a
// fee-free vault. exchange nil means the constant-product AMM.
func newHarness(t *testing.T, exchange func(*simchain.Chain) flasharb.Exchange) *harness {
	t.Helper()
	d, err := simchain.NewDeployment(simchain.DeploymentConfig{
		Contract: contractAddr,
		Owner:    owner,
		Router:   routerAddr,
	})
	require.NoError(t, err)

	d.ListMarket(market)
	require.NoError(t, d.SeedPool(market, big.NewInt(10_000_000), big.NewInt(10_000_000)))
	d.FundLender(vaultAddr, market.Underlying, big.NewInt(lenderLiquidity))
	d.FundLender(poolAddr, market.Underlying, big.NewInt(lenderLiquidity))

	var ex flasharb.Exchange = d.Exchange
	if exchange != nil {
		ex = exchange(d.Chain)
	}
	c, err := flasharb.NewContract(contractAddr, owner, flasharb.Env{
		Ledger:    d.Chain,
		Router:    d.Router,
		Tokenizer: d.Tokenizer,
		Exchange:  ex,
		Events:    d.Chain,
	}, simchain.NewVault(d.Chain, vaultAddr, 0), simchain.NewPool(d.Chain, poolAddr, 5))
	require.NoError(t, err)
	return &harness{d: d, contract: c}
}

func richPT(chain *simchain.Chain) flasharb.Exchange {
	return &fixedExchange{chain: chain, sellBps: 12_000, buyBps: 10_200}
}

func atPar(chain *simchain.Chain) flasharb.Exchange {
	return &fixedExchange{chain: chain, sellBps: 10_000, buyBps: 10_000}
}

func params(t *testing.T, lender domain.LenderRef, borrow, pt, minOut int64) domain.ArbitrageParameters {
	t.Helper()
	p, err := domain.NewArbitrageParameters(market, lender, routerAddr,
		big.NewInt(borrow), big.NewInt(pt), big.NewInt(minOut))
	require.NoError(t, err)
	return p
}

func (h *harness) execute(caller common.Address, p domain.ArbitrageParameters) (flasharb.Settlement, error) {
	var s flasharb.Settlement
	err := h.d.Chain.Atomic(func() error {
		var err error
		s, err = h.contract.ExecuteArbitrage(caller, p)
		return err
	})
	return s, err
}

// balances captures every holder of every market token as strings.
func (h *harness) balances() map[string]string {
	out := make(map[string]string)
	for _, tok := range []common.Address{market.Underlying, market.SY, market.PT, market.YT} {
		for holder, v := range h.d.Chain.Holders(tok) {
			out[tok.Hex()+"/"+holder.Hex()] = v.String()
		}
	}
	return out
}

func (h *harness) balance(token, holder common.Address) int64 {
	return h.d.Chain.BalanceOf(token, holder).Int64()
}

// --- success paths ---

func TestExecuteArbitrage_PoolLender_ForwardsProfitToOwner(t *testing.T) {
	h := newHarness(t, richPT)

	s, err := h.execute(owner, params(t, poolRef, 1_000_000, 1_000_000, 1_000_000))
	require.NoError(t, err)

	// 1.2 sell, 1.02 buy back, merge 1e6 → 1_180_000; owed 1_000_500
	assert.Equal(t, int64(179_500), s.Profit.Int64())
	assert.Equal(t, int64(500), s.Fee.Int64())
	assert.Equal(t, int64(179_500), h.balance(market.Underlying, owner))
	assert.Equal(t, int64(lenderLiquidity+500), h.balance(market.Underlying, poolAddr))

	for _, tok := range []common.Address{market.Underlying, market.SY, market.PT, market.YT} {
		assert.Zero(t, h.balance(tok, contractAddr), "el contrato no retiene fondos: %s", tok.Hex())
	}

	events := h.d.Chain.Events()
	require.NotEmpty(t, events)
	ev, ok := events[len(events)-1].(flasharb.ArbitrageExecuted)
	require.True(t, ok)
	assert.Equal(t, market.Address, ev.Market)
	assert.Equal(t, int64(179_500), ev.Profit.Int64())
}

func TestExecuteArbitrage_VaultLender_RepaysByTransfer(t *testing.T) {
	h := newHarness(t, richPT)

	s, err := h.execute(owner, params(t, vaultRef, 1_000_000, 1_000_000, 0))
	require.NoError(t, err)

	assert.Equal(t, int64(180_000), s.Profit.Int64())
	assert.Equal(t, int64(lenderLiquidity), h.balance(market.Underlying, vaultAddr))
	assert.Equal(t, int64(180_000), h.balance(market.Underlying, owner))
}

func TestExecuteArbitrage_ClampsSplitToWrapperReceived(t *testing.T) {
	h := newHarness(t, richPT)

	// cycle asks for 1e6 PT but only 500k SY exists: everything runs on 500k
	s, err := h.execute(owner, params(t, poolRef, 500_000, 1_000_000, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(89_750), s.Profit.Int64())
}

func TestExecuteArbitrage_GrantsUnlimitedApprovals(t *testing.T) {
	h := newHarness(t, richPT)

	_, err := h.execute(owner, params(t, vaultRef, 1_000_000, 1_000_000, 0))
	require.NoError(t, err)

	assert.Equal(t, 0, flasharb.MaxUint256.Cmp(h.d.Chain.Allowance(market.PT, contractAddr, market.Address)))
	assert.Equal(t, 0, flasharb.MaxUint256.Cmp(h.d.Chain.Allowance(market.SY, contractAddr, routerAddr)))
}

// --- failures revert everything ---

func TestExecuteArbitrage_GuardAboveAchievable_InsufficientOutput(t *testing.T) {
	h := newHarness(t, richPT)
	before := h.balances()

	_, err := h.execute(owner, params(t, poolRef, 1_000_000, 1_000_000, 1_180_001))
	require.ErrorIs(t, err, domain.ErrInsufficientOutput)
	assert.Equal(t, before, h.balances())
	assert.Empty(t, h.d.Chain.Events())
}

func TestExecuteArbitrage_BuyBackCostsMoreThanSell_FullRevert(t *testing.T) {
	h := newHarness(t, nil) // constant product, balanced reserves
	before := h.balances()

	_, err := h.execute(owner, params(t, vaultRef, 1_100_000, 1_000_000, 0))
	require.ErrorIs(t, err, domain.ErrInsufficientOutput)
	assert.Equal(t, before, h.balances(), "ningún efecto observable tras el revert")
	assert.Equal(t, uint64(0), h.d.Chain.Block())
}

func TestExecuteArbitrage_BreakEven_NoProfit(t *testing.T) {
	h := newHarness(t, atPar)
	before := h.balances()

	_, err := h.execute(owner, params(t, vaultRef, 1_000_000, 1_000_000, 0))
	require.ErrorIs(t, err, domain.ErrNoProfit)
	assert.Equal(t, before, h.balances())
}

func TestExecuteArbitrage_ExpiredMarket(t *testing.T) {
	h := newHarness(t, richPT)
	h.d.Chain.SetClock(func() time.Time { return market.Expiry.Add(time.Minute) })

	_, err := h.execute(owner, params(t, poolRef, 1_000_000, 1_000_000, 0))
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.Zero(t, h.balance(market.Underlying, owner))
}

func TestExecuteArbitrage_OnlyOwner(t *testing.T) {
	h := newHarness(t, richPT)

	_, err := h.execute(stranger, params(t, poolRef, 1_000_000, 1_000_000, 0))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestExecuteArbitrage_UnknownLender(t *testing.T) {
	h := newHarness(t, richPT)

	other := domain.LenderRef{Kind: domain.LenderPool, Address: addr(0xEE)}
	_, err := h.execute(owner, params(t, other, 1_000_000, 1_000_000, 0))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// registered address, wrong callback shape
	wrongKind := domain.LenderRef{Kind: domain.LenderPool, Address: vaultAddr}
	_, err = h.execute(owner, params(t, wrongKind, 1_000_000, 1_000_000, 0))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

// --- callbacks invoked directly ---

func TestCallbacks_RejectDirectCalls(t *testing.T) {
	h := newHarness(t, richPT)
	data, err := domain.EncodeArbitrageParameters(params(t, vaultRef, 1_000, 1_000, 0))
	require.NoError(t, err)

	tokens := []common.Address{market.Underlying}
	amounts := []*big.Int{big.NewInt(1_000)}
	fees := []*big.Int{big.NewInt(0)}

	err = h.contract.ReceiveFlashLoan(stranger, tokens, amounts, fees, data)
	assert.ErrorIs(t, err, domain.ErrNotVault)

	err = h.contract.ReceiveFlashLoan(poolAddr, tokens, amounts, fees, data)
	assert.ErrorIs(t, err, domain.ErrNotVault, "un pool no es un vault")

	err = h.contract.ReceiveFlashLoan(vaultAddr, tokens, amounts, fees, data)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "préstamo no solicitado")

	ok, err := h.contract.ExecuteOperation(stranger, market.Underlying, big.NewInt(1_000), big.NewInt(0), contractAddr, data)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	ok, err = h.contract.ExecuteOperation(poolAddr, market.Underlying, big.NewInt(1_000), big.NewInt(0), stranger, data)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	ok, err = h.contract.ExecuteOperation(poolAddr, market.Underlying, big.NewInt(1_000), big.NewInt(0), contractAddr, data)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

// --- admin ---

func TestUpdateOwner(t *testing.T) {
	h := newHarness(t, richPT)
	newOwner := addr(0xA3)

	assert.ErrorIs(t, h.contract.UpdateOwner(stranger, newOwner), domain.ErrUnauthorized)
	assert.ErrorIs(t, h.contract.UpdateOwner(owner, common.Address{}), domain.ErrZeroAddress)

	require.NoError(t, h.contract.UpdateOwner(owner, newOwner))
	assert.Equal(t, newOwner, h.contract.Owner())

	_, err := h.execute(owner, params(t, poolRef, 1_000_000, 1_000_000, 0))
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "el owner anterior ya no puede ejecutar")

	_, err = h.execute(newOwner, params(t, poolRef, 1_000_000, 1_000_000, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(179_500), h.balance(market.Underlying, newOwner))
}

func TestRescueToken(t *testing.T) {
	h := newHarness(t, richPT)
	h.d.Chain.Mint(market.SY, contractAddr, big.NewInt(42))

	_, err := h.contract.RescueToken(stranger, market.SY)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := h.contract.RescueToken(owner, market.SY)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int64())
	assert.Equal(t, int64(42), h.balance(market.SY, owner))
	assert.Zero(t, h.balance(market.SY, contractAddr))

	got, err = h.contract.RescueToken(owner, market.PT)
	require.NoError(t, err)
	assert.Zero(t, got.Sign(), "sin saldo también funciona")
}

func TestNewContract_Validates(t *testing.T) {
	_, err := flasharb.NewContract(common.Address{}, owner, flasharb.Env{})
	assert.ErrorIs(t, err, domain.ErrZeroAddress)

	_, err = flasharb.NewContract(contractAddr, owner, flasharb.Env{})
	assert.Error(t, err)
}
