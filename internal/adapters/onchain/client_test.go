package onchain_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flashpendle/internal/adapters/onchain"
	"github.com/alejandrodnm/flashpendle/internal/domain"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var (
	contractAddr = common.HexToAddress("0x00000000000000000000000000000000000000C0")
	routerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000B0")
	lender       = domain.LenderRef{Kind: domain.LenderVault, Address: common.HexToAddress("0x00000000000000000000000000000000000000B1")}

	testMarket = domain.Market{
		Address:            common.HexToAddress("0x0000000000000000000000000000000000000010"),
		Name:               "PT-stETH",
		Underlying:         common.HexToAddress("0x0000000000000000000000000000000000000011"),
		SY:                 common.HexToAddress("0x0000000000000000000000000000000000000012"),
		PT:                 common.HexToAddress("0x0000000000000000000000000000000000000013"),
		YT:                 common.HexToAddress("0x0000000000000000000000000000000000000014"),
		UnderlyingDecimals: 18,
		Expiry:             time.Now().Add(30 * 24 * time.Hour),
	}
)

func sel(sig string) []byte { return crypto.Keccak256([]byte(sig))[:4] }

func mustArgs(t *testing.T, typeNames ...string) abi.Arguments {
	t.Helper()
	args := make(abi.Arguments, 0, len(typeNames))
	for _, ty := range typeNames {
		typ, err := abi.NewType(ty, "", nil)
		require.NoError(t, err)
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// revertError mimics the rpc error carrying revert data.
type revertError struct{ data string }

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorData() interface{} { return e.data }

// --- fake backend ---

type fakeBackend struct {
	mu sync.Mutex

	storageOut []byte
	expiredOut []byte
	readErr    error
	execErr    error // returned by calls to the executor contract

	receipt      *types.Receipt
	pendingPolls int    // receipt lookups answered NotFound before the receipt shows up
	onSend       func() // runs after a transaction is accepted
	sent         []*types.Transaction
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To != nil && *msg.To == contractAddr {
		return nil, b.execErr
	}
	if b.readErr != nil {
		return nil, b.readErr
	}
	switch string(msg.Data[:4]) {
	case string(sel("_storage()")):
		return b.storageOut, nil
	case string(sel("isExpired()")):
		return b.expiredOut, nil
	}
	return nil, errors.New("unknown method")
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 500_000, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(20_000_000_000), nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	if b.onSend != nil {
		b.onSend()
	}
	return nil
}

func (b *fakeBackend) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.receipt == nil || b.pendingPolls > 0 {
		b.pendingPolls--
		return nil, ethereum.NotFound
	}
	r := *b.receipt
	r.TxHash = h
	return &r, nil
}

func (b *fakeBackend) SubscribeTransactionReceipts(context.Context, *ethereum.TransactionReceiptsQuery, chan<- []*types.Receipt) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }
func (b *fakeBackend) BlockNumber(context.Context) (uint64, error)                    { return 123, nil }

// --- helpers ---

func newBackend(t *testing.T) *fakeBackend {
	t.Helper()
	storage, err := mustArgs(t, "int128", "int128", "uint96", "uint16", "uint16", "uint16").Pack(
		domain.ToWei(1e6, 18), domain.ToWei(1.2e6, 18), big.NewInt(0), uint16(0), uint16(1), uint16(1),
	)
	require.NoError(t, err)
	expired, err := mustArgs(t, "bool").Pack(false)
	require.NoError(t, err)
	return &fakeBackend{storageOut: storage, expiredOut: expired}
}

func successReceipt(t *testing.T, profit *big.Int) *types.Receipt {
	t.Helper()
	data, err := mustArgs(t, "uint256", "uint256", "uint256").Pack(big.NewInt(1_000), big.NewInt(5), profit)
	require.NoError(t, err)
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		GasUsed:     480_000,
		BlockNumber: big.NewInt(124),
		Logs: []*types.Log{{
			Address: contractAddr,
			Topics: []common.Hash{
				crypto.Keccak256Hash([]byte("ArbitrageExecuted(address,uint256,uint256,uint256)")),
				common.BytesToHash(testMarket.Address.Bytes()),
			},
			Data: data,
		}},
	}
}

func newClient(t *testing.T, b *fakeBackend, key string) *onchain.Client {
	t.Helper()
	c, err := onchain.NewClient(b, key, contractAddr, big.NewInt(1))
	require.NoError(t, err)
	return c
}

func params(t *testing.T) domain.ArbitrageParameters {
	t.Helper()
	p, err := domain.NewArbitrageParameters(testMarket, lender, routerAddr,
		domain.ToWei(102, 18), domain.ToWei(100, 18), domain.ToWei(102, 18))
	require.NoError(t, err)
	return p
}

// --- tests ---

func TestReadPoolState(t *testing.T) {
	c := newClient(t, newBackend(t), "")
	st, err := c.ReadPoolState(context.Background(), testMarket)
	require.NoError(t, err)
	assert.InDelta(t, 1e6, st.ReservePT, 1e-6)
	assert.InDelta(t, 1.2e6, st.ReserveSY, 1e-6)
	assert.False(t, st.Expired)
	assert.Equal(t, uint64(123), st.BlockNumber)
}

func TestReadPoolState_RPCError(t *testing.T) {
	b := newBackend(t)
	b.readErr = errors.New("rpc timeout")
	c := newClient(t, b, "")
	_, err := c.ReadPoolState(context.Background(), testMarket)
	assert.ErrorContains(t, err, "rpc timeout")
}

func TestGasPriceGwei_AddsBuffer(t *testing.T) {
	c := newClient(t, newBackend(t), "")
	gwei, err := c.GasPriceGwei(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 22, gwei, 1e-9)
}

func TestExecute_Success(t *testing.T) {
	b := newBackend(t)
	b.receipt = successReceipt(t, big.NewInt(777))
	c := newClient(t, b, testKey)

	res, err := c.Execute(context.Background(), params(t))
	require.NoError(t, err)
	assert.Equal(t, int64(777), res.Profit.Int64())
	assert.Equal(t, int64(5), res.Fee.Int64())
	assert.Equal(t, uint64(480_000), res.GasUsed)
	assert.Equal(t, uint64(124), res.BlockNumber)

	require.Len(t, b.sent, 1)
	tx := b.sent[0]
	assert.Equal(t, contractAddr, *tx.To())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(600_000), tx.Gas())
	assert.Equal(t, res.TxHash, tx.Hash().Hex())
	assert.Equal(t, sel("executeArbitrage(bytes)"), tx.Data()[:4])
}

func TestExecute_CancelAfterBroadcastStillAwaitsReceipt(t *testing.T) {
	b := newBackend(t)
	b.receipt = successReceipt(t, big.NewInt(777))
	b.pendingPolls = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.onSend = cancel // shutdown signal lands while the tx is pending

	c := newClient(t, b, testKey)
	res, err := c.Execute(ctx, params(t))
	require.NoError(t, err)
	assert.Equal(t, int64(777), res.Profit.Int64())
	assert.Len(t, b.sent, 1)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestExecute_PreflightDecodesCustomErrors(t *testing.T) {
	cases := map[string]error{
		"InsufficientOutput()": domain.ErrInsufficientOutput,
		"NoProfit()":           domain.ErrNoProfit,
		"Expired()":            domain.ErrExpired,
		"Unauthorized()":       domain.ErrUnauthorized,
		"NotVault()":           domain.ErrNotVault,
	}
	for sig, want := range cases {
		t.Run(sig, func(t *testing.T) {
			b := newBackend(t)
			b.execErr = revertError{data: hexutil.Encode(sel(sig))}
			c := newClient(t, b, testKey)

			_, err := c.Execute(context.Background(), params(t))
			require.ErrorIs(t, err, want)
			assert.Empty(t, b.sent, "no transaction after a failed preflight")
		})
	}
}

func TestExecute_PreflightRevertReason(t *testing.T) {
	reason, err := mustArgs(t, "string").Pack("router: slippage")
	require.NoError(t, err)

	b := newBackend(t)
	b.execErr = revertError{data: hexutil.Encode(append(sel("Error(string)"), reason...))}
	c := newClient(t, b, testKey)

	_, err = c.Execute(context.Background(), params(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "router: slippage")
	assert.Equal(t, domain.FailureSlippage, domain.ClassifyFailure(err))
}

func TestExecute_RevertedReceipt(t *testing.T) {
	b := newBackend(t)
	b.receipt = &types.Receipt{Status: types.ReceiptStatusFailed}
	c := newClient(t, b, testKey)

	_, err := c.Execute(context.Background(), params(t))
	assert.ErrorContains(t, err, "tx reverted")
}

func TestExecute_ReadOnlyClient(t *testing.T) {
	c := newClient(t, newBackend(t), "")
	_, err := c.Execute(context.Background(), params(t))
	assert.ErrorContains(t, err, "no signing key")
}

func TestAdmin(t *testing.T) {
	b := newBackend(t)
	b.receipt = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	c := newClient(t, b, testKey)
	ctx := context.Background()

	_, err := c.UpdateOwner(ctx, common.Address{})
	assert.ErrorIs(t, err, domain.ErrZeroAddress)

	hash, err := c.RescueToken(ctx, testMarket.Underlying)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	assert.Equal(t, hash, b.sent[0].Hash().Hex())
	assert.Equal(t, sel("rescueToken(address)"), b.sent[0].Data()[:4])

	b.execErr = revertError{data: hexutil.Encode(sel("Unauthorized()"))}
	_, err = c.UpdateOwner(ctx, routerAddr)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestNewClient_InvalidKey(t *testing.T) {
	_, err := onchain.NewClient(newBackend(t), "not-hex", contractAddr, big.NewInt(1))
	assert.Error(t, err)
}
