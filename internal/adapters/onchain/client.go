package onchain

// Live chain access for the flash arbitrage executor.
//
// Reads market reserves, tracks the gas price and submits executeArbitrage
// transactions. Every submission is preceded by an eth_call so a cycle that
// would revert costs no gas.

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

const (
	// Gas limits (conservative upper bounds)
	executeGasLimit = uint64(1_200_000)
	adminGasLimit   = uint64(100_000)

	gasPriceUpdateInterval = 30 * time.Second
	fallbackGasPriceWei    = 30_000_000_000

	receiptTimeout = 90 * time.Second
	receiptPoll    = 2 * time.Second
)

// Backend is the subset of *ethclient.Client the Client needs.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionSender
	ethereum.TransactionReader
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client implements ports.PoolStateReader, ports.ArbitrageExecutor and ports.GasOracle.
type Client struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// Dial connects to rpcURL and builds a Client that signs with privateKeyHex
// (0x prefix optional).
func Dial(ctx context.Context, rpcURL, privateKeyHex string, contract common.Address) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial rpc: %w", err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("onchain: chain id: %w", err)
	}
	return NewClient(eth, privateKeyHex, contract, chainID)
}

// NewClient builds a Client over an existing backend. An empty key yields a
// read-only client (ReadPoolState and GasPriceGwei only).
func NewClient(backend Backend, privateKeyHex string, contract common.Address, chainID *big.Int) (*Client, error) {
	c := &Client{backend: backend, contract: contract, chainID: chainID}
	if privateKeyHex == "" {
		return c, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain: invalid private key: %w", err)
	}
	c.key = key
	c.from = crypto.PubkeyToAddress(key.PublicKey)
	return c, nil
}

// From returns the signer address.
func (c *Client) From() common.Address { return c.from }

// Mode implements ports.ArbitrageExecutor.
func (c *Client) Mode() domain.ExecutionMode { return domain.ModeLive }

// ReadPoolState reads the market's PT/SY reserves and expiry flag.
func (c *Client) ReadPoolState(ctx context.Context, m domain.Market) (domain.PoolState, error) {
	block, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("onchain.ReadPoolState: block number: %w", err)
	}
	at := new(big.Int).SetUint64(block)

	out, err := c.call(ctx, m.Address, marketABI, "_storage", at)
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("onchain.ReadPoolState: %s: %w", m.Label(), err)
	}
	if len(out) < 2 {
		return domain.PoolState{}, fmt.Errorf("onchain.ReadPoolState: %s: short _storage output", m.Label())
	}
	totalPt, ok1 := out[0].(*big.Int)
	totalSy, ok2 := out[1].(*big.Int)
	if !ok1 || !ok2 {
		return domain.PoolState{}, fmt.Errorf("onchain.ReadPoolState: %s: unexpected _storage types", m.Label())
	}

	expOut, err := c.call(ctx, m.Address, marketABI, "isExpired", at)
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("onchain.ReadPoolState: %s: isExpired: %w", m.Label(), err)
	}
	expired, _ := expOut[0].(bool)

	dec := m.UnderlyingDecimals
	return domain.PoolState{
		ReservePT:   domain.FromWei(totalPt, dec),
		ReserveSY:   domain.FromWei(totalSy, dec),
		Expired:     expired,
		BlockNumber: block,
	}, nil
}

// GasPriceGwei implements ports.GasOracle.
func (c *Client) GasPriceGwei(ctx context.Context) (float64, error) {
	wei := c.gasPrice(ctx)
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return gwei, nil
}

// Execute simulates executeArbitrage with eth_call, then signs, sends and waits
// for the receipt. A reverting preflight returns the decoded domain error.
func (c *Client) Execute(ctx context.Context, params domain.ArbitrageParameters) (domain.ExecutionResult, error) {
	if c.key == nil {
		return domain.ExecutionResult{}, fmt.Errorf("onchain.Execute: client has no signing key")
	}
	payload, err := domain.EncodeArbitrageParameters(params)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("onchain.Execute: %w", err)
	}
	callData, err := executorABI.Pack("executeArbitrage", payload)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("onchain.Execute: pack: %w", err)
	}

	if err := c.preflight(ctx, callData); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("onchain.Execute: preflight: %w", err)
	}

	receipt, err := c.send(ctx, callData, executeGasLimit)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("onchain.Execute: %w", err)
	}

	res := domain.ExecutionResult{
		TxHash:  receipt.TxHash.Hex(),
		GasUsed: receipt.GasUsed,
		Profit:  new(big.Int),
		Fee:     new(big.Int),
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if ev, ok := parseExecuted(receipt.Logs, c.contract); ok {
		res.Profit = ev.Profit
		res.Fee = ev.Fee
	} else {
		slog.Warn("onchain: ArbitrageExecuted event not found in receipt", "tx", res.TxHash)
	}
	return res, nil
}

// UpdateOwner transfers ownership of the executor contract.
func (c *Client) UpdateOwner(ctx context.Context, newOwner common.Address) (string, error) {
	if newOwner == (common.Address{}) {
		return "", fmt.Errorf("onchain.UpdateOwner: %w", domain.ErrZeroAddress)
	}
	return c.admin(ctx, "updateOwner", newOwner)
}

// RescueToken sweeps the contract's balance of token to the owner.
func (c *Client) RescueToken(ctx context.Context, token common.Address) (string, error) {
	if token == (common.Address{}) {
		return "", fmt.Errorf("onchain.RescueToken: %w", domain.ErrZeroAddress)
	}
	return c.admin(ctx, "rescueToken", token)
}

func (c *Client) admin(ctx context.Context, method string, arg common.Address) (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("onchain.%s: client has no signing key", method)
	}
	callData, err := executorABI.Pack(method, arg)
	if err != nil {
		return "", fmt.Errorf("onchain.%s: pack: %w", method, err)
	}
	if err := c.preflight(ctx, callData); err != nil {
		return "", fmt.Errorf("onchain.%s: preflight: %w", method, err)
	}
	receipt, err := c.send(ctx, callData, adminGasLimit)
	if err != nil {
		return "", fmt.Errorf("onchain.%s: %w", method, err)
	}
	return receipt.TxHash.Hex(), nil
}

func (c *Client) preflight(ctx context.Context, callData []byte) error {
	_, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.contract,
		Data: callData,
	}, nil)
	return decodeRevert(err)
}

// send signs and submits a legacy transaction to the executor contract and
// waits for a successful receipt.
func (c *Client) send(ctx context.Context, callData []byte, gasLimit uint64) (*types.Receipt, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice := c.gasPrice(ctx)

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.from,
		To:       &c.contract,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gas = gasLimit
		slog.Warn("onchain: gas estimate failed, using default", "err", err, "limit", gasLimit)
	}
	gas = gas * 12 / 10

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gas, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", decodeRevert(err))
	}
	slog.Info("onchain: transaction sent", "tx", signed.Hash().Hex(), "gas", gas)

	// once broadcast the tx is awaited even if the caller cancels; receiptTimeout bounds it
	receiptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), receiptTimeout)
	defer cancel()

	receipt, err := c.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return nil, fmt.Errorf("wait receipt %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("tx reverted: %s", signed.Hash().Hex())
	}
	return receipt, nil
}

func (c *Client) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, block *big.Int) ([]interface{}, error) {
	data, err := contractABI.Pack(method)
	if err != nil {
		return nil, err
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, err
	}
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty output", method)
	}
	return out, nil
}

// gasPrice returns the current gas price with a 10% inclusion buffer, cached
// to avoid an RPC call per cycle. Falls back to the last value, then 30 gwei.
func (c *Client) gasPrice(ctx context.Context) *big.Int {
	c.mu.RLock()
	cached := c.cachedGasWei
	updatedAt := c.gasUpdatedAt
	c.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached
	}

	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		slog.Warn("onchain: gas price unavailable", "err", err)
		if cached != nil {
			return cached
		}
		return big.NewInt(fallbackGasPriceWei)
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	c.mu.Lock()
	c.cachedGasWei = buffered
	c.gasUpdatedAt = time.Now()
	c.mu.Unlock()

	return buffered
}

func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		// not yet mined
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

type executedEvent struct {
	Market   common.Address
	Borrowed *big.Int
	Fee      *big.Int
	Profit   *big.Int
}

// parseExecuted finds the ArbitrageExecuted log emitted by contract.
func parseExecuted(logs []*types.Log, contract common.Address) (executedEvent, bool) {
	ev := executorABI.Events["ArbitrageExecuted"]
	for _, lg := range logs {
		if lg.Address != contract || len(lg.Topics) < 2 || lg.Topics[0] != ev.ID {
			continue
		}
		vals, err := ev.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(vals) != 3 {
			continue
		}
		out := executedEvent{Market: common.BytesToAddress(lg.Topics[1].Bytes())}
		out.Borrowed, _ = vals[0].(*big.Int)
		out.Fee, _ = vals[1].(*big.Int)
		out.Profit, _ = vals[2].(*big.Int)
		if out.Profit == nil {
			continue
		}
		return out, true
	}
	return executedEvent{}, false
}
