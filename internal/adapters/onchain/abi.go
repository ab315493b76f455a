package onchain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Contract ABIs
var (
	marketABI   abi.ABI
	executorABI abi.ABI
)

func init() {
	var err error

	// Pendle market: packed storage slot plus the expiry flag.
	marketABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "_storage",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [
				{"name": "totalPt", "type": "int128"},
				{"name": "totalSy", "type": "int128"},
				{"name": "lastLnImpliedRate", "type": "uint96"},
				{"name": "observationIndex", "type": "uint16"},
				{"name": "observationCardinality", "type": "uint16"},
				{"name": "observationCardinalityNext", "type": "uint16"}
			]
		},
		{
			"name": "isExpired",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`))
	if err != nil {
		panic("market abi parse: " + err.Error())
	}

	executorABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "executeArbitrage",
			"type": "function",
			"inputs": [{"name": "params", "type": "bytes"}],
			"outputs": []
		},
		{
			"name": "updateOwner",
			"type": "function",
			"inputs": [{"name": "newOwner", "type": "address"}],
			"outputs": []
		},
		{
			"name": "rescueToken",
			"type": "function",
			"inputs": [{"name": "token", "type": "address"}],
			"outputs": []
		},
		{
			"name": "ArbitrageExecuted",
			"type": "event",
			"anonymous": false,
			"inputs": [
				{"name": "market", "type": "address", "indexed": true},
				{"name": "borrowed", "type": "uint256", "indexed": false},
				{"name": "fee", "type": "uint256", "indexed": false},
				{"name": "profit", "type": "uint256", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic("executor abi parse: " + err.Error())
	}
}

// customErrors maps the executor contract's revert selectors to domain errors.
var customErrors = map[[4]byte]error{
	selector("Unauthorized()"):       domain.ErrUnauthorized,
	selector("NotVault()"):           domain.ErrNotVault,
	selector("Expired()"):            domain.ErrExpired,
	selector("InsufficientOutput()"): domain.ErrInsufficientOutput,
	selector("NoProfit()"):           domain.ErrNoProfit,
	selector("ZeroAddress()"):        domain.ErrZeroAddress,
}

func selector(sig string) [4]byte {
	var s [4]byte
	copy(s[:], crypto.Keccak256([]byte(sig))[:4])
	return s
}

// dataError is what go-ethereum's rpc layer returns for reverted calls.
type dataError interface {
	Error() string
	ErrorData() interface{}
}

// decodeRevert turns a reverted eth_call into a domain error when the revert
// data carries one of the executor's custom errors. Otherwise err is returned
// wrapped as-is.
func decodeRevert(err error) error {
	if err == nil {
		return nil
	}
	var de dataError
	if !errors.As(err, &de) {
		return err
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return err
	}
	data, decErr := hexutil.Decode(raw)
	if decErr != nil || len(data) < 4 {
		return err
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	if known, ok := customErrors[sel]; ok {
		return fmt.Errorf("reverted: %w", known)
	}
	if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
		return fmt.Errorf("reverted: %s", reason)
	}
	return err
}
