package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// LenderKind distingue las dos formas de callback de flash loan.
type LenderKind uint8

const (
	// LenderVault es un vault multi-activo: callback receiveFlashLoan y
	// devolución por transferencia.
	LenderVault LenderKind = iota + 1
	// LenderPool es un pool de un solo activo: callback executeOperation con
	// chequeo de initiator y devolución por approval.
	LenderPool
)

func (k LenderKind) String() string {
	switch k {
	case LenderVault:
		return "vault"
	case LenderPool:
		return "pool"
	default:
		return "unknown"
	}
}

// ParseLenderKind acepta "vault"/"balancer" y "pool"/"aave".
func ParseLenderKind(s string) (LenderKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vault", "balancer":
		return LenderVault, nil
	case "pool", "aave":
		return LenderPool, nil
	}
	return 0, fmt.Errorf("domain.ParseLenderKind: unknown lender kind %q", s)
}

// LenderRef identifica al prestamista de un intento.
type LenderRef struct {
	Kind    LenderKind
	Address common.Address
}

// ArbitrageParameters es todo lo que la máquina de estados necesita para un intento.
// Construir siempre con NewArbitrageParameters; los montos se copian.
type ArbitrageParameters struct {
	Lender     LenderRef
	Router     common.Address
	Underlying common.Address
	SY         common.Address
	PT         common.Address
	YT         common.Address
	Market     common.Address

	BorrowAmount     *big.Int // underlying prestado
	PTAmount         *big.Int // tamaño nominal del ciclo
	MinUnderlyingOut *big.Int // guardia de salida del unwind
}

// NewArbitrageParameters arma y valida los parámetros para un mercado.
func NewArbitrageParameters(m Market, lender LenderRef, router common.Address, borrow, ptAmount, minOut *big.Int) (ArbitrageParameters, error) {
	p := ArbitrageParameters{
		Lender:           lender,
		Router:           router,
		Underlying:       m.Underlying,
		SY:               m.SY,
		PT:               m.PT,
		YT:               m.YT,
		Market:           m.Address,
		BorrowAmount:     cloneInt(borrow),
		PTAmount:         cloneInt(ptAmount),
		MinUnderlyingOut: cloneInt(minOut),
	}
	if err := p.Validate(); err != nil {
		return ArbitrageParameters{}, err
	}
	return p, nil
}

// Validate comprueba direcciones no nulas y montos positivos.
func (p ArbitrageParameters) Validate() error {
	if p.Lender.Kind != LenderVault && p.Lender.Kind != LenderPool {
		return fmt.Errorf("domain.ArbitrageParameters: invalid lender kind %d", p.Lender.Kind)
	}
	addrs := map[string]common.Address{
		"lender":     p.Lender.Address,
		"router":     p.Router,
		"underlying": p.Underlying,
		"sy":         p.SY,
		"pt":         p.PT,
		"yt":         p.YT,
		"market":     p.Market,
	}
	for name, a := range addrs {
		if a == (common.Address{}) {
			return fmt.Errorf("domain.ArbitrageParameters: %s: %w", name, ErrZeroAddress)
		}
	}
	if p.BorrowAmount == nil || p.BorrowAmount.Sign() <= 0 {
		return fmt.Errorf("domain.ArbitrageParameters: borrow amount must be positive")
	}
	if p.PTAmount == nil || p.PTAmount.Sign() <= 0 {
		return fmt.Errorf("domain.ArbitrageParameters: pt amount must be positive")
	}
	if p.MinUnderlyingOut == nil || p.MinUnderlyingOut.Sign() < 0 {
		return fmt.Errorf("domain.ArbitrageParameters: min underlying out must be non-negative")
	}
	return nil
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// --- codec ABI del payload del callback ---

var paramsArgs abi.Arguments

func init() {
	mustType := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("domain: abi type %s: %v", t, err))
		}
		return typ
	}
	u8, addr, u256 := mustType("uint8"), mustType("address"), mustType("uint256")
	paramsArgs = abi.Arguments{
		{Name: "lenderKind", Type: u8},
		{Name: "lender", Type: addr},
		{Name: "router", Type: addr},
		{Name: "underlying", Type: addr},
		{Name: "sy", Type: addr},
		{Name: "pt", Type: addr},
		{Name: "yt", Type: addr},
		{Name: "market", Type: addr},
		{Name: "borrowAmount", Type: u256},
		{Name: "ptAmount", Type: u256},
		{Name: "minUnderlyingOut", Type: u256},
	}
}

// EncodeArbitrageParameters codifica p como el userData del flash loan.
func EncodeArbitrageParameters(p ArbitrageParameters) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := paramsArgs.Pack(
		uint8(p.Lender.Kind), p.Lender.Address, p.Router, p.Underlying,
		p.SY, p.PT, p.YT, p.Market,
		p.BorrowAmount, p.PTAmount, p.MinUnderlyingOut,
	)
	if err != nil {
		return nil, fmt.Errorf("domain.EncodeArbitrageParameters: %w", err)
	}
	return data, nil
}

// DecodeArbitrageParameters es la inversa de EncodeArbitrageParameters.
func DecodeArbitrageParameters(data []byte) (ArbitrageParameters, error) {
	vals, err := paramsArgs.Unpack(data)
	if err != nil {
		return ArbitrageParameters{}, fmt.Errorf("domain.DecodeArbitrageParameters: %w", err)
	}
	if len(vals) != len(paramsArgs) {
		return ArbitrageParameters{}, fmt.Errorf("domain.DecodeArbitrageParameters: got %d values", len(vals))
	}
	p := ArbitrageParameters{
		Lender: LenderRef{
			Kind:    LenderKind(vals[0].(uint8)),
			Address: vals[1].(common.Address),
		},
		Router:           vals[2].(common.Address),
		Underlying:       vals[3].(common.Address),
		SY:               vals[4].(common.Address),
		PT:               vals[5].(common.Address),
		YT:               vals[6].(common.Address),
		Market:           vals[7].(common.Address),
		BorrowAmount:     vals[8].(*big.Int),
		PTAmount:         vals[9].(*big.Int),
		MinUnderlyingOut: vals[10].(*big.Int),
	}
	if err := p.Validate(); err != nil {
		return ArbitrageParameters{}, err
	}
	return p, nil
}
