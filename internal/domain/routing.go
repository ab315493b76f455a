package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapKind identifica el tipo de agregador externo de un payload de ruta.
type SwapKind uint8

const (
	SwapNone        SwapKind = iota // sin swap externo: entrada/salida directa
	SwapKyber                       // agregador externo tipo A
	SwapOneInch                     // agregador externo tipo B
	SwapPassthrough                 // envolver/desenvolver nativo (ETH ↔ WETH)
)

func (k SwapKind) String() string {
	switch k {
	case SwapNone:
		return "none"
	case SwapKyber:
		return "kyber"
	case SwapOneInch:
		return "1inch"
	case SwapPassthrough:
		return "eth_weth"
	default:
		return "unknown"
	}
}

// SwapData es el payload de ruta que acompaña a mint/redeem del router.
// Extension y NeedScale solo tienen sentido para los agregadores externos.
type SwapData struct {
	Kind      SwapKind
	Router    common.Address
	Extension []byte
	NeedScale bool
}

// NoSwap es el payload que usa siempre el ciclo: sin agregador.
func NoSwap() SwapData { return SwapData{Kind: SwapNone} }

// IsNone devuelve true si el payload no pide swap externo.
func (s SwapData) IsNone() bool { return s.Kind == SwapNone }

// TokenInput describe la entrada de un mint de wrapper a través del router.
type TokenInput struct {
	TokenIn     common.Address
	NetTokenIn  *big.Int
	TokenMintSy common.Address
	Swap        SwapData
}

// TokenOutput describe la salida de un redeem de wrapper a través del router.
// MinTokenOut lo hace cumplir el router.
type TokenOutput struct {
	TokenOut      common.Address
	MinTokenOut   *big.Int
	TokenRedeemSy common.Address
	Swap          SwapData
}
