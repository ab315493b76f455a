package domain

// Modelo de precio/reservas para dimensionar un ciclo.
//
// Ciclo modelado (en unidades del wrapper):
//   1. vender `size` PT en el AMM de producto constante → sellOut SY
//   2. recomprar `size` PT al precio implícito de mint/redeem (1 SY por PT)
//      más una tolerancia de slippage plana
//   3. restar coste de mint/redeem, fee del flash loan y gas
//
// La pierna de recompra NO se recalcula con las reservas posteriores a la venta.
// Es un sesgo conocido del modelo y se mantiene así a propósito: el guardia de
// salida mínima en la ejecución es la protección real.

import "math"

// CostModel agrupa los costes que se descuentan del spread bruto.
type CostModel struct {
	SlippageBps   float64 // tolerancia aplicada a la pierna de recompra
	MintRedeemBps float64 // coste de mint + redeem sobre el tamaño
	FlashFeeBps   float64 // fee del prestamista (0 en vault sin fee)
	GasUnits      uint64
	GasPriceGwei  float64 // precio de gas en la unidad nativa (gwei)
}

// DefaultCostModel devuelve los parámetros conservadores usados por defecto.
func DefaultCostModel() CostModel {
	return CostModel{
		SlippageBps:   200, // 2%
		MintRedeemBps: 20,  // 0.2%
		GasUnits:      650_000,
	}
}

// Estimate es el desglose de un ciclo estimado para un tamaño dado.
type Estimate struct {
	Size           float64
	SellOutput     float64
	BuyBackCost    float64
	MintRedeemCost float64
	FlashFee       float64
	GasCost        float64
	NetProfit      float64
	ProfitBps      float64
}

// SellOutput devuelve la salida de vender amountIn contra un pool x·y=k:
// rOut·s/(rIn+s). Para entradas positivas cumple 0 < out < s·rOut/rIn y
// out < rOut. No usar rOut - k/(rIn+s): cancela con reservas grandes.
func SellOutput(reserveIn, reserveOut, amountIn float64) float64 {
	if reserveIn <= 0 || reserveOut <= 0 || amountIn <= 0 {
		return 0
	}
	out := reserveOut * amountIn / (reserveIn + amountIn)

	// el redondeo puede alcanzar las cotas cuando una reserva domina a la otra
	if spot := amountIn * reserveOut / reserveIn; out >= spot {
		out = math.Nextafter(spot, 0)
	}
	if out >= reserveOut {
		out = math.Nextafter(reserveOut, 0)
	}
	return out
}

// BuyBackCost devuelve el input de wrapper necesario para recomprar size PT
// al precio par de mint/redeem, inflado por la tolerancia de slippage.
func BuyBackCost(size, slippageBps float64) float64 {
	if size <= 0 {
		return 0
	}
	return size * (1 + slippageBps/10_000)
}

// GasCost devuelve el coste de gas en la unidad nativa.
func GasCost(units uint64, priceGwei float64) float64 {
	if units == 0 || priceGwei <= 0 {
		return 0
	}
	return float64(units) * priceGwei * 1e-9
}

// ProfitBps expresa net como puntos básicos sobre size.
func ProfitBps(net, size float64) float64 {
	if size <= 0 {
		return 0
	}
	return net / size * 10_000
}

// EstimateProfit estima el ciclo completo vendiendo size en un pool con
// reservas reserveIn (lo que se vende) y reserveOut (lo que se recibe).
// Devuelve ok=false si cualquier etapa no deja beneficio positivo.
// Es una función pura: mismas entradas, mismo resultado.
func EstimateProfit(reserveIn, reserveOut, size float64, c CostModel) (Estimate, bool) {
	if size <= 0 || reserveIn <= 0 || reserveOut <= 0 {
		return Estimate{}, false
	}

	e := Estimate{
		Size:        size,
		SellOutput:  SellOutput(reserveIn, reserveOut, size),
		BuyBackCost: BuyBackCost(size, c.SlippageBps),
	}

	gross := e.SellOutput - e.BuyBackCost
	if gross <= 0 {
		return Estimate{}, false
	}

	e.MintRedeemCost = size * c.MintRedeemBps / 10_000
	e.FlashFee = size * c.FlashFeeBps / 10_000
	e.GasCost = GasCost(c.GasUnits, c.GasPriceGwei)

	e.NetProfit = gross - e.MintRedeemCost - e.FlashFee - e.GasCost
	if e.NetProfit <= 0 {
		return Estimate{}, false
	}
	e.ProfitBps = ProfitBps(e.NetProfit, size)
	return e, true
}
