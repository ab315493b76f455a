package domain

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Opportunity es un candidato de ciclo ya dimensionado. Vive solo en memoria.
type Opportunity struct {
	Market    Market
	State     PoolState
	Estimate  Estimate
	ScannedAt time.Time
}

// Size devuelve el tamaño óptimo elegido, en unidades de token.
func (o Opportunity) Size() float64 { return o.Estimate.Size }

// NetProfit devuelve el beneficio neto estimado.
func (o Opportunity) NetProfit() float64 { return o.Estimate.NetProfit }

// ProfitBps devuelve el beneficio estimado en puntos básicos.
func (o Opportunity) ProfitBps() float64 { return o.Estimate.ProfitBps }

// ExecutionResult es lo que devuelve un ejecutor tras un intento exitoso.
type ExecutionResult struct {
	TxHash      string
	Profit      *big.Int // reenviado al owner, en wei del underlying
	Fee         *big.Int
	GasUsed     uint64
	BlockNumber uint64
}

// ExecutionStatus es el estado final de un intento.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
)

// ExecutionMode indica si el intento fue real o simulado.
type ExecutionMode string

const (
	ModeLive  ExecutionMode = "live"
	ModePaper ExecutionMode = "paper"
)

// ExecutionOutcome es la fila del journal para un intento.
type ExecutionOutcome struct {
	ID              string
	Market          Market
	Size            float64
	EstimatedProfit float64
	Status          ExecutionStatus
	RealizedProfit  float64
	Kind            FailureKind
	Reason          string
	TxHash          string
	GasUsed         uint64
	Mode            ExecutionMode
	ExecutedAt      time.Time
}

// NewOutcome arma un ExecutionOutcome a partir de la oportunidad y el resultado.
// err != nil marca el intento como fallido y lo clasifica.
func NewOutcome(opp Opportunity, mode ExecutionMode, res ExecutionResult, err error, now time.Time) ExecutionOutcome {
	out := ExecutionOutcome{
		ID:              uuid.NewString(),
		Market:          opp.Market,
		Size:            opp.Size(),
		EstimatedProfit: opp.NetProfit(),
		Mode:            mode,
		ExecutedAt:      now.UTC(),
	}
	if err != nil {
		out.Status = StatusFailure
		out.Kind = ClassifyFailure(err)
		out.Reason = err.Error()
		return out
	}
	out.Status = StatusSuccess
	out.RealizedProfit = FromWei(res.Profit, opp.Market.UnderlyingDecimals)
	out.TxHash = res.TxHash
	out.GasUsed = res.GasUsed
	return out
}

// CycleSummary es el resumen ligero de un ciclo del loop.
type CycleSummary struct {
	StartedAt     time.Time
	Duration      time.Duration
	MarketsSeen   int
	Opportunities int
	BestMarket    string
	BestProfit    float64
	Attempted     bool
}
