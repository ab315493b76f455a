package pendle

import "encoding/json"

// DTOs raw de la API de Pendle. Solo se usan dentro de este paquete.
// La conversión a domain.Market se hace en mapping.go.

// marketsResponse es la respuesta paginada de GET /core/v1/{chainId}/markets.
type marketsResponse struct {
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Skip    int         `json:"skip"`
	Results []json.RawMessage `json:"results"` // cada entrada se decodifica por separado en mapMarkets
}

// rawMarket es un mercado tal como lo devuelve la API. Los tokens pueden venir
// como objeto {"address": ...} o como string "chainId-0x...".
type rawMarket struct {
	Address         string          `json:"address"`
	Name            string          `json:"name"`
	ChainID         int64           `json:"chainId"`
	Expiry          string          `json:"expiry"`
	PT              json.RawMessage `json:"pt"`
	YT              json.RawMessage `json:"yt"`
	SY              json.RawMessage `json:"sy"`
	UnderlyingAsset json.RawMessage `json:"underlyingAsset"`
	Liquidity       rawLiquidity    `json:"liquidity"`
}

// rawToken es la forma objeto de un token.
type rawToken struct {
	Address  string `json:"address"`
	Decimals *int   `json:"decimals"`
	Symbol   string `json:"symbol"`
}

// rawLiquidity acepta {"usd": n} o un número directo.
type rawLiquidity struct {
	USD float64
}

func (l *rawLiquidity) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		l.USD = n
		return nil
	}
	var obj struct {
		USD float64 `json:"usd"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	l.USD = obj.USD
	return nil
}
