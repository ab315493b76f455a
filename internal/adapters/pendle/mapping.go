package pendle

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

const defaultDecimals = 18

// mapMarkets decodifica y convierte cada entrada a domain.Market. Una entrada
// con datos rotos se descarta y se cuenta en skipped; no hace fallar el lote.
func mapMarkets(raw []json.RawMessage, chainID int64) (markets []domain.Market, skipped int) {
	markets = make([]domain.Market, 0, len(raw))
	for i, entry := range raw {
		var r rawMarket
		if err := json.Unmarshal(entry, &r); err != nil {
			slog.Debug("pendle: malformed market skipped", "index", i, "err", err)
			skipped++
			continue
		}
		m, err := mapMarket(r, chainID)
		if err != nil {
			slog.Debug("pendle: market skipped", "address", r.Address, "err", err)
			skipped++
			continue
		}
		markets = append(markets, m)
	}
	return markets, skipped
}

func mapMarket(r rawMarket, chainID int64) (domain.Market, error) {
	addr, err := parseAddress(r.Address)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market address: %w", err)
	}
	pt, _, err := parseToken(r.PT)
	if err != nil {
		return domain.Market{}, fmt.Errorf("pt: %w", err)
	}
	yt, _, err := parseToken(r.YT)
	if err != nil {
		return domain.Market{}, fmt.Errorf("yt: %w", err)
	}
	sy, _, err := parseToken(r.SY)
	if err != nil {
		return domain.Market{}, fmt.Errorf("sy: %w", err)
	}
	underlying, decimals, err := parseToken(r.UnderlyingAsset)
	if err != nil {
		return domain.Market{}, fmt.Errorf("underlying: %w", err)
	}

	if r.ChainID != 0 {
		chainID = r.ChainID
	}
	return domain.Market{
		Address:            addr,
		Name:               r.Name,
		ChainID:            chainID,
		Underlying:         underlying,
		SY:                 sy,
		PT:                 pt,
		YT:                 yt,
		UnderlyingDecimals: decimals,
		Expiry:             parseExpiry(r.Expiry), // cero si no se entiende → se trata como vencido
		LiquidityUSD:       r.Liquidity.USD,
	}, nil
}

// parseToken acepta un objeto {"address","decimals"} o un string.
func parseToken(raw json.RawMessage) (common.Address, uint8, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return common.Address{}, 0, fmt.Errorf("missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		a, err := parseAddress(s)
		return a, defaultDecimals, err
	}
	var tok rawToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return common.Address{}, 0, err
	}
	a, err := parseAddress(tok.Address)
	if err != nil {
		return common.Address{}, 0, err
	}
	dec := uint8(defaultDecimals)
	if tok.Decimals != nil {
		if *tok.Decimals < 0 || *tok.Decimals > 36 {
			return common.Address{}, 0, fmt.Errorf("invalid decimals %d", *tok.Decimals)
		}
		dec = uint8(*tok.Decimals)
	}
	return a, dec, nil
}

// parseAddress acepta "0x..." y la forma con prefijo de cadena "1-0x...".
func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "-"); i >= 0 {
		s = s[i+1:]
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseExpiry prueba los formatos que usa la API; si ninguno encaja devuelve
// el tiempo cero.
func parseExpiry(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
