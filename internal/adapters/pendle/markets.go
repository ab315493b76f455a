package pendle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

const (
	marketsPageSize = 100
	maxMarketPages  = 20
)

// FetchMarkets obtiene todos los mercados de la cadena, paginando.
// Implementa ports.MarketProvider.
func (c *Client) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	var all []domain.Market
	skipped := 0

	for page := 0; page < maxMarketPages; page++ {
		skip := page * marketsPageSize
		url := fmt.Sprintf("%s/core/v1/%d/markets?limit=%d&skip=%d",
			c.baseURL, c.chainID, marketsPageSize, skip)

		var resp marketsResponse
		if err := c.get(ctx, url, &resp); err != nil {
			return nil, fmt.Errorf("pendle.FetchMarkets: page %d: %w", page, err)
		}

		markets, bad := mapMarkets(resp.Results, c.chainID)
		all = append(all, markets...)
		skipped += bad

		if len(resp.Results) < marketsPageSize || skip+len(resp.Results) >= resp.Total {
			break
		}
	}

	slog.Debug("pendle markets fetched",
		"markets", len(all),
		"skipped", skipped,
	)
	return all, nil
}
