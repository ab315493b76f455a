package ports

import (
	"context"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// MarketProvider obtiene la lista de mercados PT/SY activos.
type MarketProvider interface {
	// FetchMarkets devuelve todos los mercados conocidos para la chain configurada.
	// Las entradas malformadas se descartan; no hacen fallar la llamada.
	FetchMarkets(ctx context.Context) ([]domain.Market, error)
}

// PoolStateReader lee las reservas actuales de un mercado.
type PoolStateReader interface {
	ReadPoolState(ctx context.Context, market domain.Market) (domain.PoolState, error)
}
