package scanner

// Lectura paralela de reservas.
//
// Cada mercado es una llamada RPC independiente; leerlas en paralelo con un
// límite de workers mantiene el ciclo corto sin saturar el nodo.

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/flashpendle/internal/domain"
	"github.com/alejandrodnm/flashpendle/internal/ports"
)

// stateResult es la lectura de un mercado; err != nil si no se pudo leer.
type stateResult struct {
	state domain.PoolState
	err   error
}

// readStatesConcurrent lee las reservas de todos los mercados con un pool acotado.
// El resultado i corresponde a markets[i]: el orden de llegada se conserva.
// Un error de lectura no cancela las demás lecturas.
//
// Si workers <= 0 usa runtime.NumCPU() × 2.
func readStatesConcurrent(
	ctx context.Context,
	reader ports.PoolStateReader,
	markets []domain.Market,
	workers int,
) []stateResult {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}

	results := make([]stateResult, len(markets))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, m := range markets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].err = err
				return nil
			}
			st, err := reader.ReadPoolState(ctx, m)
			results[i] = stateResult{state: st, err: err}
			return nil
		})
	}
	_ = g.Wait()

	slog.Debug("concurrent reserve reads complete",
		"markets", len(markets),
		"workers", workers,
	)
	return results
}
