package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Storage persiste el journal de ciclos y de intentos de ejecución.
type Storage interface {
	// SaveCycle persiste el resumen de un ciclo del loop.
	SaveCycle(ctx context.Context, summary domain.CycleSummary) error

	// SaveOutcome persiste un intento de ejecución, exitoso o no.
	SaveOutcome(ctx context.Context, outcome domain.ExecutionOutcome) error

	// ListOutcomes devuelve los intentos registrados en el rango dado, más recientes primero.
	ListOutcomes(ctx context.Context, from, to time.Time) ([]domain.ExecutionOutcome, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
