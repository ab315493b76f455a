package ports

import (
	"context"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Notifier presenta al operador lo que pasó en cada ciclo.
type Notifier interface {
	// Notify muestra las oportunidades ordenadas por beneficio neto.
	// En la implementación de consola, imprime una tabla formateada.
	Notify(ctx context.Context, opportunities []domain.Opportunity) error

	// NotifyExecution informa el resultado de un intento de ejecución.
	NotifyExecution(ctx context.Context, outcome domain.ExecutionOutcome) error
}
