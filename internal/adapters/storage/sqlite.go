package storage

// Journal de ciclos y ejecuciones.
//
// Estrategia:
//   - `cycles`: resumen ligero por ciclo del loop. Siempre 1 fila.
//   - `executions`: una fila por intento de ejecución, exitoso o no.
//     Las oportunidades en sí no se persisten; se recalculan cada ciclo.
//   - Prune automático al arrancar: cycles > 30d. Las ejecuciones no se podan.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

const schema = `
-- Resumen ligero por ciclo
CREATE TABLE IF NOT EXISTS cycles (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at     TEXT    NOT NULL,
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    markets        INTEGER NOT NULL DEFAULT 0,
    opportunities  INTEGER NOT NULL DEFAULT 0,
    best_market    TEXT,
    best_profit    REAL    NOT NULL DEFAULT 0,
    attempted      INTEGER NOT NULL DEFAULT 0
);

-- Un intento de ejecución por fila
CREATE TABLE IF NOT EXISTS executions (
    id               TEXT PRIMARY KEY,
    executed_at      TEXT    NOT NULL,
    market           TEXT    NOT NULL,
    market_name      TEXT,
    chain_id         INTEGER NOT NULL DEFAULT 0,
    size             REAL    NOT NULL DEFAULT 0,
    estimated_profit REAL    NOT NULL DEFAULT 0,
    status           TEXT    NOT NULL,
    realized_profit  REAL    NOT NULL DEFAULT 0,
    failure_kind     TEXT,
    reason           TEXT,
    tx_hash          TEXT,
    gas_used         INTEGER NOT NULL DEFAULT 0,
    mode             TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycles_at     ON cycles(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_exec_at       ON executions(executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_exec_market   ON executions(market);
`

const (
	retentionCycles = 30 * 24 * time.Hour

	// ancho fijo para que el orden lexicográfico coincida con el temporal
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia ciclos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background(), time.Now())
	return s, nil
}

// SaveCycle persiste el resumen de un ciclo.
func (s *SQLiteStorage) SaveCycle(ctx context.Context, c domain.CycleSummary) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (started_at, duration_ms, markets, opportunities, best_market, best_profit, attempted)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		formatTime(c.StartedAt),
		c.Duration.Milliseconds(),
		c.MarketsSeen,
		c.Opportunities,
		c.BestMarket,
		c.BestProfit,
		boolInt(c.Attempted),
	); err != nil {
		return fmt.Errorf("storage.SaveCycle: insert: %w", err)
	}
	return nil
}

// SaveOutcome persiste un intento. Reescribir el mismo ID reemplaza la fila.
func (s *SQLiteStorage) SaveOutcome(ctx context.Context, o domain.ExecutionOutcome) error {
	if o.ID == "" {
		return fmt.Errorf("storage.SaveOutcome: empty id")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions
			(id, executed_at, market, market_name, chain_id, size, estimated_profit,
			 status, realized_profit, failure_kind, reason, tx_hash, gas_used, mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID,
		formatTime(o.ExecutedAt),
		o.Market.Address.Hex(),
		o.Market.Name,
		o.Market.ChainID,
		o.Size,
		o.EstimatedProfit,
		string(o.Status),
		o.RealizedProfit,
		string(o.Kind),
		o.Reason,
		o.TxHash,
		int64(o.GasUsed),
		string(o.Mode),
	); err != nil {
		return fmt.Errorf("storage.SaveOutcome: insert %s: %w", o.ID, err)
	}
	return nil
}

// ListOutcomes devuelve los intentos con executed_at en [from, to], más recientes primero.
func (s *SQLiteStorage) ListOutcomes(ctx context.Context, from, to time.Time) ([]domain.ExecutionOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, executed_at, market, market_name, chain_id, size, estimated_profit,
		       status, realized_profit, failure_kind, reason, tx_hash, gas_used, mode
		FROM executions
		WHERE executed_at BETWEEN ? AND ?
		ORDER BY executed_at DESC
	`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("storage.ListOutcomes: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionOutcome
	for rows.Next() {
		var (
			o                                domain.ExecutionOutcome
			executedAt, market, status, mode string
			name, kind, reason, txHash       sql.NullString
			gasUsed                          int64
		)
		if err := rows.Scan(
			&o.ID, &executedAt, &market, &name, &o.Market.ChainID,
			&o.Size, &o.EstimatedProfit, &status, &o.RealizedProfit,
			&kind, &reason, &txHash, &gasUsed, &mode,
		); err != nil {
			return nil, fmt.Errorf("storage.ListOutcomes: scan row: %w", err)
		}
		o.ExecutedAt, _ = time.Parse(timeLayout, executedAt)
		o.Market.Address = common.HexToAddress(market)
		o.Market.Name = name.String
		o.Status = domain.ExecutionStatus(status)
		o.Kind = domain.FailureKind(kind.String)
		o.Reason = reason.String
		o.TxHash = txHash.String
		o.GasUsed = uint64(gasUsed)
		o.Mode = domain.ExecutionMode(mode)
		out = append(out, o)
	}
	return out, rows.Err()
}

// RealizedProfit devuelve la suma de beneficio realizado en [from, to].
func (s *SQLiteStorage) RealizedProfit(ctx context.Context, from, to time.Time) (float64, error) {
	var total sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `
		SELECT SUM(realized_profit) FROM executions
		WHERE status = ? AND executed_at BETWEEN ? AND ?`,
		string(domain.StatusSuccess), formatTime(from), formatTime(to),
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("storage.RealizedProfit: %w", err)
	}
	return total.Float64, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina ciclos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context, now time.Time) {
	cutoff := now.Add(-retentionCycles)
	s.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, formatTime(cutoff))
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
