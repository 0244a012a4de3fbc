package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/signals"
)

// SQLiteStore persists signals and executions in a single SQLite file.
// Rows carry the indexed columns plus the full JSON document.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Wrap(err, errs.CategoryConfiguration, "storage", "open")
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.Wrap(fmt.Errorf("open database: %w", err), errs.CategoryStorageFailure, "storage", "open")
	}

	// WAL lets readers proceed while the pipeline writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errs.Wrap(fmt.Errorf("enable WAL: %w", err), errs.CategoryStorageFailure, "storage", "open")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, errs.Wrap(fmt.Errorf("busy timeout: %w", err), errs.CategoryStorageFailure, "storage", "open")
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errs.Wrap(fmt.Errorf("migrate: %w", err), errs.CategoryStorageFailure, "storage", "open")
	}

	observ.Log("storage_opened", map[string]any{"backend": "sqlite", "path": path})
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		market_id TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_signals_market ON signals(market_id);
	CREATE INDEX IF NOT EXISTS idx_signals_type ON signals(signal_type);
	CREATE INDEX IF NOT EXISTS idx_signals_created ON signals(created_at);

	CREATE TABLE IF NOT EXISTS executions (
		signal_id TEXT PRIMARY KEY,
		market_id TEXT NOT NULL,
		executed_at INTEGER NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_executions_market ON executions(market_id);
	CREATE INDEX IF NOT EXISTS idx_executions_executed ON executions(executed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func failure(op string, err error) error {
	return errs.Wrap(err, errs.CategoryStorageFailure, "storage", op)
}

func corrupt(op string, err error) error {
	return errs.Wrap(err, errs.CategoryStorageFailure, "storage", op).WithRetryable(false)
}

func (s *SQLiteStore) Store(ctx context.Context, sig *signals.TradeSignal) error {
	if err := validateSignal(sig); err != nil {
		return err
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return corrupt("store", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO signals (id, market_id, signal_type, created_at, payload)
		VALUES (?, ?, ?, ?, ?)`,
		sig.ID, sig.MarketID, string(sig.SignalType), sig.CreatedAt.UnixNano(), string(payload),
	)
	if err != nil {
		return failure("store", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*signals.TradeSignal, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM signals WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("signal", id)
	}
	if err != nil {
		return nil, failure("get", err)
	}
	var sig signals.TradeSignal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		return nil, corrupt("get", err)
	}
	return &sig, nil
}

func (s *SQLiteStore) querySignals(ctx context.Context, op, where string, args ...any) ([]*signals.TradeSignal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM signals `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, failure(op, err)
	}
	defer rows.Close()

	out := make([]*signals.TradeSignal, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, failure(op, err)
		}
		var sig signals.TradeSignal
		if err := json.Unmarshal([]byte(payload), &sig); err != nil {
			return nil, corrupt(op, err)
		}
		out = append(out, &sig)
	}
	if err := rows.Err(); err != nil {
		return nil, failure(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) GetByMarket(ctx context.Context, marketID string) ([]*signals.TradeSignal, error) {
	return s.querySignals(ctx, "get_by_market", `WHERE market_id = ?`, marketID)
}

func (s *SQLiteStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*signals.TradeSignal, error) {
	return s.querySignals(ctx, "get_by_time_range", `WHERE created_at >= ? AND created_at <= ?`, start.UnixNano(), end.UnixNano())
}

func (s *SQLiteStore) GetByType(ctx context.Context, t signals.SignalType) ([]*signals.TradeSignal, error) {
	return s.querySignals(ctx, "get_by_type", `WHERE signal_type = ?`, string(t))
}

func (s *SQLiteStore) GetAll(ctx context.Context) ([]*signals.TradeSignal, error) {
	return s.querySignals(ctx, "get_all", "")
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM signals WHERE id = ?`, id)
	if err != nil {
		return false, failure("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, failure("delete", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (StorageStats, error) {
	st := StorageStats{SignalsByType: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT signal_type, COUNT(*) FROM signals GROUP BY signal_type`)
	if err != nil {
		return st, failure("stats", err)
	}
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return st, failure("stats", err)
		}
		st.SignalsByType[t] = n
		st.TotalSignals += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, failure("stats", err)
	}

	var oldest, newest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(created_at), MAX(created_at) FROM signals`).Scan(&oldest, &newest); err != nil {
		return st, failure("stats", err)
	}
	if oldest.Valid {
		t := time.Unix(0, oldest.Int64).UTC()
		st.OldestSignal = &t
	}
	if newest.Valid {
		t := time.Unix(0, newest.Int64).UTC()
		st.NewestSignal = &t
	}
	if info, err := os.Stat(s.path); err == nil {
		size := info.Size()
		st.StorageSizeBytes = &size
	}
	return st, nil
}

func (s *SQLiteStore) StoreExecution(ctx context.Context, r *SignalExecutionResult) error {
	if err := validateExecution(r); err != nil {
		return err
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return corrupt("store_execution", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions (signal_id, market_id, executed_at, payload)
		VALUES (?, ?, ?, ?)`,
		r.SignalID, r.MarketID, r.ExecutedAt.UnixNano(), string(payload),
	)
	if err != nil {
		return failure("store_execution", err)
	}
	return nil
}

func (s *SQLiteStore) GetExecutionBySignal(ctx context.Context, signalID string) (*SignalExecutionResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM executions WHERE signal_id = ?`, signalID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("execution", signalID)
	}
	if err != nil {
		return nil, failure("get_execution", err)
	}
	var r SignalExecutionResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, corrupt("get_execution", err)
	}
	return &r, nil
}

func (s *SQLiteStore) queryExecutions(ctx context.Context, op, where string, args ...any) ([]*SignalExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM executions `+where+` ORDER BY executed_at, signal_id`, args...)
	if err != nil {
		return nil, failure(op, err)
	}
	defer rows.Close()

	out := make([]*SignalExecutionResult, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, failure(op, err)
		}
		var r SignalExecutionResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, corrupt(op, err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, failure(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) GetExecutionsByMarket(ctx context.Context, marketID string) ([]*SignalExecutionResult, error) {
	return s.queryExecutions(ctx, "get_executions_by_market", `WHERE market_id = ?`, marketID)
}

func (s *SQLiteStore) GetBacktestStats(ctx context.Context, start, end time.Time) (*BacktestStats, error) {
	results, err := s.queryExecutions(ctx, "get_backtest_stats",
		`WHERE executed_at >= ? AND executed_at <= ?`, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, err
	}
	return ComputeBacktestStats(start, end, results), nil
}
