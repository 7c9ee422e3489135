package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wadaphaq/oasis-api-tool/internal/downloader"
	"github.com/wadaphaq/oasis-api-tool/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	cfg  Config
	log  *slog.Logger
}

// NewPostgresWriter connects, pings and creates the catalog tables.
func NewPostgresWriter(ctx context.Context, cfg Config) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 2
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{
		pool: pool,
		cfg:  cfg,
		log:  logging.Component("catalog"),
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w.log.Info("connected to PostgreSQL catalog", "namespace", cfg.Namespace)
	return w, nil
}

// RecordRun writes the run and its archives in one transaction. Recording
// the same run twice replaces the earlier rows.
func (w *PostgresWriter) RecordRun(ctx context.Context, res downloader.Result) error {
	run, archives := Records(w.cfg.Namespace, res)

	err := pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO oasis_runs (
				run_id, namespace, mode, market, sources, range_start, range_end,
				state, completed, total, error_message, started_at, finished_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (run_id)
			DO UPDATE SET
				state = EXCLUDED.state,
				completed = EXCLUDED.completed,
				total = EXCLUDED.total,
				error_message = EXCLUDED.error_message,
				finished_at = EXCLUDED.finished_at
		`,
			run.RunID, run.Namespace, run.Mode, run.Market, run.Sources,
			run.RangeStart, run.RangeEnd, run.State, run.Completed, run.Total,
			nullable(run.Error), run.StartedAt, run.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM oasis_archives WHERE run_id = $1`, run.RunID); err != nil {
			return fmt.Errorf("clear archives: %w", err)
		}

		batch := &pgx.Batch{}
		for _, a := range archives {
			var status *int
			if a.HTTPStatus != 0 {
				status = &a.HTTPStatus
			}
			batch.Queue(`
				INSERT INTO oasis_archives (
					run_id, task_index, source, window_start, window_end, outcome,
					path, byte_size, http_status, error_message, duration_ms
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`,
				run.RunID, a.TaskIndex, a.Source, a.WindowStart, a.WindowEnd, a.Outcome,
				nullable(a.Path), a.Bytes, status, nullable(a.Error), a.Duration.Milliseconds(),
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.RunID, err)
	}

	w.log.Info("recorded run", "run_id", run.RunID, "state", run.State, "archives", len(archives))
	return nil
}

// LastRun returns the most recently finished run of the namespace, or nil.
func (w *PostgresWriter) LastRun(ctx context.Context) (*RunRecord, error) {
	var rec RunRecord
	var errMsg *string
	err := w.pool.QueryRow(ctx, `
		SELECT run_id, namespace, mode, market, sources, range_start, range_end,
		       state, completed, total, error_message, started_at, finished_at
		FROM oasis_runs
		WHERE namespace = $1
		ORDER BY finished_at DESC
		LIMIT 1
	`, w.cfg.Namespace).Scan(
		&rec.RunID, &rec.Namespace, &rec.Mode, &rec.Market, &rec.Sources,
		&rec.RangeStart, &rec.RangeEnd, &rec.State, &rec.Completed, &rec.Total,
		&errMsg, &rec.StartedAt, &rec.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last run: %w", err)
	}
	if errMsg != nil {
		rec.Error = *errMsg
	}
	return &rec, nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
