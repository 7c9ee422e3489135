// Package catalog records finished download runs and the archive each task
// produced.
package catalog

import (
	"context"
	"time"

	"github.com/wadaphaq/oasis-api-tool/internal/downloader"
)

type Config struct {
	PostgresDSN string
	Namespace   string
}

// Writer persists run results. It satisfies downloader.Recorder.
type Writer interface {
	RecordRun(ctx context.Context, res downloader.Result) error

	// LastRun returns the most recently finished run, or nil when none is
	// recorded.
	LastRun(ctx context.Context) (*RunRecord, error)

	Close() error
}

// NewWriter returns a Postgres-backed writer when a DSN is configured and a
// no-op writer otherwise.
func NewWriter(ctx context.Context, cfg Config) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return noopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

type noopWriter struct{}

func (noopWriter) RecordRun(context.Context, downloader.Result) error { return nil }
func (noopWriter) LastRun(context.Context) (*RunRecord, error)        { return nil, nil }
func (noopWriter) Close() error                                       { return nil }

// RunRecord is one oasis_runs row.
type RunRecord struct {
	RunID      string
	Namespace  string
	Mode       string
	Market     string
	Sources    []string
	RangeStart time.Time
	RangeEnd   time.Time
	State      string
	Completed  int
	Total      int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// ArchiveRecord is one oasis_archives row.
type ArchiveRecord struct {
	TaskIndex   int
	Source      string
	WindowStart time.Time
	WindowEnd   time.Time
	Outcome     string
	Path        string
	Bytes       int64
	HTTPStatus  int
	Error       string
	Duration    time.Duration
}

// Records flattens a run result into catalog rows.
func Records(namespace string, res downloader.Result) (RunRecord, []ArchiveRecord) {
	run := RunRecord{
		RunID:      res.RunID,
		Namespace:  namespace,
		Mode:       res.Request.Mode.String(),
		Market:     res.Request.Market,
		Sources:    res.Request.Sources,
		RangeStart: res.Request.Range.Start(),
		RangeEnd:   res.Request.Range.End(),
		State:      res.State.String(),
		Completed:  res.Completed,
		Total:      res.Total,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	if run.Sources == nil {
		run.Sources = []string{}
	}

	archives := make([]ArchiveRecord, 0, len(res.Tasks))
	for i, t := range res.Tasks {
		rec := ArchiveRecord{
			TaskIndex:   i,
			Source:      t.Task.Source,
			WindowStart: t.Task.Window.Start,
			WindowEnd:   t.Task.Window.End,
			Outcome:     t.Outcome.String(),
			Path:        t.Path,
			Bytes:       int64(t.Bytes),
			HTTPStatus:  t.Status,
			Duration:    t.Duration,
		}
		if t.Err != nil {
			rec.Error = t.Err.Error()
		}
		archives = append(archives, rec)
	}
	return run, archives
}
