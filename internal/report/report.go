// Package report writes a JSON summary of every download run.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wadaphaq/oasis-api-tool/internal/downloader"
	"github.com/wadaphaq/oasis-api-tool/internal/storage"
	"github.com/wadaphaq/oasis-api-tool/internal/util"
	"github.com/wadaphaq/oasis-api-tool/internal/window"
)

var (
	// ErrNoReport is returned when no report exists.
	ErrNoReport = errors.New("no run report found")
)

// Report is the persisted summary of one run and, for end-to-end runs, the
// stages that followed it.
type Report struct {
	RunID      string       `json:"run_id"`
	Mode       string       `json:"mode"`
	Market     string       `json:"market,omitempty"`
	Sources    []string     `json:"sources"`
	RangeStart string       `json:"range_start"`
	RangeEnd   string       `json:"range_end"`
	State      string       `json:"state"`
	Completed  int          `json:"completed"`
	Total      int          `json:"total"`
	Saved      int          `json:"saved"`
	HTTPErrors int          `json:"http_errors"`
	Transport  int          `json:"transport_errors"`
	Error      string       `json:"error,omitempty"`
	Failures   []Failure    `json:"failures,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Extract    *ExtractInfo `json:"extract,omitempty"`
	Combine    *CombineInfo `json:"combine,omitempty"`
}

// Failure describes one task that did not produce an archive.
type Failure struct {
	Source string `json:"source"`
	Window string `json:"window"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error"`
}

// ExtractInfo summarizes the extraction stage.
type ExtractInfo struct {
	Archives int `json:"archives"`
	Files    int `json:"files"`
}

// CombineInfo summarizes the assembly stage.
type CombineInfo struct {
	Output   string   `json:"output"`
	Files    int      `json:"files"`
	Skipped  []string `json:"skipped,omitempty"`
	Rows     int      `json:"rows"`
	Checksum string   `json:"checksum"`
}

// FromResult builds a report from a finished run.
func FromResult(res downloader.Result) *Report {
	saved, httpErrs, transportErrs := res.Counts()
	r := &Report{
		RunID:      res.RunID,
		Mode:       res.Request.Mode.String(),
		Market:     res.Request.Market,
		Sources:    res.Request.Sources,
		State:      res.State.String(),
		Completed:  res.Completed,
		Total:      res.Total,
		Saved:      saved,
		HTTPErrors: httpErrs,
		Transport:  transportErrs,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if !res.Request.Range.Start().IsZero() {
		r.RangeStart = res.Request.Range.Start().Format(window.DateLayout)
		r.RangeEnd = res.Request.Range.End().Format(window.DateLayout)
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	for _, t := range res.Tasks {
		if t.Outcome == downloader.OutcomeSaved {
			continue
		}
		f := Failure{Source: t.Task.Source, Window: t.Task.Window.String(), Status: t.Status}
		if t.Err != nil {
			f.Error = t.Err.Error()
		}
		r.Failures = append(r.Failures, f)
	}
	return r
}

// Writer persists run reports. It satisfies downloader.Recorder.
type Writer interface {
	RecordRun(ctx context.Context, res downloader.Result) error

	// Save writes r, replacing any report with the same run id.
	Save(ctx context.Context, r *Report) error

	// Latest reads the most recently finished report.
	Latest(ctx context.Context) (*Report, error)
}

// Config configures the report writer.
type Config struct {
	Enabled bool
	Dir     string // Directory for report files
}

// NewWriter creates a report writer based on configuration.
func NewWriter(cfg Config) (Writer, error) {
	if !cfg.Enabled {
		return &noopWriter{}, nil
	}

	if err := util.EnsureDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("create report directory %s: %w", cfg.Dir, err)
	}

	return &fileWriter{dir: cfg.Dir}, nil
}

// fileWriter keeps one run_<id>.json file per run.
type fileWriter struct {
	dir string
}

func (w *fileWriter) path(runID string) string {
	return filepath.Join(w.dir, fmt.Sprintf("run_%s.json", runID))
}

func (w *fileWriter) RecordRun(ctx context.Context, res downloader.Result) error {
	return w.Save(ctx, FromResult(res))
}

func (w *fileWriter) Save(_ context.Context, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := storage.WriteFileAtomic(w.path(r.RunID), data); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func (w *fileWriter) Latest(_ context.Context) (*Report, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("read report directory: %w", err)
	}

	var reports []*Report
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" || !strings.HasPrefix(e.Name(), "run_") {
			continue
		}
		r, err := Load(filepath.Join(w.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	if len(reports) == 0 {
		return nil, ErrNoReport
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].FinishedAt.After(reports[j].FinishedAt)
	})
	return reports[0], nil
}

// Load reads a single report file.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("read report file: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report file %s: %w", path, err)
	}
	return &r, nil
}

// noopWriter is used when reports are disabled.
type noopWriter struct{}

func (w *noopWriter) RecordRun(context.Context, downloader.Result) error { return nil }
func (w *noopWriter) Save(context.Context, *Report) error                { return nil }
func (w *noopWriter) Latest(context.Context) (*Report, error)            { return nil, ErrNoReport }
