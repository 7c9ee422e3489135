// Package metrics provides Prometheus metrics for the OASIS downloader and
// the extract/combine stages.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Download metrics
	Fetches        *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	ArchiveBytes   prometheus.Histogram
	TasksTotal     prometheus.Gauge
	TasksCompleted prometheus.Gauge
	Runs           *prometheus.CounterVec

	// Extraction metrics
	ArchivesExtracted prometheus.Counter
	FilesExtracted    prometheus.Counter

	// Assembly metrics
	FilesAssembled prometheus.Counter
	FilesSkipped   prometheus.Counter
	RowsAssembled  prometheus.Gauge

	// Error metrics
	StorageErrors *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address" validate:"required_if=Enabled true"` // e.g. ":9090"
}

// New registers all metrics with reg under namespace.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "oasis"
	}
	f := promauto.With(reg)

	return &Metrics{
		Fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of OASIS requests by outcome",
			},
			[]string{"market", "outcome"},
		),
		FetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time spent on a single OASIS request",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s to ~64s
			},
			[]string{"market"},
		),
		ArchiveBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "archive_bytes",
				Help:      "Size of downloaded archives in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
			},
		),
		TasksTotal: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_tasks_total",
				Help:      "Number of tasks planned for the active run",
			},
		),
		TasksCompleted: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_tasks_completed",
				Help:      "Number of tasks completed in the active run",
			},
		),
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of download runs by final state",
			},
			[]string{"state"},
		),
		ArchivesExtracted: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archives_extracted_total",
				Help:      "Total number of archives expanded",
			},
		),
		FilesExtracted: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_extracted_total",
				Help:      "Total number of flat files written by extraction",
			},
		),
		FilesAssembled: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_assembled_total",
				Help:      "Total number of flat files merged into the consolidated table",
			},
		),
		FilesSkipped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_skipped_total",
				Help:      "Total number of flat files skipped as unreadable",
			},
		),
		RowsAssembled: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "consolidated_rows",
				Help:      "Row count of the last consolidated table",
			},
		),
		StorageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of archive write errors",
			},
			[]string{"operation"},
		),
	}
}

// NewServer returns an HTTP server exposing /metrics and /health.
func NewServer(address string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Listen binds the metrics address.
func Listen(address string) (net.Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", address, err)
	}
	return ln, nil
}

// Serve runs the metrics server on ln until ctx is done. ln is closed on
// return.
func Serve(ctx context.Context, ln net.Listener, g prometheus.Gatherer) error {
	srv := NewServer(ln.Addr().String(), g)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ObserveFetch records one request's outcome and latency.
func (m *Metrics) ObserveFetch(market, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(market, outcome).Inc()
	m.FetchDuration.WithLabelValues(market).Observe(seconds)
}

// ObserveArchiveBytes records the size of a saved archive.
func (m *Metrics) ObserveArchiveBytes(n int) {
	if m == nil {
		return
	}
	m.ArchiveBytes.Observe(float64(n))
}

// SetRunProgress publishes the active run's counters.
func (m *Metrics) SetRunProgress(completed, total int) {
	if m == nil {
		return
	}
	m.TasksCompleted.Set(float64(completed))
	m.TasksTotal.Set(float64(total))
}

// IncRuns increments the runs counter for a final state.
func (m *Metrics) IncRuns(state string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(state).Inc()
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(operation string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(operation).Inc()
}

// AddExtracted records one expanded archive and the files it produced.
func (m *Metrics) AddExtracted(files int) {
	if m == nil {
		return
	}
	m.ArchivesExtracted.Inc()
	m.FilesExtracted.Add(float64(files))
}

// ObserveAssembly records the result of one assembly run.
func (m *Metrics) ObserveAssembly(files, skipped, rows int) {
	if m == nil {
		return
	}
	m.FilesAssembled.Add(float64(files))
	m.FilesSkipped.Add(float64(skipped))
	m.RowsAssembled.Set(float64(rows))
}
