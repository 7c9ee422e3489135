package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFetch("DAM", "saved", 1)
	m.ObserveArchiveBytes(10)
	m.SetRunProgress(1, 2)
	m.IncRuns("completed")
	m.IncStorageErrors("put")
	m.AddExtracted(3)
	m.ObserveAssembly(1, 0, 10)
}

func TestObserveFetch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.ObserveFetch("DAM", "saved", 0.5)
	m.ObserveFetch("DAM", "saved", 0.7)
	m.ObserveFetch("DAM", "http_error", 0.1)

	if got := testutil.ToFloat64(m.Fetches.WithLabelValues("DAM", "saved")); got != 2 {
		t.Errorf("saved fetches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Fetches.WithLabelValues("DAM", "http_error")); got != 1 {
		t.Errorf("http_error fetches = %v, want 1", got)
	}
}

func TestRunProgressAndAssembly(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("", reg)

	m.SetRunProgress(3, 12)
	m.AddExtracted(2)
	m.AddExtracted(1)
	m.ObserveAssembly(3, 1, 42)

	if got := testutil.ToFloat64(m.TasksCompleted); got != 3 {
		t.Errorf("tasks completed = %v", got)
	}
	if got := testutil.ToFloat64(m.TasksTotal); got != 12 {
		t.Errorf("tasks total = %v", got)
	}
	if got := testutil.ToFloat64(m.FilesExtracted); got != 3 {
		t.Errorf("files extracted = %v", got)
	}
	if got := testutil.ToFloat64(m.RowsAssembled); got != 42 {
		t.Errorf("rows = %v", got)
	}
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("oasis", reg)
	m.IncRuns("completed")

	srv := httptest.NewServer(NewServer("", reg).Handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `oasis_runs_total{state="completed"} 1`) {
		t.Errorf("metrics output missing runs counter:\n%s", body)
	}
}

func TestServeOnListener(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if _, err := Listen(ln.Addr().String()); err == nil {
		t.Fatal("second Listen on a bound address should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, prometheus.NewRegistry()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve after cancel: %v", err)
	}
}
