// Package downloader drives serial, rate-limited OASIS downloads.
//
// A run turns a date range and a set of sources into an ordered task queue
// and works through it one request at a time, pausing between requests.
// Only one run may be active per Orchestrator.
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wadaphaq/oasis-api-tool/internal/logging"
	"github.com/wadaphaq/oasis-api-tool/internal/metrics"
	"github.com/wadaphaq/oasis-api-tool/internal/oasis"
	"github.com/wadaphaq/oasis-api-tool/internal/storage"
	"github.com/wadaphaq/oasis-api-tool/internal/window"
)

// Fetcher performs a single request. *oasis.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, q oasis.Query) ([]byte, error)
}

// Recorder receives every finished run, e.g. the run report writer or the
// catalog. Recorder errors are logged and never change the run outcome.
type Recorder interface {
	RecordRun(ctx context.Context, res Result) error
}

// Options configures the orchestrator.
type Options struct {
	// MaxWindowDays is the longest span of one node request.
	// Default: 30
	MaxWindowDays int

	// Delay is the pause after each request before the next one starts.
	// Default: 10s
	Delay time.Duration

	// FilePrefix starts every archive name. Default: "CAISO_LMP"
	FilePrefix string

	// NodeHour and GroupHour anchor window bounds to an hour of day.
	// Nil means the default: 0 for node requests, 7 for group requests.
	NodeHour  *int
	GroupHour *int

	// AllSources is the node list AllSources expands to.
	AllSources []string

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Recorders are called once per finished run.
	Recorders []Recorder

	// OnProgress, when set, is called from the run goroutine after each task.
	OnProgress func(Progress)
}

// DefaultOptions returns the recommended settings.
func DefaultOptions() Options {
	return Options{
		MaxWindowDays: 30,
		Delay:         10 * time.Second,
		FilePrefix:    "CAISO_LMP",
		NodeHour:      Hour(0),
		GroupHour:     Hour(7),
	}
}

// Hour returns a pointer to h for the NodeHour and GroupHour options.
func Hour(h int) *int { return &h }

// Orchestrator owns at most one active Run.
type Orchestrator struct {
	fetcher Fetcher
	store   storage.ArchiveStore
	opts    Options
	log     *slog.Logger

	// wait pauses between tasks; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active *Run
}

// New creates an orchestrator writing archives to store.
func New(fetcher Fetcher, store storage.ArchiveStore, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.MaxWindowDays <= 0 {
		opts.MaxWindowDays = def.MaxWindowDays
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.FilePrefix == "" {
		opts.FilePrefix = def.FilePrefix
	}
	if opts.NodeHour == nil {
		opts.NodeHour = def.NodeHour
	}
	if opts.GroupHour == nil {
		opts.GroupHour = def.GroupHour
	}

	return &Orchestrator{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		log:     logging.Component("downloader"),
		wait:    sleep,
	}
}

// Active returns the running run, or nil when idle.
func (o *Orchestrator) Active() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// State returns StateIdle when no run is active, otherwise the active
// run's state.
func (o *Orchestrator) State() State {
	if r := o.Active(); r != nil {
		return r.State()
	}
	return StateIdle
}

// Start plans req and launches the run in the background. It returns ErrBusy
// while another run is active and a *window.PlanningError for an invalid
// request; in both cases no state changes.
//
// Cancelling ctx has the same effect as Run.Cancel: the run stops at the
// next task boundary. Requests already in flight are never interrupted.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil {
		o.log.Warn("start rejected, run in progress", "active_run", o.active.id)
		return nil, ErrBusy
	}

	req, tasks, err := o.plan(req)
	if err != nil {
		return nil, err
	}

	r := newRun(ctx, logging.NewRunID(), req, tasks)
	o.active = r

	r.log.Info("run started",
		"tasks", len(tasks),
		"sources", len(req.Sources),
		"delay", o.opts.Delay.String(),
	)
	o.opts.Metrics.SetRunProgress(0, len(tasks))

	go o.execute(ctx, r)
	return r, nil
}

// plan validates req, expands AllSources and builds the ordered task list:
// every window of the first source, in time order, then the next source.
func (o *Orchestrator) plan(req Request) (Request, []Task, error) {
	maxDays := o.opts.MaxWindowDays

	switch req.Mode {
	case ModeGroup:
		if req.Group == "" {
			req.Group = oasis.GroupDAMLMP
		}
		req.Sources = []string{req.Group}
		maxDays = 1
	default:
		if !oasis.ValidMarket(req.Market) {
			return req, nil, fmt.Errorf("%w: %q", ErrInvalidMarket, req.Market)
		}
		sources, err := o.expandSources(req.Sources)
		if err != nil {
			return req, nil, err
		}
		req.Sources = sources
	}

	windows, err := window.Plan(req.Range, maxDays)
	if err != nil {
		return req, nil, err
	}

	tasks := make([]Task, 0, len(req.Sources)*len(windows))
	for _, src := range req.Sources {
		for _, w := range windows {
			tasks = append(tasks, Task{Source: src, Window: w})
		}
	}
	return req, tasks, nil
}

func (o *Orchestrator) expandSources(sources []string) ([]string, error) {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		if s != AllSources {
			if s != "" {
				out = append(out, s)
			}
			continue
		}
		if len(o.opts.AllSources) == 0 {
			return nil, fmt.Errorf("%w: %s requested but no node list is configured", ErrNoSources, AllSources)
		}
		out = append(out, o.opts.AllSources...)
	}
	if len(out) == 0 {
		return nil, ErrNoSources
	}
	return out, nil
}

// execute is the run's task loop. It is the only writer of the run state.
func (o *Orchestrator) execute(ctx context.Context, r *Run) {
	// In-flight requests outlive cancellation; the client timeout bounds them.
	fetchCtx := logging.WithRunID(context.WithoutCancel(ctx), r.id)

	state := StateCompleted
	var runErr error

	for i, task := range r.tasks {
		if r.stopRequested(ctx) {
			state = StateAborted
			break
		}

		res, err := o.runTask(fetchCtx, r, task)
		if err != nil {
			state = StateFailed
			runErr = err
			break
		}
		r.record(res)
		o.opts.Metrics.SetRunProgress(r.Completed(), r.total)

		p := Progress{Completed: r.Completed(), Total: r.total, Last: &res}
		r.updates <- p
		if o.opts.OnProgress != nil {
			o.opts.OnProgress(p)
		}

		if i < len(r.tasks)-1 {
			if err := o.wait(r.waitCtx, o.opts.Delay); err != nil {
				r.log.Debug("delay interrupted", "error", err)
			}
		}
	}

	o.finish(r, state, runErr)
}

// runTask fetches one task and persists the payload. Only a storage failure
// is returned as an error; fetch failures are part of the TaskResult.
func (o *Orchestrator) runTask(ctx context.Context, r *Run, task Task) (TaskResult, error) {
	q := o.query(r.req, task)
	res := TaskResult{Task: task}

	start := time.Now()
	payload, err := o.fetcher.Fetch(ctx, q)
	res.Duration = time.Since(start)

	log := r.log.With("source", task.Source, "window", task.Window.String())

	if err != nil {
		res.Err = err
		if he, ok := oasis.IsHTTPError(err); ok {
			res.Outcome = OutcomeHTTPError
			res.Status = he.Status
			res.Body = he.Body
			log.Warn("request failed", "status", he.Status, "body", truncate(he.Body, 300))
		} else {
			res.Outcome = OutcomeTransportError
			log.Warn("request failed", "error", err)
		}
		o.opts.Metrics.ObserveFetch(r.req.Market, res.Outcome.String(), res.Duration.Seconds())
		return res, nil
	}

	ref := storage.ArchiveRef{
		Prefix: o.opts.FilePrefix,
		Source: task.Source,
		Start:  task.Window.Start,
		End:    task.Window.End,
	}
	if r.req.Mode == ModeNode {
		ref.Market = r.req.Market
	}

	path, err := o.store.Put(ctx, ref.Name(), payload)
	if err != nil {
		o.opts.Metrics.IncStorageErrors("put")
		return res, fmt.Errorf("save archive %s: %w", ref.Name(), err)
	}

	res.Outcome = OutcomeSaved
	res.Path = path
	res.Bytes = len(payload)
	o.opts.Metrics.ObserveFetch(r.req.Market, res.Outcome.String(), res.Duration.Seconds())
	o.opts.Metrics.ObserveArchiveBytes(len(payload))
	log.Info("saved archive", "path", path, "bytes", len(payload), "duration", res.Duration.String())
	return res, nil
}

func (o *Orchestrator) query(req Request, task Task) oasis.Query {
	if req.Mode == ModeGroup {
		return oasis.GroupQuery(task.Source, task.Window, *o.opts.GroupHour)
	}
	q := oasis.NodeQuery(task.Source, req.Market, task.Window)
	q.Hour = *o.opts.NodeHour
	return q
}

// finish publishes the result, notifies recorders and releases the
// orchestrator for the next run.
func (o *Orchestrator) finish(r *Run, state State, runErr error) {
	res := r.complete(state, runErr)

	switch state {
	case StateFailed:
		r.log.Error("run failed", "completed", res.Completed, "total", res.Total, "error", runErr)
	case StateAborted:
		r.log.Warn("run aborted", "completed", res.Completed, "total", res.Total)
	default:
		saved, httpErrs, transportErrs := res.Counts()
		r.log.Info("run complete",
			"completed", res.Completed,
			"saved", saved,
			"http_errors", httpErrs,
			"transport_errors", transportErrs,
			"duration", res.FinishedAt.Sub(res.StartedAt).String(),
		)
	}
	o.opts.Metrics.IncRuns(state.String())

	for _, rec := range o.opts.Recorders {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := rec.RecordRun(ctx, res); err != nil {
			r.log.Warn("failed to record run", "error", err)
		}
		cancel()
	}

	o.mu.Lock()
	if o.active == r {
		o.active = nil
	}
	o.mu.Unlock()

	r.markDone()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
