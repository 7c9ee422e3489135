package downloader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wadaphaq/oasis-api-tool/internal/logging"
	"github.com/wadaphaq/oasis-api-tool/internal/window"
)

// Run is one download run. Its counters may be read from any goroutine.
type Run struct {
	id    string
	req   Request
	tasks []Task
	total int
	log   *slog.Logger

	completed atomic.Int64
	state     atomic.Int32
	cancelled atomic.Bool

	// waitCtx is cancelled by Cancel so the delay between tasks ends early.
	waitCtx    context.Context
	waitCancel context.CancelFunc

	updates chan Progress
	done    chan struct{}

	mu        sync.Mutex
	results   []TaskResult
	result    Result
	startedAt time.Time
}

func newRun(parent context.Context, id string, req Request, tasks []Task) *Run {
	waitCtx, waitCancel := context.WithCancel(parent)

	var start, end string
	if !req.Range.Start().IsZero() {
		start = req.Range.Start().Format(window.DateLayout)
		end = req.Range.End().Format(window.DateLayout)
	}

	r := &Run{
		id:         id,
		req:        req,
		tasks:      tasks,
		total:      len(tasks),
		log:        logging.RunLogger(id, req.Mode.String(), req.Market, start, end),
		waitCtx:    waitCtx,
		waitCancel: waitCancel,
		updates:    make(chan Progress, len(tasks)+1),
		done:       make(chan struct{}),
		results:    make([]TaskResult, 0, len(tasks)),
		startedAt:  time.Now().UTC(),
	}
	r.state.Store(int32(StateRunning))
	return r
}

// ID returns the run identifier used in logs, reports and the catalog.
func (r *Run) ID() string { return r.id }

// Request returns the planned request with AllSources expanded.
func (r *Run) Request() Request { return r.req }

// Tasks returns the ordered task list.
func (r *Run) Tasks() []Task {
	out := make([]Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// Total is fixed when the run is planned.
func (r *Run) Total() int { return r.total }

// Completed counts tasks that finished, successfully or not.
func (r *Run) Completed() int { return int(r.completed.Load()) }

// Progress returns a snapshot of the counters.
func (r *Run) Progress() Progress {
	return Progress{Completed: r.Completed(), Total: r.total}
}

// State returns the current lifecycle state.
func (r *Run) State() State { return State(r.state.Load()) }

// Cancel asks the run to stop. The request in flight, if any, finishes and
// is saved; no further task starts. Safe to call more than once and after
// the run has ended.
func (r *Run) Cancel() {
	if r.State().Terminal() {
		return
	}
	if r.cancelled.CompareAndSwap(false, true) {
		r.log.Info("cancel requested", "completed", r.Completed(), "total", r.total)
	}
	r.waitCancel()
}

// Updates delivers one Progress per finished task and a final snapshot.
// The channel is closed when the run ends and never blocks the run.
func (r *Run) Updates() <-chan Progress { return r.updates }

// Done is closed once the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends or ctx is done.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the final result. Before the run ends it holds only the
// tasks finished so far.
func (r *Run) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.done:
		return r.result
	default:
	}

	tasks := make([]TaskResult, len(r.results))
	copy(tasks, r.results)
	return Result{
		RunID:     r.id,
		Request:   r.req,
		State:     r.State(),
		Completed: r.Completed(),
		Total:     r.total,
		Tasks:     tasks,
		StartedAt: r.startedAt,
	}
}

func (r *Run) stopRequested(ctx context.Context) bool {
	return r.cancelled.Load() || ctx.Err() != nil
}

func (r *Run) record(res TaskResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.completed.Add(1)
}

func (r *Run) complete(state State, err error) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Store(int32(state))
	r.result = Result{
		RunID:      r.id,
		Request:    r.req,
		State:      state,
		Completed:  r.Completed(),
		Total:      r.total,
		Tasks:      r.results,
		Err:        err,
		StartedAt:  r.startedAt,
		FinishedAt: time.Now().UTC(),
	}
	return r.result
}

func (r *Run) markDone() {
	r.updates <- r.Progress()
	close(r.updates)
	r.waitCancel()
	close(r.done)
}
