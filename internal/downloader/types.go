package downloader

import (
	"errors"
	"time"

	"github.com/wadaphaq/oasis-api-tool/internal/window"
)

// AllSources is the distinguished source value that expands to the
// configured node list. It is never sent to the API.
const AllSources = "ALL_NODES"

var (
	// ErrBusy is returned by Start while another run is active.
	ErrBusy = errors.New("downloader: a run is already in progress")

	// ErrNoSources is returned when a node-mode request names no sources,
	// or names AllSources with no node list configured.
	ErrNoSources = errors.New("downloader: no sources to download")

	// ErrInvalidMarket is returned for an unknown market run id.
	ErrInvalidMarket = errors.New("downloader: invalid market")
)

// State is the lifecycle position of a run.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// Mode selects the request style.
type Mode int

const (
	// ModeNode requests one pricing node at a time (SingleZip, PRC_LMP).
	ModeNode Mode = iota
	// ModeGroup requests a whole report group per day (GroupZip).
	ModeGroup
)

func (m Mode) String() string {
	if m == ModeGroup {
		return "group"
	}
	return "node"
}

// Request describes one download run.
type Request struct {
	Range   window.DateRange
	Sources []string // node ids, may include AllSources
	Market  string   // market run id for ModeNode: DAM, RUC, RTM, HASP
	Mode    Mode
	Group   string // group id for ModeGroup, default DAM_LMP_GRP
}

// Task is one (source, window) fetch. Tasks are generated fresh for each
// run and never persisted.
type Task struct {
	Source string
	Window window.Window
}

// Outcome classifies a finished task.
type Outcome int

const (
	OutcomeSaved Outcome = iota
	OutcomeHTTPError
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSaved:
		return "saved"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// TaskResult is what happened to one task.
type TaskResult struct {
	Task     Task
	Outcome  Outcome
	Path     string // set for OutcomeSaved
	Bytes    int    // payload size for OutcomeSaved
	Status   int    // set for OutcomeHTTPError
	Body     string // set for OutcomeHTTPError
	Err      error  // set for failures
	Duration time.Duration
}

// Progress is a snapshot of a run's counters.
type Progress struct {
	Completed int
	Total     int

	// Last is the task that produced this update, nil for snapshots.
	Last *TaskResult
}

// Percent returns completion as 0..100. An empty run is 100% done.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// Result summarizes a finished run.
type Result struct {
	RunID      string
	Request    Request
	State      State
	Completed  int
	Total      int
	Tasks      []TaskResult
	Err        error // set when State is StateFailed
	StartedAt  time.Time
	FinishedAt time.Time
}

// Counts tallies task outcomes.
func (r Result) Counts() (saved, httpErrors, transportErrors int) {
	for _, t := range r.Tasks {
		switch t.Outcome {
		case OutcomeSaved:
			saved++
		case OutcomeHTTPError:
			httpErrors++
		case OutcomeTransportError:
			transportErrors++
		}
	}
	return
}
