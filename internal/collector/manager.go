package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tgsaver/internal/export"
	"github.com/blockedby/tgsaver/internal/queue"
)

// errors
var (
	ErrAlreadyRunning = errors.New("a download or export is already running")
)

// RunKind is what a background run does.
type RunKind string

// Run kinds
const (
	RunDrain  RunKind = "drain"
	RunExport RunKind = "export"
)

// Run is one background operation started over HTTP.
type Run struct {
	ID         uuid.UUID          `json:"id"`
	Kind       RunKind            `json:"kind"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Drain      *queue.BatchResult `json:"drain,omitempty"`
	Export     *export.Result     `json:"export,omitempty"`
	Request    *ExportRequest     `json:"request,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Runner is the part of Service the manager drives.
type Runner interface {
	Drain(ctx context.Context) (*queue.BatchResult, error)
	ExportFormat(ctx context.Context, start, end string, format export.Format) (*export.Result, error)
}

// RunManager runs drains and exports in the background,
// one at a time.
// thread-safe
type RunManager struct {
	mu       sync.Mutex
	current  *Run
	last     *Run
	cancelFn context.CancelFunc
	runner   Runner
	done     chan struct{}
}

// NewRunManager creates a new run manager
func NewRunManager(runner Runner) *RunManager {
	return &RunManager{runner: runner}
}

// StartDrain drains the queue in the background.
// returns ErrAlreadyRunning if a run is in progress
func (m *RunManager) StartDrain() (*Run, error) {
	return m.start(RunDrain, nil)
}

// StartExport exports a range in the background.
func (m *RunManager) StartExport(req ExportRequest) (*Run, error) {
	return m.start(RunExport, &req)
}

func (m *RunManager) start(kind RunKind, req *ExportRequest) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, ErrAlreadyRunning
	}

	// request contexts end with the handler, runs must outlive them
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel

	run := &Run{
		ID:        uuid.New(),
		Kind:      kind,
		StartedAt: time.Now(),
		Request:   req,
	}
	m.current = run
	m.done = make(chan struct{})

	go m.run(runCtx, run, m.done)

	snapshot := *run
	return &snapshot, nil
}

// Stop cancels the current run
// safe to call when nothing is running
func (m *RunManager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelFn == nil {
		return false
	}
	m.cancelFn()
	return true
}

// Current returns a copy of the running run or nil.
func (m *RunManager) Current() *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	r := *m.current
	return &r
}

// Last returns a copy of the most recently finished run or nil.
func (m *RunManager) Last() *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	r := *m.last
	return &r
}

// Wait blocks until the current run finishes or ctx is done.
func (m *RunManager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes the operation
// this is called in a goroutine
func (m *RunManager) run(ctx context.Context, run *Run, done chan struct{}) {
	var (
		drain *queue.BatchResult
		exp   *export.Result
		err   error
	)
	switch run.Kind {
	case RunDrain:
		drain, err = m.runner.Drain(ctx)
	case RunExport:
		format, _ := export.ParseFormat(run.Request.Format)
		exp, err = m.runner.ExportFormat(ctx, run.Request.Start, run.Request.End, format)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	finished := time.Now()
	run.FinishedAt = &finished
	run.Drain = drain
	run.Export = exp
	if err != nil {
		run.Error = err.Error()
	}
	if m.current == run {
		m.current = nil
		m.cancelFn = nil
	}
	m.last = run
	close(done)
}
