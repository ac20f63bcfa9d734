// internal/job/controller.go

// Package job owns the single shared "current run" slot. At most one
// ingestion job runs system-wide; start and cancel serialize on a mutex,
// status reads a consistent snapshot without blocking on either.
package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	custom_errors "github.com/Lucky43620/OdooDevLogs/internal/errors"
	"github.com/Lucky43620/OdooDevLogs/internal/ingest"
)

// Runner executes one ingestion job. Satisfied by *ingest.Ingestor.
type Runner interface {
	RunJob(ctx context.Context, spec ingest.JobSpec, progress ingest.ProgressLog) error
}

// Status is a snapshot of the current run for log tailing: the unread lines
// since the caller's cursor, the new cursor, and whether the worker is
// still alive.
type Status struct {
	Active bool     `json:"active"`
	RunID  int64    `json:"run_id,omitempty"`
	Lines  []string `json:"lines"`
	Cursor int      `json:"cursor"`
}

// Controller exposes start/status/cancel over the exclusive run slot.
type Controller struct {
	runner Runner
	logger *slog.Logger
	grace  time.Duration

	mu      sync.Mutex
	lastID  int64
	current *run
}

type run struct {
	id     int64
	cancel context.CancelFunc
	done   chan struct{}
	log    *RunLog
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// NewController creates a Controller with the given cancellation grace
// period.
func NewController(runner Runner, grace time.Duration, logger *slog.Logger) *Controller {
	return &Controller{
		runner: runner,
		logger: logger,
		grace:  grace,
	}
}

// Start launches a worker for the given job spec and returns its run ID.
// While a run is active it returns ErrAlreadyRunning and launches nothing.
func (c *Controller) Start(spec ingest.JobSpec) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && !c.current.finished() {
		return 0, custom_errors.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.lastID++
	r := &run{
		id:     c.lastID,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    &RunLog{},
	}
	c.current = r

	go func() {
		defer close(r.done)
		defer cancel()
		if err := c.runner.RunJob(ctx, spec, r.log); err != nil {
			c.logger.Error("Ingestion job ended with error", "run_id", r.id, "error", err)
			return
		}
		c.logger.Info("Ingestion job finished", "run_id", r.id)
	}()

	c.logger.Info("Ingestion job started", "run_id", r.id, "mode", string(spec.Mode))
	return r.id, nil
}

// Status returns the progress lines appended since cursor. With no run ever
// started it reports inactive with an unchanged cursor.
func (c *Controller) Status(cursor int) Status {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()

	if r == nil {
		return Status{Active: false, Cursor: cursor}
	}

	lines, next := r.log.Since(cursor)
	return Status{
		Active: !r.finished(),
		RunID:  r.id,
		Lines:  lines,
		Cursor: next,
	}
}

// Cancel requests cooperative termination of the active run and waits up to
// the grace period for the worker to stop. If it does not, the slot is
// force-released; the abandoned worker's running import_log row may be left
// open and must be treated as stale by readers. Returns ErrNoActiveRun when
// the slot is idle.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	r := c.current
	if r == nil || r.finished() {
		c.mu.Unlock()
		return custom_errors.ErrNoActiveRun
	}
	c.mu.Unlock()

	c.logger.Info("Cancelling ingestion job", "run_id", r.id)
	r.cancel()

	select {
	case <-r.done:
		return nil
	case <-time.After(c.grace):
	}

	c.logger.Warn("Worker did not stop within grace period, releasing run slot", "run_id", r.id)
	r.log.Append("cancel grace period elapsed; run slot force-released")

	c.mu.Lock()
	if c.current == r {
		c.current = nil
	}
	c.mu.Unlock()
	return nil
}
