// Package jobs runs expansion materialisation and index synchronisation out of
// band. Callers pick the execution mode per call.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Mode selects where a job runs.
type Mode int

const (
	// Background queues the job on the worker pool and returns immediately.
	Background Mode = iota
	// Synchronous runs the job in the calling goroutine. Index retraction
	// after removals is skipped in this mode.
	Synchronous
)

func (m Mode) String() string {
	if m == Synchronous {
		return "synchronous"
	}
	return "background"
}

func (m Mode) IsSynchronous() bool { return m == Synchronous }

// ParseMode maps "sync"/"synchronous"/"true" to Synchronous, anything else to Background.
func ParseMode(value string) Mode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "sync", "synchronous", "true", "1":
		return Synchronous
	}
	return Background
}

type Status string

const (
	StatusQueued    Status = "PENDING"
	StatusRunning   Status = "STARTED"
	StatusSucceeded Status = "SUCCESS"
	StatusFailed    Status = "FAILURE"
)

// Func is the unit of work. It receives the worker context in background mode
// and the caller's context in synchronous mode.
type Func func(ctx context.Context) error

// Task is the handle returned to callers.
type Task struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Mode       string     `json:"mode"`
	Status     Status     `json:"state"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (t *Task) Done() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

type job struct {
	id string
	fn Func
}

type Config struct {
	Workers   int
	QueueSize int
	// Retention is how long finished tasks remain queryable.
	Retention time.Duration
}

type Runner struct {
	pool      *Pool[job]
	log       zerolog.Logger
	retention time.Duration

	mu    sync.RWMutex
	tasks map[string]*Task

	tasksTotal *prometheus.CounterVec
}

// NewRunner creates a runner. registerer may be nil to skip metrics.
func NewRunner(cfg Config, registerer prometheus.Registerer, log zerolog.Logger) (*Runner, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}

	r := &Runner{
		log:       log.With().Str("component", "jobs").Logger(),
		retention: cfg.Retention,
		tasks:     make(map[string]*Task),
	}

	pool, err := NewPool(cfg.Workers, cfg.QueueSize, r.process, registerer, "termrepo_jobs")
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	r.pool = pool

	if registerer != nil {
		r.tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "termrepo_tasks_total",
			Help: "Finished tasks by name and status",
		}, []string{"name", "status"})
		if err := registerer.Register(r.tasksTotal); err != nil {
			return nil, fmt.Errorf("failed to register task metrics: %w", err)
		}
	}
	return r, nil
}

func (r *Runner) Start(ctx context.Context) error {
	return r.pool.Start(ctx)
}

func (r *Runner) Stop(timeout time.Duration) error {
	return r.pool.Stop(timeout)
}

func (r *Runner) Stats() PoolStats {
	return r.pool.Stats()
}

// Enqueue runs fn according to mode. In synchronous mode the returned error
// is the job's own error; in background mode it only reports queueing failures.
func (r *Runner) Enqueue(ctx context.Context, mode Mode, name string, fn Func) (*Task, error) {
	task := &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Mode:      mode.String(),
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
	r.store(task)

	if mode.IsSynchronous() {
		err := r.run(ctx, task.ID, fn)
		return r.snapshot(task.ID), err
	}

	if err := r.pool.Submit(job{id: task.ID, fn: fn}); err != nil {
		r.finish(task.ID, err)
		return r.snapshot(task.ID), fmt.Errorf("failed to queue task %s: %w", name, err)
	}

	r.log.Debug().Str("task", task.ID).Str("name", name).Msg("Task queued")
	return r.snapshot(task.ID), nil
}

// Get returns a copy of the task.
func (r *Runner) Get(id string) (*Task, error) {
	task := r.snapshot(id)
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (r *Runner) process(ctx context.Context, j job) error {
	return r.run(ctx, j.id, j.fn)
}

func (r *Runner) run(ctx context.Context, id string, fn Func) error {
	now := time.Now()
	r.mu.Lock()
	if task, ok := r.tasks[id]; ok {
		task.Status = StatusRunning
		task.StartedAt = &now
	}
	r.mu.Unlock()

	err := fn(ctx)
	r.finish(id, err)
	return err
}

func (r *Runner) finish(id string, err error) {
	now := time.Now()
	r.mu.Lock()
	task, ok := r.tasks[id]
	if ok {
		task.FinishedAt = &now
		task.Status = StatusSucceeded
		if err != nil {
			task.Status = StatusFailed
			task.Error = err.Error()
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if r.tasksTotal != nil {
		r.tasksTotal.WithLabelValues(task.Name, string(task.Status)).Inc()
	}
	if err != nil {
		r.log.Error().Err(err).Str("task", id).Str("name", task.Name).Msg("Task failed")
		return
	}
	r.log.Debug().Str("task", id).Str("name", task.Name).Msg("Task finished")
}

func (r *Runner) store(task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(task.CreatedAt)
	r.tasks[task.ID] = task
}

// prune drops finished tasks past retention. Must be called with the lock held.
func (r *Runner) prune(now time.Time) {
	for id, task := range r.tasks {
		if task.FinishedAt != nil && now.Sub(*task.FinishedAt) > r.retention {
			delete(r.tasks, id)
		}
	}
}

func (r *Runner) snapshot(id string) *Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil
	}
	c := *task
	return &c
}
