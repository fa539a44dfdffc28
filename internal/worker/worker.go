package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mhollis/docvault/internal/metrics"
)

// Task is a periodic maintenance job. The worker runs each registered task
// once at startup and then on its own interval until shutdown.
type Task interface {
	// Name identifies the task in logs and metrics.
	Name() string

	// Interval is how often the task runs.
	Interval() time.Duration

	// Run performs one pass of the task's work.
	Run(ctx context.Context) error
}

// Worker schedules periodic maintenance tasks, one goroutine per task.
type Worker struct {
	tasks  []Task
	config Config
	logger *slog.Logger

	// Synchronization
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Register adds a task to the worker. Call this before Start().
func (w *Worker) Register(task Task) {
	w.tasks = append(w.tasks, task)
	w.logger.Debug("Registered maintenance task", "task", task.Name(), "interval", task.Interval())
}

// Start launches one scheduling goroutine per registered task. Each task
// runs once immediately so a restart never postpones overdue maintenance
// for a full interval.
func (w *Worker) Start(ctx context.Context) {
	for _, task := range w.tasks {
		w.wg.Add(1)
		go w.runTask(ctx, task)
	}

	w.logger.Info("Maintenance worker started", "tasks", len(w.tasks))
}

// Stop signals all task goroutines to stop and waits for them to finish.
// It respects the configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.logger.Info("Stopping maintenance worker...")
	close(w.stopCh)

	// Wait for task goroutines with timeout
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Maintenance worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, a task run may still be in progress")
	}
}

// runTask is the scheduling loop for a single task.
func (w *Worker) runTask(ctx context.Context, task Task) {
	defer w.wg.Done()

	logger := w.logger.With("task", task.Name())
	logger.Debug("Task scheduler started")

	w.executeTask(ctx, task, logger)

	ticker := time.NewTicker(task.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			logger.Debug("Task scheduler stopping")
			return
		case <-ticker.C:
			w.executeTask(ctx, task, logger)
		}
	}
}

// executeTask runs one pass of a task with a timeout context and records
// the outcome.
func (w *Worker) executeTask(ctx context.Context, task Task, logger *slog.Logger) {
	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	if err := task.Run(taskCtx); err != nil {
		logger.Error("Task run failed", "error", err, "duration", time.Since(start))
		metrics.TaskFailed(task.Name())
		return
	}

	metrics.TaskCompleted(task.Name(), time.Since(start))
}
