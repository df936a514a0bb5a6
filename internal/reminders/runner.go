package reminders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// Completer closes out appointments whose slot already ended.
type Completer interface {
	CompletePast(ctx context.Context, now time.Time) (int64, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Sent      int   `json:"sent"`
	Completed int64 `json:"completed"`
}

// Runner runs the reminder sweep on a cron schedule.
type Runner struct {
	cron      *cron.Cron
	spec      string
	worker    *Worker
	completer Completer
	timeout   time.Duration
	logger    *logging.Logger
	mu        sync.Mutex
}

// NewRunner builds a runner for spec, any robfig/cron expression or
// descriptor such as "@every 1m". completer may be nil.
func NewRunner(worker *Worker, completer Completer, spec string, logger *logging.Logger) *Runner {
	if worker == nil {
		panic("reminders: runner requires a worker")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if spec == "" {
		spec = "@every 1m"
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Runner{
		cron:      cron.New(cron.WithParser(parser)),
		spec:      spec,
		worker:    worker,
		completer: completer,
		timeout:   time.Minute,
		logger:    logger,
	}
}

// Start registers the sweep and starts the scheduler. Jobs run with a
// context derived from ctx.
func (r *Runner) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.spec, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("reminder sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("reminders: invalid sweep spec %q: %w", r.spec, err)
	}
	r.cron.Start()
	r.logger.Info("reminder sweep started", "spec", r.spec)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep delivers due reminders and completes past appointments once.
// Overlapping calls are serialized.
func (r *Runner) Sweep(ctx context.Context) (SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var res SweepResult
	sent, err := r.worker.ProcessDue(ctx)
	res.Sent = sent
	if err != nil {
		return res, err
	}
	if r.completer != nil {
		completed, err := r.completer.CompletePast(ctx, time.Now())
		if err != nil {
			return res, err
		}
		res.Completed = completed
		if completed > 0 {
			r.logger.Info("past appointments completed", "count", completed)
		}
	}
	return res, nil
}
