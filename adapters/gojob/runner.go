package gojob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/inletapp/go-inbox/adapters/gologger"
	"github.com/inletapp/go-inbox/core"
)

// Handler executes one queue job.
type Handler func(ctx context.Context, msg *core.JobExecutionMessage) error

type RunnerConfig struct {
	Logger   core.Logger
	Provider core.LoggerProvider
	Hook     core.JobWorkerHook
	Now      func() time.Time
}

// Runner consumes deliveries from a queue and dispatches them to the handler
// registered for the message's job id. Failed handlers nack with requeue;
// unroutable messages dead-letter so they do not spin on the queue.
type Runner struct {
	dequeuer core.JobDequeuer
	handlers map[string]Handler
	logger   core.Logger
	provider core.LoggerProvider
	hook     core.JobWorkerHook
	now      func() time.Time
}

func NewRunner(dequeuer core.JobDequeuer, cfg RunnerConfig) (*Runner, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	provider, logger := gologger.Resolve("jobs", cfg.Provider, cfg.Logger)
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Runner{
		dequeuer: dequeuer,
		handlers: map[string]Handler{},
		logger:   logger,
		provider: provider,
		hook:     cfg.Hook,
		now:      now,
	}, nil
}

func (r *Runner) Register(jobID string, handler Handler) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is nil")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("gojob: job id is required")
	}
	if handler == nil {
		return fmt.Errorf("gojob: handler for %q is required", jobID)
	}
	if _, exists := r.handlers[jobID]; exists {
		return fmt.Errorf("gojob: job %q already registered", jobID)
	}
	r.handlers[jobID] = handler
	return nil
}

// Jobs lists the registered job ids in stable order.
func (r *Runner) Jobs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run consumes deliveries until the context ends. Dequeue errors stop the
// loop; handler errors are settled on the delivery and the loop continues.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is nil")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delivery, err := r.dequeuer.Dequeue(ctx)
		if err != nil {
			return err
		}
		if err := r.Dispatch(ctx, delivery); err != nil {
			return err
		}
	}
}

// RunOnce consumes and settles a single delivery.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is nil")
	}
	delivery, err := r.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return r.Dispatch(ctx, delivery)
}

// Dispatch routes one delivery to its handler and acks or nacks it. The
// returned error reports settlement failures only; handler failures are
// recorded on the queue.
func (r *Runner) Dispatch(ctx context.Context, delivery core.JobDelivery) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "missing job id",
		})
	}
	jobID := strings.TrimSpace(msg.JobID)
	handler, ok := r.handlers[jobID]
	if !ok {
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     fmt.Sprintf("no handler for job %q", jobID),
		})
	}

	logger := gologger.ForJob(r.provider, r.logger, jobID)
	startedAt := r.now()
	event := core.JobWorkerEvent{Message: msg, StartedAt: startedAt}
	if r.hook != nil {
		r.hook.OnStart(ctx, event)
	}

	err := handler(ctx, msg)
	event.Duration = r.now().Sub(startedAt)
	if err != nil {
		event.Err = err
		if r.hook != nil {
			r.hook.OnFailure(ctx, event)
		}
		logger.Error("job failed", "job_id", jobID, "error", err)
		return delivery.Nack(ctx, core.JobNackOptions{
			Requeue: true,
			Reason:  err.Error(),
		})
	}

	if r.hook != nil {
		r.hook.OnSuccess(ctx, event)
	}
	logger.Info("job completed",
		"job_id", jobID,
		"duration_ms", event.Duration.Milliseconds(),
	)
	return delivery.Ack(ctx)
}
