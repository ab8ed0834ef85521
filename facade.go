package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/inletapp/go-inbox/adapters/gojob"
	"github.com/inletapp/go-inbox/core"
	"github.com/inletapp/go-inbox/ingest"
	"github.com/inletapp/go-inbox/quota"
	"github.com/inletapp/go-inbox/scheduler"
)

// Facade wires the sync runtime around a configured service: the ingestion
// processor and the polling scheduler share the service's stores, registry
// and refresh coordinator.
type Facade struct {
	service   *core.Service
	processor *ingest.Processor
	scheduler *scheduler.Scheduler
	quota     *quota.Tracker
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	quotaTracker *quota.Tracker
	quotaStore   quota.CounterStore
	now          func() time.Time
}

func WithQuotaTracker(tracker *quota.Tracker) FacadeOption {
	return func(options *facadeOptions) {
		options.quotaTracker = tracker
	}
}

func WithQuotaCounterStore(store quota.CounterStore) FacadeOption {
	return func(options *facadeOptions) {
		options.quotaStore = store
	}
}

func WithClock(now func() time.Time) FacadeOption {
	return func(options *facadeOptions) {
		options.now = now
	}
}

func NewFacade(service *core.Service, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("inbox: service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	deps := service.Dependencies()
	serviceConfig := service.Config()

	coordinator := service.RefreshCoordinator()
	if coordinator == nil {
		return nil, fmt.Errorf("inbox: refresh coordinator is not configured; secret provider plus connection and credential stores are required")
	}

	tracker := cfg.quotaTracker
	if tracker == nil {
		store := cfg.quotaStore
		if store == nil {
			store = quota.NewMemoryCounterStore()
		}
		built, err := quota.NewTracker(store, serviceConfig.Quota)
		if err != nil {
			return nil, err
		}
		tracker = built
	}

	processor, err := ingest.NewProcessor(ingest.ProcessorDeps{
		Registry:    deps.Registry,
		Store:       deps.IngestionStore,
		DeadLetters: deps.DeadLetterStore,
		Config:      serviceConfig.DeadLetter,
		Logger:      deps.Logger,
		Now:         cfg.now,
	})
	if err != nil {
		return nil, err
	}

	runner, err := scheduler.New(scheduler.Deps{
		Config:        serviceConfig.Scheduler,
		Subscriptions: deps.SubscriptionStore,
		Connections:   deps.ConnectionStore,
		Ingestion:     deps.IngestionStore,
		Registry:      deps.Registry,
		Tokens:        coordinator,
		Quota:         tracker,
		Processor:     processor,
		Locker:        deps.ConnectionLocker,
		Logger:        deps.Logger,
		Now:           cfg.now,
	})
	if err != nil {
		return nil, err
	}

	return &Facade{
		service:   service,
		processor: processor,
		scheduler: runner,
		quota:     tracker,
	}, nil
}

func (f *Facade) Service() *core.Service {
	if f == nil {
		return nil
	}
	return f.service
}

func (f *Facade) Processor() *ingest.Processor {
	if f == nil {
		return nil
	}
	return f.processor
}

func (f *Facade) Scheduler() *scheduler.Scheduler {
	if f == nil {
		return nil
	}
	return f.scheduler
}

func (f *Facade) Quota() *quota.Tracker {
	if f == nil {
		return nil
	}
	return f.quota
}

// NewJobRunner binds the background jobs to a queue runner: a poll message
// drives one scheduler pass, a dead-letter retry message replays pending
// rows, and a quota prune message drops counters past the retention window.
func (f *Facade) NewJobRunner(dequeuer core.JobDequeuer, cfg gojob.RunnerConfig) (*gojob.Runner, error) {
	if f == nil || f.service == nil {
		return nil, fmt.Errorf("inbox: facade is not configured")
	}
	deps := f.service.Dependencies()
	if cfg.Logger == nil {
		cfg.Logger = deps.Logger
	}
	if cfg.Provider == nil {
		cfg.Provider = deps.LoggerProvider
	}
	runner, err := gojob.NewRunner(dequeuer, cfg)
	if err != nil {
		return nil, err
	}

	if err := runner.Register(gojob.JobIDPoll, func(ctx context.Context, _ *core.JobExecutionMessage) error {
		_, runErr := f.scheduler.Run(ctx)
		return runErr
	}); err != nil {
		return nil, err
	}
	if err := runner.Register(gojob.JobIDDeadLetterRetry, func(ctx context.Context, msg *core.JobExecutionMessage) error {
		limit := retryLimit(msg, f.service.Config().Scheduler.FetchLimit)
		_, retryErr := f.processor.RetryDeadLetters(ctx, limit)
		return retryErr
	}); err != nil {
		return nil, err
	}
	if err := runner.Register(gojob.JobIDQuotaPrune, func(ctx context.Context, _ *core.JobExecutionMessage) error {
		return f.quota.Prune(ctx)
	}); err != nil {
		return nil, err
	}
	return runner, nil
}

func retryLimit(msg *core.JobExecutionMessage, fallback int) int {
	if fallback <= 0 {
		fallback = 50
	}
	if msg == nil {
		return fallback
	}
	switch value := msg.Parameters["limit"].(type) {
	case int:
		if value > 0 {
			return value
		}
	case int64:
		if value > 0 {
			return int(value)
		}
	case float64:
		if value > 0 {
			return int(value)
		}
	}
	return fallback
}
