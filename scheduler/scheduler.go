package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/inletapp/go-inbox/core"
	"github.com/inletapp/go-inbox/ingest"
	"github.com/inletapp/go-inbox/lock"
	"github.com/inletapp/go-inbox/quota"
)

const runLockName = "scheduler.run"

// TokenSource hands out a valid access token for a connection, refreshing
// behind the scenes when needed.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, connectionID string) (core.TokenPair, error)
}

// group is one (user, provider) unit of work. Subscriptions inside a group
// run sequentially so a single refreshed token serves all of them.
type group struct {
	userID        string
	providerID    string
	connectionID  string
	subscriptions []core.Subscription
}

// RunReport summarizes one scheduler pass.
type RunReport struct {
	Skipped             bool
	Groups              int
	GroupsDeferred      int
	SubscriptionsPolled int
	ItemsCreated        int
	ItemsSkipped        int
	Errors              int
}

// Scheduler drives the polling loop: it selects due subscriptions under a
// global run lock, groups them by (user, provider) and fans groups out to a
// bounded worker pool.
type Scheduler struct {
	config        core.SchedulerConfig
	subscriptions core.SubscriptionStore
	connections   core.ConnectionStore
	ingestion     core.IngestionStore
	registry      core.Registry
	tokens        TokenSource
	quota         *quota.Tracker
	processor     *ingest.Processor
	locker        core.ConnectionLocker
	interval      core.IntervalAdapter
	logger        core.Logger
	Now           func() time.Time
}

type Deps struct {
	Config        core.SchedulerConfig
	Subscriptions core.SubscriptionStore
	Connections   core.ConnectionStore
	Ingestion     core.IngestionStore
	Registry      core.Registry
	Tokens        TokenSource
	Quota         *quota.Tracker
	Processor     *ingest.Processor
	Locker        core.ConnectionLocker
	Logger        core.Logger
	Now           func() time.Time
}

func New(deps Deps) (*Scheduler, error) {
	if deps.Subscriptions == nil {
		return nil, fmt.Errorf("scheduler: subscription store is required")
	}
	if deps.Connections == nil {
		return nil, fmt.Errorf("scheduler: connection store is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("scheduler: provider registry is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("scheduler: token source is required")
	}
	if deps.Processor == nil {
		return nil, fmt.Errorf("scheduler: ingestion processor is required")
	}
	if deps.Locker == nil {
		return nil, fmt.Errorf("scheduler: locker is required")
	}
	logger := deps.Logger
	if logger == nil {
		_, logger = glog.Resolve("scheduler", nil, nil)
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{
		config:        deps.Config,
		subscriptions: deps.Subscriptions,
		connections:   deps.Connections,
		ingestion:     deps.Ingestion,
		registry:      deps.Registry,
		tokens:        deps.Tokens,
		quota:         deps.Quota,
		processor:     deps.Processor,
		locker:        deps.Locker,
		logger:        logger,
		Now:           now,
	}, nil
}

func (s *Scheduler) maxBatch() int {
	if s.config.MaxBatch > 0 {
		return s.config.MaxBatch
	}
	return 200
}

func (s *Scheduler) groupConcurrency() int {
	if s.config.GroupConcurrency > 0 {
		return s.config.GroupConcurrency
	}
	return 8
}

func (s *Scheduler) runBudget() time.Duration {
	if s.config.RunBudgetSeconds > 0 {
		return time.Duration(s.config.RunBudgetSeconds) * time.Second
	}
	return 10 * time.Minute
}

func (s *Scheduler) runLockTTL() time.Duration {
	if s.config.RunLockTTLSecs > 0 {
		return time.Duration(s.config.RunLockTTLSecs) * time.Second
	}
	return 15 * time.Minute
}

func (s *Scheduler) recomputeEvery() int {
	if s.config.RecomputeEvery > 0 {
		return s.config.RecomputeEvery
	}
	return 6
}

func (s *Scheduler) fetchLimit() int {
	if s.config.FetchLimit > 0 {
		return s.config.FetchLimit
	}
	return 50
}

// Run executes one scheduler pass. A pass that cannot take the global run
// lock is a no-op, not queued.
func (s *Scheduler) Run(ctx context.Context) (RunReport, error) {
	if s == nil {
		return RunReport{}, fmt.Errorf("scheduler: scheduler is nil")
	}

	handle, err := s.locker.Acquire(ctx, runLockName, s.runLockTTL())
	if err != nil {
		if errors.Is(err, lock.ErrLockBusy) || strings.Contains(err.Error(), "lock already held") {
			s.logger.Info("scheduler run already in progress, skipping")
			return RunReport{Skipped: true}, nil
		}
		return RunReport{}, err
	}
	defer func() {
		_ = handle.Unlock(ctx)
	}()

	startedAt := s.Now()
	deadline := startedAt.Add(s.runBudget())

	due, err := s.subscriptions.ListDue(ctx, startedAt, s.maxBatch())
	if err != nil {
		return RunReport{}, err
	}
	groups := groupByUserProvider(due)

	report := RunReport{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, s.groupConcurrency())

	for _, g := range groups {
		// In-flight groups finish past the deadline; new ones do not start.
		if s.Now().After(deadline) || ctx.Err() != nil {
			mu.Lock()
			report.GroupsDeferred++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		semaphore <- struct{}{}
		go func(g group) {
			defer wg.Done()
			defer func() { <-semaphore }()
			result := s.processGroup(ctx, g)
			mu.Lock()
			report.Groups++
			report.SubscriptionsPolled += result.polled
			report.ItemsCreated += result.created
			report.ItemsSkipped += result.skipped
			report.Errors += result.errors
			mu.Unlock()
		}(g)
	}
	wg.Wait()

	s.logger.Info("scheduler run finished",
		"groups", report.Groups,
		"deferred", report.GroupsDeferred,
		"polled", report.SubscriptionsPolled,
		"created", report.ItemsCreated,
		"errors", report.Errors,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	return report, nil
}

type groupResult struct {
	polled  int
	created int
	skipped int
	errors  int
}

func (s *Scheduler) processGroup(ctx context.Context, g group) groupResult {
	result := groupResult{}

	pair, err := s.tokens.GetValidAccessToken(ctx, g.connectionID)
	if err != nil {
		if errors.Is(err, core.ErrCredentialRevoked) {
			s.disconnectGroup(ctx, g, "credential revoked")
			result.errors++
			return result
		}
		// Transient refresh contention or outage; the group stays due and
		// the next pass picks it up.
		s.logger.Warn("token unavailable for group",
			"user_id", g.userID,
			"provider_id", g.providerID,
			"error", err,
		)
		result.errors++
		return result
	}

	provider, ok := s.registry.Get(g.providerID)
	if !ok {
		s.logger.Error("provider not registered", "provider_id", g.providerID)
		result.errors++
		return result
	}

	fetchLimit := s.fetchLimit()
	if s.quota != nil {
		decision, quotaErr := s.quota.CanConsume(ctx, g.providerID, callCost(provider))
		if quotaErr != nil {
			s.logger.Warn("quota check failed", "provider_id", g.providerID, "error", quotaErr)
		} else if !decision.Allowed {
			s.logger.Info("quota exhausted, deferring group",
				"provider_id", g.providerID,
				"zone", string(decision.Zone),
			)
			return result
		} else {
			fetchLimit = s.quota.ScaleBatch(decision, fetchLimit)
		}
	}

	for _, subscription := range g.subscriptions {
		if ctx.Err() != nil {
			return result
		}
		polled, err := s.pollSubscription(ctx, provider, pair, subscription, fetchLimit)
		result.polled++
		result.created += polled.Created
		result.skipped += polled.SkippedSeen + polled.SkippedInvalid
		result.errors += polled.Errored
		if err != nil {
			if isAuthFailure(err) {
				s.disconnectGroup(ctx, g, "provider rejected credential")
				result.errors++
				return result
			}
			// Partial-batch failure: log and continue with the next
			// subscription.
			s.logger.Warn("subscription poll failed",
				"subscription_id", subscription.ID,
				"provider_id", g.providerID,
				"error", err,
			)
			result.errors++
		}
	}
	return result
}

func (s *Scheduler) pollSubscription(
	ctx context.Context,
	provider core.Provider,
	pair core.TokenPair,
	subscription core.Subscription,
	fetchLimit int,
) (ingest.BatchReport, error) {
	sinceMarker := ""
	if subscription.LastPolledAt != nil {
		sinceMarker = subscription.LastPolledAt.UTC().Format(time.RFC3339)
	}

	listed, err := provider.ListRecentItems(ctx, core.ListRecentItemsRequest{
		AccessToken: pair.AccessToken,
		ResourceID:  subscription.ResourceID,
		SinceMarker: sinceMarker,
		Limit:       fetchLimit,
	})
	if err != nil {
		return ingest.BatchReport{}, err
	}

	if s.quota != nil && listed.QuotaCost > 0 {
		if _, quotaErr := s.quota.Record(ctx, subscription.ProviderID, int64(listed.QuotaCost)); quotaErr != nil {
			s.logger.Warn("failed to record quota usage", "provider_id", subscription.ProviderID, "error", quotaErr)
		}
	}

	report, err := s.processor.ProcessBatch(ctx, ingest.Request{
		ProviderID:     subscription.ProviderID,
		SubscriptionID: subscription.ID,
		UserID:         subscription.UserID,
	}, listed.Items)
	if err != nil {
		return report, err
	}

	now := s.Now()
	if err := s.subscriptions.MarkPolled(ctx, subscription.ID, now); err != nil {
		s.logger.Warn("failed to mark subscription polled", "subscription_id", subscription.ID, "error", err)
	}

	// Interval recompute runs once every N passes per subscription, not on
	// every poll.
	if (subscription.PassCount+1)%s.recomputeEvery() == 0 {
		s.recomputeInterval(ctx, subscription, now)
	}
	return report, nil
}

func (s *Scheduler) recomputeInterval(ctx context.Context, subscription core.Subscription, now time.Time) {
	if s.ingestion == nil {
		return
	}
	last7, err := s.ingestion.CountSeenSince(ctx, subscription.ID, now.AddDate(0, 0, -7))
	if err != nil {
		s.logger.Warn("activity lookup failed", "subscription_id", subscription.ID, "error", err)
		return
	}
	last30, err := s.ingestion.CountSeenSince(ctx, subscription.ID, now.AddDate(0, 0, -30))
	if err != nil {
		s.logger.Warn("activity lookup failed", "subscription_id", subscription.ID, "error", err)
		return
	}

	next, changed := s.interval.Recompute(subscription.PollInterval, core.ActivityMetrics{
		ItemsLast7Days:  last7,
		ItemsLast30Days: last30,
	})
	if !changed {
		return
	}
	if err := s.subscriptions.UpdateInterval(ctx, subscription.ID, next); err != nil {
		s.logger.Warn("failed to update poll interval", "subscription_id", subscription.ID, "error", err)
		return
	}
	s.logger.Info("poll interval retuned",
		"subscription_id", subscription.ID,
		"previous", subscription.PollInterval.String(),
		"next", next.String(),
	)
}

func (s *Scheduler) disconnectGroup(ctx context.Context, g group, reason string) {
	if err := s.connections.UpdateStatus(ctx, g.connectionID, string(core.ConnectionStatusExpired), reason); err != nil {
		s.logger.Error("failed to expire connection", "connection_id", g.connectionID, "error", err)
	}
	for _, subscription := range g.subscriptions {
		if err := s.subscriptions.UpdateState(ctx, subscription.ID, string(core.SubscriptionStatusDisconnected), reason); err != nil {
			s.logger.Error("failed to disconnect subscription", "subscription_id", subscription.ID, "error", err)
		}
	}
	s.logger.Info("group disconnected",
		"user_id", g.userID,
		"provider_id", g.providerID,
		"reason", reason,
	)
}

// groupByUserProvider keeps oldest-due ordering across groups by first
// appearance while pinning each subscription to its (user, provider) group.
func groupByUserProvider(due []core.Subscription) []group {
	index := map[string]int{}
	groups := []group{}
	for _, subscription := range due {
		key := subscription.UserID + "|" + subscription.ProviderID
		at, ok := index[key]
		if !ok {
			index[key] = len(groups)
			groups = append(groups, group{
				userID:       subscription.UserID,
				providerID:   subscription.ProviderID,
				connectionID: subscription.ConnectionID,
			})
			at = index[key]
		}
		groups[at].subscriptions = append(groups[at].subscriptions, subscription)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return earliestDue(groups[i]).Before(earliestDue(groups[j]))
	})
	return groups
}

func earliestDue(g group) time.Time {
	earliest := time.Time{}
	for _, subscription := range g.subscriptions {
		if subscription.LastPolledAt == nil {
			return time.Time{}
		}
		due := subscription.LastPolledAt.Add(subscription.PollInterval)
		if earliest.IsZero() || due.Before(earliest) {
			earliest = due
		}
	}
	return earliest
}

// callCost is the quota spend one list call against the provider admits at.
// Providers that do not declare a cost are gated at one unit.
func callCost(provider core.Provider) int64 {
	if coster, ok := provider.(core.CallCoster); ok {
		if cost := coster.CallCost(); cost > 0 {
			return cost
		}
	}
	return 1
}

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrCredentialRevoked) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return true
		}
		if strings.TrimSpace(strings.ToUpper(richErr.TextCode)) == core.InboxErrorCredentialRevoked {
			return true
		}
	}
	return false
}
