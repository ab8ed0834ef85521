package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/inletapp/go-inbox/core"
)

// OutcomeStatus is the explicit result variant of one ingestion call.
type OutcomeStatus string

const (
	OutcomeCreated OutcomeStatus = "created"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeErrored OutcomeStatus = "errored"
)

type SkipReason string

const (
	SkipAlreadySeen    SkipReason = "already_seen"
	SkipInvalidPayload SkipReason = "invalid_payload"
)

type Outcome struct {
	Status       OutcomeStatus
	Reason       SkipReason
	Item         core.CanonicalItem
	ItemCreated  bool
	InboxCreated bool
}

// Request carries one raw item plus its subscription context.
type Request struct {
	ProviderID     string
	SubscriptionID string
	UserID         string
	Raw            core.RawItem
}

// BatchReport aggregates a batch run; per-item failures never abort the rest.
type BatchReport struct {
	Created        int
	SkippedSeen    int
	SkippedInvalid int
	Errored        int
}

// Processor turns raw provider items into canonical inbox records. Every call
// is idempotent: the seen-ledger gate runs before any write, and the item,
// inbox row and ledger entry commit in one transaction.
type Processor struct {
	registry    core.Registry
	store       core.IngestionStore
	deadLetters core.DeadLetterStore
	config      core.DeadLetterConfig
	logger      core.Logger
	Now         func() time.Time
}

type ProcessorDeps struct {
	Registry    core.Registry
	Store       core.IngestionStore
	DeadLetters core.DeadLetterStore
	Config      core.DeadLetterConfig
	Logger      core.Logger
	Now         func() time.Time
}

func NewProcessor(deps ProcessorDeps) (*Processor, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("ingest: provider registry is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("ingest: ingestion store is required")
	}
	logger := deps.Logger
	if logger == nil {
		_, logger = glog.Resolve("ingest", nil, nil)
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		registry:    deps.Registry,
		store:       deps.Store,
		deadLetters: deps.DeadLetters,
		config:      deps.Config,
		logger:      logger,
		Now:         now,
	}, nil
}

// Process runs the full pipeline for one raw item: transform, seen-ledger
// gate, atomic commit. Unexpected commit failures land in the dead-letter
// store and surface as an errored outcome.
func (p *Processor) Process(ctx context.Context, req Request) (Outcome, error) {
	return p.process(ctx, req, true)
}

func (p *Processor) process(ctx context.Context, req Request, deadLetterOnFailure bool) (Outcome, error) {
	if p == nil {
		return Outcome{}, fmt.Errorf("ingest: processor is nil")
	}
	providerID := strings.TrimSpace(req.ProviderID)
	userID := strings.TrimSpace(req.UserID)
	if providerID == "" || userID == "" {
		return Outcome{}, fmt.Errorf("ingest: provider id and user id are required")
	}

	provider, ok := p.registry.Get(providerID)
	if !ok {
		return Outcome{}, fmt.Errorf("ingest: provider %q is not registered", providerID)
	}
	transformer, ok := provider.(core.ItemTransformer)
	if !ok {
		return Outcome{}, fmt.Errorf("ingest: provider %q does not transform items", providerID)
	}

	draft, creator, err := transformer.TransformItem(req.Raw)
	if err != nil {
		p.logger.Debug("item transform rejected payload", "provider_id", providerID, "error", err)
		return Outcome{Status: OutcomeSkipped, Reason: SkipInvalidPayload}, nil
	}

	itemID, err := resolveIdentity(&draft, req.Raw)
	if err != nil {
		p.logger.Debug("item has no usable identity", "provider_id", providerID, "error", err)
		return Outcome{Status: OutcomeSkipped, Reason: SkipInvalidPayload}, nil
	}

	seen, err := p.store.AlreadySeen(ctx, userID, providerID, itemID)
	if err != nil {
		return Outcome{}, err
	}
	if seen {
		return Outcome{Status: OutcomeSkipped, Reason: SkipAlreadySeen}, nil
	}

	result, err := p.store.Commit(ctx, core.IngestionCommitInput{
		UserID:         userID,
		SubscriptionID: strings.TrimSpace(req.SubscriptionID),
		ProviderID:     providerID,
		Item:           draft,
		Creator:        creator,
	})
	if err != nil {
		if deadLetterOnFailure {
			p.deadLetter(ctx, req, itemID, err)
		}
		return Outcome{Status: OutcomeErrored}, err
	}

	return Outcome{
		Status:       OutcomeCreated,
		Item:         result.Item,
		ItemCreated:  result.ItemCreated,
		InboxCreated: result.InboxCreated,
	}, nil
}

// ProcessBatch ingests raw items in provider order, continuing past per-item
// failures.
func (p *Processor) ProcessBatch(ctx context.Context, base Request, raws []core.RawItem) (BatchReport, error) {
	if p == nil {
		return BatchReport{}, fmt.Errorf("ingest: processor is nil")
	}
	report := BatchReport{}
	for _, raw := range raws {
		req := base
		req.Raw = raw
		outcome, err := p.Process(ctx, req)
		if err != nil {
			report.Errored++
			continue
		}
		switch {
		case outcome.Status == OutcomeCreated:
			report.Created++
		case outcome.Reason == SkipAlreadySeen:
			report.SkippedSeen++
		case outcome.Reason == SkipInvalidPayload:
			report.SkippedInvalid++
		}
	}
	return report, nil
}

func (p *Processor) deadLetter(ctx context.Context, req Request, itemID string, cause error) {
	if p.deadLetters == nil {
		return
	}
	nextAttempt := p.Now().Add(p.initialBackoff())
	item := core.DeadLetterItem{
		ProviderID:     strings.TrimSpace(req.ProviderID),
		SubscriptionID: strings.TrimSpace(req.SubscriptionID),
		UserID:         strings.TrimSpace(req.UserID),
		ProviderItemID: itemID,
		Payload:        rawItemPayload(req.Raw),
		Reason:         cause.Error(),
		Attempts:       1,
		NextAttemptAt:  &nextAttempt,
		Status:         core.DeadLetterStatusPending,
	}
	if err := p.deadLetters.Enqueue(ctx, item); err != nil {
		p.logger.Error("failed to dead-letter item",
			"provider_id", req.ProviderID,
			"provider_item_id", itemID,
			"error", err,
		)
	}
}

// RetryDeadLetters replays pending dead-lettered items whose backoff has
// elapsed. Items that keep failing back off exponentially until the attempt
// cap, after which they are marked exhausted and left for inspection.
func (p *Processor) RetryDeadLetters(ctx context.Context, limit int) (BatchReport, error) {
	if p == nil {
		return BatchReport{}, fmt.Errorf("ingest: processor is nil")
	}
	if p.deadLetters == nil {
		return BatchReport{}, fmt.Errorf("ingest: dead letter store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	claimed, err := p.deadLetters.ClaimBatch(ctx, limit)
	if err != nil {
		return BatchReport{}, err
	}

	report := BatchReport{}
	for _, letter := range claimed {
		outcome, processErr := p.process(ctx, Request{
			ProviderID:     letter.ProviderID,
			SubscriptionID: letter.SubscriptionID,
			UserID:         letter.UserID,
			Raw:            rawItemFromPayload(letter),
		}, false)
		if processErr == nil {
			switch {
			case outcome.Status == OutcomeCreated:
				report.Created++
			case outcome.Reason == SkipAlreadySeen:
				report.SkippedSeen++
			case outcome.Reason == SkipInvalidPayload:
				report.SkippedInvalid++
			}
			if ackErr := p.deadLetters.Ack(ctx, letter.ID); ackErr != nil {
				p.logger.Error("failed to ack dead letter", "dead_letter_id", letter.ID, "error", ackErr)
			}
			continue
		}

		report.Errored++
		attempts := letter.Attempts + 1
		if attempts >= p.maxAttempts() {
			if exhaustErr := p.deadLetters.MarkExhausted(ctx, letter.ID, processErr); exhaustErr != nil {
				p.logger.Error("failed to mark dead letter exhausted", "dead_letter_id", letter.ID, "error", exhaustErr)
			}
			continue
		}
		nextAttempt := p.Now().Add(p.backoffFor(attempts))
		if retryErr := p.deadLetters.Retry(ctx, letter.ID, processErr, nextAttempt); retryErr != nil {
			p.logger.Error("failed to reschedule dead letter", "dead_letter_id", letter.ID, "error", retryErr)
		}
	}
	return report, nil
}

func (p *Processor) maxAttempts() int {
	if p.config.MaxAttempts > 0 {
		return p.config.MaxAttempts
	}
	return 5
}

func (p *Processor) initialBackoff() time.Duration {
	if p.config.InitialBackoffSeconds > 0 {
		return time.Duration(p.config.InitialBackoffSeconds) * time.Second
	}
	return time.Minute
}

func (p *Processor) maxBackoff() time.Duration {
	if p.config.MaxBackoffSeconds > 0 {
		return time.Duration(p.config.MaxBackoffSeconds) * time.Second
	}
	return time.Hour
}

func (p *Processor) backoffFor(attempt int) time.Duration {
	delay := p.initialBackoff()
	maximum := p.maxBackoff()
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

func resolveIdentity(draft *core.CanonicalItemDraft, raw core.RawItem) (string, error) {
	itemID := strings.TrimSpace(draft.ProviderItemID)
	if itemID != "" {
		return itemID, nil
	}
	source := strings.TrimSpace(draft.CanonicalURL)
	if source == "" {
		source = strings.TrimSpace(raw.URL)
	}
	normalized, err := NormalizeURL(source)
	if err != nil {
		return "", err
	}
	draft.URLKey = normalized
	return "url:" + normalized, nil
}

func rawItemPayload(raw core.RawItem) map[string]any {
	payload := make(map[string]any, len(raw.Payload)+3)
	for key, value := range raw.Payload {
		payload[key] = value
	}
	payload["provider_item_id"] = raw.ProviderItemID
	payload["provider_creator_id"] = raw.ProviderCreatorID
	payload["url"] = raw.URL
	return payload
}

func rawItemFromPayload(letter core.DeadLetterItem) core.RawItem {
	raw := core.RawItem{
		Payload: make(map[string]any, len(letter.Payload)),
	}
	for key, value := range letter.Payload {
		switch key {
		case "provider_item_id":
			raw.ProviderItemID = strings.TrimSpace(fmt.Sprint(value))
		case "provider_creator_id":
			raw.ProviderCreatorID = strings.TrimSpace(fmt.Sprint(value))
		case "url":
			raw.URL = strings.TrimSpace(fmt.Sprint(value))
		default:
			raw.Payload[key] = value
		}
	}
	return raw
}
