package devkit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/inletapp/go-inbox/core"
)

// ScriptedProvider is a deterministic in-process provider for tests and local
// development. List and refresh behavior is driven by queued script steps;
// once the script is exhausted the provider keeps serving the last step.
type ScriptedProvider struct {
	mu sync.Mutex

	id   string
	kind core.ItemKind

	listSteps []ListStep
	listCalls int

	refreshSteps []RefreshStep
	refreshCalls int

	transformErr func(raw core.RawItem) error
}

type ListStep struct {
	Items     []core.RawItem
	QuotaCost int
	Err       error
}

type RefreshStep struct {
	Pair core.TokenPair
	Err  error
}

type ScriptedConfig struct {
	ID   string
	Kind core.ItemKind
}

func NewScriptedProvider(cfg ScriptedConfig) *ScriptedProvider {
	id := strings.TrimSpace(strings.ToLower(cfg.ID))
	if id == "" {
		id = "devkit"
	}
	kind := cfg.Kind
	if kind == "" {
		kind = core.ItemKindVideo
	}
	return &ScriptedProvider{id: id, kind: kind}
}

func (p *ScriptedProvider) ID() string {
	return p.id
}

func (p *ScriptedProvider) Kind() core.ItemKind {
	return p.kind
}

// QueueList appends a list step. Steps are consumed in order; the final step
// repeats forever.
func (p *ScriptedProvider) QueueList(step ListStep) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listSteps = append(p.listSteps, step)
	return p
}

func (p *ScriptedProvider) QueueRefresh(step RefreshStep) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshSteps = append(p.refreshSteps, step)
	return p
}

// FailTransform makes TransformItem reject payloads matched by the predicate.
func (p *ScriptedProvider) FailTransform(predicate func(raw core.RawItem) error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transformErr = predicate
	return p
}

func (p *ScriptedProvider) ListCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls
}

func (p *ScriptedProvider) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

func (p *ScriptedProvider) Refresh(_ context.Context, pair core.TokenPair) (core.TokenPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.refreshCalls++
	if len(p.refreshSteps) == 0 {
		rotated := pair
		rotated.AccessToken = pair.AccessToken + ":r" + strconv.Itoa(p.refreshCalls)
		expiresAt := time.Now().UTC().Add(time.Hour)
		rotated.ExpiresAt = &expiresAt
		return rotated, nil
	}

	step := p.refreshSteps[0]
	if len(p.refreshSteps) > 1 {
		p.refreshSteps = p.refreshSteps[1:]
	}
	if step.Err != nil {
		return core.TokenPair{}, step.Err
	}
	return step.Pair, nil
}

func (p *ScriptedProvider) ListRecentItems(_ context.Context, _ core.ListRecentItemsRequest) (core.ListRecentItemsResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.listCalls++
	if len(p.listSteps) == 0 {
		return core.ListRecentItemsResult{Items: []core.RawItem{}}, nil
	}

	step := p.listSteps[0]
	if len(p.listSteps) > 1 {
		p.listSteps = p.listSteps[1:]
	}
	if step.Err != nil {
		return core.ListRecentItemsResult{}, step.Err
	}
	return core.ListRecentItemsResult{
		Items:     append([]core.RawItem(nil), step.Items...),
		QuotaCost: step.QuotaCost,
	}, nil
}

func (p *ScriptedProvider) TransformItem(raw core.RawItem) (core.CanonicalItemDraft, core.CreatorDraft, error) {
	p.mu.Lock()
	predicate := p.transformErr
	kind := p.kind
	p.mu.Unlock()

	if predicate != nil {
		if err := predicate(raw); err != nil {
			return core.CanonicalItemDraft{}, core.CreatorDraft{}, err
		}
	}

	title := readPayloadString(raw.Payload, "title")
	if title == "" {
		return core.CanonicalItemDraft{}, core.CreatorDraft{}, fmt.Errorf("devkit: item %q is missing a title", raw.ProviderItemID)
	}
	draft := core.CanonicalItemDraft{
		ProviderItemID: strings.TrimSpace(raw.ProviderItemID),
		Kind:           kind,
		Title:          title,
		CanonicalURL:   strings.TrimSpace(raw.URL),
	}
	creator := core.CreatorDraft{
		ProviderCreatorID: strings.TrimSpace(raw.ProviderCreatorID),
		DisplayName:       readPayloadString(raw.Payload, "creator_name"),
	}
	return draft, creator, nil
}

// RevokedGrantError mimics an upstream invalid_grant rejection so refresh
// paths can exercise their unrecoverable branch.
func RevokedGrantError() error {
	return goerrors.New(
		"devkit: token endpoint rejected grant: invalid_grant",
		goerrors.CategoryAuth,
	).WithTextCode(core.InboxErrorCredentialRevoked)
}

func readPayloadString(payload map[string]any, key string) string {
	if len(payload) == 0 {
		return ""
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

var (
	_ core.Provider        = (*ScriptedProvider)(nil)
	_ core.ItemTransformer = (*ScriptedProvider)(nil)
)
