package gmailnews

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/inletapp/go-inbox/core"
	"github.com/inletapp/go-inbox/providers"
)

const (
	ProviderID = "gmailnews"
	TokenURL   = "https://oauth2.googleapis.com/token"
	APIBaseURL = "https://gmail.googleapis.com/gmail/v1"

	// Gmail bills messages.list and messages.get at five quota units each.
	listCallQuotaCost = 5
	getCallQuotaCost  = 5
)

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIBaseURL   string
	SearchQuery  string
	Scopes       []string
	TokenTTL     time.Duration
	Now          func() time.Time
	HTTPClient   providers.HTTPDoer
}

func DefaultConfig() Config {
	return Config{
		TokenURL:    TokenURL,
		APIBaseURL:  APIBaseURL,
		SearchQuery: "list:*",
		Scopes:      []string{"https://www.googleapis.com/auth/gmail.readonly"},
	}
}

// Provider surfaces newsletter issues from a Gmail mailbox. Each
// subscription's resource id is a List-Id, so one mailbox fans out into one
// subscription per newsletter.
type Provider struct {
	*providers.OAuth2Provider
	apiBaseURL  string
	searchQuery string
}

func New(cfg Config) (*Provider, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if strings.TrimSpace(cfg.SearchQuery) == "" {
		cfg.SearchQuery = defaults.SearchQuery
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaults.Scopes
	}

	base, err := providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:                 ProviderID,
		TokenURL:           cfg.TokenURL,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		ClientSecretInBody: true,
		Scopes:             cfg.Scopes,
		TokenTTL:           cfg.TokenTTL,
		Now:                cfg.Now,
		HTTPClient:         cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{
		OAuth2Provider: base,
		apiBaseURL:     strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"),
		searchQuery:    strings.TrimSpace(cfg.SearchQuery),
	}, nil
}

func (*Provider) Kind() core.ItemKind {
	return core.ItemKindIssue
}

type messageListResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

type messageMetadataResponse struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
	InternalDate string `json:"internalDate"`
}

// CallCost reports the Gmail quota units the baseline messages.list call
// spends. Per-message fetches add more after the fact via the result's
// QuotaCost.
func (p *Provider) CallCost() int64 {
	return listCallQuotaCost
}

func (p *Provider) ListRecentItems(ctx context.Context, req core.ListRecentItemsRequest) (core.ListRecentItemsResult, error) {
	if p == nil {
		return core.ListRecentItemsResult{}, fmt.Errorf("gmailnews: provider is nil")
	}
	listID := strings.TrimSpace(req.ResourceID)
	if listID == "" {
		return core.ListRecentItemsResult{}, fmt.Errorf("gmailnews: list id is required")
	}
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	search := fmt.Sprintf("list:%s", listID)
	if since := parseMarker(req.SinceMarker); !since.IsZero() {
		search += " after:" + strconv.FormatInt(since.Unix(), 10)
	}

	query := url.Values{}
	query.Set("q", search)
	query.Set("maxResults", strconv.Itoa(limit))

	var listed messageListResponse
	if err := p.GetJSON(ctx, req.AccessToken, p.apiBaseURL+"/users/me/messages", query, &listed); err != nil {
		return core.ListRecentItemsResult{}, err
	}

	quotaCost := listCallQuotaCost
	items := make([]core.RawItem, 0, len(listed.Messages))
	for _, ref := range listed.Messages {
		messageID := strings.TrimSpace(ref.ID)
		if messageID == "" {
			continue
		}

		metadataQuery := url.Values{}
		metadataQuery.Set("format", "metadata")
		for _, header := range []string{"From", "Subject", "Date", "List-Id", "List-Post"} {
			metadataQuery.Add("metadataHeaders", header)
		}

		var message messageMetadataResponse
		endpoint := p.apiBaseURL + "/users/me/messages/" + url.PathEscape(messageID)
		if err := p.GetJSON(ctx, req.AccessToken, endpoint, metadataQuery, &message); err != nil {
			return core.ListRecentItemsResult{QuotaCost: quotaCost}, err
		}
		quotaCost += getCallQuotaCost

		headers := map[string]string{}
		for _, header := range message.Payload.Headers {
			headers[strings.ToLower(strings.TrimSpace(header.Name))] = strings.TrimSpace(header.Value)
		}

		items = append(items, core.RawItem{
			ProviderItemID:    messageID,
			ProviderCreatorID: listID,
			URL:               "https://mail.google.com/mail/u/0/#all/" + messageID,
			Payload: map[string]any{
				"subject":       headers["subject"],
				"from":          headers["from"],
				"date":          headers["date"],
				"list_id":       headers["list-id"],
				"snippet":       message.Snippet,
				"internal_date": message.InternalDate,
			},
		})
	}

	return core.ListRecentItemsResult{
		Items:      items,
		NextMarker: strings.TrimSpace(listed.NextPageToken),
		QuotaCost:  quotaCost,
	}, nil
}

func (p *Provider) TransformItem(raw core.RawItem) (core.CanonicalItemDraft, core.CreatorDraft, error) {
	messageID := strings.TrimSpace(raw.ProviderItemID)
	if messageID == "" {
		return core.CanonicalItemDraft{}, core.CreatorDraft{}, fmt.Errorf("gmailnews: message id is required")
	}
	subject := readPayloadString(raw.Payload, "subject")
	if subject == "" {
		return core.CanonicalItemDraft{}, core.CreatorDraft{}, fmt.Errorf("gmailnews: message %q is missing a subject", messageID)
	}

	publishedAt := resolvePublishedAt(raw.Payload)

	canonicalURL := strings.TrimSpace(raw.URL)
	if canonicalURL == "" {
		canonicalURL = "https://mail.google.com/mail/u/0/#all/" + messageID
	}

	senderName, senderAddress := parseSender(readPayloadString(raw.Payload, "from"))
	creatorID := strings.TrimSpace(raw.ProviderCreatorID)
	if creatorID == "" {
		creatorID = senderAddress
	}

	draft := core.CanonicalItemDraft{
		ProviderItemID: messageID,
		Kind:           core.ItemKindIssue,
		Title:          subject,
		CanonicalURL:   canonicalURL,
		PublishedAt:    publishedAt,
		Metadata: map[string]any{
			"snippet": readPayloadString(raw.Payload, "snippet"),
			"list_id": readPayloadString(raw.Payload, "list_id"),
			"from":    senderAddress,
		},
	}
	creator := core.CreatorDraft{
		ProviderCreatorID: creatorID,
		DisplayName:       senderName,
	}
	return draft, creator, nil
}

// resolvePublishedAt prefers the mailbox's internalDate, which is millisecond
// epoch, and falls back to the Date header.
func resolvePublishedAt(payload map[string]any) *time.Time {
	if value := readPayloadString(payload, "internal_date"); value != "" {
		if millis, err := strconv.ParseInt(value, 10, 64); err == nil && millis > 0 {
			at := time.UnixMilli(millis).UTC()
			return &at
		}
	}
	if value := readPayloadString(payload, "date"); value != "" {
		if at, err := mail.ParseDate(value); err == nil {
			utc := at.UTC()
			return &utc
		}
	}
	return nil
}

func parseSender(from string) (name string, address string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}
	parsed, err := mail.ParseAddress(from)
	if err != nil {
		return "", strings.ToLower(from)
	}
	name = strings.TrimSpace(parsed.Name)
	address = strings.ToLower(strings.TrimSpace(parsed.Address))
	if name == "" {
		name = address
	}
	return name, address
}

func parseMarker(marker string) time.Time {
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(marker))
	if err != nil {
		return time.Time{}
	}
	return at.UTC()
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
	_ core.Provider        = (*Provider)(nil)
	_ core.ItemTransformer = (*Provider)(nil)
)
