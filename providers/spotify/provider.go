package spotify

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/inletapp/go-inbox/core"
	"github.com/inletapp/go-inbox/providers"
)

const (
	ProviderID = "spotify"
	TokenURL   = "https://accounts.spotify.com/api/token"
	APIBaseURL = "https://api.spotify.com/v1"

	listCallQuotaCost = 1
)

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIBaseURL   string
	Market       string
	TokenTTL     time.Duration
	Now          func() time.Time
	HTTPClient   providers.HTTPDoer
}

func DefaultConfig() Config {
	return Config{
		TokenURL:   TokenURL,
		APIBaseURL: APIBaseURL,
		Market:     "US",
	}
}

// Provider polls a show's episode list. The subscription resource id is the
// Spotify show id.
type Provider struct {
	*providers.OAuth2Provider
	apiBaseURL string
	market     string
}

func New(cfg Config) (*Provider, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if strings.TrimSpace(cfg.Market) == "" {
		cfg.Market = defaults.Market
	}

	base, err := providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:           ProviderID,
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenTTL:     cfg.TokenTTL,
		Now:          cfg.Now,
		HTTPClient:   cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{
		OAuth2Provider: base,
		apiBaseURL:     strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"),
		market:         strings.ToUpper(strings.TrimSpace(cfg.Market)),
	}, nil
}

func (*Provider) Kind() core.ItemKind {
	return core.ItemKindEpisode
}

type showEpisodesResponse struct {
	Next  string `json:"next"`
	Items []struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Description     string `json:"description"`
		ReleaseDate     string `json:"release_date"`
		DurationMillis  int64  `json:"duration_ms"`
		AudioPreviewURL string `json:"audio_preview_url"`
		ExternalURLs    struct {
			Spotify string `json:"spotify"`
		} `json:"external_urls"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"items"`
}

// CallCost reports the quota units one show episodes listing spends.
func (p *Provider) CallCost() int64 {
	return listCallQuotaCost
}

func (p *Provider) ListRecentItems(ctx context.Context, req core.ListRecentItemsRequest) (core.ListRecentItemsResult, error) {
	if p == nil {
		return core.ListRecentItemsResult{}, fmt.Errorf("spotify: provider is nil")
	}
	showID := strings.TrimSpace(req.ResourceID)
	if showID == "" {
		return core.ListRecentItemsResult{}, fmt.Errorf("spotify: show id is required")
	}
	limit := req.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if p.market != "" {
		query.Set("market", p.market)
	}

	var decoded showEpisodesResponse
	endpoint := p.apiBaseURL + "/shows/" + url.PathEscape(showID) + "/episodes"
	if err := p.GetJSON(ctx, req.AccessToken, endpoint, query, &decoded); err != nil {
		return core.ListRecentItemsResult{}, err
	}

	since := parseMarker(req.SinceMarker)
	items := make([]core.RawItem, 0, len(decoded.Items))
	for _, entry := range decoded.Items {
		episodeID := strings.TrimSpace(entry.ID)
		if episodeID == "" {
			continue
		}
		if !since.IsZero() {
			if released, ok := parseReleaseDate(entry.ReleaseDate); ok && !released.After(since) {
				continue
			}
		}

		artwork := ""
		if len(entry.Images) > 0 {
			artwork = strings.TrimSpace(entry.Images[0].URL)
		}
		episodeURL := strings.TrimSpace(entry.ExternalURLs.Spotify)
		if episodeURL == "" {
			episodeURL = "https://open.spotify.com/episode/" + episodeID
		}

		items = append(items, core.RawItem{
			ProviderItemID:    episodeID,
			ProviderCreatorID: showID,
			URL:               episodeURL,
			Payload: map[string]any{
				"name":         entry.Name,
				"description":  entry.Description,
				"release_date": entry.ReleaseDate,
				"duration_ms":  entry.DurationMillis,
				"artwork_url":  artwork,
				"preview_url":  entry.AudioPreviewURL,
				"show_id":      showID,
				"external_url": episodeURL,
			},
		})
	}

	return core.ListRecentItemsResult{
		Items:      items,
		NextMarker: strings.TrimSpace(decoded.Next),
		QuotaCost:  listCallQuotaCost,
	}, nil
}

func (p *Provider) TransformItem(raw core.RawItem) (core.CanonicalItemDraft, core.CreatorDraft, error) {
	episodeID := strings.TrimSpace(raw.ProviderItemID)
	if episodeID == "" {
		return core.CanonicalItemDraft{}, core.CreatorDraft{}, fmt.Errorf("spotify: episode id is required")
	}
	title := readPayloadString(raw.Payload, "name")
	if title == "" {
		return core.CanonicalItemDraft{}, core.CreatorDraft{}, fmt.Errorf("spotify: episode %q is missing a name", episodeID)
	}

	var publishedAt *time.Time
	if value := readPayloadString(raw.Payload, "release_date"); value != "" {
		released, ok := parseReleaseDate(value)
		if !ok {
			return core.CanonicalItemDraft{}, core.CreatorDraft{}, fmt.Errorf("spotify: episode %q has a malformed release date %q", episodeID, value)
		}
		publishedAt = &released
	}

	durationSeconds := 0
	if raw.Payload != nil {
		switch typed := raw.Payload["duration_ms"].(type) {
		case int64:
			durationSeconds = int(typed / 1000)
		case float64:
			durationSeconds = int(typed / 1000)
		case int:
			durationSeconds = typed / 1000
		}
	}

	canonicalURL := strings.TrimSpace(raw.URL)
	if canonicalURL == "" {
		canonicalURL = "https://open.spotify.com/episode/" + episodeID
	}

	draft := core.CanonicalItemDraft{
		ProviderItemID:  episodeID,
		Kind:            core.ItemKindEpisode,
		Title:           title,
		CanonicalURL:    canonicalURL,
		PublishedAt:     publishedAt,
		DurationSeconds: durationSeconds,
		MediaRef:        readPayloadString(raw.Payload, "preview_url"),
		Metadata: map[string]any{
			"description": readPayloadString(raw.Payload, "description"),
			"artwork_url": readPayloadString(raw.Payload, "artwork_url"),
		},
	}
	creator := core.CreatorDraft{
		ProviderCreatorID: strings.TrimSpace(raw.ProviderCreatorID),
		DisplayName:       readPayloadString(raw.Payload, "show_name"),
		AvatarURL:         readPayloadString(raw.Payload, "artwork_url"),
	}
	return draft, creator, nil
}

// parseReleaseDate handles Spotify's day-precision release dates alongside
// full timestamps.
func parseReleaseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if at, err := time.Parse(time.RFC3339, value); err == nil {
		return at.UTC(), true
	}
	if at, err := time.Parse("2006-01-02", value); err == nil {
		return at.UTC(), true
	}
	if at, err := time.Parse("2006-01", value); err == nil {
		return at.UTC(), true
	}
	if at, err := time.Parse("2006", value); err == nil {
		return at.UTC(), true
	}
	return time.Time{}, false
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
