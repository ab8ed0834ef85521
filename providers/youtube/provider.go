package youtube

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
	ProviderID = "youtube"
	TokenURL   = "https://oauth2.googleapis.com/token"
	APIBaseURL = "https://www.googleapis.com/youtube/v3"

	// One playlistItems.list call costs a single unit of the daily API quota.
	listCallQuotaCost = 1
)

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIBaseURL   string
	Scopes       []string
	TokenTTL     time.Duration
	Now          func() time.Time
	HTTPClient   providers.HTTPDoer
}

func DefaultConfig() Config {
	return Config{
		TokenURL:   TokenURL,
		APIBaseURL: APIBaseURL,
		Scopes:     []string{"https://www.googleapis.com/auth/youtube.readonly"},
	}
}

// Provider polls a channel's uploads playlist and maps entries to video
// items. The subscription resource id is the uploads playlist id.
type Provider struct {
	*providers.OAuth2Provider
	apiBaseURL string
}

func New(cfg Config) (*Provider, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaults.Scopes
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
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
	}, nil
}

func (*Provider) Kind() core.ItemKind {
	return core.ItemKindVideo
}

type playlistItemsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			PublishedAt  string `json:"publishedAt"`
			ChannelID    string `json:"channelId"`
			ChannelTitle string `json:"channelTitle"`
			Title        string `json:"title"`
			Description  string `json:"description"`
			Thumbnails   map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			VideoID          string `json:"videoId"`
			VideoPublishedAt string `json:"videoPublishedAt"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// CallCost reports the Data API units one playlistItems.list call spends.
func (p *Provider) CallCost() int64 {
	return listCallQuotaCost
}

func (p *Provider) ListRecentItems(ctx context.Context, req core.ListRecentItemsRequest) (core.ListRecentItemsResult, error) {
	if p == nil {
		return core.ListRecentItemsResult{}, fmt.Errorf("youtube: provider is nil")
	}
	playlistID := strings.TrimSpace(req.ResourceID)
	if playlistID == "" {
		return core.ListRecentItemsResult{}, fmt.Errorf("youtube: playlist id is required")
	}
	limit := req.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	query := url.Values{}
	query.Set("part", "snippet,contentDetails")
	query.Set("playlistId", playlistID)
	query.Set("maxResults", strconv.Itoa(limit))

	var decoded playlistItemsResponse
	if err := p.GetJSON(ctx, req.AccessToken, p.apiBaseURL+"/playlistItems", query, &decoded); err != nil {
		return core.ListRecentItemsResult{}, err
	}

	since := parseMarker(req.SinceMarker)
	items := make([]core.RawItem, 0, len(decoded.Items))
	for _, entry := range decoded.Items {
		videoID := strings.TrimSpace(entry.ContentDetails.VideoID)
		if videoID == "" {
			continue
		}
		publishedAt := strings.TrimSpace(entry.ContentDetails.VideoPublishedAt)
		if publishedAt == "" {
			publishedAt = strings.TrimSpace(entry.Snippet.PublishedAt)
		}
		if !since.IsZero() {
			if at, err := time.Parse(time.RFC3339, publishedAt); err == nil && !at.After(since) {
				continue
			}
		}

		thumbnail := ""
		for _, key := range []string{"maxres", "high", "medium", "default"} {
			if thumb, ok := entry.Snippet.Thumbnails[key]; ok && strings.TrimSpace(thumb.URL) != "" {
				thumbnail = strings.TrimSpace(thumb.URL)
				break
			}
		}

		items = append(items, core.RawItem{
			ProviderItemID:    videoID,
			ProviderCreatorID: strings.TrimSpace(entry.Snippet.ChannelID),
			URL:               "https://www.youtube.com/watch?v=" + videoID,
			Payload: map[string]any{
				"title":         entry.Snippet.Title,
				"description":   entry.Snippet.Description,
				"published_at":  publishedAt,
				"channel_id":    entry.Snippet.ChannelID,
				"channel_title": entry.Snippet.ChannelTitle,
				"thumbnail_url": thumbnail,
			},
		})
	}

	return core.ListRecentItemsResult{
		Items:      items,
		NextMarker: strings.TrimSpace(decoded.NextPageToken),
		QuotaCost:  listCallQuotaCost,
	}, nil
}

func (p *Provider) TransformItem(raw core.RawItem) (core.CanonicalItemDraft, core.CreatorDraft, error) {
	videoID := strings.TrimSpace(raw.ProviderItemID)
	if videoID == "" {
		return core.CanonicalItemDraft{}, core.CreatorDraft{}, fmt.Errorf("youtube: video id is required")
	}
	title := readPayloadString(raw.Payload, "title")
	if title == "" {
		return core.CanonicalItemDraft{}, core.CreatorDraft{}, fmt.Errorf("youtube: video %q is missing a title", videoID)
	}

	var publishedAt *time.Time
	if value := readPayloadString(raw.Payload, "published_at"); value != "" {
		at, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return core.CanonicalItemDraft{}, core.CreatorDraft{}, fmt.Errorf("youtube: video %q has a malformed publish time: %w", videoID, err)
		}
		utc := at.UTC()
		publishedAt = &utc
	}

	canonicalURL := strings.TrimSpace(raw.URL)
	if canonicalURL == "" {
		canonicalURL = "https://www.youtube.com/watch?v=" + videoID
	}

	draft := core.CanonicalItemDraft{
		ProviderItemID: videoID,
		Kind:           core.ItemKindVideo,
		Title:          title,
		CanonicalURL:   canonicalURL,
		PublishedAt:    publishedAt,
		MediaRef:       videoID,
		Metadata: map[string]any{
			"description":   readPayloadString(raw.Payload, "description"),
			"thumbnail_url": readPayloadString(raw.Payload, "thumbnail_url"),
		},
	}
	creator := core.CreatorDraft{
		ProviderCreatorID: strings.TrimSpace(raw.ProviderCreatorID),
		DisplayName:       readPayloadString(raw.Payload, "channel_title"),
		AvatarURL:         "",
	}
	return draft, creator, nil
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
