package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inletapp/go-inbox/core"
)

const playlistFixture = `{
	"nextPageToken": "page_2",
	"items": [
		{
			"snippet": {
				"publishedAt": "2026-02-10T08:00:00Z",
				"channelId": "UC_chan_1",
				"channelTitle": "Fixture Channel",
				"title": "Newest Upload",
				"description": "fresh",
				"thumbnails": {"high": {"url": "https://i.ytimg.com/vi/abc/hq.jpg"}}
			},
			"contentDetails": {"videoId": "vid_new", "videoPublishedAt": "2026-02-10T08:00:00Z"}
		},
		{
			"snippet": {
				"publishedAt": "2026-01-01T08:00:00Z",
				"channelId": "UC_chan_1",
				"channelTitle": "Fixture Channel",
				"title": "Old Upload"
			},
			"contentDetails": {"videoId": "vid_old", "videoPublishedAt": "2026-01-01T08:00:00Z"}
		},
		{
			"snippet": {"title": "No Video Id"},
			"contentDetails": {}
		}
	]
}`

func newTestProvider(t *testing.T, apiURL string) *Provider {
	t.Helper()
	provider, err := New(Config{
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		APIBaseURL:   apiURL,
		TokenURL:     apiURL + "/token",
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestProvider_ListRecentItems(t *testing.T) {
	var seenQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/playlistItems" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		seenQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(playlistFixture))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)
	result, err := provider.ListRecentItems(context.Background(), core.ListRecentItemsRequest{
		AccessToken: "access",
		ResourceID:  "UU_uploads_1",
		Limit:       25,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, entry without a video id dropped; got %d", len(result.Items))
	}
	if result.Items[0].ProviderItemID != "vid_new" {
		t.Fatalf("expected vid_new first, got %q", result.Items[0].ProviderItemID)
	}
	if result.QuotaCost != 1 {
		t.Fatalf("expected unit quota cost, got %d", result.QuotaCost)
	}
	if result.NextMarker != "page_2" {
		t.Fatalf("expected next page token, got %q", result.NextMarker)
	}
	if got := seenQuery["playlistId"]; len(got) != 1 || got[0] != "UU_uploads_1" {
		t.Fatalf("expected playlistId query, got %v", got)
	}
}

func TestProvider_ListRecentItemsHonorsSinceMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(playlistFixture))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)
	result, err := provider.ListRecentItems(context.Background(), core.ListRecentItemsRequest{
		AccessToken: "access",
		ResourceID:  "UU_uploads_1",
		SinceMarker: "2026-01-15T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].ProviderItemID != "vid_new" {
		t.Fatalf("expected only the post-marker upload, got %+v", result.Items)
	}
}

func TestProvider_TransformItem(t *testing.T) {
	provider := newTestProvider(t, "https://example.com")
	raw := core.RawItem{
		ProviderItemID:    "vid_new",
		ProviderCreatorID: "UC_chan_1",
		URL:               "https://www.youtube.com/watch?v=vid_new",
		Payload: map[string]any{
			"title":         "Newest Upload",
			"published_at":  "2026-02-10T08:00:00Z",
			"channel_title": "Fixture Channel",
			"thumbnail_url": "https://i.ytimg.com/vi/abc/hq.jpg",
		},
	}

	draft, creator, err := provider.TransformItem(raw)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if draft.Kind != core.ItemKindVideo {
		t.Fatalf("expected video kind, got %q", draft.Kind)
	}
	if draft.Title != "Newest Upload" {
		t.Fatalf("expected title, got %q", draft.Title)
	}
	if draft.PublishedAt == nil || !draft.PublishedAt.Equal(time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected parsed publish time, got %v", draft.PublishedAt)
	}
	if creator.ProviderCreatorID != "UC_chan_1" || creator.DisplayName != "Fixture Channel" {
		t.Fatalf("unexpected creator %+v", creator)
	}
}

func TestProvider_TransformItemRejectsMissingTitle(t *testing.T) {
	provider := newTestProvider(t, "https://example.com")
	_, _, err := provider.TransformItem(core.RawItem{
		ProviderItemID: "vid_x",
		Payload:        map[string]any{},
	})
	if err == nil {
		t.Fatalf("expected transform to reject a title-less item")
	}
}
