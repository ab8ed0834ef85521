package spotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inletapp/go-inbox/core"
)

const episodesFixture = `{
	"next": "https://api.spotify.com/v1/shows/show_1/episodes?offset=50",
	"items": [
		{
			"id": "ep_new",
			"name": "Episode Fifty",
			"description": "latest",
			"release_date": "2026-03-01",
			"duration_ms": 2713000,
			"external_urls": {"spotify": "https://open.spotify.com/episode/ep_new"},
			"images": [{"url": "https://i.scdn.co/image/cover.jpg"}]
		},
		{
			"id": "ep_old",
			"name": "Episode One",
			"release_date": "2025-01-01",
			"duration_ms": 1800000,
			"external_urls": {"spotify": "https://open.spotify.com/episode/ep_old"}
		}
	]
}`

func newTestProvider(t *testing.T, apiURL string) *Provider {
	t.Helper()
	provider, err := New(Config{
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		APIBaseURL:   apiURL,
		TokenURL:     apiURL + "/api/token",
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestProvider_ListRecentItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/shows/show_1/episodes") {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("market") != "US" {
			t.Fatalf("expected market query")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(episodesFixture))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)
	result, err := provider.ListRecentItems(context.Background(), core.ListRecentItemsRequest{
		AccessToken: "access",
		ResourceID:  "show_1",
		Limit:       50,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(result.Items))
	}
	if result.Items[0].ProviderCreatorID != "show_1" {
		t.Fatalf("expected show id as creator, got %q", result.Items[0].ProviderCreatorID)
	}
	if result.QuotaCost != 1 {
		t.Fatalf("expected unit quota cost, got %d", result.QuotaCost)
	}
}

func TestProvider_ListRecentItemsHonorsSinceMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(episodesFixture))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)
	result, err := provider.ListRecentItems(context.Background(), core.ListRecentItemsRequest{
		AccessToken: "access",
		ResourceID:  "show_1",
		SinceMarker: "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].ProviderItemID != "ep_new" {
		t.Fatalf("expected only the post-marker episode, got %+v", result.Items)
	}
}

func TestProvider_TransformItem(t *testing.T) {
	provider := newTestProvider(t, "https://example.com")
	draft, creator, err := provider.TransformItem(core.RawItem{
		ProviderItemID:    "ep_new",
		ProviderCreatorID: "show_1",
		URL:               "https://open.spotify.com/episode/ep_new",
		Payload: map[string]any{
			"name":         "Episode Fifty",
			"description":  "latest",
			"release_date": "2026-03-01",
			"duration_ms":  int64(2713000),
			"artwork_url":  "https://i.scdn.co/image/cover.jpg",
		},
	})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if draft.Kind != core.ItemKindEpisode {
		t.Fatalf("expected episode kind, got %q", draft.Kind)
	}
	if draft.DurationSeconds != 2713 {
		t.Fatalf("expected 2713s duration, got %d", draft.DurationSeconds)
	}
	if draft.PublishedAt == nil || !draft.PublishedAt.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected day-precision release date, got %v", draft.PublishedAt)
	}
	if creator.ProviderCreatorID != "show_1" {
		t.Fatalf("unexpected creator %+v", creator)
	}
}

func TestParseReleaseDatePrecision(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"2026-03-01", true},
		{"2026-03", true},
		{"2026", true},
		{"2026-03-01T12:00:00Z", true},
		{"not-a-date", false},
		{"", false},
	}
	for _, tc := range cases {
		if _, ok := parseReleaseDate(tc.value); ok != tc.ok {
			t.Fatalf("parseReleaseDate(%q) ok = %v, expected %v", tc.value, ok, tc.ok)
		}
	}
}
