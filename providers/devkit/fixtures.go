package devkit

import (
	"fmt"
	"time"

	"github.com/inletapp/go-inbox/core"
)

// VideoFixture builds a raw video item with the payload shape the scripted
// provider's transform expects.
func VideoFixture(sequence int) core.RawItem {
	id := fmt.Sprintf("vid_%04d", sequence)
	return core.RawItem{
		ProviderItemID:    id,
		ProviderCreatorID: "creator_fixture",
		URL:               "https://videos.example.com/watch/" + id,
		Payload: map[string]any{
			"title":        fmt.Sprintf("Fixture Video %d", sequence),
			"creator_name": "Fixture Creator",
			"published_at": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(sequence) * time.Hour).Format(time.RFC3339),
		},
	}
}

// VideoFixtures builds count sequential raw items.
func VideoFixtures(count int) []core.RawItem {
	items := make([]core.RawItem, 0, count)
	for i := 1; i <= count; i++ {
		items = append(items, VideoFixture(i))
	}
	return items
}

// MalformedFixture has no title, which the scripted transform rejects.
func MalformedFixture(sequence int) core.RawItem {
	return core.RawItem{
		ProviderItemID:    fmt.Sprintf("bad_%04d", sequence),
		ProviderCreatorID: "creator_fixture",
		Payload:           map[string]any{"garbage": true},
	}
}

// TokenPairFixture is a refreshable pair expiring an hour out.
func TokenPairFixture() core.TokenPair {
	expiresAt := time.Now().UTC().Add(time.Hour)
	return core.TokenPair{
		TokenType:    "bearer",
		AccessToken:  "fixture-access-token",
		RefreshToken: "fixture-refresh-token",
		ExpiresAt:    &expiresAt,
	}
}
