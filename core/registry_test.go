package core

import (
	"strings"
	"testing"
)

func TestProviderRegistryRegisterAndGet(t *testing.T) {
	registry := NewProviderRegistry()

	if err := registry.Register(&refreshStubProvider{id: "youtube"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(&refreshStubProvider{id: "spotify"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider, ok := registry.Get("youtube")
	if !ok || provider.ID() != "youtube" {
		t.Fatalf("expected youtube provider, got ok=%t", ok)
	}
	if _, ok := registry.Get("missing"); ok {
		t.Fatalf("expected unknown provider to miss")
	}
	if _, ok := registry.Get(""); ok {
		t.Fatalf("expected blank id to miss")
	}
}

func TestProviderRegistryRejectsDuplicates(t *testing.T) {
	registry := NewProviderRegistry()

	if err := registry.Register(&refreshStubProvider{id: "youtube"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := registry.Register(&refreshStubProvider{id: "youtube"})
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("expected duplicate registration error, got %v", err)
	}
}

func TestProviderRegistryRejectsInvalidProviders(t *testing.T) {
	registry := NewProviderRegistry()

	if err := registry.Register(nil); err == nil {
		t.Fatalf("expected nil provider error")
	}
	if err := registry.Register(&refreshStubProvider{id: "  "}); err == nil {
		t.Fatalf("expected blank id error")
	}
}

func TestProviderRegistryListIsSorted(t *testing.T) {
	registry := NewProviderRegistry()
	for _, id := range []string{"spotify", "gmailnews", "youtube"} {
		if err := registry.Register(&refreshStubProvider{id: id}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	providers := registry.List()
	if len(providers) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(providers))
	}
	want := []string{"gmailnews", "spotify", "youtube"}
	for i, provider := range providers {
		if provider.ID() != want[i] {
			t.Fatalf("expected %s at position %d, got %s", want[i], i, provider.ID())
		}
	}
}
