package core

import (
	"errors"
	"testing"
	"time"
)

func TestConnectionTransitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		from    ConnectionStatus
		to      ConnectionStatus
		allowed bool
	}{
		{name: "active_to_expired", from: ConnectionStatusActive, to: ConnectionStatusExpired, allowed: true},
		{name: "active_to_revoked", from: ConnectionStatusActive, to: ConnectionStatusRevoked, allowed: true},
		{name: "expired_to_active", from: ConnectionStatusExpired, to: ConnectionStatusActive, allowed: true},
		{name: "expired_to_revoked", from: ConnectionStatusExpired, to: ConnectionStatusRevoked, allowed: true},
		{name: "revoked_to_active", from: ConnectionStatusRevoked, to: ConnectionStatusActive, allowed: true},
		{name: "revoked_to_expired", from: ConnectionStatusRevoked, to: ConnectionStatusExpired, allowed: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			connection := Connection{Status: tc.from}
			err := connection.TransitionTo(tc.to, "test", now)
			if tc.allowed {
				if err != nil {
					t.Fatalf("expected transition %s -> %s to be allowed: %v", tc.from, tc.to, err)
				}
				if connection.Status != tc.to {
					t.Fatalf("expected status %s, got %s", tc.to, connection.Status)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConnectionStatusTransition) {
				t.Fatalf("expected invalid transition error, got %v", err)
			}
			if connection.Status != tc.from {
				t.Fatalf("expected status to stay %s, got %s", tc.from, connection.Status)
			}
		})
	}
}

func TestConnectionTransitionClearsLastErrorOnReactivation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	connection := Connection{Status: ConnectionStatusExpired, LastError: "invalid_grant"}

	if err := connection.TransitionTo(ConnectionStatusActive, "reauthorized", now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if connection.LastError != "" {
		t.Fatalf("expected last error to clear on reactivation, got %q", connection.LastError)
	}
}

func TestConnectionTransitionSameStatusRecordsReason(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	connection := Connection{Status: ConnectionStatusExpired}

	if err := connection.TransitionTo(ConnectionStatusExpired, "still expired", now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if connection.LastError != "still expired" {
		t.Fatalf("expected reason recorded, got %q", connection.LastError)
	}
	if !connection.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated_at touch")
	}
}

func TestCredentialTransitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		from    CredentialStatus
		to      CredentialStatus
		allowed bool
	}{
		{name: "active_to_expired", from: CredentialStatusActive, to: CredentialStatusExpired, allowed: true},
		{name: "active_to_revoked", from: CredentialStatusActive, to: CredentialStatusRevoked, allowed: true},
		{name: "expired_to_active", from: CredentialStatusExpired, to: CredentialStatusActive, allowed: true},
		{name: "revoked_is_terminal", from: CredentialStatusRevoked, to: CredentialStatusActive, allowed: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			credential := Credential{Status: tc.from}
			err := credential.TransitionTo(tc.to, now)
			if tc.allowed {
				if err != nil {
					t.Fatalf("expected transition %s -> %s to be allowed: %v", tc.from, tc.to, err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidCredentialStatusTransition) {
				t.Fatalf("expected invalid transition error, got %v", err)
			}
		})
	}
}

func TestSubscriptionTransitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		from    SubscriptionStatus
		to      SubscriptionStatus
		allowed bool
	}{
		{name: "active_to_paused", from: SubscriptionStatusActive, to: SubscriptionStatusPaused, allowed: true},
		{name: "active_to_disconnected", from: SubscriptionStatusActive, to: SubscriptionStatusDisconnected, allowed: true},
		{name: "active_to_unsubscribed", from: SubscriptionStatusActive, to: SubscriptionStatusUnsubscribed, allowed: true},
		{name: "paused_to_active", from: SubscriptionStatusPaused, to: SubscriptionStatusActive, allowed: true},
		{name: "paused_to_disconnected", from: SubscriptionStatusPaused, to: SubscriptionStatusDisconnected, allowed: false},
		{name: "disconnected_to_active", from: SubscriptionStatusDisconnected, to: SubscriptionStatusActive, allowed: true},
		{name: "unsubscribed_is_terminal", from: SubscriptionStatusUnsubscribed, to: SubscriptionStatusActive, allowed: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			subscription := Subscription{Status: tc.from}
			err := subscription.TransitionTo(tc.to, now)
			if tc.allowed {
				if err != nil {
					t.Fatalf("expected transition %s -> %s to be allowed: %v", tc.from, tc.to, err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidSubscriptionStatusTransition) {
				t.Fatalf("expected invalid transition error, got %v", err)
			}
		})
	}
}

func TestTokenPairRefreshable(t *testing.T) {
	if (TokenPair{AccessToken: "at"}).Refreshable() {
		t.Fatalf("expected pair without refresh token to not be refreshable")
	}
	if !(TokenPair{AccessToken: "at", RefreshToken: "rt"}).Refreshable() {
		t.Fatalf("expected pair with refresh token to be refreshable")
	}
	if (TokenPair{RefreshToken: "   "}).Refreshable() {
		t.Fatalf("expected blank refresh token to not count")
	}
}
