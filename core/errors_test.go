package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestInboxErrorMapperSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		category goerrors.Category
		textCode string
		code     int
	}{
		{
			name:     "credential_revoked",
			err:      fmt.Errorf("connection conn_1: %w", ErrCredentialRevoked),
			category: goerrors.CategoryAuth,
			textCode: InboxErrorCredentialRevoked,
			code:     http.StatusUnauthorized,
		},
		{
			name:     "refresh_in_progress",
			err:      fmt.Errorf("connection conn_1: %w", ErrRefreshInProgress),
			category: goerrors.CategoryConflict,
			textCode: InboxErrorRefreshInProgress,
			code:     http.StatusConflict,
		},
		{
			name:     "provider_not_registered",
			err:      errors.New(`provider "tiktok" is not registered`),
			category: goerrors.CategoryNotFound,
			textCode: InboxErrorProviderNotFound,
			code:     http.StatusNotFound,
		},
		{
			name:     "unknown_key_version",
			err:      errors.New("vault: unknown key version 9"),
			category: goerrors.CategoryInternal,
			textCode: InboxErrorUnknownKeyVersion,
			code:     http.StatusInternalServerError,
		},
		{
			name:     "decryption_failed",
			err:      errors.New("vault: decrypt payload: cipher: message authentication failed"),
			category: goerrors.CategoryInternal,
			textCode: InboxErrorDecryptionFailed,
			code:     http.StatusInternalServerError,
		},
		{
			name:     "lock_busy",
			err:      errors.New(`core: lock already held for "refresh:conn_1"`),
			category: goerrors.CategoryConflict,
			textCode: InboxErrorLockBusy,
			code:     http.StatusConflict,
		},
		{
			name:     "quota_exceeded",
			err:      errors.New("quota: daily budget exhausted for youtube"),
			category: goerrors.CategoryRateLimit,
			textCode: InboxErrorQuotaExceeded,
			code:     http.StatusTooManyRequests,
		},
		{
			name:     "bad_input",
			err:      errors.New("core: user id and provider id are required"),
			category: goerrors.CategoryBadInput,
			textCode: InboxErrorBadInput,
			code:     http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := inboxErrorMapper(tc.err)
			if mapped == nil {
				t.Fatalf("expected mapped error")
			}
			if mapped.Category != tc.category {
				t.Fatalf("expected category %s, got %s", tc.category, mapped.Category)
			}
			if mapped.TextCode != tc.textCode {
				t.Fatalf("expected text code %s, got %s", tc.textCode, mapped.TextCode)
			}
			if mapped.Code != tc.code {
				t.Fatalf("expected code %d, got %d", tc.code, mapped.Code)
			}
		})
	}
}

func TestInboxErrorMapperPreservesRichErrors(t *testing.T) {
	original := goerrors.New("quota gate closed", goerrors.CategoryRateLimit).
		WithTextCode(InboxErrorQuotaExceeded)

	mapped := inboxErrorMapper(fmt.Errorf("scheduler: %w", original))
	if mapped == nil {
		t.Fatalf("expected mapped error")
	}
	if mapped.TextCode != InboxErrorQuotaExceeded {
		t.Fatalf("expected text code preserved, got %s", mapped.TextCode)
	}
	if mapped.Code != http.StatusTooManyRequests {
		t.Fatalf("expected http code backfilled, got %d", mapped.Code)
	}
}

func TestInboxErrorMapperNil(t *testing.T) {
	if mapped := inboxErrorMapper(nil); mapped != nil {
		t.Fatalf("expected nil for nil error, got %v", mapped)
	}
}

func TestDefaultInboxTextCodeFallbacks(t *testing.T) {
	if got := defaultInboxTextCode(goerrors.CategoryOperation); got != InboxErrorAdapterFailed {
		t.Fatalf("expected adapter failed code, got %s", got)
	}
	if got := defaultInboxTextCode(goerrors.CategoryInternal); got != InboxErrorInternal {
		t.Fatalf("expected internal code, got %s", got)
	}
}
