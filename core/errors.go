package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	InboxErrorBadInput          = "INBOX_BAD_INPUT"
	InboxErrorProviderNotFound  = "INBOX_PROVIDER_NOT_FOUND"
	InboxErrorCredentialRevoked = "INBOX_CREDENTIAL_REVOKED"
	InboxErrorRefreshInProgress = "INBOX_REFRESH_IN_PROGRESS"
	InboxErrorQuotaExceeded     = "INBOX_QUOTA_EXCEEDED"
	InboxErrorDecryptionFailed  = "INBOX_DECRYPTION_FAILED"
	InboxErrorUnknownKeyVersion = "INBOX_UNKNOWN_KEY_VERSION"
	InboxErrorInvalidPayload    = "INBOX_INVALID_PAYLOAD"
	InboxErrorLockBusy          = "INBOX_LOCK_BUSY"
	InboxErrorAdapterFailed     = "INBOX_ADAPTER_FAILED"
	InboxErrorInternal          = "INBOX_INTERNAL_ERROR"
)

var (
	// ErrCredentialRevoked is fatal per-connection: the provider rejected the
	// refresh token and the user must re-authorize through the connect flow.
	ErrCredentialRevoked = errors.New("core: credential revoked by provider")

	// ErrRefreshInProgress is transient: another process holds the refresh
	// lock and did not finish within the wait window.
	ErrRefreshInProgress = errors.New("core: credential refresh in progress")
)

func inboxErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureInboxErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrCredentialRevoked):
		return newInboxError(err.Error(), goerrors.CategoryAuth, InboxErrorCredentialRevoked)
	case errors.Is(err, ErrRefreshInProgress):
		return newInboxError(err.Error(), goerrors.CategoryConflict, InboxErrorRefreshInProgress)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "provider") && strings.Contains(msg, "not registered"):
		return newInboxError(err.Error(), goerrors.CategoryNotFound, InboxErrorProviderNotFound)
	case strings.Contains(msg, "unknown key version"):
		return newInboxError(err.Error(), goerrors.CategoryInternal, InboxErrorUnknownKeyVersion)
	case strings.Contains(msg, "decrypt"):
		return newInboxError(err.Error(), goerrors.CategoryInternal, InboxErrorDecryptionFailed)
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "lock busy"):
		return newInboxError(err.Error(), goerrors.CategoryConflict, InboxErrorLockBusy)
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return newInboxError(err.Error(), goerrors.CategoryRateLimit, InboxErrorQuotaExceeded)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newInboxError(err.Error(), goerrors.CategoryBadInput, InboxErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureInboxErrorEnvelope(mapped)
}

func newInboxError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureInboxErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureInboxErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = inboxHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultInboxTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultInboxTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return InboxErrorBadInput
	case goerrors.CategoryNotFound:
		return InboxErrorProviderNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return InboxErrorCredentialRevoked
	case goerrors.CategoryConflict:
		return InboxErrorLockBusy
	case goerrors.CategoryRateLimit:
		return InboxErrorQuotaExceeded
	case goerrors.CategoryOperation:
		return InboxErrorAdapterFailed
	default:
		return InboxErrorInternal
	}
}

func inboxHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
