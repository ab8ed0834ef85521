package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultRefreshBuffer    = 5 * time.Minute
	defaultRefreshWaitDelay = 500 * time.Millisecond
	defaultRefreshLockTTL   = 30 * time.Second
)

// RefreshCoordinator hands out access tokens for connections, refreshing
// them behind a per-connection lock when they are inside the expiry buffer.
type RefreshCoordinator struct {
	config      RefreshConfig
	connections ConnectionStore
	credentials CredentialStore
	registry    Registry
	secrets     SecretProvider
	codec       CredentialCodec
	locker      ConnectionLocker
	logger      Logger
	now         func() time.Time
}

type RefreshCoordinatorDeps struct {
	Config      RefreshConfig
	Connections ConnectionStore
	Credentials CredentialStore
	Registry    Registry
	Secrets     SecretProvider
	Codec       CredentialCodec
	Locker      ConnectionLocker
	Logger      Logger
	Now         func() time.Time
}

func NewRefreshCoordinator(deps RefreshCoordinatorDeps) (*RefreshCoordinator, error) {
	if deps.Connections == nil {
		return nil, fmt.Errorf("core: connection store is required")
	}
	if deps.Credentials == nil {
		return nil, fmt.Errorf("core: credential store is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("core: provider registry is required")
	}
	if deps.Secrets == nil {
		return nil, fmt.Errorf("core: secret provider is required")
	}
	codec := deps.Codec
	if codec == nil {
		codec = JSONCredentialCodec{}
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewMemoryConnectionLocker()
	}
	logger := deps.Logger
	if logger == nil {
		_, logger = glog.Resolve("refresh", nil, nil)
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RefreshCoordinator{
		config:      deps.Config,
		connections: deps.Connections,
		credentials: deps.Credentials,
		registry:    deps.Registry,
		secrets:     deps.Secrets,
		codec:       codec,
		locker:      locker,
		logger:      logger,
		now:         now,
	}, nil
}

func (c *RefreshCoordinator) buffer() time.Duration {
	if c.config.BufferSeconds > 0 {
		return time.Duration(c.config.BufferSeconds) * time.Second
	}
	return defaultRefreshBuffer
}

func (c *RefreshCoordinator) waitDelay() time.Duration {
	if c.config.WaitDelayMillis > 0 {
		return time.Duration(c.config.WaitDelayMillis) * time.Millisecond
	}
	return defaultRefreshWaitDelay
}

func (c *RefreshCoordinator) lockTTL() time.Duration {
	if c.config.LockTTLSeconds > 0 {
		return time.Duration(c.config.LockTTLSeconds) * time.Second
	}
	return defaultRefreshLockTTL
}

// GetValidAccessToken returns an access token for the connection that is
// good for at least the configured buffer. When the stored token is inside
// the buffer it refreshes under a per-connection lock so that concurrent
// callers produce exactly one upstream refresh.
func (c *RefreshCoordinator) GetValidAccessToken(ctx context.Context, connectionID string) (TokenPair, error) {
	if c == nil {
		return TokenPair{}, fmt.Errorf("core: refresh coordinator is nil")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return TokenPair{}, fmt.Errorf("core: connection id is required")
	}

	connection, err := c.connections.Get(ctx, connectionID)
	if err != nil {
		return TokenPair{}, err
	}
	if connection.Status == ConnectionStatusRevoked || connection.Status == ConnectionStatusExpired {
		return TokenPair{}, fmt.Errorf("core: connection %q: %w", connectionID, ErrCredentialRevoked)
	}

	pair, err := c.loadTokenPair(ctx, connectionID)
	if err != nil {
		return TokenPair{}, err
	}
	if c.isFresh(pair) {
		return pair, nil
	}
	if !pair.Refreshable() {
		if markErr := c.markRevoked(ctx, connection, "token expired and not refreshable"); markErr != nil {
			c.logger.Warn("failed to mark connection revoked", "connection_id", connectionID, "error", markErr)
		}
		return TokenPair{}, fmt.Errorf("core: connection %q: %w", connectionID, ErrCredentialRevoked)
	}

	handle, lockErr := c.locker.Acquire(ctx, "refresh:"+connectionID, c.lockTTL())
	if lockErr != nil {
		return c.waitForPeerRefresh(ctx, connectionID)
	}
	defer func() {
		_ = handle.Unlock(ctx)
	}()

	// Re-read under the lock; a peer may have refreshed while we waited.
	pair, err = c.loadTokenPair(ctx, connectionID)
	if err != nil {
		return TokenPair{}, err
	}
	if c.isFresh(pair) {
		return pair, nil
	}

	return c.refreshLocked(ctx, connection, pair)
}

func (c *RefreshCoordinator) refreshLocked(ctx context.Context, connection Connection, pair TokenPair) (TokenPair, error) {
	provider, ok := c.registry.Get(connection.ProviderID)
	if !ok {
		return TokenPair{}, fmt.Errorf("core: provider %q is not registered", connection.ProviderID)
	}

	refreshed, err := provider.Refresh(ctx, pair)
	if err != nil {
		if isUnrecoverableRefreshError(err) {
			if markErr := c.markRevoked(ctx, connection, err.Error()); markErr != nil {
				c.logger.Warn("failed to mark connection revoked", "connection_id", connection.ID, "error", markErr)
			}
			return TokenPair{}, fmt.Errorf("core: connection %q: %w", connection.ID, ErrCredentialRevoked)
		}
		return TokenPair{}, err
	}
	if strings.TrimSpace(refreshed.RefreshToken) == "" {
		refreshed.RefreshToken = pair.RefreshToken
	}

	encoded, err := c.codec.Encode(refreshed)
	if err != nil {
		return TokenPair{}, err
	}
	sealed, err := c.secrets.Encrypt(ctx, encoded)
	if err != nil {
		return TokenPair{}, err
	}

	if _, err := c.credentials.SaveNewVersion(ctx, SaveCredentialInput{
		ConnectionID:     connection.ID,
		EncryptedPayload: sealed,
		KeyVersion:       c.secrets.CurrentKeyVersion(),
		TokenType:        refreshed.TokenType,
		ExpiresAt:        cloneTimePointer(refreshed.ExpiresAt),
		Refreshable:      strings.TrimSpace(refreshed.RefreshToken) != "",
	}); err != nil {
		return TokenPair{}, err
	}
	if err := c.connections.TouchRefreshed(ctx, connection.ID, c.now()); err != nil {
		c.logger.Warn("failed to record refresh time", "connection_id", connection.ID, "error", err)
	}

	c.logger.Info("refreshed credential", "connection_id", connection.ID, "provider_id", connection.ProviderID)
	return refreshed, nil
}

// waitForPeerRefresh handles the lock-busy path: wait a short fixed delay,
// then re-read in case the holder finished.
func (c *RefreshCoordinator) waitForPeerRefresh(ctx context.Context, connectionID string) (TokenPair, error) {
	if err := waitWithContext(ctx, c.waitDelay()); err != nil {
		return TokenPair{}, err
	}
	pair, err := c.loadTokenPair(ctx, connectionID)
	if err != nil {
		return TokenPair{}, err
	}
	if c.isFresh(pair) {
		return pair, nil
	}
	return TokenPair{}, fmt.Errorf("core: connection %q: %w", connectionID, ErrRefreshInProgress)
}

func (c *RefreshCoordinator) loadTokenPair(ctx context.Context, connectionID string) (TokenPair, error) {
	credential, err := c.credentials.GetActiveByConnection(ctx, connectionID)
	if err != nil {
		return TokenPair{}, err
	}
	if credential.Status == CredentialStatusRevoked {
		return TokenPair{}, fmt.Errorf("core: connection %q: %w", connectionID, ErrCredentialRevoked)
	}
	plaintext, err := c.secrets.Decrypt(ctx, credential.EncryptedPayload)
	if err != nil {
		return TokenPair{}, err
	}
	return c.codec.Decode(plaintext)
}

func (c *RefreshCoordinator) isFresh(pair TokenPair) bool {
	if pair.ExpiresAt == nil {
		return true
	}
	return pair.ExpiresAt.After(c.now().Add(c.buffer()))
}

func (c *RefreshCoordinator) markRevoked(ctx context.Context, connection Connection, reason string) error {
	reason = strings.TrimSpace(reason)
	if err := c.credentials.RevokeActive(ctx, connection.ID, reason); err != nil {
		return err
	}
	return c.connections.UpdateStatus(ctx, connection.ID, string(ConnectionStatusExpired), reason)
}
