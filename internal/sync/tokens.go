package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/provider/truelayer"
)

// expiryMargin treats a token as expired slightly before the provider
// does, to avoid racing a provider-side rejection mid-sync.
const expiryMargin = 5 * time.Minute

// TokenStore persists rotated tokens.
type TokenStore interface {
	UpdateConnectionTokens(ctx context.Context, connectionID, accessToken, refreshToken string, expiresAt time.Time) error
}

// OAuthClient refreshes tokens against the provider's token endpoint.
type OAuthClient interface {
	RefreshToken(ctx context.Context, refreshToken string) (*truelayer.Token, error)
}

// TokenManager hands out valid access tokens for connections, refreshing
// and persisting them when needed. Refresh is a critical section per
// connection: a keyed mutex guarantees at most one in-flight refresh per
// connection id, so concurrent syncs cannot invalidate each other's
// tokens.
type TokenManager struct {
	store TokenStore
	oauth OAuthClient
	log   zerolog.Logger

	mu    gosync.Mutex
	locks map[string]*gosync.Mutex
}

// NewTokenManager creates a token manager.
func NewTokenManager(store TokenStore, oauth OAuthClient, log zerolog.Logger) *TokenManager {
	return &TokenManager{
		store: store,
		oauth: oauth,
		log:   log,
		locks: make(map[string]*gosync.Mutex),
	}
}

// Expired reports whether the connection's access token should be
// refreshed before use. An unknown expiry counts as expired.
func Expired(conn *domain.BankConnection, now time.Time) bool {
	if conn.ExpiresAt.IsZero() {
		return true
	}
	return now.After(conn.ExpiresAt.Add(-expiryMargin))
}

// Token returns a valid access token for the connection, refreshing it
// first when it is expired or about to expire. On refresh the rotated
// tokens are persisted before the token is returned, and conn is updated
// in place so callers see the rotation.
func (m *TokenManager) Token(ctx context.Context, conn *domain.BankConnection) (string, error) {
	lock := m.connLock(conn.ID)
	lock.Lock()
	defer lock.Unlock()

	if !Expired(conn, time.Now()) {
		return conn.AccessToken, nil
	}

	if conn.RefreshToken == "" {
		return "", fmt.Errorf("Token: connection %s: %w", conn.ID, ErrNoRefreshToken)
	}

	tok, err := m.oauth.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("Token: refreshing connection %s: %w", conn.ID, err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		// Provider did not rotate the refresh token; keep the old one.
		refreshToken = conn.RefreshToken
	}
	expiresAt := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)

	if err := m.store.UpdateConnectionTokens(ctx, conn.ID, tok.AccessToken, refreshToken, expiresAt); err != nil {
		return "", fmt.Errorf("Token: persisting rotated tokens for connection %s: %w", conn.ID, err)
	}

	conn.AccessToken = tok.AccessToken
	conn.RefreshToken = refreshToken
	conn.ExpiresAt = expiresAt

	m.log.Info().
		Str("connection_id", conn.ID).
		Time("expires_at", expiresAt).
		Msg("Access token refreshed")

	return tok.AccessToken, nil
}

func (m *TokenManager) connLock(connectionID string) *gosync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[connectionID]
	if !ok {
		lock = &gosync.Mutex{}
		m.locks[connectionID] = lock
	}
	return lock
}
