package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/provider/truelayer"
)

type fakeTokenStore struct {
	mu    gosync.Mutex
	calls int
	err   error

	gotAccess  string
	gotRefresh string
	gotExpires time.Time
}

func (f *fakeTokenStore) UpdateConnectionTokens(ctx context.Context, connectionID, accessToken, refreshToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls++
	f.gotAccess = accessToken
	f.gotRefresh = refreshToken
	f.gotExpires = expiresAt
	return nil
}

type fakeOAuth struct {
	mu    gosync.Mutex
	calls int
	token *truelayer.Token
	err   error
	delay time.Duration
}

func (f *fakeOAuth) RefreshToken(ctx context.Context, refreshToken string) (*truelayer.Token, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

func TestExpired(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"well in the future", now.Add(time.Hour), false},
		{"already past", now.Add(-time.Minute), true},
		{"inside the margin", now.Add(2 * time.Minute), true},
		{"just outside the margin", now.Add(6 * time.Minute), false},
		{"unknown expiry", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &domain.BankConnection{ExpiresAt: tt.expiresAt}
			if got := Expired(conn, now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToken_ValidTokenReturnedWithoutRefresh(t *testing.T) {
	store := &fakeTokenStore{}
	oauth := &fakeOAuth{}
	mgr := NewTokenManager(store, oauth, zerolog.Nop())

	conn := &domain.BankConnection{
		ID:          "conn-1",
		AccessToken: "valid-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	got, err := mgr.Token(context.Background(), conn)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got != "valid-token" {
		t.Errorf("Token() = %q, want valid-token", got)
	}
	if oauth.calls != 0 {
		t.Errorf("RefreshToken called %d times, want 0", oauth.calls)
	}
}

func TestToken_RefreshesAndPersists(t *testing.T) {
	store := &fakeTokenStore{}
	oauth := &fakeOAuth{token: &truelayer.Token{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		ExpiresIn:    3600,
	}}
	mgr := NewTokenManager(store, oauth, zerolog.Nop())

	conn := &domain.BankConnection{
		ID:           "conn-1",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}

	got, err := mgr.Token(context.Background(), conn)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got != "new-access" {
		t.Errorf("Token() = %q, want new-access", got)
	}
	if store.calls != 1 || store.gotAccess != "new-access" || store.gotRefresh != "new-refresh" {
		t.Errorf("persisted (%q, %q) in %d calls, want (new-access, new-refresh) once",
			store.gotAccess, store.gotRefresh, store.calls)
	}
	if conn.AccessToken != "new-access" || conn.RefreshToken != "new-refresh" {
		t.Errorf("connection not updated in place: %+v", conn)
	}
	if conn.ExpiresAt.Before(time.Now().Add(55 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want roughly an hour out", conn.ExpiresAt)
	}
}

func TestToken_KeepsOldRefreshTokenWhenNotRotated(t *testing.T) {
	store := &fakeTokenStore{}
	oauth := &fakeOAuth{token: &truelayer.Token{AccessToken: "new-access", ExpiresIn: 3600}}
	mgr := NewTokenManager(store, oauth, zerolog.Nop())

	conn := &domain.BankConnection{ID: "conn-1", RefreshToken: "old-refresh"}

	if _, err := mgr.Token(context.Background(), conn); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if store.gotRefresh != "old-refresh" {
		t.Errorf("persisted refresh token %q, want old-refresh", store.gotRefresh)
	}
	if conn.RefreshToken != "old-refresh" {
		t.Errorf("conn.RefreshToken = %q, want old-refresh", conn.RefreshToken)
	}
}

func TestToken_NoRefreshToken(t *testing.T) {
	mgr := NewTokenManager(&fakeTokenStore{}, &fakeOAuth{}, zerolog.Nop())
	conn := &domain.BankConnection{ID: "conn-1"}

	_, err := mgr.Token(context.Background(), conn)
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("Token() error = %v, want ErrNoRefreshToken", err)
	}
}

func TestToken_PersistFailureReturnsError(t *testing.T) {
	store := &fakeTokenStore{err: errors.New("write failed")}
	oauth := &fakeOAuth{token: &truelayer.Token{AccessToken: "new-access", RefreshToken: "r", ExpiresIn: 3600}}
	mgr := NewTokenManager(store, oauth, zerolog.Nop())

	conn := &domain.BankConnection{ID: "conn-1", RefreshToken: "old-refresh"}

	if _, err := mgr.Token(context.Background(), conn); err == nil {
		t.Fatal("Token() error = nil, want persistence error")
	}
	// The connection must not advertise a token that was never persisted.
	if conn.AccessToken == "new-access" {
		t.Error("connection mutated despite failed persistence")
	}
}

func TestToken_ConcurrentCallersRefreshOnce(t *testing.T) {
	store := &fakeTokenStore{}
	oauth := &fakeOAuth{
		token: &truelayer.Token{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresIn: 3600},
		delay: 20 * time.Millisecond,
	}
	mgr := NewTokenManager(store, oauth, zerolog.Nop())

	conn := &domain.BankConnection{
		ID:           "conn-1",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}

	const callers = 5
	var wg gosync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.Token(context.Background(), conn)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: Token() error = %v", i, err)
		}
	}
	if oauth.calls != 1 {
		t.Errorf("RefreshToken called %d times, want 1", oauth.calls)
	}
}
