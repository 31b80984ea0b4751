package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/banksync/internal/categorize"
	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/provider/truelayer"
	syncsvc "github.com/dvloznov/banksync/internal/sync"
)

type fakeSyncService struct {
	result  *syncsvc.Result
	err     error
	gotReq  syncsvc.Request
	invoked bool
}

func (f *fakeSyncService) Sync(ctx context.Context, req syncsvc.Request) (*syncsvc.Result, error) {
	f.invoked = true
	f.gotReq = req
	return f.result, f.err
}

type fakeCategorizeService struct {
	stats        *categorize.RunStats
	err          error
	gotBatchSize int
}

func (f *fakeCategorizeService) Run(ctx context.Context, batchSize int) (*categorize.RunStats, error) {
	f.gotBatchSize = batchSize
	return f.stats, f.err
}

type fakeConnStore struct {
	conns     []*domain.BankConnection
	listErr   error
	inserted  *domain.BankConnection
	insertErr error
}

func (f *fakeConnStore) ListActiveConnections(ctx context.Context) ([]*domain.BankConnection, error) {
	return f.conns, f.listErr
}

func (f *fakeConnStore) InsertConnection(ctx context.Context, conn *domain.BankConnection) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = conn
	return nil
}

type fakeOAuth struct {
	token       *truelayer.Token
	exchangeErr error
	meta        *truelayer.Metadata
	meErr       error
}

func (f *fakeOAuth) ExchangeCode(ctx context.Context, code, redirectURI string) (*truelayer.Token, error) {
	return f.token, f.exchangeErr
}

func (f *fakeOAuth) Me(ctx context.Context, accessToken string) (*truelayer.Metadata, error) {
	return f.meta, f.meErr
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

func TestSyncHandler_Success(t *testing.T) {
	available := int64(9500)
	svc := &fakeSyncService{result: &syncsvc.Result{
		Accounts: []syncsvc.AccountResult{
			{
				Account:          &domain.Account{ID: "acc-1", ExternalID: "ext-a", Name: "Current", Currency: "GBP"},
				Balance:          &domain.AccountBalance{CurrentMinor: 10000, AvailableMinor: &available},
				SyncType:         syncsvc.ModeIncremental,
				TransactionCount: 4,
			},
		},
		Warnings:   []string{"account ext-b: balance fetch failed", "account ext-c: timeout"},
		LastSynced: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}}
	handler := NewSyncHandler(svc, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/sync",
		strings.NewReader(`{"connection_id":"conn-1","force":true}`))
	rec := httptest.NewRecorder()
	handler.Sync(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if !svc.gotReq.Force || svc.gotReq.ConnectionID != "conn-1" {
		t.Errorf("service received %+v", svc.gotReq)
	}

	body := decodeBody(t, rec)
	warning, _ := body["warning"].(string)
	if !strings.Contains(warning, "ext-b") || !strings.Contains(warning, "; ") {
		t.Errorf("warning = %q, want joined per-account warnings", warning)
	}
	accounts, _ := body["accounts"].([]interface{})
	if len(accounts) != 1 {
		t.Fatalf("accounts = %v, want 1 entry", body["accounts"])
	}
	account := accounts[0].(map[string]interface{})
	if account["sync_type"] != "incremental" || account["balance_minor"] != float64(10000) {
		t.Errorf("account entry = %v", account)
	}
}

func TestSyncHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"connection not found", syncsvc.ErrConnectionNotFound, http.StatusNotFound},
		{"account not found", syncsvc.ErrAccountNotFound, http.StatusNotFound},
		{"no refresh token", syncsvc.ErrNoRefreshToken, http.StatusUnauthorized},
		{
			"upstream unauthorized",
			&truelayer.UpstreamError{Operation: "accounts", StatusCode: http.StatusUnauthorized},
			http.StatusUnauthorized,
		},
		{
			"upstream server error",
			&truelayer.UpstreamError{Operation: "accounts", StatusCode: http.StatusInternalServerError},
			http.StatusBadGateway,
		},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSyncHandler(&fakeSyncService{err: tt.err}, zerolog.Nop())
			req := httptest.NewRequest(http.MethodPost, "/api/sync",
				strings.NewReader(`{"connection_id":"conn-1"}`))
			rec := httptest.NewRecorder()
			handler.Sync(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestSyncHandler_RequiresConnectionID(t *testing.T) {
	svc := &fakeSyncService{}
	handler := NewSyncHandler(svc, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.Sync(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if svc.invoked {
		t.Error("service was invoked without a connection id")
	}
}

func TestCategorizeHandler(t *testing.T) {
	svc := &fakeCategorizeService{stats: &categorize.RunStats{Cached: 3, Classified: 2, Pending: 1}}
	handler := NewCategorizeHandler(svc, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/categorize",
		strings.NewReader(`{"batch_size":10}`))
	rec := httptest.NewRecorder()
	handler.Categorize(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.gotBatchSize != 10 {
		t.Errorf("batch size = %d, want 10", svc.gotBatchSize)
	}
	body := decodeBody(t, rec)
	if body["cached"] != float64(3) || body["ai_classified"] != float64(2) || body["pending"] != float64(1) {
		t.Errorf("body = %v", body)
	}
}

func TestCategorizeHandler_EmptyBodyUsesDefaults(t *testing.T) {
	svc := &fakeCategorizeService{stats: &categorize.RunStats{}}
	handler := NewCategorizeHandler(svc, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/categorize", strings.NewReader(""))
	rec := httptest.NewRecorder()
	handler.Categorize(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.gotBatchSize != 0 {
		t.Errorf("batch size = %d, want 0 passed through for defaulting", svc.gotBatchSize)
	}
}

func TestConnectionsHandler_ListRedactsTokens(t *testing.T) {
	store := &fakeConnStore{conns: []*domain.BankConnection{
		{
			ID:           "conn-1",
			UserID:       "user-1",
			Provider:     "mock-bank",
			AccessToken:  "super-secret",
			RefreshToken: "even-more-secret",
			Status:       domain.ConnectionStatusActive,
			CreatedAt:    time.Now(),
		},
	}}
	handler := NewConnectionsHandler(store, &fakeOAuth{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	rec := httptest.NewRecorder()
	handler.ListConnections(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); strings.Contains(body, "secret") {
		t.Errorf("response leaks tokens: %s", body)
	}
}

func TestConnectionsHandler_Create(t *testing.T) {
	store := &fakeConnStore{}
	oauth := &fakeOAuth{
		token: &truelayer.Token{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600},
		meta: &truelayer.Metadata{
			Provider: truelayer.MetadataProvider{ProviderID: "mock-bank", DisplayName: "Mock Bank"},
		},
	}
	handler := NewConnectionsHandler(store, oauth, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/connections",
		strings.NewReader(`{"code":"auth-code","user_id":"user-1"}`))
	rec := httptest.NewRecorder()
	handler.CreateConnection(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}
	if store.inserted == nil {
		t.Fatal("connection was not stored")
	}
	if store.inserted.Provider != "mock-bank" || store.inserted.RefreshToken != "rt" {
		t.Errorf("stored connection = %+v", store.inserted)
	}
	if store.inserted.Status != domain.ConnectionStatusActive {
		t.Errorf("Status = %q, want ACTIVE", store.inserted.Status)
	}
}

func TestConnectionsHandler_CreateExchangeFails(t *testing.T) {
	handler := NewConnectionsHandler(&fakeConnStore{}, &fakeOAuth{exchangeErr: errors.New("bad code")}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/connections",
		strings.NewReader(`{"code":"bad","user_id":"user-1"}`))
	rec := httptest.NewRecorder()
	handler.CreateConnection(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestConnectionsHandler_CreateValidation(t *testing.T) {
	handler := NewConnectionsHandler(&fakeConnStore{}, &fakeOAuth{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/connections",
		strings.NewReader(`{"code":"auth-code"}`))
	rec := httptest.NewRecorder()
	handler.CreateConnection(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
