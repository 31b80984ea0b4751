// Package handlers implements the HTTP surface of the service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/banksync/internal/api/middleware"
	"github.com/dvloznov/banksync/internal/categorize"
	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/jobs"
	"github.com/dvloznov/banksync/internal/provider/truelayer"
	syncsvc "github.com/dvloznov/banksync/internal/sync"
)

// SyncService runs one synchronization pass for a connection.
type SyncService interface {
	Sync(ctx context.Context, req syncsvc.Request) (*syncsvc.Result, error)
}

// CategorizeService runs one categorization pass.
type CategorizeService interface {
	Run(ctx context.Context, batchSize int) (*categorize.RunStats, error)
}

// ConnectionStore is the connection persistence surface the API needs.
type ConnectionStore interface {
	ListActiveConnections(ctx context.Context) ([]*domain.BankConnection, error)
	InsertConnection(ctx context.Context, conn *domain.BankConnection) error
}

// OAuthExchanger turns an authorization code into tokens and identifies
// the provider behind them.
type OAuthExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*truelayer.Token, error)
	Me(ctx context.Context, accessToken string) (*truelayer.Metadata, error)
}

// SyncHandler handles sync-related endpoints.
type SyncHandler struct {
	service SyncService
	log     zerolog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(service SyncService, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{service: service, log: log}
}

type syncAccountResponse struct {
	AccountID        string `json:"account_id"`
	ExternalID       string `json:"external_id,omitempty"`
	Name             string `json:"name"`
	Currency         string `json:"currency"`
	BalanceMinor     int64  `json:"balance_minor"`
	AvailableMinor   *int64 `json:"available_minor,omitempty"`
	SyncType         string `json:"sync_type,omitempty"`
	TransactionCount int    `json:"transaction_count"`
}

// Sync handles POST /api/sync
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectionID string `json:"connection_id"`
		AccountID    string `json:"account_id"`
		Force        bool   `json:"force"`
		BalanceOnly  bool   `json:"balance_only"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ConnectionID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "connection_id is required")
		return
	}

	result, err := h.service.Sync(r.Context(), syncsvc.Request{
		ConnectionID: req.ConnectionID,
		AccountID:    req.AccountID,
		Force:        req.Force,
		BalanceOnly:  req.BalanceOnly,
	})
	if err != nil {
		h.writeSyncError(w, req.ConnectionID, err)
		return
	}

	accounts := make([]syncAccountResponse, 0, len(result.Accounts))
	for _, acc := range result.Accounts {
		item := syncAccountResponse{
			AccountID:        acc.Account.ID,
			ExternalID:       acc.Account.ExternalID,
			Name:             acc.Account.Name,
			Currency:         acc.Account.Currency,
			SyncType:         string(acc.SyncType),
			TransactionCount: acc.TransactionCount,
		}
		if acc.Balance != nil {
			item.BalanceMinor = acc.Balance.CurrentMinor
			item.AvailableMinor = acc.Balance.AvailableMinor
		}
		accounts = append(accounts, item)
	}

	resp := map[string]interface{}{
		"connection_id": req.ConnectionID,
		"last_synced":   result.LastSynced.Format(time.RFC3339),
		"accounts":      accounts,
	}
	if len(result.Warnings) > 0 {
		resp["warning"] = strings.Join(result.Warnings, "; ")
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

func (h *SyncHandler) writeSyncError(w http.ResponseWriter, connectionID string, err error) {
	h.log.Error().Err(err).Str("connection_id", connectionID).Msg("Sync failed")

	var upstream *truelayer.UpstreamError
	switch {
	case errors.Is(err, syncsvc.ErrConnectionNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Connection not found")
	case errors.Is(err, syncsvc.ErrAccountNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, syncsvc.ErrNoRefreshToken):
		middleware.WriteError(w, http.StatusUnauthorized, "Connection requires re-authentication")
	case errors.As(err, &upstream):
		if upstream.Unauthorized() {
			middleware.WriteError(w, http.StatusUnauthorized, "Connection requires re-authentication")
			return
		}
		middleware.WriteError(w, http.StatusBadGateway, "Bank provider request failed")
	default:
		middleware.WriteError(w, http.StatusInternalServerError, "Sync failed")
	}
}

// CategorizeHandler handles categorization endpoints.
type CategorizeHandler struct {
	service CategorizeService
	log     zerolog.Logger
}

// NewCategorizeHandler creates a new categorize handler.
func NewCategorizeHandler(service CategorizeService, log zerolog.Logger) *CategorizeHandler {
	return &CategorizeHandler{service: service, log: log}
}

// Categorize handles POST /api/categorize
func (h *CategorizeHandler) Categorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchSize int `json:"batch_size"`
	}

	// An empty body means default batch size.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	stats, err := h.service.Run(r.Context(), req.BatchSize)
	if err != nil {
		h.log.Error().Err(err).Msg("Categorization pass failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Categorization failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, stats)
}

// ConnectionsHandler handles connection-related endpoints.
type ConnectionsHandler struct {
	store ConnectionStore
	oauth OAuthExchanger
	log   zerolog.Logger
}

// NewConnectionsHandler creates a new connections handler.
func NewConnectionsHandler(store ConnectionStore, oauth OAuthExchanger, log zerolog.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{store: store, oauth: oauth, log: log}
}

type connectionResponse struct {
	ConnectionID    string `json:"connection_id"`
	UserID          string `json:"user_id"`
	Provider        string `json:"provider"`
	InstitutionName string `json:"institution_name,omitempty"`
	Status          string `json:"status"`
	LastSyncedAt    string `json:"last_synced_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// ListConnections handles GET /api/connections. Tokens never leave the
// service, so the response carries metadata only.
func (h *ConnectionsHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.store.ListActiveConnections(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list connections")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list connections")
		return
	}

	items := make([]connectionResponse, 0, len(conns))
	for _, conn := range conns {
		item := connectionResponse{
			ConnectionID:    conn.ID,
			UserID:          conn.UserID,
			Provider:        conn.Provider,
			InstitutionName: conn.InstitutionName,
			Status:          conn.Status,
			CreatedAt:       conn.CreatedAt.Format(time.RFC3339),
		}
		if !conn.LastSyncedAt.IsZero() {
			item.LastSyncedAt = conn.LastSyncedAt.Format(time.RFC3339)
		}
		items = append(items, item)
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"connections": items,
		"count":       len(items),
	})
}

// CreateConnection handles POST /api/connections. It exchanges the
// OAuth authorization code for tokens and stores the new connection.
func (h *ConnectionsHandler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code        string `json:"code"`
		RedirectURI string `json:"redirect_uri"`
		UserID      string `json:"user_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Code == "" || req.UserID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "code and user_id are required")
		return
	}

	ctx := r.Context()

	token, err := h.oauth.ExchangeCode(ctx, req.Code, req.RedirectURI)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to exchange authorization code")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to exchange authorization code")
		return
	}

	conn := &domain.BankConnection{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
		Status:       domain.ConnectionStatusActive,
		CreatedAt:    time.Now(),
	}

	// Identity lookup is best effort; a connection without provider
	// metadata still syncs.
	if meta, err := h.oauth.Me(ctx, token.AccessToken); err != nil {
		h.log.Warn().Err(err).Msg("Failed to load provider metadata for new connection")
	} else {
		conn.Provider = meta.Provider.ProviderID
		conn.InstitutionID = meta.Provider.ProviderID
		conn.InstitutionName = meta.Provider.DisplayName
	}

	if err := h.store.InsertConnection(ctx, conn); err != nil {
		h.log.Error().Err(err).Msg("Failed to store connection")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store connection")
		return
	}

	h.log.Info().
		Str("connection_id", conn.ID).
		Str("provider", conn.Provider).
		Msg("Bank connection created")

	middleware.WriteJSON(w, http.StatusCreated, connectionResponse{
		ConnectionID:    conn.ID,
		UserID:          conn.UserID,
		Provider:        conn.Provider,
		InstitutionName: conn.InstitutionName,
		Status:          conn.Status,
		CreatedAt:       conn.CreatedAt.Format(time.RFC3339),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{store: store, log: log}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		ConnectionID: query.Get("connection_id"),
		Type:         jobs.JobType(query.Get("type")),
		Status:       jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
