// Package sync implements the bank synchronization pipeline: token
// lifecycle, per-account sync planning, and idempotent transaction
// ingestion with category-preserving conflict resolution.
package sync

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/provider/truelayer"
)

// Store is the persistence surface the sync service needs.
type Store interface {
	TransactionStore

	GetConnection(ctx context.Context, connectionID string) (*domain.BankConnection, error)
	MarkConnectionSynced(ctx context.Context, connectionID string, syncedAt time.Time) error

	FindAccountByExternalID(ctx context.Context, userID, externalID string) (*domain.Account, error)
	InsertAccount(ctx context.Context, account *domain.Account) error
	UpdateAccountName(ctx context.Context, accountID, name string) error

	InsertBalance(ctx context.Context, balance *domain.AccountBalance) error
	LatestTransactionDate(ctx context.Context, accountID string) (*civil.Date, error)
}

// Provider is the upstream data API surface consumed during a sync.
type Provider interface {
	Accounts(ctx context.Context, accessToken string) ([]truelayer.Account, error)
	Balance(ctx context.Context, accessToken, accountID string) (*truelayer.Balance, error)
	Transactions(ctx context.Context, accessToken, accountID string, from *civil.Date) ([]truelayer.Transaction, error)
}

// TokenSource supplies a valid access token for a connection.
type TokenSource interface {
	Token(ctx context.Context, conn *domain.BankConnection) (string, error)
}

// Archiver stores raw provider payloads for audit. May be nil.
type Archiver interface {
	Archive(ctx context.Context, kind string, payload interface{}) (string, error)
}

// Request is one sync invocation.
type Request struct {
	ConnectionID string
	// AccountID optionally restricts the sync to one account, matched
	// against the local account id or the provider's external id.
	AccountID   string
	Force       bool
	BalanceOnly bool
}

// AccountResult is the outcome for one successfully processed account.
type AccountResult struct {
	Account          *domain.Account
	Balance          *domain.AccountBalance
	SyncType         Mode
	TransactionCount int
}

// Result aggregates one sync invocation. Warnings carries per-account
// failures that did not abort the run.
type Result struct {
	Accounts      []AccountResult
	Warnings      []string
	LastSynced    time.Time
	TargetAccount string
}

// Service runs the sync pipeline over all accounts of a connection.
// Accounts are processed sequentially with per-account failure
// isolation: one account's failure becomes a warning, never aborts the
// siblings.
type Service struct {
	store    Store
	provider Provider
	tokens   TokenSource
	ingestor *Ingestor
	archiver Archiver
	log      zerolog.Logger
}

// NewService creates a sync service. archiver may be nil to disable raw
// payload archiving.
func NewService(store Store, provider Provider, tokens TokenSource, ingestor *Ingestor, archiver Archiver, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		provider: provider,
		tokens:   tokens,
		ingestor: ingestor,
		archiver: archiver,
		log:      log,
	}
}

// Sync executes one sync invocation. Auth and account-listing failures
// are fatal; everything downstream of the account loop is isolated per
// account.
func (s *Service) Sync(ctx context.Context, req Request) (*Result, error) {
	conn, err := s.store.GetConnection(ctx, req.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("Sync: loading connection %s: %w", req.ConnectionID, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("Sync: connection %s: %w", req.ConnectionID, ErrConnectionNotFound)
	}

	token, err := s.tokens.Token(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("Sync: %w", err)
	}

	remoteAccounts, err := s.provider.Accounts(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("Sync: listing remote accounts: %w", err)
	}
	s.archive(ctx, "accounts", remoteAccounts)

	now := time.Now()
	result := &Result{LastSynced: now, TargetAccount: req.AccountID}
	targetMatched := false

	for _, remote := range remoteAccounts {
		accountResult, matched, err := s.syncAccount(ctx, conn, token, remote, req, now)
		if err != nil {
			s.log.Error().
				Err(err).
				Str("connection_id", conn.ID).
				Str("external_id", remote.AccountID).
				Msg("Account sync failed, continuing with remaining accounts")
			result.Warnings = append(result.Warnings, fmt.Sprintf("account %s: %v", remote.AccountID, err))
			continue
		}
		if !matched {
			continue
		}
		targetMatched = true
		result.Accounts = append(result.Accounts, *accountResult)
	}

	if req.AccountID != "" && !targetMatched && len(result.Warnings) == 0 {
		return nil, fmt.Errorf("Sync: account %s: %w", req.AccountID, ErrAccountNotFound)
	}

	if err := s.store.MarkConnectionSynced(ctx, conn.ID, now); err != nil {
		// Sync work is already persisted; a failed bookkeeping update is
		// reported as a warning instead of failing the request.
		s.log.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to record sync completion")
		result.Warnings = append(result.Warnings, fmt.Sprintf("connection %s: recording sync completion: %v", conn.ID, err))
	}

	return result, nil
}

// syncAccount runs the per-account pipeline: upsert the local account,
// append a balance snapshot, then plan and ingest transactions. The
// second return value is false when the account was filtered out by
// req.AccountID.
func (s *Service) syncAccount(ctx context.Context, conn *domain.BankConnection, token string, remote truelayer.Account, req Request, now time.Time) (*AccountResult, bool, error) {
	account, err := s.upsertAccount(ctx, conn, remote, now)
	if err != nil {
		return nil, false, err
	}

	if req.AccountID != "" && req.AccountID != account.ID && req.AccountID != account.ExternalID {
		return nil, false, nil
	}

	balance, err := s.recordBalance(ctx, token, account, remote, now)
	if err != nil {
		return nil, false, err
	}

	accountResult := &AccountResult{Account: account, Balance: balance}
	if req.BalanceOnly {
		return accountResult, true, nil
	}

	lastDate, err := s.store.LatestTransactionDate(ctx, account.ID)
	if err != nil {
		return nil, false, fmt.Errorf("loading latest transaction date: %w", err)
	}

	plan := PlanSync(lastDate, req.Force, now)
	if plan.Mode == ModeAutoFull {
		s.log.Info().
			Str("account_id", account.ID).
			Str("last_date", lastDate.String()).
			Msg("Incremental sync auto-promoted to full due to staleness")
	}

	records, err := s.provider.Transactions(ctx, token, remote.AccountID, plan.From)
	if err != nil {
		return nil, false, fmt.Errorf("fetching transactions: %w", err)
	}
	s.archive(ctx, "transactions-"+remote.AccountID, records)

	stats, err := s.ingestor.Ingest(ctx, account, records)
	if err != nil {
		return nil, false, err
	}

	s.log.Info().
		Str("account_id", account.ID).
		Str("sync_type", string(plan.Mode)).
		Int("inserted", stats.Inserted).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Msg("Account synced")

	accountResult.SyncType = plan.Mode
	accountResult.TransactionCount = stats.Total()
	return accountResult, true, nil
}

// upsertAccount matches the remote account to a local one by
// (userID, externalID), creating it on first discovery and refreshing
// the display name on subsequent syncs. The same external id under the
// same user never produces a second local account.
func (s *Service) upsertAccount(ctx context.Context, conn *domain.BankConnection, remote truelayer.Account, now time.Time) (*domain.Account, error) {
	account, err := s.store.FindAccountByExternalID(ctx, conn.UserID, remote.AccountID)
	if err != nil {
		return nil, fmt.Errorf("finding account by external id: %w", err)
	}

	if account == nil {
		account = &domain.Account{
			ID:           uuid.NewString(),
			UserID:       conn.UserID,
			ConnectionID: conn.ID,
			ExternalID:   remote.AccountID,
			Name:         remote.Name(),
			Currency:     remote.Currency,
			CreatedAt:    now,
		}
		if err := s.store.InsertAccount(ctx, account); err != nil {
			return nil, fmt.Errorf("creating account: %w", err)
		}
		s.log.Info().
			Str("account_id", account.ID).
			Str("external_id", remote.AccountID).
			Msg("Discovered new remote account")
		return account, nil
	}

	if name := remote.Name(); name != account.Name {
		if err := s.store.UpdateAccountName(ctx, account.ID, name); err != nil {
			return nil, fmt.Errorf("updating account name: %w", err)
		}
		account.Name = name
	}
	return account, nil
}

// recordBalance appends a new balance snapshot. Balances are never
// updated in place.
func (s *Service) recordBalance(ctx context.Context, token string, account *domain.Account, remote truelayer.Account, now time.Time) (*domain.AccountBalance, error) {
	remoteBalance, err := s.provider.Balance(ctx, token, remote.AccountID)
	if err != nil {
		return nil, fmt.Errorf("fetching balance: %w", err)
	}

	balance := &domain.AccountBalance{
		ID:           uuid.NewString(),
		AccountID:    account.ID,
		CurrentMinor: minorUnits(remoteBalance.Current),
		Currency:     remoteBalance.Currency,
		RecordedAt:   now,
	}
	if remoteBalance.Available != nil {
		available := minorUnits(*remoteBalance.Available)
		balance.AvailableMinor = &available
	}

	if err := s.store.InsertBalance(ctx, balance); err != nil {
		return nil, fmt.Errorf("recording balance snapshot: %w", err)
	}
	return balance, nil
}

// archive writes a raw provider payload snapshot; failures are logged
// and never fail the sync.
func (s *Service) archive(ctx context.Context, kind string, payload interface{}) {
	if s.archiver == nil {
		return
	}
	uri, err := s.archiver.Archive(ctx, kind, payload)
	if err != nil {
		s.log.Warn().Err(err).Str("kind", kind).Msg("Failed to archive provider payload")
		return
	}
	s.log.Debug().Str("kind", kind).Str("uri", uri).Msg("Archived provider payload")
}
