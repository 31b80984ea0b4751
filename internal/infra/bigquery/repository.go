// Package bigquery persists bank connections, accounts, balance
// snapshots, transactions and categories in BigQuery.
//
// Every operation comes in two flavors: a package-level function that
// creates a throwaway client, and a WithClient variant for callers that
// hold a shared one. Repository wraps the WithClient variants behind
// the interfaces the sync and categorization services consume.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/banksync/internal/categorize"
	"github.com/dvloznov/banksync/internal/domain"
)

const (
	projectID = "studious-union-470122-v7"
	datasetID = "banksync"

	connectionsTable  = "bank_connections"
	accountsTable     = "accounts"
	balancesTable     = "account_balances"
	transactionsTable = "transactions"
	categoriesTable   = "categories"
)

// Repository is a BigQuery-backed store sharing one client across
// operations.
type Repository struct {
	client *bigquery.Client
}

// NewRepository creates a repository with its own BigQuery client.
func NewRepository(ctx context.Context) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: bigquery client: %w", err)
	}
	return &Repository{client: client}, nil
}

// Close releases the underlying client.
func (r *Repository) Close() error {
	return r.client.Close()
}

func (r *Repository) GetConnection(ctx context.Context, connectionID string) (*domain.BankConnection, error) {
	return GetConnectionWithClient(ctx, r.client, connectionID)
}

func (r *Repository) ListActiveConnections(ctx context.Context) ([]*domain.BankConnection, error) {
	return ListActiveConnectionsWithClient(ctx, r.client)
}

func (r *Repository) InsertConnection(ctx context.Context, conn *domain.BankConnection) error {
	return InsertConnectionWithClient(ctx, r.client, conn)
}

func (r *Repository) UpdateConnectionTokens(ctx context.Context, connectionID, accessToken, refreshToken string, expiresAt time.Time) error {
	return UpdateConnectionTokensWithClient(ctx, r.client, connectionID, accessToken, refreshToken, expiresAt)
}

func (r *Repository) MarkConnectionSynced(ctx context.Context, connectionID string, syncedAt time.Time) error {
	return MarkConnectionSyncedWithClient(ctx, r.client, connectionID, syncedAt)
}

func (r *Repository) SetConnectionStatus(ctx context.Context, connectionID, status string) error {
	return SetConnectionStatusWithClient(ctx, r.client, connectionID, status)
}

func (r *Repository) FindAccountByExternalID(ctx context.Context, userID, externalID string) (*domain.Account, error) {
	return FindAccountByExternalIDWithClient(ctx, r.client, userID, externalID)
}

func (r *Repository) InsertAccount(ctx context.Context, account *domain.Account) error {
	return InsertAccountWithClient(ctx, r.client, account)
}

func (r *Repository) UpdateAccountName(ctx context.Context, accountID, name string) error {
	return UpdateAccountNameWithClient(ctx, r.client, accountID, name)
}

func (r *Repository) ListAccountsByConnection(ctx context.Context, connectionID string) ([]*domain.Account, error) {
	return ListAccountsByConnectionWithClient(ctx, r.client, connectionID)
}

func (r *Repository) InsertBalance(ctx context.Context, balance *domain.AccountBalance) error {
	return InsertBalanceWithClient(ctx, r.client, balance)
}

func (r *Repository) LatestBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	return LatestBalanceWithClient(ctx, r.client, accountID)
}

func (r *Repository) FindTransactionByExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error) {
	return FindTransactionByExternalIDWithClient(ctx, r.client, accountID, externalID)
}

func (r *Repository) FindTransactionByNaturalKey(ctx context.Context, accountID string, amountMinor int64, payee string, date civil.Date) (*domain.Transaction, error) {
	return FindTransactionByNaturalKeyWithClient(ctx, r.client, accountID, amountMinor, payee, date)
}

func (r *Repository) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	return InsertTransactionWithClient(ctx, r.client, tx)
}

func (r *Repository) UpdateTransactionOnSync(ctx context.Context, transactionID, notes, externalID, userCategoryID, predefinedCategoryID string) error {
	return UpdateTransactionOnSyncWithClient(ctx, r.client, transactionID, notes, externalID, userCategoryID, predefinedCategoryID)
}

func (r *Repository) UpdateTransactionCategory(ctx context.Context, transactionID, predefinedCategoryID string) error {
	return UpdateTransactionCategoryWithClient(ctx, r.client, transactionID, predefinedCategoryID)
}

func (r *Repository) LatestTransactionDate(ctx context.Context, accountID string) (*civil.Date, error) {
	return LatestTransactionDateWithClient(ctx, r.client, accountID)
}

func (r *Repository) ListPendingExpenses(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	return ListPendingExpensesWithClient(ctx, r.client, limit)
}

func (r *Repository) CategorizedPayeeCounts(ctx context.Context) ([]categorize.PayeeCount, error) {
	return CategorizedPayeeCountsWithClient(ctx, r.client)
}

func (r *Repository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return ListCategoriesWithClient(ctx, r.client)
}

func (r *Repository) FindCategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	return FindCategoryByNameWithClient(ctx, r.client, name)
}
