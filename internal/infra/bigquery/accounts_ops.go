package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/banksync/internal/domain"
)

const accountColumns = `
	account_id,
	user_id,
	connection_id,
	external_id,
	account_name,
	currency,
	created_ts,
	updated_ts
`

// FindAccountByExternalID finds an account by the sync upsert key
// (user_id, external_id). Returns nil when no such account exists.
func FindAccountByExternalID(ctx context.Context, userID, externalID string) (*domain.Account, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("FindAccountByExternalID: bigquery client: %w", err)
	}
	defer client.Close()

	return FindAccountByExternalIDWithClient(ctx, client, userID, externalID)
}

// FindAccountByExternalIDWithClient finds an account using the provided
// BigQuery client.
func FindAccountByExternalIDWithClient(ctx context.Context, client *bigquery.Client, userID, externalID string) (*domain.Account, error) {
	if externalID == "" {
		return nil, fmt.Errorf("FindAccountByExternalID: external_id cannot be empty")
	}

	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE user_id = @user_id
		  AND external_id = @external_id
		ORDER BY created_ts
		LIMIT 1
	`, accountColumns, projectID, datasetID, accountsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "external_id", Value: externalID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindAccountByExternalID: query read: %w", err)
	}

	var row AccountRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindAccountByExternalID: iter next: %w", err)
	}

	return accountToDomain(&row), nil
}

// InsertAccount creates a new account row.
func InsertAccount(ctx context.Context, account *domain.Account) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("InsertAccount: bigquery client: %w", err)
	}
	defer client.Close()

	return InsertAccountWithClient(ctx, client, account)
}

// InsertAccountWithClient creates a new account row using the provided
// BigQuery client.
func InsertAccountWithClient(ctx context.Context, client *bigquery.Client, account *domain.Account) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.%s`"+` (
			account_id, user_id, connection_id, external_id,
			account_name, currency, created_ts
		)
		VALUES (
			@account_id, @user_id, @connection_id, @external_id,
			@account_name, @currency, @created_ts
		)
	`, projectID, datasetID, accountsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: account.ID},
		{Name: "user_id", Value: account.UserID},
		{Name: "connection_id", Value: nullableString(account.ConnectionID)},
		{Name: "external_id", Value: nullableString(account.ExternalID)},
		{Name: "account_name", Value: account.Name},
		{Name: "currency", Value: account.Currency},
		{Name: "created_ts", Value: account.CreatedAt},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertAccount: %w", err)
	}
	return nil
}

// UpdateAccountName refreshes the display name after a provider rename.
func UpdateAccountName(ctx context.Context, accountID, name string) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("UpdateAccountName: bigquery client: %w", err)
	}
	defer client.Close()

	return UpdateAccountNameWithClient(ctx, client, accountID, name)
}

// UpdateAccountNameWithClient refreshes the display name using the
// provided BigQuery client.
func UpdateAccountNameWithClient(ctx context.Context, client *bigquery.Client, accountID, name string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET account_name = @account_name,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE account_id = @account_id
	`, projectID, datasetID, accountsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_name", Value: name},
		{Name: "account_id", Value: accountID},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("UpdateAccountName: %w", err)
	}
	return nil
}

// ListAccountsByConnection returns all accounts discovered under one
// connection.
func ListAccountsByConnection(ctx context.Context, connectionID string) ([]*domain.Account, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ListAccountsByConnection: bigquery client: %w", err)
	}
	defer client.Close()

	return ListAccountsByConnectionWithClient(ctx, client, connectionID)
}

// ListAccountsByConnectionWithClient returns all accounts under one
// connection using the provided BigQuery client.
func ListAccountsByConnectionWithClient(ctx context.Context, client *bigquery.Client, connectionID string) ([]*domain.Account, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE connection_id = @connection_id
		ORDER BY created_ts
	`, accountColumns, projectID, datasetID, accountsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "connection_id", Value: connectionID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAccountsByConnection: query read: %w", err)
	}

	var accounts []*domain.Account
	for {
		var row AccountRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListAccountsByConnection: iter next: %w", err)
		}
		accounts = append(accounts, accountToDomain(&row))
	}

	return accounts, nil
}
