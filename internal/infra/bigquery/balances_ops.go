package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/banksync/internal/domain"
)

// InsertBalance appends one balance snapshot. Balances are append-only,
// so the row goes through the streaming inserter rather than a DML
// INSERT.
func InsertBalance(ctx context.Context, balance *domain.AccountBalance) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("InsertBalance: bigquery client: %w", err)
	}
	defer client.Close()

	return InsertBalanceWithClient(ctx, client, balance)
}

// InsertBalanceWithClient appends one balance snapshot using the
// provided BigQuery client.
func InsertBalanceWithClient(ctx context.Context, client *bigquery.Client, balance *domain.AccountBalance) error {
	table := client.DatasetInProject(projectID, datasetID).Table(balancesTable)
	if err := table.Inserter().Put(ctx, balanceToRow(balance)); err != nil {
		return fmt.Errorf("InsertBalance: inserting row: %w", err)
	}
	return nil
}

// LatestBalance returns the most recent snapshot for an account, or nil
// when none has been recorded.
func LatestBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("LatestBalance: bigquery client: %w", err)
	}
	defer client.Close()

	return LatestBalanceWithClient(ctx, client, accountID)
}

// LatestBalanceWithClient returns the most recent snapshot using the
// provided BigQuery client.
func LatestBalanceWithClient(ctx context.Context, client *bigquery.Client, accountID string) (*domain.AccountBalance, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			balance_id,
			account_id,
			current_minor,
			available_minor,
			currency,
			recorded_ts
		FROM `+"`%s.%s.%s`"+`
		WHERE account_id = @account_id
		ORDER BY recorded_ts DESC
		LIMIT 1
	`, projectID, datasetID, balancesTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LatestBalance: query read: %w", err)
	}

	var row BalanceRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestBalance: iter next: %w", err)
	}

	return balanceToDomain(&row), nil
}
