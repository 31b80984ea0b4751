package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/banksync/internal/categorize"
	"github.com/dvloznov/banksync/internal/domain"
)

const transactionColumns = `
	transaction_id,
	account_id,
	amount_minor,
	payee,
	notes,
	transaction_date,
	external_id,
	user_category_id,
	predefined_category_id,
	created_ts,
	updated_ts
`

// FindTransactionByExternalID finds a transaction by the provider's id
// within one account. Returns nil when no such row exists.
func FindTransactionByExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionByExternalID: bigquery client: %w", err)
	}
	defer client.Close()

	return FindTransactionByExternalIDWithClient(ctx, client, accountID, externalID)
}

// FindTransactionByExternalIDWithClient finds a transaction by provider
// id using the provided BigQuery client.
func FindTransactionByExternalIDWithClient(ctx context.Context, client *bigquery.Client, accountID, externalID string) (*domain.Transaction, error) {
	if externalID == "" {
		return nil, nil
	}

	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE account_id = @account_id
		  AND external_id = @external_id
		ORDER BY created_ts
		LIMIT 1
	`, transactionColumns, projectID, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "external_id", Value: externalID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionByExternalID: query read: %w", err)
	}

	var row TransactionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindTransactionByExternalID: iter next: %w", err)
	}

	return transactionToDomain(&row), nil
}

// FindTransactionByNaturalKey finds a transaction by its dedup key
// (account, amount, payee, date). Returns nil when no such row exists.
func FindTransactionByNaturalKey(ctx context.Context, accountID string, amountMinor int64, payee string, date civil.Date) (*domain.Transaction, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionByNaturalKey: bigquery client: %w", err)
	}
	defer client.Close()

	return FindTransactionByNaturalKeyWithClient(ctx, client, accountID, amountMinor, payee, date)
}

// FindTransactionByNaturalKeyWithClient finds a transaction by dedup
// key using the provided BigQuery client.
func FindTransactionByNaturalKeyWithClient(ctx context.Context, client *bigquery.Client, accountID string, amountMinor int64, payee string, date civil.Date) (*domain.Transaction, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE account_id = @account_id
		  AND amount_minor = @amount_minor
		  AND payee = @payee
		  AND transaction_date = @transaction_date
		ORDER BY created_ts
		LIMIT 1
	`, transactionColumns, projectID, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "amount_minor", Value: amountMinor},
		{Name: "payee", Value: payee},
		{Name: "transaction_date", Value: date},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionByNaturalKey: query read: %w", err)
	}

	var row TransactionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindTransactionByNaturalKey: iter next: %w", err)
	}

	return transactionToDomain(&row), nil
}

// InsertTransaction creates a new transaction row. The row goes through
// DML rather than the streaming inserter because the categorization
// worker may need to UPDATE it right away, and streamed rows sit in a
// buffer where DML cannot touch them.
func InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("InsertTransaction: bigquery client: %w", err)
	}
	defer client.Close()

	return InsertTransactionWithClient(ctx, client, tx)
}

// InsertTransactionWithClient creates a new transaction row using the
// provided BigQuery client.
func InsertTransactionWithClient(ctx context.Context, client *bigquery.Client, tx *domain.Transaction) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.%s`"+` (
			transaction_id, account_id,
			amount_minor, payee, notes, transaction_date,
			external_id, user_category_id, predefined_category_id,
			created_ts
		)
		VALUES (
			@transaction_id, @account_id,
			@amount_minor, @payee, @notes, @transaction_date,
			@external_id, @user_category_id, @predefined_category_id,
			@created_ts
		)
	`, projectID, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: tx.ID},
		{Name: "account_id", Value: tx.AccountID},
		{Name: "amount_minor", Value: tx.AmountMinor},
		{Name: "payee", Value: tx.Payee},
		{Name: "notes", Value: nullableString(tx.Notes)},
		{Name: "transaction_date", Value: tx.Date},
		{Name: "external_id", Value: nullableString(tx.ExternalID)},
		{Name: "user_category_id", Value: nullableString(tx.UserCategoryID)},
		{Name: "predefined_category_id", Value: nullableString(tx.PredefinedCategoryID)},
		{Name: "created_ts", Value: tx.CreatedAt},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertTransaction: %w", err)
	}
	return nil
}

// UpdateTransactionOnSync refreshes the mutable sync fields of an
// existing row. Category values are passed through as decided by the
// ingestor; empty string writes NULL.
func UpdateTransactionOnSync(ctx context.Context, transactionID, notes, externalID, userCategoryID, predefinedCategoryID string) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("UpdateTransactionOnSync: bigquery client: %w", err)
	}
	defer client.Close()

	return UpdateTransactionOnSyncWithClient(ctx, client, transactionID, notes, externalID, userCategoryID, predefinedCategoryID)
}

// UpdateTransactionOnSyncWithClient refreshes the mutable sync fields
// using the provided BigQuery client.
func UpdateTransactionOnSyncWithClient(ctx context.Context, client *bigquery.Client, transactionID, notes, externalID, userCategoryID, predefinedCategoryID string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET notes = @notes,
		    external_id = @external_id,
		    user_category_id = @user_category_id,
		    predefined_category_id = @predefined_category_id,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE transaction_id = @transaction_id
	`, projectID, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "notes", Value: nullableString(notes)},
		{Name: "external_id", Value: nullableString(externalID)},
		{Name: "user_category_id", Value: nullableString(userCategoryID)},
		{Name: "predefined_category_id", Value: nullableString(predefinedCategoryID)},
		{Name: "transaction_id", Value: transactionID},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("UpdateTransactionOnSync: %w", err)
	}
	return nil
}

// UpdateTransactionCategory sets the predefined category on a row that
// the categorization engine resolved.
func UpdateTransactionCategory(ctx context.Context, transactionID, predefinedCategoryID string) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("UpdateTransactionCategory: bigquery client: %w", err)
	}
	defer client.Close()

	return UpdateTransactionCategoryWithClient(ctx, client, transactionID, predefinedCategoryID)
}

// UpdateTransactionCategoryWithClient sets the predefined category
// using the provided BigQuery client.
func UpdateTransactionCategoryWithClient(ctx context.Context, client *bigquery.Client, transactionID, predefinedCategoryID string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET predefined_category_id = @predefined_category_id,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE transaction_id = @transaction_id
	`, projectID, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "predefined_category_id", Value: predefinedCategoryID},
		{Name: "transaction_id", Value: transactionID},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("UpdateTransactionCategory: %w", err)
	}
	return nil
}

// LatestTransactionDate returns the newest transaction date stored for
// an account, or nil when the account has no transactions yet.
func LatestTransactionDate(ctx context.Context, accountID string) (*civil.Date, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("LatestTransactionDate: bigquery client: %w", err)
	}
	defer client.Close()

	return LatestTransactionDateWithClient(ctx, client, accountID)
}

// LatestTransactionDateWithClient returns the newest transaction date
// using the provided BigQuery client.
func LatestTransactionDateWithClient(ctx context.Context, client *bigquery.Client, accountID string) (*civil.Date, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT MAX(transaction_date) AS latest_date
		FROM `+"`%s.%s.%s`"+`
		WHERE account_id = @account_id
	`, projectID, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LatestTransactionDate: query read: %w", err)
	}

	var row struct {
		LatestDate bigquery.NullDate `bigquery:"latest_date"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestTransactionDate: iter next: %w", err)
	}
	if !row.LatestDate.Valid {
		return nil, nil
	}

	date := row.LatestDate.Date
	return &date, nil
}

// ListPendingExpenses returns uncategorized expense rows, oldest first,
// for the categorization engine.
func ListPendingExpenses(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ListPendingExpenses: bigquery client: %w", err)
	}
	defer client.Close()

	return ListPendingExpensesWithClient(ctx, client, limit)
}

// ListPendingExpensesWithClient returns uncategorized expense rows
// using the provided BigQuery client.
func ListPendingExpensesWithClient(ctx context.Context, client *bigquery.Client, limit int) ([]*domain.Transaction, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE user_category_id IS NULL
		  AND predefined_category_id IS NULL
		  AND amount_minor < 0
		ORDER BY transaction_date, created_ts
		LIMIT @row_limit
	`, transactionColumns, projectID, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "row_limit", Value: int64(limit)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListPendingExpenses: query read: %w", err)
	}

	var txs []*domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListPendingExpenses: iter next: %w", err)
		}
		txs = append(txs, transactionToDomain(&row))
	}

	return txs, nil
}

// CategorizedPayeeCounts aggregates how often each normalized payee was
// given each predefined category. Rows come back ordered by payee, then
// count descending, then earliest observation, so the cache's
// first-seen tie break is stable.
func CategorizedPayeeCounts(ctx context.Context) ([]categorize.PayeeCount, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("CategorizedPayeeCounts: bigquery client: %w", err)
	}
	defer client.Close()

	return CategorizedPayeeCountsWithClient(ctx, client)
}

// CategorizedPayeeCountsWithClient aggregates payee observations using
// the provided BigQuery client.
func CategorizedPayeeCountsWithClient(ctx context.Context, client *bigquery.Client) ([]categorize.PayeeCount, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			LOWER(TRIM(payee)) AS payee,
			predefined_category_id AS category_id,
			COUNT(*) AS cnt
		FROM `+"`%s.%s.%s`"+`
		WHERE predefined_category_id IS NOT NULL
		GROUP BY payee, category_id
		ORDER BY payee, cnt DESC, MIN(created_ts)
	`, projectID, datasetID, transactionsTable))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("CategorizedPayeeCounts: query read: %w", err)
	}

	var counts []categorize.PayeeCount
	for {
		var row struct {
			Payee      string `bigquery:"payee"`
			CategoryID string `bigquery:"category_id"`
			Count      int64  `bigquery:"cnt"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("CategorizedPayeeCounts: iter next: %w", err)
		}
		counts = append(counts, categorize.PayeeCount{
			Payee:      row.Payee,
			CategoryID: row.CategoryID,
			Count:      row.Count,
		})
	}

	return counts, nil
}
