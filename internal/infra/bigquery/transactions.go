package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/banksync/internal/domain"
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	AccountID     string `bigquery:"account_id"`     // REQUIRED

	AmountMinor int64               `bigquery:"amount_minor"` // REQUIRED
	Payee       string              `bigquery:"payee"`        // REQUIRED
	Notes       bigquery.NullString `bigquery:"notes"`        // NULLABLE

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	ExternalID bigquery.NullString `bigquery:"external_id"` // NULLABLE

	UserCategoryID       bigquery.NullString `bigquery:"user_category_id"`       // NULLABLE
	PredefinedCategoryID bigquery.NullString `bigquery:"predefined_category_id"` // NULLABLE

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

func transactionToDomain(r *TransactionRow) *domain.Transaction {
	tx := &domain.Transaction{
		ID:                   r.TransactionID,
		AccountID:            r.AccountID,
		AmountMinor:          r.AmountMinor,
		Payee:                r.Payee,
		Notes:                r.Notes.StringVal,
		Date:                 r.TransactionDate,
		ExternalID:           r.ExternalID.StringVal,
		UserCategoryID:       r.UserCategoryID.StringVal,
		PredefinedCategoryID: r.PredefinedCategoryID.StringVal,
		CreatedAt:            r.CreatedTS,
	}
	if r.UpdatedTS.Valid {
		tx.UpdatedAt = r.UpdatedTS.Timestamp
	}
	return tx
}
