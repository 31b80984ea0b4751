package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/banksync/internal/domain"
)

type AccountRow struct {
	AccountID string `bigquery:"account_id"` // REQUIRED

	UserID       string              `bigquery:"user_id"`       // REQUIRED
	ConnectionID bigquery.NullString `bigquery:"connection_id"` // NULLABLE
	ExternalID   bigquery.NullString `bigquery:"external_id"`   // NULLABLE

	AccountName string `bigquery:"account_name"` // REQUIRED
	Currency    string `bigquery:"currency"`     // REQUIRED

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

func accountToDomain(r *AccountRow) *domain.Account {
	account := &domain.Account{
		ID:           r.AccountID,
		UserID:       r.UserID,
		ConnectionID: r.ConnectionID.StringVal,
		ExternalID:   r.ExternalID.StringVal,
		Name:         r.AccountName,
		Currency:     r.Currency,
		CreatedAt:    r.CreatedTS,
	}
	if r.UpdatedTS.Valid {
		account.UpdatedAt = r.UpdatedTS.Timestamp
	}
	return account
}
