package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/banksync/internal/domain"
)

type BalanceRow struct {
	BalanceID string `bigquery:"balance_id"` // REQUIRED
	AccountID string `bigquery:"account_id"` // REQUIRED

	CurrentMinor   int64              `bigquery:"current_minor"`   // REQUIRED
	AvailableMinor bigquery.NullInt64 `bigquery:"available_minor"` // NULLABLE
	Currency       string             `bigquery:"currency"`        // REQUIRED

	RecordedTS time.Time `bigquery:"recorded_ts"` // REQUIRED
}

func balanceToRow(b *domain.AccountBalance) *BalanceRow {
	return &BalanceRow{
		BalanceID:      b.ID,
		AccountID:      b.AccountID,
		CurrentMinor:   b.CurrentMinor,
		AvailableMinor: nullableInt64(b.AvailableMinor),
		Currency:       b.Currency,
		RecordedTS:     b.RecordedAt,
	}
}

func balanceToDomain(r *BalanceRow) *domain.AccountBalance {
	balance := &domain.AccountBalance{
		ID:           r.BalanceID,
		AccountID:    r.AccountID,
		CurrentMinor: r.CurrentMinor,
		Currency:     r.Currency,
		RecordedAt:   r.RecordedTS,
	}
	if r.AvailableMinor.Valid {
		available := r.AvailableMinor.Int64
		balance.AvailableMinor = &available
	}
	return balance
}
