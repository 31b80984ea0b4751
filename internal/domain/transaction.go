package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// Transaction is one ledger entry on a local account. Amounts are signed
// integers in minor units (negative = expense, positive = income).
//
// At most one of UserCategoryID / PredefinedCategoryID may be set; the
// empty string stands for NULL. Both empty marks the transaction as a
// pending candidate for the categorization worker.
type Transaction struct {
	ID                   string
	AccountID            string
	AmountMinor          int64
	Payee                string
	Notes                string
	Date                 civil.Date
	ExternalID           string
	UserCategoryID       string
	PredefinedCategoryID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Categorized reports whether either category field is set.
func (t *Transaction) Categorized() bool {
	return t.UserCategoryID != "" || t.PredefinedCategoryID != ""
}

// IsExpense reports whether the transaction is outgoing money.
func (t *Transaction) IsExpense() bool {
	return t.AmountMinor < 0
}
