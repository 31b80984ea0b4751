package truelayer

import "strings"

// Token is the response of the OAuth token endpoint for both the
// authorization_code and refresh_token grants. RefreshToken may be empty
// when the provider does not rotate it.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Account is one remote account as listed by /data/v1/accounts.
type Account struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	AccountName string `json:"account_name"`
	Currency    string `json:"currency"`
}

// Name returns the best available display name for the account.
func (a *Account) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.AccountName != "" {
		return a.AccountName
	}
	return a.AccountID
}

// Balance is the current balance of a remote account.
// Available is omitted by some institutions.
type Balance struct {
	Current   float64  `json:"current"`
	Available *float64 `json:"available"`
	Currency  string   `json:"currency"`
}

// Transaction is one raw provider transaction record. Fields that the
// ingestor validates are pointers or strings so that a missing value is
// distinguishable from a zero one.
type Transaction struct {
	TransactionID       string   `json:"transaction_id"`
	Amount              *float64 `json:"amount"`
	Description         string   `json:"description"`
	Timestamp           string   `json:"timestamp"`
	TransactionType     string   `json:"transaction_type"`
	TransactionCategory string   `json:"transaction_category"`
}

// IsCredit reports whether the provider marked the record as incoming funds.
func (t *Transaction) IsCredit() bool {
	return strings.EqualFold(t.TransactionType, "CREDIT")
}

// Metadata is the institution metadata from /data/v1/me, used to label
// a bank connection.
type Metadata struct {
	ClientID string           `json:"client_id"`
	Provider MetadataProvider `json:"provider"`
}

// MetadataProvider identifies the institution behind a connection.
type MetadataProvider struct {
	ProviderID  string `json:"provider_id"`
	DisplayName string `json:"display_name"`
}
