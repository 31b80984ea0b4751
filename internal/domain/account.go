package domain

import "time"

// Account is a local account record, optionally linked to a remote
// provider account through ExternalID. The pair (UserID, ExternalID)
// is the upsert key used by sync discovery.
type Account struct {
	ID           string
	UserID       string
	ConnectionID string
	ExternalID   string
	Name         string
	Currency     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountBalance is an immutable point-in-time snapshot. Each sync
// appends a new row; the latest by RecordedAt is the current balance.
type AccountBalance struct {
	ID             string
	AccountID      string
	CurrentMinor   int64
	AvailableMinor *int64
	Currency       string
	RecordedAt     time.Time
}
