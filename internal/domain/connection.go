package domain

import "time"

// Connection status values.
const (
	ConnectionStatusActive = "ACTIVE"
	ConnectionStatusError  = "ERROR"
)

// BankConnection links a user to one open-banking provider consent.
// Tokens are rotated in place on refresh; the row is never hard-deleted.
type BankConnection struct {
	ID              string
	UserID          string
	Provider        string
	AccessToken     string
	RefreshToken    string
	ExpiresAt       time.Time // zero value means expiry is unknown
	InstitutionID   string
	InstitutionName string
	Status          string
	LastSyncedAt    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
