package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/banksync/internal/domain"
)

type ConnectionRow struct {
	ConnectionID string `bigquery:"connection_id"` // REQUIRED

	UserID   string `bigquery:"user_id"`  // REQUIRED
	Provider string `bigquery:"provider"` // REQUIRED

	AccessToken    string                 `bigquery:"access_token"`     // REQUIRED
	RefreshToken   bigquery.NullString    `bigquery:"refresh_token"`    // NULLABLE
	TokenExpiresTS bigquery.NullTimestamp `bigquery:"token_expires_ts"` // NULLABLE

	InstitutionID   bigquery.NullString `bigquery:"institution_id"`   // NULLABLE
	InstitutionName bigquery.NullString `bigquery:"institution_name"` // NULLABLE

	Status string `bigquery:"status"` // REQUIRED

	LastSyncedTS bigquery.NullTimestamp `bigquery:"last_synced_ts"` // NULLABLE
	CreatedTS    time.Time              `bigquery:"created_ts"`     // REQUIRED
	UpdatedTS    bigquery.NullTimestamp `bigquery:"updated_ts"`     // NULLABLE
}

func connectionToDomain(r *ConnectionRow) *domain.BankConnection {
	conn := &domain.BankConnection{
		ID:              r.ConnectionID,
		UserID:          r.UserID,
		Provider:        r.Provider,
		AccessToken:     r.AccessToken,
		RefreshToken:    r.RefreshToken.StringVal,
		InstitutionID:   r.InstitutionID.StringVal,
		InstitutionName: r.InstitutionName.StringVal,
		Status:          r.Status,
		CreatedAt:       r.CreatedTS,
	}
	if r.TokenExpiresTS.Valid {
		conn.ExpiresAt = r.TokenExpiresTS.Timestamp
	}
	if r.LastSyncedTS.Valid {
		conn.LastSyncedAt = r.LastSyncedTS.Timestamp
	}
	if r.UpdatedTS.Valid {
		conn.UpdatedAt = r.UpdatedTS.Timestamp
	}
	return conn
}
