package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/banksync/internal/domain"
)

const connectionColumns = `
	connection_id,
	user_id,
	provider,
	access_token,
	refresh_token,
	token_expires_ts,
	institution_id,
	institution_name,
	status,
	last_synced_ts,
	created_ts,
	updated_ts
`

// GetConnection loads one connection by id. Returns nil when it does
// not exist.
func GetConnection(ctx context.Context, connectionID string) (*domain.BankConnection, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("GetConnection: bigquery client: %w", err)
	}
	defer client.Close()

	return GetConnectionWithClient(ctx, client, connectionID)
}

// GetConnectionWithClient loads one connection using the provided
// BigQuery client.
func GetConnectionWithClient(ctx context.Context, client *bigquery.Client, connectionID string) (*domain.BankConnection, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE connection_id = @connection_id
		LIMIT 1
	`, connectionColumns, projectID, datasetID, connectionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "connection_id", Value: connectionID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetConnection: query read: %w", err)
	}

	var row ConnectionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetConnection: iter next: %w", err)
	}

	return connectionToDomain(&row), nil
}

// ListActiveConnections returns all connections in ACTIVE status,
// oldest sync first so the staleness-driven worker drains the backlog
// in order.
func ListActiveConnections(ctx context.Context) ([]*domain.BankConnection, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ListActiveConnections: bigquery client: %w", err)
	}
	defer client.Close()

	return ListActiveConnectionsWithClient(ctx, client)
}

// ListActiveConnectionsWithClient returns all ACTIVE connections using
// the provided BigQuery client.
func ListActiveConnectionsWithClient(ctx context.Context, client *bigquery.Client) ([]*domain.BankConnection, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE status = @status
		ORDER BY last_synced_ts NULLS FIRST
	`, connectionColumns, projectID, datasetID, connectionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: domain.ConnectionStatusActive},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActiveConnections: query read: %w", err)
	}

	var conns []*domain.BankConnection
	for {
		var row ConnectionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListActiveConnections: iter next: %w", err)
		}
		conns = append(conns, connectionToDomain(&row))
	}

	return conns, nil
}

// InsertConnection creates a new connection row.
func InsertConnection(ctx context.Context, conn *domain.BankConnection) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("InsertConnection: bigquery client: %w", err)
	}
	defer client.Close()

	return InsertConnectionWithClient(ctx, client, conn)
}

// InsertConnectionWithClient creates a new connection row using the
// provided BigQuery client.
func InsertConnectionWithClient(ctx context.Context, client *bigquery.Client, conn *domain.BankConnection) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.%s`"+` (
			connection_id, user_id, provider,
			access_token, refresh_token, token_expires_ts,
			institution_id, institution_name,
			status, created_ts
		)
		VALUES (
			@connection_id, @user_id, @provider,
			@access_token, @refresh_token, @token_expires_ts,
			@institution_id, @institution_name,
			@status, @created_ts
		)
	`, projectID, datasetID, connectionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "connection_id", Value: conn.ID},
		{Name: "user_id", Value: conn.UserID},
		{Name: "provider", Value: conn.Provider},
		{Name: "access_token", Value: conn.AccessToken},
		{Name: "refresh_token", Value: nullableString(conn.RefreshToken)},
		{Name: "token_expires_ts", Value: nullableTime(conn.ExpiresAt)},
		{Name: "institution_id", Value: nullableString(conn.InstitutionID)},
		{Name: "institution_name", Value: nullableString(conn.InstitutionName)},
		{Name: "status", Value: conn.Status},
		{Name: "created_ts", Value: conn.CreatedAt},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertConnection: %w", err)
	}
	return nil
}

// UpdateConnectionTokens persists rotated tokens. One UPDATE writes all
// three fields so a reader never sees a new access token paired with an
// old expiry.
func UpdateConnectionTokens(ctx context.Context, connectionID, accessToken, refreshToken string, expiresAt time.Time) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("UpdateConnectionTokens: bigquery client: %w", err)
	}
	defer client.Close()

	return UpdateConnectionTokensWithClient(ctx, client, connectionID, accessToken, refreshToken, expiresAt)
}

// UpdateConnectionTokensWithClient persists rotated tokens using the
// provided BigQuery client.
func UpdateConnectionTokensWithClient(ctx context.Context, client *bigquery.Client, connectionID, accessToken, refreshToken string, expiresAt time.Time) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET access_token = @access_token,
		    refresh_token = @refresh_token,
		    token_expires_ts = @token_expires_ts,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE connection_id = @connection_id
	`, projectID, datasetID, connectionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "access_token", Value: accessToken},
		{Name: "refresh_token", Value: refreshToken},
		{Name: "token_expires_ts", Value: expiresAt},
		{Name: "connection_id", Value: connectionID},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("UpdateConnectionTokens: %w", err)
	}
	return nil
}

// MarkConnectionSynced records a completed sync.
func MarkConnectionSynced(ctx context.Context, connectionID string, syncedAt time.Time) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("MarkConnectionSynced: bigquery client: %w", err)
	}
	defer client.Close()

	return MarkConnectionSyncedWithClient(ctx, client, connectionID, syncedAt)
}

// MarkConnectionSyncedWithClient records a completed sync using the
// provided BigQuery client.
func MarkConnectionSyncedWithClient(ctx context.Context, client *bigquery.Client, connectionID string, syncedAt time.Time) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET last_synced_ts = @last_synced_ts,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE connection_id = @connection_id
	`, projectID, datasetID, connectionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "last_synced_ts", Value: syncedAt},
		{Name: "connection_id", Value: connectionID},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("MarkConnectionSynced: %w", err)
	}
	return nil
}

// SetConnectionStatus transitions a connection between ACTIVE and ERROR.
func SetConnectionStatus(ctx context.Context, connectionID, status string) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("SetConnectionStatus: bigquery client: %w", err)
	}
	defer client.Close()

	return SetConnectionStatusWithClient(ctx, client, connectionID, status)
}

// SetConnectionStatusWithClient transitions a connection's status using
// the provided BigQuery client.
func SetConnectionStatusWithClient(ctx context.Context, client *bigquery.Client, connectionID, status string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET status = @status,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE connection_id = @connection_id
	`, projectID, datasetID, connectionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: status},
		{Name: "connection_id", Value: connectionID},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("SetConnectionStatus: %w", err)
	}
	return nil
}
