// Package truelayer is the HTTP client for the open-banking provider.
// It covers the token endpoint (code exchange and refresh) and the data
// API surface the sync pipeline consumes: accounts, balances,
// transactions and connection metadata.
package truelayer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

const (
	defaultAuthURL = "https://auth.truelayer.com/connect/token"
	defaultAPIBase = "https://api.truelayer.com"

	// maxErrorBody caps how much of an upstream error body is retained.
	maxErrorBody = 2048
)

// Config holds provider endpoints and client credentials.
type Config struct {
	AuthURL      string
	APIBase      string
	ClientID     string
	ClientSecret string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// ConfigFromEnv builds a Config from TRUELAYER_* environment variables,
// falling back to the production endpoints.
func ConfigFromEnv() Config {
	cfg := Config{
		AuthURL:      os.Getenv("TRUELAYER_AUTH_URL"),
		APIBase:      os.Getenv("TRUELAYER_API_BASE"),
		ClientID:     os.Getenv("TRUELAYER_CLIENT_ID"),
		ClientSecret: os.Getenv("TRUELAYER_CLIENT_SECRET"),
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	return cfg
}

// Client talks to the provider API. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a provider client from the given configuration.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// ExchangeCode exchanges an OAuth authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}
	return c.token(ctx, "ExchangeCode", form)
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"refresh_token": {refreshToken},
	}
	return c.token(ctx, "RefreshToken", form)
}

func (c *Client) token(ctx context.Context, op string, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("truelayer: %s: building request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok Token
	if err := c.do(req, op, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("truelayer: %s: empty access_token in response", op)
	}
	return &tok, nil
}

// Accounts lists the remote accounts visible to the access token.
func (c *Client) Accounts(ctx context.Context, accessToken string) ([]Account, error) {
	var out struct {
		Results []Account `json:"results"`
	}
	if err := c.get(ctx, "Accounts", accessToken, "/data/v1/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Balance fetches the current balance of one remote account.
func (c *Client) Balance(ctx context.Context, accessToken, accountID string) (*Balance, error) {
	var out struct {
		Results []Balance `json:"results"`
	}
	path := fmt.Sprintf("/data/v1/accounts/%s/balance", url.PathEscape(accountID))
	if err := c.get(ctx, "Balance", accessToken, path, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("truelayer: Balance: empty results for account %s", accountID)
	}
	return &out.Results[0], nil
}

// Transactions fetches transactions for one remote account. A nil from
// requests the provider's full available history; otherwise only
// transactions dated from (inclusive) onwards are requested.
func (c *Client) Transactions(ctx context.Context, accessToken, accountID string, from *civil.Date) ([]Transaction, error) {
	var out struct {
		Results []Transaction `json:"results"`
	}
	var query url.Values
	if from != nil {
		query = url.Values{"from": {from.String()}}
	}
	path := fmt.Sprintf("/data/v1/accounts/%s/transactions", url.PathEscape(accountID))
	if err := c.get(ctx, "Transactions", accessToken, path, query, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Me fetches provider and institution metadata for the access token.
func (c *Client) Me(ctx context.Context, accessToken string) (*Metadata, error) {
	var out struct {
		Results []Metadata `json:"results"`
	}
	if err := c.get(ctx, "Me", accessToken, "/data/v1/me", nil, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("truelayer: Me: empty results")
	}
	return &out.Results[0], nil
}

func (c *Client) get(ctx context.Context, op, accessToken, path string, query url.Values, target interface{}) error {
	u := c.cfg.APIBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("truelayer: %s: building request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return c.do(req, op, target)
}

func (c *Client) do(req *http.Request, op string, target interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("truelayer: %s: request: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("truelayer: %s: reading response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := string(body)
		if len(errBody) > maxErrorBody {
			errBody = errBody[:maxErrorBody]
		}
		return &UpstreamError{Operation: op, StatusCode: resp.StatusCode, Body: errBody}
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("truelayer: %s: unmarshal response: %w", op, err)
	}
	return nil
}
