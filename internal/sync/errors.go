package sync

import "errors"

// Sentinel errors surfaced to the API layer. Connection and account
// lookups map to 404, token problems to 401; upstream failures carry a
// *truelayer.UpstreamError instead.
var (
	ErrConnectionNotFound = errors.New("bank connection not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrNoRefreshToken     = errors.New("connection has no refresh token")
)
