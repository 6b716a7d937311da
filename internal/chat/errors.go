package chat

import "errors"

// Error taxonomy surfaced to the API layer. SessionNotFound is recovered
// internally (a fresh session is minted) and PersistenceFailure is reported
// through Response.Persisted, so neither appears here.
var (
	ErrInvalidInput        = errors.New("message must not be empty")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	ErrSynthesisFailure    = errors.New("answer synthesis failed")
)
