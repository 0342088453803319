package chat

import "errors"

// Sentinel errors for the conversational layer.
//
// Quota exhaustion is deliberately absent: a denied turn is a typed result
// from the ledger, not an error, so callers cannot skip the check by
// forgetting a recover path.
var (
	// ErrNotFound: a keyed record (quota, session, account) does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized: no usable credential and no device ID to fall back to.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUpstream: the completion service failed or could not be reached.
	// Not retried here; distinct from quota denial so clients do not confuse
	// "try again later" with "out of budget".
	ErrUpstream = errors.New("completion service error")
	// ErrUpstreamExhausted: the completion service itself rate-limited us.
	ErrUpstreamExhausted = errors.New("completion service rate limited")
	// ErrMalformedSession: persisted session data failed to parse. Recovered
	// by the session manager; surfaces only in logs.
	ErrMalformedSession = errors.New("malformed session data")
)
