package graph

import "fmt"

// AuthError signals that the graph server rejected our credentials or
// the authentication endpoint was unreachable. It is fatal for the
// current tool invocation — the fetcher never retries a failed login.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("graph server authentication failed: %v", e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// NotFoundError signals that the requested entity does not exist in the
// knowledge graph. Not retried; callers report it as a normal
// "no impacts" style result rather than a failure.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entity %q not found in the knowledge graph", e.Entity)
}

// QueryError signals a malformed impact query — either rejected by the
// graph server with a client error, or invalid before it was sent.
// Not retried.
type QueryError struct {
	Reason string
}

func (e *QueryError) Error() string {
	return "invalid impact query: " + e.Reason
}

// FetchExhaustedError signals that transient failures persisted through
// every retry attempt. Cause holds the last underlying error.
type FetchExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("graph server request failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *FetchExhaustedError) Unwrap() error { return e.Cause }
