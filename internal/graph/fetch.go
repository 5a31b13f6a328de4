package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the Fetcher's retry loop. MaxAttempts counts the
// initial attempt, so MaxAttempts=1 disables retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy mirrors the graph server's operational guidance:
// four attempts with exponential backoff starting at half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
	}
}

// Fetcher issues impact queries against the graph server. Every request
// attaches the Session's bearer token and retries transient failures
// (network errors, timeouts, 5xx, 429) with exponential backoff. A 401
// invalidates the cached token so the next attempt re-authenticates;
// 404 and other client errors are permanent.
type Fetcher struct {
	host    string
	view    string
	session *Session
	client  *http.Client
	policy  RetryPolicy

	mu     sync.Mutex
	viewID string
}

// NewFetcher creates a Fetcher for the materialized view named view.
func NewFetcher(host, view string, session *Session, client *http.Client, policy RetryPolicy) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	return &Fetcher{
		host:    strings.TrimRight(host, "/"),
		view:    view,
		session: session,
		client:  client,
		policy:  policy,
	}
}

// idEnvelope wraps endpoints that return a single id under data.
type idEnvelope struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// searchEnvelope wraps the entity search endpoints.
type searchEnvelope struct {
	Data []SearchNode `json:"data"`
}

// ViewID resolves the configured materialized view name to the id of
// its latest snapshot: name → definition id → view id. The result is
// memoized for the lifetime of the Fetcher.
func (f *Fetcher) ViewID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewID != "" {
		return f.viewID, nil
	}

	var def idEnvelope
	defURL := f.host + "/codegraph/server/materialized-view-definition/name?name=" + url.QueryEscape(f.view)
	if err := f.getJSON(ctx, http.MethodGet, defURL, f.view, &def); err != nil {
		return "", fmt.Errorf("resolving materialized view %q: %w", f.view, err)
	}

	var mv idEnvelope
	mvURL := f.host + "/codegraph/server/materialized-view/latest?definitionId=" + url.QueryEscape(def.Data.ID)
	if err := f.getJSON(ctx, http.MethodGet, mvURL, f.view, &mv); err != nil {
		return "", fmt.Errorf("resolving latest snapshot of view %q: %w", f.view, err)
	}

	f.viewID = mv.Data.ID
	return f.viewID, nil
}

// SearchMethodNodes finds candidate method nodes by short name within
// the configured materialized view. An empty result is not an error —
// the caller decides how to report it.
func (f *Fetcher) SearchMethodNodes(ctx context.Context, shortName string) ([]SearchNode, error) {
	viewID, err := f.ViewID(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{
		"materializedViewId": {viewID},
		"shortname":          {shortName},
	}
	var env searchEnvelope
	u := f.host + "/codegraph/server/ai-retrieval/search/shortname?" + q.Encode()
	if err := f.getJSON(ctx, http.MethodPost, u, shortName, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// SearchDatabaseEntities finds database entities (columns, tables,
// views) by name. container optionally restricts column searches to a
// single table or view.
func (f *Fetcher) SearchDatabaseEntities(ctx context.Context, entityType, name, container string) ([]SearchNode, error) {
	viewID, err := f.ViewID(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{
		"materializedViewId": {viewID},
		"entityType":         {entityType},
		"name":               {name},
	}
	if container != "" {
		q.Set("tableOrView", container)
	}
	var env searchEnvelope
	u := f.host + "/codegraph/server/ai-retrieval/search/database?" + q.Encode()
	if err := f.getJSON(ctx, http.MethodPost, u, name, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// FetchImpact retrieves the full dependency impact graph for a node id,
// returning the payload unmodified.
func (f *Fetcher) FetchImpact(ctx context.Context, nodeID string) (*RawPayload, error) {
	var payload RawPayload
	u := f.host + "/codegraph/server/dependency/impact/full/" + url.PathEscape(nodeID) + "/list"
	if err := f.getJSON(ctx, http.MethodGet, u, nodeID, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// getJSON performs one logical request under the retry policy and
// decodes the response body into out.
func (f *Fetcher) getJSON(ctx context.Context, method, u, subject string, out any) error {
	var body []byte
	attempts := 0
	op := func() error {
		attempts++
		b, err := f.doOnce(ctx, method, u, subject)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.policy.InitialInterval
	bo.MaxInterval = f.policy.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(f.policy.MaxAttempts-1)), ctx))
	if err != nil {
		if isTerminal(err) {
			return err
		}
		return &FetchExhaustedError{Attempts: attempts, Cause: err}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding graph server response: %w", err)
		}
	}
	return nil
}

// doOnce issues a single HTTP request with a fresh-or-cached token and
// classifies the outcome for the retry loop. Errors returned plainly
// are transient; permanent failures are wrapped with backoff.Permanent.
func (f *Fetcher) doOnce(ctx context.Context, method, u, subject string) ([]byte, error) {
	token, err := f.session.Token(ctx)
	if err != nil {
		// A failed login is fatal for the invocation — do not retry.
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, backoff.Permanent(&QueryError{Reason: err.Error()})
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Token went stale before its known expiry. Drop it so the
		// next attempt logs in again.
		f.session.Invalidate()
		return nil, fmt.Errorf("graph server rejected token (%d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(&NotFoundError{Entity: subject})
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("graph server returned %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(&QueryError{
			Reason: fmt.Sprintf("graph server rejected request with %d", resp.StatusCode),
		})
	}
}

// isTerminal reports whether err is already a classified terminal
// failure that must not be wrapped as retry exhaustion.
func isTerminal(err error) bool {
	var authErr *AuthError
	var nfErr *NotFoundError
	var qErr *QueryError
	return errors.As(err, &authErr) ||
		errors.As(err, &nfErr) ||
		errors.As(err, &qErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
