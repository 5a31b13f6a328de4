// Package graph is the client for the remote knowledge-graph server.
//
// It covers the full service conversation behind an impact query:
// password-grant authentication with an in-process token cache
// (Session), materialized view resolution, entity search, and the
// dependency impact fetch with retry/backoff (Fetcher). Nothing in
// this package interprets the impact graph — that is internal/impact.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Session manages the bearer credential for the graph server. It is
// the only component that talks to the authentication endpoint.
//
// The token is cached in memory and reused until its expiry; refresh
// is serialized so at most one login is in flight at a time. Safe for
// concurrent use.
type Session struct {
	host     string
	username string
	password string
	ttl      time.Duration
	client   *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewSession creates a Session for the given graph server host.
// ttl is the assumed token lifetime when the server does not report
// one in the login response.
func NewSession(host, username, password string, ttl time.Duration, client *http.Client) *Session {
	if client == nil {
		client = http.DefaultClient
	}
	return &Session{
		host:     strings.TrimRight(host, "/"),
		username: username,
		password: password,
		ttl:      ttl,
		client:   client,
	}
}

// Token returns a valid bearer token, logging in only when the cached
// one is missing or expired. Login failures return an *AuthError.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}
	return s.login(ctx)
}

// Invalidate drops the cached token so the next Token call performs a
// fresh login. Called by the Fetcher when the server rejects a token
// that we believed was still valid.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expires = time.Time{}
	s.mu.Unlock()
}

// loginResponse is the authentication endpoint's JSON body. ExpiresIn
// is optional — zero means the server did not report an expiry.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// login performs the password-grant exchange. Caller holds s.mu.
func (s *Session) login(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {s.username},
		"password":   {s.password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.host+"/codegraph/server/authenticate", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &AuthError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Cause: fmt.Errorf("authentication endpoint returned %d", resp.StatusCode)}
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", &AuthError{Cause: fmt.Errorf("parsing login response: %w", err)}
	}
	if lr.AccessToken == "" {
		return "", &AuthError{Cause: fmt.Errorf("login response carried no access token")}
	}

	ttl := s.ttl
	if lr.ExpiresIn > 0 {
		ttl = time.Duration(lr.ExpiresIn) * time.Second
	}

	s.token = lr.AccessToken
	s.expires = time.Now().Add(ttl)
	return s.token, nil
}
