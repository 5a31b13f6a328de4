package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newAuthServer creates an httptest server that answers the
// authentication endpoint, counting logins and handing out sequential
// tokens. Caller must defer ts.Close().
func newAuthServer(t *testing.T, logins *atomic.Int64, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/codegraph/server/authenticate" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing login form: %v", err)
		}
		if got := r.PostFormValue("grant_type"); got != "password" {
			t.Errorf("grant_type = %q, want password", got)
		}
		n := logins.Add(1)
		resp := map[string]any{"access_token": token(n)}
		if expiresIn > 0 {
			resp["expires_in"] = expiresIn
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func token(n int64) string {
	return "tok-" + string(rune('0'+n))
}

func TestSession_Token_CachesAcrossCalls(t *testing.T) {
	var logins atomic.Int64
	ts := newAuthServer(t, &logins, 0)
	defer ts.Close()

	s := NewSession(ts.URL, "admin", "secret", time.Hour, ts.Client())

	first, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("first Token failed: %v", err)
	}
	second, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("second Token failed: %v", err)
	}

	if first != second {
		t.Errorf("cached token changed: %q vs %q", first, second)
	}
	if got := logins.Load(); got != 1 {
		t.Errorf("logins = %d, want 1", got)
	}
}

func TestSession_Token_RefreshesAfterExpiry(t *testing.T) {
	var logins atomic.Int64
	ts := newAuthServer(t, &logins, 0)
	defer ts.Close()

	s := NewSession(ts.URL, "admin", "secret", 10*time.Millisecond, ts.Client())

	if _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("first Token failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("second Token failed: %v", err)
	}

	if got := logins.Load(); got != 2 {
		t.Errorf("logins = %d, want 2 (token should have expired)", got)
	}
}

func TestSession_Token_PrefersServerReportedExpiry(t *testing.T) {
	var logins atomic.Int64
	ts := newAuthServer(t, &logins, 3600)
	defer ts.Close()

	// Fallback TTL is already expired; the server's expires_in must win.
	s := NewSession(ts.URL, "admin", "secret", -time.Second, ts.Client())

	if _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("first Token failed: %v", err)
	}
	if _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("second Token failed: %v", err)
	}

	if got := logins.Load(); got != 1 {
		t.Errorf("logins = %d, want 1 (server expiry should keep token valid)", got)
	}
}

func TestSession_Invalidate_ForcesRelogin(t *testing.T) {
	var logins atomic.Int64
	ts := newAuthServer(t, &logins, 0)
	defer ts.Close()

	s := NewSession(ts.URL, "admin", "secret", time.Hour, ts.Client())

	if _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("first Token failed: %v", err)
	}
	s.Invalidate()
	if _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("Token after Invalidate failed: %v", err)
	}

	if got := logins.Load(); got != 2 {
		t.Errorf("logins = %d, want 2 after Invalidate", got)
	}
}

func TestSession_Token_RejectedCredentials(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer ts.Close()

	s := NewSession(ts.URL, "admin", "wrong", time.Hour, ts.Client())

	_, err := s.Token(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}

func TestSession_Token_UnreachableHost(t *testing.T) {
	s := NewSession("http://127.0.0.1:1", "admin", "secret", time.Hour,
		&http.Client{Timeout: 200 * time.Millisecond})

	_, err := s.Token(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}

func TestSession_Token_MissingAccessToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	s := NewSession(ts.URL, "admin", "secret", time.Hour, ts.Client())

	_, err := s.Token(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}

func TestSession_ConcurrentColdStart_SingleLogin(t *testing.T) {
	var logins atomic.Int64
	ts := newAuthServer(t, &logins, 0)
	defer ts.Close()

	s := NewSession(ts.URL, "admin", "secret", time.Hour, ts.Client())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Token(context.Background()); err != nil {
				t.Errorf("concurrent Token failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := logins.Load(); got != 1 {
		t.Errorf("logins = %d, want 1 (refresh must be serialized)", got)
	}
}
