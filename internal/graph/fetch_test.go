package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// testPolicy keeps retry waits negligible in tests.
func testPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

// graphFixture is a fake graph server covering authentication, view
// resolution, search, and impact. The impact handler is scriptable.
type graphFixture struct {
	ts *httptest.Server

	logins      atomic.Int64
	viewLookups atomic.Int64
	impactHits  atomic.Int64

	// impactHandler may be swapped per test. Default: empty payload.
	impactHandler func(w http.ResponseWriter, r *http.Request, attempt int64)
}

func newGraphFixture(t *testing.T) *graphFixture {
	t.Helper()
	f := &graphFixture{}
	f.impactHandler = func(w http.ResponseWriter, r *http.Request, attempt int64) {
		_, _ = w.Write([]byte(`{"data":{"nodes":[],"relationships":[]}}`))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/codegraph/server/authenticate", func(w http.ResponseWriter, r *http.Request) {
		n := f.logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("tok-%d", n),
		})
	})
	mux.HandleFunc("/codegraph/server/materialized-view-definition/name", func(w http.ResponseWriter, r *http.Request) {
		f.viewLookups.Add(1)
		_, _ = w.Write([]byte(`{"data":{"id":"def-1"}}`))
	})
	mux.HandleFunc("/codegraph/server/materialized-view/latest", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("definitionId"); got != "def-1" {
			t.Errorf("definitionId = %q, want def-1", got)
		}
		_, _ = w.Write([]byte(`{"data":{"id":"mv-1"}}`))
	})
	mux.HandleFunc("/codegraph/server/ai-retrieval/search/shortname", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("materializedViewId"); got != "mv-1" {
			t.Errorf("materializedViewId = %q, want mv-1", got)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"n1","identity":"app|OrderService|calculateTotal","name":"calculateTotal","properties":{"id":"imp-1"}}]}`))
	})
	mux.HandleFunc("/codegraph/server/ai-retrieval/search/database", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"t1","name":"orders","schema":"public"}]}`))
	})
	mux.HandleFunc("/codegraph/server/dependency/impact/full/", func(w http.ResponseWriter, r *http.Request) {
		attempt := f.impactHits.Add(1)
		f.impactHandler(w, r, attempt)
	})

	f.ts = httptest.NewServer(mux)
	t.Cleanup(f.ts.Close)
	return f
}

func (f *graphFixture) fetcher(maxAttempts int) *Fetcher {
	session := NewSession(f.ts.URL, "admin", "secret", time.Hour, f.ts.Client())
	return NewFetcher(f.ts.URL, "main-workspace", session, f.ts.Client(), testPolicy(maxAttempts))
}

func TestFetcher_FetchImpact_ReturnsPayloadUnmodified(t *testing.T) {
	f := newGraphFixture(t)
	f.impactHandler = func(w http.ResponseWriter, r *http.Request, attempt int64) {
		_, _ = w.Write([]byte(`{"data":{
			"nodes":[{"id":"n1","identity":"app|OrderService|calculateTotal","name":"calculateTotal","primaryLabel":"JavaMethodEntity","properties":{"x":"1"}}],
			"relationships":[{"startId":"n1","endId":"n1","type":"calls"}]}}`))
	}

	payload, err := f.fetcher(4).FetchImpact(context.Background(), "imp-1")
	if err != nil {
		t.Fatalf("FetchImpact failed: %v", err)
	}

	if len(payload.Data.Nodes) != 1 || len(payload.Data.Relationships) != 1 {
		t.Fatalf("payload = %d nodes, %d relationships, want 1 and 1",
			len(payload.Data.Nodes), len(payload.Data.Relationships))
	}
	if payload.Data.Nodes[0].PrimaryLabel != "JavaMethodEntity" {
		t.Errorf("primaryLabel = %q, want JavaMethodEntity", payload.Data.Nodes[0].PrimaryLabel)
	}
	if payload.Data.Nodes[0].Properties["x"] != "1" {
		t.Errorf("properties not preserved: %v", payload.Data.Nodes[0].Properties)
	}
}

func TestFetcher_Retry_TransientFailuresThenSuccess(t *testing.T) {
	f := newGraphFixture(t)
	f.impactHandler = func(w http.ResponseWriter, r *http.Request, attempt int64) {
		if attempt <= 2 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"nodes":[],"relationships":[]}}`))
	}

	_, err := f.fetcher(4).FetchImpact(context.Background(), "imp-1")
	if err != nil {
		t.Fatalf("FetchImpact failed: %v", err)
	}
	if got := f.impactHits.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (two failures then success)", got)
	}
}

func TestFetcher_Retry_Exhausted(t *testing.T) {
	f := newGraphFixture(t)
	f.impactHandler = func(w http.ResponseWriter, r *http.Request, attempt int64) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}

	_, err := f.fetcher(3).FetchImpact(context.Background(), "imp-1")

	var exErr *FetchExhaustedError
	if !errors.As(err, &exErr) {
		t.Fatalf("err = %v, want *FetchExhaustedError", err)
	}
	if exErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exErr.Attempts)
	}
	if exErr.Cause == nil {
		t.Error("Cause should carry the last underlying error")
	}
	if got := f.impactHits.Load(); got != 3 {
		t.Errorf("server saw %d attempts, want 3", got)
	}
}

func TestFetcher_RateLimited_Retries(t *testing.T) {
	f := newGraphFixture(t)
	f.impactHandler = func(w http.ResponseWriter, r *http.Request, attempt int64) {
		if attempt == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"nodes":[],"relationships":[]}}`))
	}

	if _, err := f.fetcher(4).FetchImpact(context.Background(), "imp-1"); err != nil {
		t.Fatalf("FetchImpact failed: %v", err)
	}
	if got := f.impactHits.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestFetcher_NotFound_NotRetried(t *testing.T) {
	f := newGraphFixture(t)
	f.impactHandler = func(w http.ResponseWriter, r *http.Request, attempt int64) {
		http.NotFound(w, r)
	}

	_, err := f.fetcher(4).FetchImpact(context.Background(), "imp-404")

	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("err = %v, want *NotFoundError", err)
	}
	if nfErr.Entity != "imp-404" {
		t.Errorf("Entity = %q, want imp-404", nfErr.Entity)
	}
	if got := f.impactHits.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (404 is permanent)", got)
	}
}

func TestFetcher_BadRequest_NotRetried(t *testing.T) {
	f := newGraphFixture(t)
	f.impactHandler = func(w http.ResponseWriter, r *http.Request, attempt int64) {
		http.Error(w, "malformed", http.StatusBadRequest)
	}

	_, err := f.fetcher(4).FetchImpact(context.Background(), "imp-1")

	var qErr *QueryError
	if !errors.As(err, &qErr) {
		t.Fatalf("err = %v, want *QueryError", err)
	}
	if got := f.impactHits.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (4xx is permanent)", got)
	}
}

func TestFetcher_AuthRefresh_On401(t *testing.T) {
	f := newGraphFixture(t)
	var successToken string
	f.impactHandler = func(w http.ResponseWriter, r *http.Request, attempt int64) {
		if attempt == 1 {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		successToken = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data":{"nodes":[],"relationships":[]}}`))
	}

	if _, err := f.fetcher(4).FetchImpact(context.Background(), "imp-1"); err != nil {
		t.Fatalf("FetchImpact failed: %v", err)
	}

	if got := f.logins.Load(); got != 2 {
		t.Errorf("logins = %d, want 2 (exactly one re-authentication)", got)
	}
	if got := f.impactHits.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if successToken != "Bearer tok-2" {
		t.Errorf("retried attempt used %q, want the fresh token Bearer tok-2", successToken)
	}
}

func TestFetcher_LoginFailure_Fatal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer ts.Close()

	session := NewSession(ts.URL, "admin", "wrong", time.Hour, ts.Client())
	fetcher := NewFetcher(ts.URL, "main-workspace", session, ts.Client(), testPolicy(4))

	_, err := fetcher.FetchImpact(context.Background(), "imp-1")

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}

func TestFetcher_ViewID_Memoized(t *testing.T) {
	f := newGraphFixture(t)
	fetcher := f.fetcher(4)

	if _, err := fetcher.SearchMethodNodes(context.Background(), "calculateTotal"); err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	if _, err := fetcher.SearchMethodNodes(context.Background(), "calculateTotal"); err != nil {
		t.Fatalf("second search failed: %v", err)
	}

	if got := f.viewLookups.Load(); got != 1 {
		t.Errorf("view definition lookups = %d, want 1 (memoized)", got)
	}
}

func TestFetcher_SearchMethodNodes_ImpactID(t *testing.T) {
	f := newGraphFixture(t)

	nodes, err := f.fetcher(4).SearchMethodNodes(context.Background(), "calculateTotal")
	if err != nil {
		t.Fatalf("SearchMethodNodes failed: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	if got := nodes[0].ImpactID(); got != "imp-1" {
		t.Errorf("ImpactID = %q, want imp-1 (from properties.id)", got)
	}
}

func TestFetcher_ContextCancellation_NotWrappedAsExhaustion(t *testing.T) {
	f := newGraphFixture(t)
	f.impactHandler = func(w http.ResponseWriter, r *http.Request, attempt int64) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.fetcher(4).FetchImpact(ctx, "imp-1")
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	var exErr *FetchExhaustedError
	if errors.As(err, &exErr) {
		t.Errorf("cancellation must not be reported as retry exhaustion: %v", err)
	}
}

func TestPickMethodNode(t *testing.T) {
	nodes := []SearchNode{
		{ID: "a", Identity: "app|CartService|calculateTotal", Name: "calculateTotal"},
		{ID: "b", Identity: "app|OrderService|calculateTotal", Name: "calculateTotal"},
		{ID: "c", Identity: "app|PaymentService.class|calculateTotal", Name: "calculateTotal"},
	}

	tests := []struct {
		name   string
		class  string
		wantID string
		wantOK bool
	}{
		{"empty class takes first", "", "a", true},
		{"class match", "OrderService", "b", true},
		{"class with .class suffix", "PaymentService", "c", true},
		{"no match", "ShippingService", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PickMethodNode(nodes, tt.class)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.ID != tt.wantID {
				t.Errorf("picked %q, want %q", got.ID, tt.wantID)
			}
		})
	}
}
