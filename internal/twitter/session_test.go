package twitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestSession(t *testing.T, handler http.HandlerFunc, clock func() time.Time) (*Session, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	s := NewSession(5*time.Second, clock, testLogger())
	s.activateURL = srv.URL
	return s, &calls
}

func activateOK(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("authorization") != Authorization {
		http.Error(w, "auth", http.StatusForbidden)
		return
	}
	w.Write([]byte(`{"guest_token":"1234567890"}`))
}

func TestSessionTokenCachedWithinTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s, calls := newTestSession(t, activateOK, func() time.Time { return now })

	ctx := context.Background()
	first, err := s.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if first != "1234567890" {
		t.Errorf("token = %q", first)
	}

	// Within the TTL the cached token is reused without a network call
	now = now.Add(29 * time.Minute)
	second, err := s.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if second != first {
		t.Errorf("token changed within TTL: %q vs %q", second, first)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("activation endpoint saw %d calls, want 1", got)
	}
}

func TestSessionTokenExpiresAfterTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s, calls := newTestSession(t, activateOK, func() time.Time { return now })

	ctx := context.Background()
	if _, err := s.Token(ctx); err != nil {
		t.Fatalf("Token: %v", err)
	}
	now = now.Add(31 * time.Minute)
	if _, err := s.Token(ctx); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("activation endpoint saw %d calls, want 2", got)
	}
}

func TestSessionRefreshDiscardsToken(t *testing.T) {
	s, calls := newTestSession(t, activateOK, nil)

	ctx := context.Background()
	if _, err := s.Token(ctx); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if _, err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("activation endpoint saw %d calls, want 2", got)
	}
}

func TestSessionActivationFailure(t *testing.T) {
	s, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"nope"}]}`))
	}, nil)

	if _, err := s.Token(context.Background()); err == nil {
		t.Fatal("expected error when activation response has no token")
	}
}
