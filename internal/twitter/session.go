package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/HoloArchivists/twspace-dl/pkg/logger"
)

const (
	guestActivateURL = "https://api.twitter.com/1.1/guest/activate.json"
	guestTokenTTL    = 30 * time.Minute
)

// Session holds a short-lived guest token used to authorize requests made
// without user cookies. The token is reused within its TTL and refreshed
// on demand; the state lives in this object only, never across processes.
type Session struct {
	client      *http.Client
	activateURL string
	timeout     time.Duration
	clock       func() time.Time
	log         *logger.Logger

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

// NewSession creates a guest session. A nil clock defaults to time.Now.
func NewSession(timeout time.Duration, clock func() time.Time, log *logger.Logger) *Session {
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		client:      &http.Client{},
		activateURL: guestActivateURL,
		timeout:     timeout,
		clock:       clock,
		log:         log,
	}
}

// Token returns the cached guest token, activating a new one when none is
// held or the TTL has elapsed.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.clock().Sub(s.issuedAt) < guestTokenTTL {
		return s.token, nil
	}
	token, err := s.activate(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.issuedAt = s.clock()
	s.log.Debugw("guest token activated")
	return s.token, nil
}

// Refresh discards the cached token and activates a new one. Used when the
// upstream starts rejecting the current token before its TTL elapses.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return s.Token(ctx)
}

func (s *Session) activate(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.activateURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("authorization", Authorization)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("guest token activation failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("guest token activation failed: %w", err)
	}
	var payload struct {
		GuestToken string `json:"guest_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.GuestToken == "" {
		s.log.Debugw("guest activation response", "body", string(body))
		return "", fmt.Errorf("no guest token in activation response")
	}
	return payload.GuestToken, nil
}

// SetTransport overrides the underlying HTTP client, used by tests.
func (s *Session) SetTransport(client *http.Client) {
	s.client = client
}
