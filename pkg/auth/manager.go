package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/lkarlslund/copilot-relay/pkg/config"
)

const (
	// backgroundRefreshInterval is how often the opportunistic refresh
	// loop re-checks token validity.
	backgroundRefreshInterval = 5 * time.Minute

	// refreshTimeout bounds a single token exchange so a hung upstream
	// cannot wedge the in-flight refresh indefinitely.
	refreshTimeout = 30 * time.Second

	flightKey = "copilot-token"
)

// ErrNotAuthenticated is returned when no GitHub token is stored.
var ErrNotAuthenticated = errors.New("not authenticated: no github token stored")

// RefreshError reports a token exchange rejected by the upstream.
type RefreshError struct {
	StatusCode int
	Body       string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token exchange status %d: %s", e.StatusCode, e.Body)
}

// Manager owns the token cache. The GitHub token is the root of trust;
// the Copilot token is derived from it on demand and refreshed when it
// nears expiry. Concurrent refreshes collapse into a single upstream
// call whose result all callers share.
type Manager struct {
	store *Store
	flow  *DeviceFlow

	exchangeURL string
	headers     config.HeadersConfig
	buffer      time.Duration
	interval    time.Duration
	client      *http.Client

	mu           sync.Mutex
	githubToken  string
	copilotToken string
	expiresAt    time.Time

	flight singleflight.Group
}

func NewManager(cfg *config.Config, store *Store, flow *DeviceFlow) *Manager {
	m := &Manager{
		store:       store,
		flow:        flow,
		exchangeURL: cfg.TokenExchangeURL,
		headers:     cfg.Headers,
		buffer:      time.Duration(cfg.TokenRefreshBufferSeconds) * time.Second,
		interval:    backgroundRefreshInterval,
		client:      &http.Client{Timeout: refreshTimeout},
	}
	// Warm start from whatever survived the last run.
	if tok, err := store.LoadGitHubToken(); err == nil {
		m.githubToken = tok
	}
	if tok, err := store.LoadCopilotToken(); err == nil {
		m.copilotToken = tok.Token
		m.expiresAt = time.Unix(tok.ExpiresAt, 0)
	}
	return m
}

func (m *Manager) StartDeviceFlow(ctx context.Context) (DeviceCode, error) {
	return m.flow.RequestCode(ctx)
}

// PollDeviceFlow performs one non-blocking exchange attempt. On success
// the GitHub token is stored and a Copilot token refresh is attempted
// immediately; a failed refresh is logged, not raised, since the
// identity itself is now established.
func (m *Manager) PollDeviceFlow(ctx context.Context, deviceCode string) (PollResult, error) {
	res, err := m.flow.Exchange(ctx, deviceCode)
	if err != nil {
		return PollResult{}, err
	}
	if res.Pending {
		return res, nil
	}
	if err := m.SetGitHubToken(res.AccessToken); err != nil {
		return PollResult{}, err
	}
	if _, err := m.Refresh(ctx); err != nil {
		log.Warn("copilot token refresh after login failed", "error", err)
	}
	return res, nil
}

// SetGitHubToken stores a GitHub token directly, bypassing the device
// flow, and invalidates any cached Copilot token so the next Token call
// refreshes against the new identity.
func (m *Manager) SetGitHubToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty github token")
	}
	m.mu.Lock()
	m.githubToken = token
	m.copilotToken = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()
	if err := m.store.SaveGitHubToken(token); err != nil {
		return err
	}
	return m.store.DeleteCopilotToken()
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.githubToken != ""
}

// Token returns the cached Copilot token when still valid, refreshing
// it otherwise. The call may block for one upstream round trip.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.cachedToken(); ok {
		return tok, nil
	}
	return m.Refresh(ctx)
}

func (m *Manager) cachedToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.copilotToken == "" {
		return "", false
	}
	if !time.Now().Add(m.buffer).Before(m.expiresAt) {
		return "", false
	}
	return m.copilotToken, true
}

// Refresh exchanges the GitHub token for a fresh Copilot token.
// Concurrent invocations collapse into one upstream call; every caller
// receives that call's outcome.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	v, err, _ := m.flight.Do(flightKey, func() (any, error) {
		// Every waiter shares this result, so the exchange must not die
		// with the first caller's context. refreshTimeout still bounds it.
		return m.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	githubToken := m.githubToken
	m.mu.Unlock()
	if githubToken == "" {
		return "", ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.exchangeURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "token "+githubToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Editor-Version", m.headers.EditorVersion)
	req.Header.Set("User-Agent", m.headers.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &RefreshError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var out struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
		RefreshIn int    `json:"refresh_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token exchange reply: %w", err)
	}
	if out.Token == "" {
		return "", &RefreshError{StatusCode: resp.StatusCode, Body: "empty token in reply"}
	}

	expiresAt := time.Unix(out.ExpiresAt, 0)
	m.mu.Lock()
	m.copilotToken = out.Token
	m.expiresAt = expiresAt
	m.mu.Unlock()
	if err := m.store.SaveCopilotToken(StoredCopilotToken{Token: out.Token, ExpiresAt: out.ExpiresAt}); err != nil {
		log.Warn("persist copilot token failed", "error", err)
	}
	log.Info("copilot token refreshed", "expires_at", expiresAt.UTC().Format(time.RFC3339))
	return out.Token, nil
}

// Logout clears both in-memory tokens and their persisted form.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.githubToken = ""
	m.copilotToken = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()
	return m.store.Clear()
}

// Run refreshes the Copilot token opportunistically until ctx is done.
// Failures are logged, not raised; no caller waits on this loop.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !m.IsAuthenticated() {
				continue
			}
			if _, ok := m.cachedToken(); ok {
				continue
			}
			if _, err := m.Refresh(ctx); err != nil {
				log.Warn("background copilot token refresh failed", "error", err)
			}
		}
	}
}
