package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lkarlslund/copilot-relay/pkg/config"
)

const deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// DeviceCode is the identity provider's reply to a device flow start.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// PollResult is the outcome of one device code exchange attempt.
// Exactly one of Pending or AccessToken is meaningful on a nil error.
type PollResult struct {
	AccessToken string
	Pending     bool
	SlowDown    bool
}

// DeviceFlow drives the two calls of the GitHub OAuth device flow. It
// holds no session state and runs no retry loop; the caller owns the
// poll cadence and the expiry window.
type DeviceFlow struct {
	oauth   config.OAuthConfig
	headers config.HeadersConfig
	client  *http.Client
}

func NewDeviceFlow(cfg *config.Config) *DeviceFlow {
	return &DeviceFlow{
		oauth:   cfg.OAuth,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *DeviceFlow) RequestCode(ctx context.Context) (DeviceCode, error) {
	body := map[string]string{
		"client_id": f.oauth.ClientID,
		"scope":     f.oauth.Scopes,
	}
	var out DeviceCode
	if err := f.postJSON(ctx, f.oauth.DeviceCodeURL, body, &out); err != nil {
		return DeviceCode{}, fmt.Errorf("request device code: %w", err)
	}
	if out.DeviceCode == "" || out.UserCode == "" {
		return DeviceCode{}, fmt.Errorf("request device code: incomplete reply from %s", f.oauth.DeviceCodeURL)
	}
	if out.Interval <= 0 {
		out.Interval = 5
	}
	return out, nil
}

func (f *DeviceFlow) Exchange(ctx context.Context, deviceCode string) (PollResult, error) {
	body := map[string]string{
		"client_id":   f.oauth.ClientID,
		"device_code": deviceCode,
		"grant_type":  deviceCodeGrantType,
	}
	var out struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := f.postJSON(ctx, f.oauth.AccessTokenURL, body, &out); err != nil {
		return PollResult{}, fmt.Errorf("exchange device code: %w", err)
	}
	switch out.Error {
	case "":
	case "authorization_pending":
		return PollResult{Pending: true}, nil
	case "slow_down":
		return PollResult{Pending: true, SlowDown: true}, nil
	default:
		msg := out.Error
		if strings.TrimSpace(out.ErrorDescription) != "" {
			msg += ": " + out.ErrorDescription
		}
		return PollResult{}, fmt.Errorf("exchange device code: %s", msg)
	}
	if out.AccessToken == "" {
		return PollResult{}, fmt.Errorf("exchange device code: empty access token from %s", f.oauth.AccessTokenURL)
	}
	return PollResult{AccessToken: out.AccessToken}, nil
}

func (f *DeviceFlow) postJSON(ctx context.Context, url string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Editor-Version", f.headers.EditorVersion)
	req.Header.Set("User-Agent", f.headers.UserAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
