package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/browser"

	apperrors "github.com/OikoumE/twitchwrapper/internal/errors"
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// slowDownStep is added to the polling interval when the token endpoint
// answers slow_down.
const slowDownStep = 5 * time.Second

// Authenticator owns the credential lifecycle: device-code grant, token
// validation, silent refresh, and revoke. The current credentials are
// shared mutable state; readers must call Current per use instead of
// caching, since a concurrent refresh can replace them at any time.
type Authenticator struct {
	clientID string
	scopes   []string
	store    Store

	httpc   *http.Client
	clock   clockwork.Clock
	authURL string
	openURL func(string) error

	mu      sync.Mutex
	current *Credentials
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithAuthURL overrides the OAuth endpoint base (for tests).
func WithAuthURL(base string) Option {
	return func(a *Authenticator) { a.authURL = base }
}

// WithClock overrides the clock (for tests).
func WithClock(clock clockwork.Clock) Option {
	return func(a *Authenticator) { a.clock = clock }
}

// WithBrowserOpener overrides how the verification URL is opened.
func WithBrowserOpener(open func(string) error) Option {
	return func(a *Authenticator) { a.openURL = open }
}

func NewAuthenticator(clientID string, scopes []string, store Store, opts ...Option) *Authenticator {
	a := &Authenticator{
		clientID: clientID,
		scopes:   scopes,
		store:    store,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		clock:    clockwork.NewRealClock(),
		authURL:  "https://id.twitch.tv",
		openURL:  browser.OpenURL,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Current returns the most recently acquired credentials, or nil before
// AcquireToken has succeeded.
func (a *Authenticator) Current() *Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Authenticator) setCurrent(creds *Credentials) {
	a.mu.Lock()
	a.current = creds
	a.mu.Unlock()
}

// AcquireToken yields valid credentials: stored ones when they validate,
// silently refreshed ones when they don't, and a full device-code grant
// when there is nothing usable on disk. The context bounds the whole
// acquisition including device-flow polling.
func (a *Authenticator) AcquireToken(ctx context.Context) (*Credentials, error) {
	creds, err := a.store.Load()
	if err != nil {
		slog.Info("No stored credentials, starting device flow")
		return a.deviceFlow(ctx)
	}

	valid, err := a.ValidateToken(ctx, creds.AccessToken)
	if err != nil {
		return nil, err
	}
	if valid {
		slog.Debug("Stored token validated")
		a.setCurrent(creds)
		return creds, nil
	}

	slog.Info("Stored token invalid, attempting silent refresh")
	return a.refreshWith(ctx, creds)
}

// Refresh exchanges the current refresh token for a new pair. A revoked or
// expired refresh token is recoverable: it triggers a full device-code
// flow rather than failing outright.
func (a *Authenticator) Refresh(ctx context.Context) error {
	current := a.Current()
	if current == nil {
		return apperrors.AuthError("no credentials to refresh", nil)
	}
	_, err := a.refreshWith(ctx, current)
	return err
}

func (a *Authenticator) refreshWith(ctx context.Context, creds *Credentials) (*Credentials, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", creds.RefreshToken)
	data.Set("client_id", a.clientID)

	resp, body, err := a.postForm(ctx, a.authURL+"/oauth2/token", data)
	if err != nil {
		return nil, apperrors.AuthError("token refresh request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		if ctx.Err() != nil {
			return nil, apperrors.AuthError("token refresh cancelled", ctx.Err())
		}
		slog.Warn("Refresh token rejected, falling back to device flow",
			"status", resp.StatusCode)
		return a.deviceFlow(ctx)
	}

	var fresh Credentials
	if err := json.Unmarshal(body, &fresh); err != nil {
		return nil, apperrors.AuthError("failed to parse refresh response", err)
	}

	if err := a.store.Save(&fresh); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credentials: %w", err)
	}
	a.setCurrent(&fresh)
	slog.Info("Token refreshed")
	return &fresh, nil
}

// Revoke is best effort on the server side: local credentials are deleted
// regardless of the response, but a non-2xx answer is still surfaced.
func (a *Authenticator) Revoke(ctx context.Context) error {
	current := a.Current()
	if current == nil {
		if creds, err := a.store.Load(); err == nil {
			current = creds
		}
	}
	if current == nil {
		return nil
	}

	data := url.Values{}
	data.Set("client_id", a.clientID)
	data.Set("token", current.AccessToken)

	resp, body, err := a.postForm(ctx, a.authURL+"/oauth2/revoke", data)

	a.setCurrent(nil)
	if delErr := a.store.Delete(); delErr != nil {
		slog.Warn("Failed to delete credential file", "error", delErr)
	}

	if err != nil {
		return apperrors.AuthError("revoke request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.AuthError(
			fmt.Sprintf("revoke rejected with status %d: %s", resp.StatusCode, string(body)), nil)
	}
	slog.Info("Token revoked")
	return nil
}

// ValidateToken checks a token against the introspection endpoint. A 401
// means invalid, not an error.
func (a *Authenticator) ValidateToken(ctx context.Context, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.authURL+"/oauth2/validate", nil)
	if err != nil {
		return false, apperrors.AuthError("failed to build validate request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpc.Do(req)
	if err != nil {
		return false, apperrors.AuthError("validate request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK, nil
}

func (a *Authenticator) deviceFlow(ctx context.Context) (*Credentials, error) {
	dc, err := a.requestDeviceCode(ctx)
	if err != nil {
		return nil, err
	}

	slog.Info("Opening verification URL in browser",
		"url", dc.VerificationURI, "user_code", dc.UserCode)
	if err := a.openURL(dc.VerificationURI); err != nil {
		// Not fatal: the user can open the URL by hand.
		slog.Warn("Failed to open browser", "error", err)
	}

	return a.pollForToken(ctx, dc)
}

func (a *Authenticator) requestDeviceCode(ctx context.Context) (*deviceCodeResponse, error) {
	data := url.Values{}
	data.Set("client_id", a.clientID)
	data.Set("scopes", strings.Join(a.scopes, " "))

	resp, body, err := a.postForm(ctx, a.authURL+"/oauth2/device", data)
	if err != nil {
		return nil, apperrors.AuthError("device code request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.AuthError(
			fmt.Sprintf("device code request rejected with status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var dc deviceCodeResponse
	if err := json.Unmarshal(body, &dc); err != nil {
		return nil, apperrors.AuthError("failed to parse device code response", err)
	}
	return &dc, nil
}

// pollForToken polls the token endpoint at the server-specified interval.
// authorization_pending keeps polling, slow_down lengthens the interval,
// anything else from the 400 family stops the flow. Polling past the device
// code's lifetime (or the context deadline) is a timeout failure.
func (a *Authenticator) pollForToken(ctx context.Context, dc *deviceCodeResponse) (*Credentials, error) {
	data := url.Values{}
	data.Set("client_id", a.clientID)
	data.Set("scopes", strings.Join(a.scopes, " "))
	data.Set("device_code", dc.DeviceCode)
	data.Set("grant_type", deviceGrantType)

	interval := time.Duration(dc.Interval) * time.Second
	deadline := a.clock.Now().Add(time.Duration(dc.ExpiresIn) * time.Second)

	slog.Info("Waiting for user authorization", "expires_in_seconds", dc.ExpiresIn)
	for {
		if a.clock.Now().After(deadline) {
			return nil, apperrors.AuthError("device flow timed out waiting for authorization", nil)
		}

		resp, body, err := a.postForm(ctx, a.authURL+"/oauth2/token", data)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperrors.AuthError("device flow cancelled", ctx.Err())
			}
			return nil, apperrors.AuthError("token poll request failed", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var creds Credentials
			if err := json.Unmarshal(body, &creds); err != nil {
				return nil, apperrors.AuthError("failed to parse token response", err)
			}
			if err := a.store.Save(&creds); err != nil {
				return nil, fmt.Errorf("failed to persist credentials: %w", err)
			}
			a.setCurrent(&creds)
			slog.Info("Device flow complete, token granted")
			return &creds, nil

		case resp.StatusCode == http.StatusBadRequest:
			switch pollSignal(body) {
			case "authorization_pending":
				// keep polling
			case "slow_down":
				interval += slowDownStep
			default:
				return nil, apperrors.AuthError(
					fmt.Sprintf("device flow rejected: %s", string(body)), nil)
			}

		default:
			return nil, apperrors.AuthError(
				fmt.Sprintf("token poll rejected with status %d: %s", resp.StatusCode, string(body)), nil)
		}

		select {
		case <-a.clock.After(interval):
		case <-ctx.Done():
			return nil, apperrors.AuthError("device flow cancelled", ctx.Err())
		}
	}
}

// pollSignal extracts the retry signal from a 400-family token response.
// Twitch reports it in the message field; other id providers use error.
func pollSignal(body []byte) string {
	var signal struct {
		Message string `json:"message"`
		Err     string `json:"error"`
	}
	if err := json.Unmarshal(body, &signal); err != nil {
		return ""
	}
	if signal.Message != "" {
		return signal.Message
	}
	return signal.Err
}

func (a *Authenticator) postForm(ctx context.Context, endpoint string, data url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}
