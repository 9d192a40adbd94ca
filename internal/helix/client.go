// Package helix issues authenticated calls against the Twitch Helix API.
// The client is stateless apart from the broadcaster identity and the
// announcement cooldown; tokens are re-fetched from the TokenSource per
// call so a concurrent refresh is always picked up.
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/OikoumE/twitchwrapper/internal/auth"
	apperrors "github.com/OikoumE/twitchwrapper/internal/errors"
	"github.com/OikoumE/twitchwrapper/internal/eventsub"
	"github.com/OikoumE/twitchwrapper/internal/platform/retry"
)

const (
	defaultAPIURL = "https://api.twitch.tv/helix"
	defaultIDURL  = "https://id.twitch.tv"

	// userBatchCap is the server-side limit per users lookup; longer
	// caller lists are truncated, not rejected.
	userBatchCap = 99

	// maxStreamPages bounds cursor pagination so a buggy cursor can
	// never loop forever.
	maxStreamPages = 10

	// announceCooldown is the client-side window between announcements.
	announceCooldown = 2 * time.Second

	// chatRetryAttempts bounds refresh-and-retry cycles for chat sends.
	chatRetryAttempts = 10
	// lookupRetryAttempts bounds refresh-and-retry cycles for lookups.
	lookupRetryAttempts = 3
)

var (
	errUnauthorized = errors.New("unauthorized")
	errRateLimited  = errors.New("rate limited")
)

// TokenSource provides the current credentials and a refresh hook,
// satisfied by auth.Authenticator.
type TokenSource interface {
	Current() *auth.Credentials
	Refresh(ctx context.Context) error
}

// User is a row from the users endpoint.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Stream is a row from the streams endpoint.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	UserName    string    `json:"user_name"`
	GameID      string    `json:"game_id"`
	GameName    string    `json:"game_name"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

// GameCategory is a row from the category search endpoint.
type GameCategory struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

type pagination struct {
	Cursor string `json:"cursor"`
}

// Client is the REST gateway.
type Client struct {
	httpc    *http.Client
	clientID string
	apiURL   string
	idURL    string
	tokens   TokenSource
	clock    clockwork.Clock

	mu            sync.Mutex
	broadcasterID string
	senderID      string
	lastAnnounce  time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithAPIURL overrides the Helix base URL (for tests).
func WithAPIURL(base string) Option {
	return func(c *Client) { c.apiURL = base }
}

// WithIDURL overrides the OAuth base URL (for tests).
func WithIDURL(base string) Option {
	return func(c *Client) { c.idURL = base }
}

// WithClock overrides the clock (for tests).
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func NewClient(clientID string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		httpc:    &http.Client{Timeout: 10 * time.Second},
		clientID: clientID,
		apiURL:   defaultAPIURL,
		idURL:    defaultIDURL,
		tokens:   tokens,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetBroadcaster fixes the broadcaster and sender ids used for chat and
// raid calls; set once per connection after identity resolution.
func (c *Client) SetBroadcaster(broadcasterID, senderID string) {
	c.mu.Lock()
	c.broadcasterID = broadcasterID
	c.senderID = senderID
	c.mu.Unlock()
}

func (c *Client) ids() (broadcasterID, senderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broadcasterID, c.senderID
}

// do issues one authenticated request. The bearer token is read from the
// TokenSource at call time, never cached.
func (c *Client) do(ctx context.Context, method, rawURL string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if creds := c.tokens.Current(); creds != nil {
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	}
	req.Header.Set("Client-Id", c.clientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

type response struct {
	status int
	body   []byte
}

func classifyAuth(err error) retry.Action {
	switch {
	case errors.Is(err, errUnauthorized):
		return retry.Retry
	case errors.Is(err, errRateLimited):
		return retry.After
	default:
		return retry.Stop
	}
}

// doWithAuthRetry runs op with a bounded refresh-and-retry cycle: a 401
// refreshes the token and retries, a 429 backs off longer, anything else
// is returned to the caller. Exceeding the bound is a fatal auth error.
func (c *Client) doWithAuthRetry(ctx context.Context, attempts int, op func() (int, []byte, error)) (int, []byte, error) {
	policy := retry.Policy{
		MaxAttempts:      attempts,
		InitialBackoff:   100 * time.Millisecond,
		RateLimitBackoff: time.Second,
		Clock:            c.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Helix call retrying", "attempt", attempt, "error", err, "backoff", backoff.String())
		},
	}

	res, err := retry.Do(ctx, policy, classifyAuth, func() (response, error) {
		status, body, opErr := op()
		if opErr != nil {
			return response{}, opErr
		}
		switch status {
		case http.StatusUnauthorized:
			if refreshErr := c.tokens.Refresh(ctx); refreshErr != nil {
				return response{}, fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			return response{}, errUnauthorized
		case http.StatusTooManyRequests:
			return response{}, errRateLimited
		}
		return response{status, body}, nil
	})
	if err != nil {
		if errors.Is(err, errUnauthorized) {
			return 0, nil, apperrors.AuthError(
				fmt.Sprintf("still unauthorized after %d attempts", attempts), err)
		}
		return 0, nil, err
	}
	return res.status, res.body, nil
}

// CreateSubscription registers one EventSub subscription and returns the
// response status. 401 handling is owned by the caller, which pairs the
// retry with its per-category refresh bookkeeping.
func (c *Client) CreateSubscription(ctx context.Context, req eventsub.SubscriptionRequest) (int, error) {
	status, body, err := c.do(ctx, http.MethodPost, c.apiURL+"/eventsub/subscriptions", req)
	if err != nil {
		return 0, fmt.Errorf("subscription request failed: %w", err)
	}
	if status != http.StatusAccepted && status != http.StatusUnauthorized {
		slog.Warn("Subscription rejected", "type", req.Type, "status", status, "body", string(body))
	}
	return status, nil
}

// SendChatMessage posts a message to the broadcaster's chat, refreshing
// and retrying on 401 up to the chat retry bound.
func (c *Client) SendChatMessage(ctx context.Context, text string) error {
	broadcasterID, senderID := c.ids()
	payload := map[string]string{
		"broadcaster_id": broadcasterID,
		"sender_id":      senderID,
		"message":        text,
	}

	status, body, err := c.doWithAuthRetry(ctx, chatRetryAttempts, func() (int, []byte, error) {
		return c.do(ctx, http.MethodPost, c.apiURL+"/chat/messages", payload)
	})
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return apperrors.ApplicationError(
			fmt.Sprintf("chat message rejected with status %d: %s", status, string(body)), nil)
	}
	slog.Debug("Sent chat message", "message", text)
	return nil
}

// SendAnnouncement posts a chat announcement. Announcements within the
// cooldown window are replaced with a plain cooldown notice, not queued.
func (c *Client) SendAnnouncement(ctx context.Context, text string) error {
	c.mu.Lock()
	now := c.clock.Now()
	onCooldown := now.Sub(c.lastAnnounce) < announceCooldown
	if !onCooldown {
		c.lastAnnounce = now
	}
	c.mu.Unlock()

	if onCooldown {
		slog.Warn("Announcement cooldown active, substituting notice")
		return c.SendChatMessage(ctx, "Announcement cooldown active, slow down!")
	}

	broadcasterID, senderID := c.ids()
	payload := map[string]string{
		"message": text,
	}
	endpoint := fmt.Sprintf("%s/chat/announcements?broadcaster_id=%s&moderator_id=%s",
		c.apiURL, url.QueryEscape(broadcasterID), url.QueryEscape(senderID))

	status, body, err := c.doWithAuthRetry(ctx, chatRetryAttempts, func() (int, []byte, error) {
		return c.do(ctx, http.MethodPost, endpoint, payload)
	})
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return apperrors.ApplicationError(
			fmt.Sprintf("announcement rejected with status %d: %s", status, string(body)), nil)
	}
	return nil
}

func (c *Client) getUsers(ctx context.Context, query url.Values) ([]User, error) {
	endpoint := c.apiURL + "/users"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	status, body, err := c.doWithAuthRetry(ctx, lookupRetryAttempts, func() (int, []byte, error) {
		return c.do(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apperrors.ApplicationError(
			fmt.Sprintf("users lookup rejected with status %d: %s", status, string(body)), nil)
	}

	var result struct {
		Data []User `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse users response: %w", err)
	}
	return result.Data, nil
}

// GetUsersByID looks up users by id, truncating the batch to the server cap.
func (c *Client) GetUsersByID(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) > userBatchCap {
		ids = ids[:userBatchCap]
	}
	query := url.Values{}
	for _, id := range ids {
		query.Add("id", id)
	}
	return c.getUsers(ctx, query)
}

// GetUsersByLogin looks up users by login, truncating the batch to the
// server cap.
func (c *Client) GetUsersByLogin(ctx context.Context, logins []string) ([]User, error) {
	if len(logins) > userBatchCap {
		logins = logins[:userBatchCap]
	}
	query := url.Values{}
	for _, login := range logins {
		query.Add("login", login)
	}
	return c.getUsers(ctx, query)
}

// OwnUser returns the user the current token belongs to.
func (c *Client) OwnUser(ctx context.Context) (User, error) {
	users, err := c.getUsers(ctx, nil)
	if err != nil {
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, apperrors.ApplicationError("users lookup returned no rows", nil)
	}
	return users[0], nil
}

// ResolveUser resolves a broadcaster given either a numeric id or a login
// name, returning the id and display name.
func (c *Client) ResolveUser(ctx context.Context, broadcaster string) (id, displayName string, err error) {
	var users []User
	if isNumeric(broadcaster) {
		users, err = c.GetUsersByID(ctx, []string{broadcaster})
	} else {
		users, err = c.GetUsersByLogin(ctx, []string{strings.ToLower(broadcaster)})
	}
	if err != nil {
		return "", "", err
	}
	if len(users) == 0 {
		return "", "", apperrors.ApplicationError(
			fmt.Sprintf("broadcaster %q not found", broadcaster), nil)
	}
	return users[0].ID, users[0].DisplayName, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// GetStreams returns live streams for the given logins, following the
// pagination cursor up to a fixed page cap to guarantee termination.
func (c *Client) GetStreams(ctx context.Context, logins []string) ([]Stream, error) {
	var streams []Stream
	cursor := ""

	for page := 0; page < maxStreamPages; page++ {
		query := url.Values{}
		for _, login := range logins {
			query.Add("user_login", login)
		}
		if cursor != "" {
			query.Set("after", cursor)
		}

		endpoint := c.apiURL + "/streams"
		if len(query) > 0 {
			endpoint += "?" + query.Encode()
		}

		status, body, err := c.doWithAuthRetry(ctx, lookupRetryAttempts, func() (int, []byte, error) {
			return c.do(ctx, http.MethodGet, endpoint, nil)
		})
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, apperrors.ApplicationError(
				fmt.Sprintf("streams lookup rejected with status %d: %s", status, string(body)), nil)
		}

		var result struct {
			Data       []Stream   `json:"data"`
			Pagination pagination `json:"pagination"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("failed to parse streams response: %w", err)
		}

		streams = append(streams, result.Data...)
		cursor = result.Pagination.Cursor
		if cursor == "" {
			break
		}
	}
	return streams, nil
}

// SearchCategories searches stream categories by name.
func (c *Client) SearchCategories(ctx context.Context, query string) ([]GameCategory, error) {
	endpoint := c.apiURL + "/search/categories?query=" + url.QueryEscape(query)

	status, body, err := c.doWithAuthRetry(ctx, lookupRetryAttempts, func() (int, []byte, error) {
		return c.do(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apperrors.ApplicationError(
			fmt.Sprintf("category search rejected with status %d: %s", status, string(body)), nil)
	}

	var result struct {
		Data []GameCategory `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse category search response: %w", err)
	}
	return result.Data, nil
}

// StartRaid raids another broadcaster from the configured channel.
func (c *Client) StartRaid(ctx context.Context, toBroadcasterID string) error {
	broadcasterID, _ := c.ids()
	endpoint := fmt.Sprintf("%s/raids?from_broadcaster_id=%s&to_broadcaster_id=%s",
		c.apiURL, url.QueryEscape(broadcasterID), url.QueryEscape(toBroadcasterID))

	status, body, err := c.doWithAuthRetry(ctx, lookupRetryAttempts, func() (int, []byte, error) {
		return c.do(ctx, http.MethodPost, endpoint, nil)
	})
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return apperrors.ApplicationError(
			fmt.Sprintf("raid rejected with status %d: %s", status, string(body)), nil)
	}
	return nil
}

// ValidateToken checks the current token against the introspection
// endpoint. A 401 means invalid, not an error.
func (c *Client) ValidateToken(ctx context.Context) (bool, error) {
	creds := c.tokens.Current()
	if creds == nil {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.idURL+"/oauth2/validate", nil)
	if err != nil {
		return false, fmt.Errorf("failed to build validate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, fmt.Errorf("validate request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK, nil
}
