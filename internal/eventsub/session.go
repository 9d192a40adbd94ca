// Package eventsub implements a persistent client for the Twitch EventSub
// websocket transport: one long-lived duplex connection per session,
// subscription registration bound to the server-assigned session id, and
// decode-and-dispatch of notification frames to registered handlers.
package eventsub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/OikoumE/twitchwrapper/internal/auth"
	apperrors "github.com/OikoumE/twitchwrapper/internal/errors"
	"github.com/OikoumE/twitchwrapper/internal/platform/correlation"
)

const defaultEndpoint = "wss://eventsub.wss.twitch.tv/ws"

// keepaliveGrace is added to the negotiated timeout before the watchdog
// declares the connection dead.
const keepaliveGrace = 5 * time.Second

// State is the connection lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateAuthenticating
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives the decoded payload of one notification frame.
type Handler func(payload json.RawMessage)

// TokenSource is the credential lifecycle the session depends on,
// satisfied by auth.Authenticator.
type TokenSource interface {
	AcquireToken(ctx context.Context) (*auth.Credentials, error)
	Refresh(ctx context.Context) error
}

// Gateway is the subset of the Helix REST surface the session uses.
type Gateway interface {
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (status int, err error)
	ResolveUser(ctx context.Context, broadcaster string) (id, displayName string, err error)
	SetBroadcaster(broadcasterID, senderID string)
	SendChatMessage(ctx context.Context, text string) error
}

// Identity is the broadcaster resolved once per connection and cached for
// the session lifetime.
type Identity struct {
	ID          string
	DisplayName string
}

// Config carries the session parameters fixed at construction.
type Config struct {
	// Broadcaster is a login name or numeric user id.
	Broadcaster string
	// KeepaliveSeconds is the requested keepalive timeout; clamped to the
	// protocol range [10, 600] on dial, never rejected.
	KeepaliveSeconds int
	// AnnounceConnect emits a confirmation chat message once connected.
	AnnounceConnect bool
}

// errGenerationEnded signals that the current receive loop has been
// superseded (reconnect) and should exit without reporting.
var errGenerationEnded = errors.New("connection generation ended")

// Session owns the duplex transport, the server-assigned session id, and
// the inbound decode-and-dispatch loop. At most one transport is open at a
// time; each reconnect starts a new generation with a fresh cancellation
// scope so stale scopes can never cancel a newer connection.
type Session struct {
	cfg   Config
	auth  TokenSource
	gw    Gateway
	clock clockwork.Clock

	endpoint string
	dialer   *websocket.Dialer

	rootCtx    context.Context
	rootCancel context.CancelFunc

	connecting atomic.Bool
	closing    atomic.Bool

	mu          sync.Mutex
	state       State
	handlers    map[Category][]Handler
	conn        *websocket.Conn
	genCancel   context.CancelFunc
	sessionID   string
	identity    Identity
	lastAlive   time.Time
	aliveWindow time.Duration
	onConnected func(connected bool, broadcasterName string)
	onClosed    func()
	onError     func(error)

	seen *seenCache
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithEndpoint overrides the websocket endpoint (for tests).
func WithEndpoint(url string) SessionOption {
	return func(s *Session) { s.endpoint = url }
}

// WithSessionClock overrides the clock (for tests).
func WithSessionClock(clock clockwork.Clock) SessionOption {
	return func(s *Session) { s.clock = clock }
}

// OnConnected registers the callback invoked once the session is open and
// subscription registration has settled.
func OnConnected(cb func(connected bool, broadcasterName string)) SessionOption {
	return func(s *Session) { s.onConnected = cb }
}

// OnClosed registers the callback invoked exactly once when the session
// closes.
func OnClosed(cb func()) SessionOption {
	return func(s *Session) { s.onClosed = cb }
}

// OnError registers the callback that surfaces auth and protocol errors to
// the session owner.
func OnError(cb func(error)) SessionOption {
	return func(s *Session) { s.onError = cb }
}

// NewSession creates a session with the caller-supplied handler registry.
// Handlers may be extended at runtime with On; registering a second
// handler for a category runs both.
func NewSession(cfg Config, ts TokenSource, gw Gateway, handlers map[Category]Handler, opts ...SessionOption) *Session {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		auth:       ts,
		gw:         gw,
		clock:      clockwork.NewRealClock(),
		endpoint:   defaultEndpoint,
		dialer:     websocket.DefaultDialer,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		state:      StateIdle,
		handlers:   make(map[Category][]Handler, len(handlers)),
	}
	for c, h := range handlers {
		s.handlers[c] = append(s.handlers[c], h)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seen = newSeenCache(s.clock)
	return s
}

// On appends a handler for a category. Existing handlers for the same
// category keep running; all of them receive each dispatched payload.
func (s *Session) On(c Category, h Handler) {
	s.mu.Lock()
	s.handlers[c] = append(s.handlers[c], h)
	s.mu.Unlock()
}

// Categories returns the categories with at least one registered handler.
func (s *Session) Categories() []Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	cats := make([]Category, 0, len(s.handlers))
	for c := range s.handlers {
		cats = append(cats, c)
	}
	return cats
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Broadcaster returns the identity resolved during Connect.
func (s *Session) Broadcaster() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// clampKeepalive clamps n to the protocol-mandated range [10, 600].
// Out-of-range values are silently clamped, not rejected.
func clampKeepalive(n int) int {
	switch {
	case n < 10:
		return 10
	case n > 600:
		return 600
	default:
		return n
	}
}

func (s *Session) dialURL(endpoint string) string {
	return endpoint + "?keepalive_timeout_seconds=" + strconv.Itoa(clampKeepalive(s.cfg.KeepaliveSeconds))
}

// Connect acquires credentials, resolves the broadcaster identity, opens
// the transport, and starts the receive loop. A second call while a
// connect attempt is in progress is rejected immediately, not queued.
func (s *Session) Connect(ctx context.Context) error {
	if s.closing.Load() {
		return apperrors.TransportError("session is closed", nil)
	}
	if !s.connecting.CompareAndSwap(false, true) {
		return apperrors.TransportError("connect already in progress", nil)
	}
	defer s.connecting.Store(false)

	s.setState(StateAuthenticating)
	if _, err := s.auth.AcquireToken(ctx); err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("failed to acquire token: %w", err)
	}

	id, name, err := s.gw.ResolveUser(ctx, s.cfg.Broadcaster)
	if err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("failed to resolve broadcaster %q: %w", s.cfg.Broadcaster, err)
	}
	s.mu.Lock()
	s.identity = Identity{ID: id, DisplayName: name}
	s.mu.Unlock()
	s.gw.SetBroadcaster(id, id)
	slog.Info("Resolved broadcaster", "id", id, "name", name)

	s.setState(StateConnecting)
	conn, _, err := s.dialer.DialContext(ctx, s.dialURL(s.endpoint), nil)
	if err != nil {
		s.setState(StateIdle)
		return apperrors.TransportError("failed to dial eventsub endpoint", err)
	}

	s.seen.Reset()
	s.startGeneration(conn, true)
	return nil
}

// startGeneration installs conn as the live transport and spawns its
// receive loop under a fresh cancellation scope. The previous generation's
// scope is retired so it can never cancel the new connection.
func (s *Session) startGeneration(conn *websocket.Conn, resubscribe bool) {
	genCtx, genCancel := context.WithCancel(s.rootCtx)
	genCtx = correlation.WithID(genCtx, correlation.NewID())

	s.mu.Lock()
	if s.genCancel != nil {
		s.genCancel()
	}
	s.genCancel = genCancel
	s.conn = conn
	s.sessionID = ""
	s.lastAlive = s.clock.Now()
	s.state = StateOpen
	s.mu.Unlock()

	slog.InfoContext(genCtx, "Connected to EventSub websocket")
	go s.receiveLoop(genCtx, conn, resubscribe)
	go s.keepaliveWatchdog(genCtx, conn)
}

func (s *Session) isCurrent(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

func (s *Session) reportError(err error) {
	s.mu.Lock()
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	} else {
		slog.Error("Session error", "error", err)
	}
}

// receiveLoop reads frames one at a time for the lifetime of this
// generation. A frame's dispatch returns before the next read, so
// decode-and-route is strictly in arrival order.
func (s *Session) receiveLoop(ctx context.Context, conn *websocket.Conn, resubscribe bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || s.closing.Load() || !s.isCurrent(conn) {
				return
			}

			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				text := closeCodeText[ce.Code]
				slog.WarnContext(ctx, "Websocket closed by server", "code", ce.Code, "reason", text)
				if ce.Code == closeInvalidReconnect {
					// stale reconnect: the session is gone, start over
					// with fresh token validation and new subscriptions
					s.fullReconnect(ctx)
					return
				}
			} else {
				slog.WarnContext(ctx, "Websocket read failed", "error", err)
			}
			s.fullReconnect(ctx)
			return
		}

		if err := s.handleFrame(ctx, conn, data, &resubscribe); err != nil {
			if errors.Is(err, errGenerationEnded) {
				return
			}
			s.reportError(err)
			_ = s.Close()
			return
		}
	}
}

// handleFrame decodes and dispatches one inbound frame. Empty frames are
// skipped; a frame that is not valid JSON is fatal to the connection.
func (s *Session) handleFrame(ctx context.Context, conn *websocket.Conn, data []byte, resubscribe *bool) error {
	if len(bytes.TrimSpace(data)) == 0 {
		slog.DebugContext(ctx, "Skipping empty frame")
		return nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return apperrors.TransportError("unparseable frame", err)
	}

	if env.Metadata.MessageID != "" && s.seen.Seen(env.Metadata.MessageID) {
		slog.WarnContext(ctx, "Duplicate message id, discarding", "message_id", env.Metadata.MessageID)
		return nil
	}

	switch env.Metadata.MessageType {
	case typeWelcome:
		return s.handleWelcome(ctx, env, resubscribe)
	case typeKeepalive:
		s.noteAlive()
	case typeNotification:
		s.noteAlive()
		return s.handleNotification(ctx, env)
	case typeReconnect:
		return s.handleReconnect(ctx, conn, env)
	default:
		slog.DebugContext(ctx, "Ignoring unknown message type", "type", env.Metadata.MessageType)
	}
	return nil
}

func (s *Session) noteAlive() {
	s.mu.Lock()
	s.lastAlive = s.clock.Now()
	s.mu.Unlock()
}

func (s *Session) handleWelcome(ctx context.Context, env envelope, resubscribe *bool) error {
	var p sessionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return apperrors.TransportError("unparseable welcome payload", err)
	}
	if p.Session.ID == "" {
		return apperrors.ProtocolError("welcome message missing session id")
	}

	s.mu.Lock()
	s.sessionID = p.Session.ID
	s.lastAlive = s.clock.Now()
	if p.Session.KeepaliveTimeoutSeconds > 0 {
		s.aliveWindow = time.Duration(p.Session.KeepaliveTimeoutSeconds) * time.Second
	}
	name := s.identity.DisplayName
	s.mu.Unlock()

	slog.InfoContext(ctx, "Session welcome", "session_id", p.Session.ID,
		"keepalive_timeout_seconds", p.Session.KeepaliveTimeoutSeconds)

	if !*resubscribe {
		// lightweight reconnect: subscriptions carried over with the session
		slog.InfoContext(ctx, "Session resumed after reconnect")
		return nil
	}
	*resubscribe = false

	go s.registerSubscriptions(ctx, name)
	return nil
}

// registerSubscriptions issues one registration per category
// concurrently. Failures are per-category; the connected callback fires
// after all registrations have settled.
func (s *Session) registerSubscriptions(ctx context.Context, broadcasterName string) {
	s.mu.Lock()
	cats := make([]Category, 0, len(s.handlers))
	for c := range s.handlers {
		cats = append(cats, c)
	}
	onConnected := s.onConnected
	announce := s.cfg.AnnounceConnect
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range cats {
		wg.Add(1)
		go func(c Category) {
			defer wg.Done()
			if err := s.subscribe(ctx, c); err != nil {
				slog.ErrorContext(ctx, "Subscription registration failed",
					"category", c.String(), "error", err)
				if apperrors.IsType(err, apperrors.TypeAuth) {
					s.reportError(err)
				}
			}
		}(c)
	}
	wg.Wait()
	slog.InfoContext(ctx, "Subscription registration settled", "categories", len(cats))

	if onConnected != nil {
		onConnected(true, broadcasterName)
	}
	if announce {
		if err := s.gw.SendChatMessage(ctx, "Connected to EventSub websocket!"); err != nil {
			slog.WarnContext(ctx, "Failed to send connect confirmation", "error", err)
		}
	}
}

// subscribe registers one category against the current session id. A 401
// triggers exactly one token refresh and retry; a second 401 is a
// registration failure, not a loop.
func (s *Session) subscribe(ctx context.Context, c Category) error {
	s.mu.Lock()
	req := NewSubscriptionRequest(c, s.identity.ID, s.sessionID)
	s.mu.Unlock()

	status, err := s.gw.CreateSubscription(ctx, req)
	if err != nil {
		return apperrors.ApplicationError(fmt.Sprintf("subscription request for %s failed", c), err)
	}

	if status == http.StatusUnauthorized {
		slog.WarnContext(ctx, "Subscription rejected with 401, refreshing token", "category", c.String())
		if err := s.auth.Refresh(ctx); err != nil {
			return apperrors.AuthError(fmt.Sprintf("token refresh for %s registration failed", c), err)
		}
		status, err = s.gw.CreateSubscription(ctx, req)
		if err != nil {
			return apperrors.ApplicationError(fmt.Sprintf("subscription retry for %s failed", c), err)
		}
		if status == http.StatusUnauthorized {
			return apperrors.AuthError(fmt.Sprintf("%s registration still unauthorized after refresh", c), nil)
		}
	}

	if status < 200 || status > 299 {
		return apperrors.ApplicationError(
			fmt.Sprintf("subscription for %s rejected with status %d", c, status), nil)
	}

	slog.InfoContext(ctx, "Subscribed", "category", c.String())
	return nil
}

func (s *Session) handleNotification(ctx context.Context, env envelope) error {
	var p notificationPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return apperrors.TransportError("unparseable notification payload", err)
	}

	c, err := CategoryForType(p.Subscription.Type)
	if err != nil {
		return err
	}

	s.mu.Lock()
	handlers := make([]Handler, len(s.handlers[c]))
	copy(handlers, s.handlers[c])
	s.mu.Unlock()

	if len(handlers) == 0 {
		slog.DebugContext(ctx, "No handler registered, dropping", "category", c.String())
		return nil
	}

	for _, h := range handlers {
		h(env.Payload)
	}
	return nil
}

// handleReconnect performs the lightweight reconnect path: swap the
// transport to the server-provided URL, keep handlers and token, skip
// re-subscribing (the session carries its subscriptions over).
func (s *Session) handleReconnect(ctx context.Context, conn *websocket.Conn, env envelope) error {
	var p sessionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return apperrors.TransportError("unparseable reconnect payload", err)
	}
	if p.Session.ReconnectURL == "" {
		return apperrors.ProtocolError("reconnect message missing reconnect_url")
	}

	slog.InfoContext(ctx, "Server requested reconnect", "url", p.Session.ReconnectURL)
	s.setState(StateReconnecting)

	newConn, _, err := s.dialer.DialContext(s.rootCtx, p.Session.ReconnectURL, nil)
	if err != nil {
		slog.WarnContext(ctx, "Reconnect dial failed, falling back to full reconnect", "error", err)
		s.fullReconnect(ctx)
		return errGenerationEnded
	}

	s.closeTransport(conn)
	s.startGeneration(newConn, false)
	return errGenerationEnded
}

// fullReconnect rebuilds the connection from scratch: token validation,
// fresh endpoint, new session, new subscriptions. Dial attempts use
// exponential backoff until the root scope is cancelled.
func (s *Session) fullReconnect(ctx context.Context) {
	if s.closing.Load() {
		return
	}
	s.setState(StateReconnecting)
	slog.InfoContext(ctx, "Starting full reconnect")

	if _, err := s.auth.AcquireToken(s.rootCtx); err != nil {
		s.reportError(fmt.Errorf("reconnect token acquisition failed: %w", err))
		return
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = 30 * time.Second

	conn, err := backoff.Retry(s.rootCtx, func() (*websocket.Conn, error) {
		c, _, dialErr := s.dialer.DialContext(s.rootCtx, s.dialURL(s.endpoint), nil)
		return c, dialErr
	},
		backoff.WithBackOff(retry),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "Reconnect dial failed, retrying", "error", err, "next_retry", next.String())
		}),
	)
	if err != nil {
		if s.rootCtx.Err() == nil {
			s.reportError(apperrors.TransportError("reconnect failed", err))
		}
		return
	}

	s.seen.Reset()
	s.startGeneration(conn, true)
}

// keepaliveWatchdog enforces the negotiated keepalive window: when no
// keepalive or notification arrives within the window (plus grace), the
// connection is assumed dead and fully reconnected.
func (s *Session) keepaliveWatchdog(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(keepaliveGrace):
		}

		s.mu.Lock()
		window := s.aliveWindow
		elapsed := s.clock.Now().Sub(s.lastAlive)
		current := s.conn == conn
		cancel := s.genCancel
		s.mu.Unlock()

		if !current {
			return
		}
		if window <= 0 || elapsed <= window+keepaliveGrace {
			continue
		}

		slog.WarnContext(ctx, "Keepalive window exceeded, reconnecting",
			"elapsed", elapsed.String(), "window", window.String())
		// retire the generation before closing the socket so the receive
		// loop's wakeup does not race us into a second reconnect
		if cancel != nil {
			cancel()
		}
		s.closeTransport(conn)
		s.fullReconnect(ctx)
		return
	}
}

// closeTransport sends a best-effort normal-closure frame and closes the
// socket, swallowing errors if it is already closing.
func (s *Session) closeTransport(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"), deadline)
	_ = conn.Close()
}

// Close shuts the session down: it cancels the generation scope, notifies
// the remote side best-effort, and invokes the close callback exactly
// once. A second call while already closing is a no-op.
func (s *Session) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	s.rootCancel()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	onClosed := s.onClosed
	s.onClosed = nil
	s.onConnected = nil
	s.state = StateClosed
	s.mu.Unlock()

	s.closeTransport(conn)

	if onClosed != nil {
		onClosed()
	}
	slog.Info("Session closed")
	return nil
}
