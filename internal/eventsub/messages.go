package eventsub

import (
	"encoding/json"
	"time"
)

// EventSub websocket message types.
const (
	typeWelcome      = "session_welcome"
	typeKeepalive    = "session_keepalive"
	typeNotification = "notification"
	typeReconnect    = "session_reconnect"
)

// Server-side close codes, per the EventSub websocket reference.
const (
	closeInternalError    = 4000
	closeSentInbound      = 4001
	closeFailedPingPong   = 4002
	closeConnectionUnused = 4003
	closeReconnectExpired = 4004
	closeNetworkTimeout   = 4005
	closeNetworkError     = 4006
	closeInvalidReconnect = 4007
)

var closeCodeText = map[int]string{
	closeInternalError:    "internal server error",
	closeSentInbound:      "client sent inbound traffic",
	closeFailedPingPong:   "client failed ping-pong",
	closeConnectionUnused: "connection unused",
	closeReconnectExpired: "reconnect grace time expired",
	closeNetworkTimeout:   "network timeout",
	closeNetworkError:     "network error",
	closeInvalidReconnect: "invalid reconnect",
}

// envelope is the outer wrapper around every inbound frame, separating
// transport metadata from the category-specific payload.
type envelope struct {
	Metadata metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type metadata struct {
	MessageID        string    `json:"message_id"`
	MessageType      string    `json:"message_type"`
	MessageTimestamp time.Time `json:"message_timestamp"`
}

type sessionPayload struct {
	Session struct {
		ID                      string `json:"id"`
		Status                  string `json:"status"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
		ReconnectURL            string `json:"reconnect_url"`
	} `json:"session"`
}

type notificationPayload struct {
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
}

// SubscriptionRequest is the body of an outbound subscription registration.
type SubscriptionRequest struct {
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition map[string]string     `json:"condition"`
	Transport SubscriptionTransport `json:"transport"`
}

type SubscriptionTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

// NewSubscriptionRequest builds the registration body for a category,
// bound to the current websocket session.
func NewSubscriptionRequest(c Category, broadcasterID, sessionID string) SubscriptionRequest {
	wireType, version := Descriptor(c)
	return SubscriptionRequest{
		Type:      wireType,
		Version:   version,
		Condition: Condition(c, broadcasterID),
		Transport: SubscriptionTransport{
			Method:    "websocket",
			SessionID: sessionID,
		},
	}
}
