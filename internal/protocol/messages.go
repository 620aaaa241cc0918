// Package protocol defines the JSON records stored in the feed and the
// WebSocket messages exchanged between the feed gateway and its clients. All
// gateway messages follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/friendlychat/chat-app/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAuth        = "auth"
	TypeAppend      = "append"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeReady       = "ready"
	TypeAppended    = "appended"
	TypeChildAdded  = "child_added"
	TypeCancelled   = "cancelled"
	TypeRateLimited = "rate_limited"
	TypeError       = "error"
	TypePong        = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the payload can be decoded later into its concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AuthMsg identifies the connection. Token is a Firebase ID token; Name is
// accepted instead when the gateway runs without token verification.
type AuthMsg struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Name  string `json:"name,omitempty"`
}

// AppendMsg asks the gateway to append one record to the feed. Ref is echoed
// back in the matching appended or error message.
type AppendMsg struct {
	Type     string  `json:"type"`
	Ref      string  `json:"ref"`
	Text     *string `json:"text,omitempty"`
	PhotoURL *string `json:"photoUrl,omitempty"`
	Name     string  `json:"name"`
}

// Message converts the request into a feed record.
func (m AppendMsg) Message() chat.Message {
	return chat.Message{Text: m.Text, PhotoURL: m.PhotoURL, Name: m.Name}
}

// SubscribeMsg starts delivery of the whole feed followed by new entries.
// Sub tags every delivery so the client can drop events that belong to an
// earlier subscription.
type SubscribeMsg struct {
	Type string `json:"type"`
	Sub  string `json:"sub"`
}

// UnsubscribeMsg stops delivery.
type UnsubscribeMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ReadyMsg is sent once the connection has been authenticated.
type ReadyMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

// AppendedMsg acknowledges an append with the backend-assigned key.
type AppendedMsg struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
	Key  string `json:"key"`
}

// ChildAddedMsg carries one feed entry, in key order.
type ChildAddedMsg struct {
	Type     string  `json:"type"`
	Sub      string  `json:"sub"`
	Key      string  `json:"key"`
	Text     *string `json:"text,omitempty"`
	PhotoURL *string `json:"photoUrl,omitempty"`
	Name     string  `json:"name"`
}

// NewChildAdded builds the delivery message for a feed entry.
func NewChildAdded(sub string, m chat.Message) ChildAddedMsg {
	return ChildAddedMsg{Sub: sub, Key: m.Key, Text: m.Text, PhotoURL: m.PhotoURL, Name: m.Name}
}

// Message converts the delivery back into a feed record.
func (m ChildAddedMsg) Message() chat.Message {
	return chat.Message{Key: m.Key, Text: m.Text, PhotoURL: m.PhotoURL, Name: m.Name}
}

// CancelledMsg ends a subscription from the server side.
type CancelledMsg struct {
	Type   string `json:"type"`
	Sub    string `json:"sub"`
	Reason string `json:"reason"`
}

// RateLimitedMsg is sent when an append was refused by the rate limiter.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	Ref        string `json:"ref,omitempty"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Ref     string `json:"ref,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// An error is returned for unknown or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuth:
		var m AuthMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAppend:
		var m AppendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSubscribe:
		var m SubscribeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUnsubscribe:
		var m UnsubscribeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// ParseServerMessage is the client-side counterpart of ParseClientMessage.
func ParseServerMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeReady:
		var m ReadyMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAppended:
		var m AppendedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChildAdded:
		var m ChildAddedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelled:
		var m CancelledMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRateLimited:
		var m RateLimitedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeError:
		var m ErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePong:
		var m PongMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewMessage creates a JSON-encoded byte slice for a gateway message. The
// msgType is injected into the payload under the "type" key.
func NewMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal message: %w", err)
	}
	return out, nil
}
