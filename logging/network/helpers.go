package network

import (
	"context"

	"blockworld/server/logging"
)

const (
	// EventSessionOpened is emitted when a connection is accepted.
	EventSessionOpened logging.EventType = "network.session_opened"
	// EventSessionClosed is emitted once a session has released its connection.
	EventSessionClosed logging.EventType = "network.session_closed"
	// EventHandshakeCompleted is emitted when extension negotiation finishes.
	EventHandshakeCompleted logging.EventType = "network.handshake_completed"
	// EventProtocolError is emitted when an inbound packet could not be decoded.
	EventProtocolError logging.EventType = "network.protocol_error"
)

// SessionPayload identifies the remote end of a session.
type SessionPayload struct {
	Remote    string `json:"remote"`
	Transport string `json:"transport"`
}

// ClosedPayload records why a session ended.
type ClosedPayload struct {
	Remote string `json:"remote"`
	Reason string `json:"reason"`
}

// HandshakePayload summarises the negotiated capability set.
type HandshakePayload struct {
	AppName    string `json:"appName"`
	Extensions int    `json:"extensions"`
}

// ProtocolErrorPayload describes a fatal decoding failure.
type ProtocolErrorPayload struct {
	Error string `json:"error"`
}

// SessionOpened publishes a debug event for a new connection.
func SessionOpened(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload SessionPayload) {
	publish(ctx, pub, EventSessionOpened, logging.SeverityDebug, actor, payload)
}

// SessionClosed publishes an info event when a connection ends.
func SessionClosed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ClosedPayload) {
	publish(ctx, pub, EventSessionClosed, logging.SeverityInfo, actor, payload)
}

// HandshakeCompleted publishes a debug event with the negotiated set.
func HandshakeCompleted(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload HandshakePayload) {
	publish(ctx, pub, EventHandshakeCompleted, logging.SeverityDebug, actor, payload)
}

// ProtocolError publishes a warning before a session is force-closed.
func ProtocolError(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ProtocolErrorPayload) {
	publish(ctx, pub, EventProtocolError, logging.SeverityWarn, actor, payload)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, actor logging.EntityRef, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
