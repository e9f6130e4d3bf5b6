package signaling

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	// Inbound
	MessageTypeCreateSession MessageType = "create-session"
	MessageTypeJoinSession   MessageType = "join-session"
	MessageTypeLeaveSession  MessageType = "leave-session"
	MessageTypeEndSession    MessageType = "end-session"
	MessageTypeOffer         MessageType = "offer"
	MessageTypeAnswer        MessageType = "answer"
	MessageTypeICECandidate  MessageType = "ice-candidate"

	// Outbound
	MessageTypeConnected       MessageType = "connected"
	MessageTypeSessionCreated  MessageType = "session-created"
	MessageTypeSessionExists   MessageType = "session-exists"
	MessageTypeSessionJoined   MessageType = "session-joined"
	MessageTypeSessionNotFound MessageType = "session-not-found"
	MessageTypeStreamerGone    MessageType = "streamer-gone"
	MessageTypeViewerJoined    MessageType = "viewer-joined"
	MessageTypeViewerCount     MessageType = "viewer-count"
	MessageTypeSessionEnded    MessageType = "session-ended"
	MessageTypeError           MessageType = "error"

	// Keepalive
	MessageTypePing MessageType = "ping"
	MessageTypePong MessageType = "pong"
)

// Message is the wire envelope for all signaling traffic. Negotiation payloads
// travel in Data untouched; From carries the sender's transport-assigned
// identity and SessionID the session the message pertains to.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// CreateSessionMessage asks the relay to register a new session with the
// sender as its streamer.
type CreateSessionMessage struct {
	SessionID string `json:"sessionId"`
}

type JoinSessionMessage struct {
	SessionID string `json:"sessionId"`
}

type LeaveSessionMessage struct {
	SessionID string `json:"sessionId"`
}

// NegotiationMessage carries an opaque offer/answer/candidate payload to a
// specific peer. The relay never parses Payload.
type NegotiationMessage struct {
	SessionID string          `json:"sessionId"`
	Target    string          `json:"target"`
	Payload   json.RawMessage `json:"payload"`
}

type ConnectedMessage struct {
	ParticipantID string `json:"participantId"`
}

type SessionCreatedMessage struct {
	SessionID string `json:"sessionId"`
}

// SessionExistsMessage rejects a create whose id is already in use.
type SessionExistsMessage struct {
	SessionID string `json:"sessionId"`
}

type SessionJoinedMessage struct {
	SessionID   string `json:"sessionId"`
	StreamerID  string `json:"streamerId"`
	ViewerCount int    `json:"viewerCount"`
}

// SessionNotFoundMessage rejects a join. KnownSessions lists currently-active
// ids as a diagnostic aid for clients that mistyped or raced an expiry.
type SessionNotFoundMessage struct {
	SessionID     string   `json:"sessionId"`
	KnownSessions []string `json:"knownSessions,omitempty"`
}

type StreamerGoneMessage struct {
	SessionID string `json:"sessionId"`
}

// ViewerJoinedMessage tells a streamer to start negotiating with a new viewer.
type ViewerJoinedMessage struct {
	SessionID   string `json:"sessionId"`
	ViewerID    string `json:"viewerId"`
	ViewerCount int    `json:"viewerCount"`
}

type ViewerCountMessage struct {
	SessionID   string `json:"sessionId"`
	ViewerCount int    `json:"viewerCount"`
}

type SessionEndedMessage struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type ErrorMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
