package router

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/streamcast/relay/internals/metrics"
	"github.com/streamcast/relay/internals/registry"
	"github.com/streamcast/relay/internals/signaling"
	"go.uber.org/zap"
)

var safeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

// Reasons attached to session-ended broadcasts.
const (
	ReasonStreamerLeft = "streamer-left"
	ReasonStreamerGone = "streamer-gone"
	ReasonEnded        = "ended"
	ReasonExpired      = "expired"
)

// Transport is the connection layer the router emits through. The hub
// implements it; tests substitute a fake.
type Transport interface {
	Send(participantID string, msg signaling.Message)
	Broadcast(group string, msg signaling.Message)
	JoinGroup(group, participantID string)
	LeaveGroup(group, participantID string)
	RemoveGroup(group string)
	IsConnected(participantID string) bool
}

// Router translates inbound signaling events into registry operations and
// outbound messages. It holds no session state of its own; everything lives
// in the registry.
type Router struct {
	registry  *registry.Registry
	transport Transport
	logger    *zap.Logger

	maxSessionAge   time.Duration
	maxSessionIDLen int
}

func New(reg *registry.Registry, transport Transport, logger *zap.Logger, maxSessionAge time.Duration, maxSessionIDLen int) *Router {
	return &Router{
		registry:        reg,
		transport:       transport,
		logger:          logger,
		maxSessionAge:   maxSessionAge,
		maxSessionIDLen: maxSessionIDLen,
	}
}

func unmarshalMessageData[T any](data json.RawMessage, out *T) error {
	if err := json.Unmarshal(data, out); err != nil {
		var dataStr string
		if err2 := json.Unmarshal(data, &dataStr); err2 != nil {
			return fmt.Errorf("not valid JSON: %w", err)
		}
		if err3 := json.Unmarshal([]byte(dataStr), out); err3 != nil {
			return fmt.Errorf("invalid inner JSON: %w", err3)
		}
	}
	return nil
}

// HandleMessage dispatches one inbound message from a connected participant.
func (rt *Router) HandleMessage(from string, message signaling.Message) {
	metrics.MessagesReceivedTotal.Inc()

	switch message.Type {
	case signaling.MessageTypeCreateSession:
		rt.handleCreateSession(from, message)
	case signaling.MessageTypeJoinSession:
		rt.handleJoinSession(from, message)
	case signaling.MessageTypeLeaveSession:
		rt.handleLeaveSession(from, message)
	case signaling.MessageTypeEndSession:
		rt.handleEndSession(from, message)
	case signaling.MessageTypeOffer, signaling.MessageTypeAnswer, signaling.MessageTypeICECandidate:
		rt.handleNegotiation(from, message)
	case signaling.MessageTypePong:
		// no-op
	default:
		rt.logger.Debug("Unknown message type", zap.String("type", string(message.Type)))
	}
}

func (rt *Router) validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("sessionId is required")
	}
	if len(id) > rt.maxSessionIDLen {
		return fmt.Errorf("sessionId exceeds maximum length of %d", rt.maxSessionIDLen)
	}
	if !safeIDPattern.MatchString(id) {
		return fmt.Errorf("sessionId contains invalid characters")
	}
	return nil
}

func (rt *Router) handleCreateSession(from string, message signaling.Message) {
	var createMsg signaling.CreateSessionMessage
	if err := unmarshalMessageData(message.Data, &createMsg); err != nil {
		rt.sendError(from, 400, "Invalid create-session message format")
		return
	}

	if err := rt.validateSessionID(createMsg.SessionID); err != nil {
		rt.sendError(from, 400, err.Error())
		return
	}

	if err := rt.registry.Create(createMsg.SessionID, from); err != nil {
		rt.send(from, signaling.MessageTypeSessionExists, createMsg.SessionID,
			signaling.SessionExistsMessage{SessionID: createMsg.SessionID})
		return
	}

	// The streamer joins the session group up front so session-ended
	// broadcasts on expiry reach it too.
	rt.transport.JoinGroup(createMsg.SessionID, from)
	metrics.RecordSessionCreated()

	rt.send(from, signaling.MessageTypeSessionCreated, createMsg.SessionID,
		signaling.SessionCreatedMessage{SessionID: createMsg.SessionID})
}

func (rt *Router) handleJoinSession(from string, message signaling.Message) {
	var joinMsg signaling.JoinSessionMessage
	if err := unmarshalMessageData(message.Data, &joinMsg); err != nil {
		rt.sendError(from, 400, "Invalid join-session message format")
		return
	}

	info, ok := rt.registry.Get(joinMsg.SessionID)
	if !ok {
		rt.rejectNotFound(from, joinMsg.SessionID)
		return
	}

	// The recorded streamer may have vanished without a disconnect event
	// reaching us first. Reconcile by destroying the stale session here.
	if !rt.transport.IsConnected(info.StreamerID) {
		if gone, destroyed := rt.registry.Destroy(joinMsg.SessionID); destroyed {
			rt.endSessionGroup(gone, ReasonStreamerGone)
			metrics.RecordSessionsEnded(ReasonStreamerGone, 1)
		}
		metrics.RecordJoinRejection("streamer_gone")
		rt.send(from, signaling.MessageTypeStreamerGone, joinMsg.SessionID,
			signaling.StreamerGoneMessage{SessionID: joinMsg.SessionID})
		rt.logger.Info("Stale session destroyed on join",
			zap.String("session_id", joinMsg.SessionID),
			zap.String("streamer_id", info.StreamerID),
			zap.String("joiner_id", from),
		)
		return
	}

	streamerID, viewerCount, err := rt.registry.AddViewer(joinMsg.SessionID, from)
	switch err {
	case nil:
	case registry.ErrSessionNotFound:
		// Session vanished between Get and AddViewer; same outcome as a
		// plain miss.
		rt.rejectNotFound(from, joinMsg.SessionID)
		return
	case registry.ErrOwnSession:
		metrics.RecordJoinRejection("own_session")
		rt.sendError(from, 409, "Cannot join a session you are streaming")
		return
	default:
		rt.sendError(from, 500, "Internal error")
		return
	}

	rt.transport.JoinGroup(joinMsg.SessionID, from)
	metrics.ViewersJoinedTotal.Inc()

	rt.send(from, signaling.MessageTypeSessionJoined, joinMsg.SessionID,
		signaling.SessionJoinedMessage{
			SessionID:   joinMsg.SessionID,
			StreamerID:  streamerID,
			ViewerCount: viewerCount,
		})

	rt.send(streamerID, signaling.MessageTypeViewerCount, joinMsg.SessionID,
		signaling.ViewerCountMessage{SessionID: joinMsg.SessionID, ViewerCount: viewerCount})

	// Ask the streamer to open negotiation with the new viewer.
	rt.send(streamerID, signaling.MessageTypeViewerJoined, joinMsg.SessionID,
		signaling.ViewerJoinedMessage{
			SessionID:   joinMsg.SessionID,
			ViewerID:    from,
			ViewerCount: viewerCount,
		})

	rt.logger.Info("Viewer joined session",
		zap.String("session_id", joinMsg.SessionID),
		zap.String("viewer_id", from),
		zap.Int("viewer_count", viewerCount),
	)
}

func (rt *Router) handleLeaveSession(from string, message signaling.Message) {
	var leaveMsg signaling.LeaveSessionMessage
	if err := unmarshalMessageData(message.Data, &leaveMsg); err != nil {
		rt.sendError(from, 400, "Invalid leave-session message format")
		return
	}

	streamerID, viewerCount, removed := rt.registry.RemoveViewer(leaveMsg.SessionID, from)
	if !removed {
		// Speculative leave against state that no longer exists. Fine.
		return
	}

	rt.transport.LeaveGroup(leaveMsg.SessionID, from)

	rt.send(streamerID, signaling.MessageTypeViewerCount, leaveMsg.SessionID,
		signaling.ViewerCountMessage{SessionID: leaveMsg.SessionID, ViewerCount: viewerCount})
}

// handleEndSession lets a streamer tear down its own session without
// disconnecting.
func (rt *Router) handleEndSession(from string, message signaling.Message) {
	var endMsg signaling.LeaveSessionMessage
	if err := unmarshalMessageData(message.Data, &endMsg); err != nil {
		rt.sendError(from, 400, "Invalid end-session message format")
		return
	}

	info, ok := rt.registry.Get(endMsg.SessionID)
	if !ok {
		return
	}
	if info.StreamerID != from {
		rt.sendError(from, 403, "Only the streamer may end a session")
		return
	}

	if gone, destroyed := rt.registry.Destroy(endMsg.SessionID); destroyed {
		rt.endSessionGroup(gone, ReasonEnded)
		metrics.RecordSessionsEnded(ReasonEnded, 1)
	}
}

// handleNegotiation forwards an offer, answer or candidate verbatim to its
// target, tagged with the sender's identity and the session id. Payloads are
// opaque; a malformed SDP is the receiving peer's problem.
func (rt *Router) handleNegotiation(from string, message signaling.Message) {
	var negMsg signaling.NegotiationMessage
	if err := unmarshalMessageData(message.Data, &negMsg); err != nil {
		rt.sendError(from, 400, "Invalid negotiation message format")
		return
	}
	if negMsg.Target == "" {
		rt.sendError(from, 400, "Negotiation message requires a target")
		return
	}

	rt.transport.Send(negMsg.Target, signaling.Message{
		Type:      message.Type,
		Data:      negMsg.Payload,
		Timestamp: time.Now(),
		From:      from,
		SessionID: negMsg.SessionID,
	})
	metrics.RecordRelayed(string(message.Type))
}

// HandleDisconnect cleans up after a connection loss. The participant's role
// is unknown here, so both possibilities are tried: first streamer cleanup,
// then viewer cleanup across all remaining sessions. Both are no-ops when
// nothing matches, so a disconnect arriving after expiry already removed the
// session is harmless.
func (rt *Router) HandleDisconnect(participantID string) {
	ended := rt.registry.DestroyIfStreamer(participantID)
	for _, gone := range ended {
		rt.endSessionGroup(gone, ReasonStreamerLeft)
	}
	metrics.RecordSessionsEnded(ReasonStreamerLeft, len(ended))

	removals := rt.registry.RemoveParticipantEverywhere(participantID)
	for _, rm := range removals {
		rt.transport.LeaveGroup(rm.SessionID, participantID)
		rt.send(rm.StreamerID, signaling.MessageTypeViewerCount, rm.SessionID,
			signaling.ViewerCountMessage{SessionID: rm.SessionID, ViewerCount: rm.ViewerCount})
	}

	if len(ended) > 0 || len(removals) > 0 {
		rt.logger.Info("Participant cleanup complete",
			zap.String("participant_id", participantID),
			zap.Int("sessions_ended", len(ended)),
			zap.Int("viewerships_removed", len(removals)),
		)
	}
}

// SweepOnce expires sessions older than the configured maximum age and
// notifies their former members. Broadcasts are best-effort; some members may
// already be gone.
func (rt *Router) SweepOnce(now time.Time) int {
	expired := rt.registry.SweepExpired(rt.maxSessionAge, now)
	for _, gone := range expired {
		rt.endSessionGroup(gone, ReasonExpired)
	}
	metrics.RecordSessionsEnded(ReasonExpired, len(expired))
	return len(expired)
}

// endSessionGroup broadcasts session-ended to the session's group and drops
// the group.
func (rt *Router) endSessionGroup(gone registry.Destroyed, reason string) {
	data, err := json.Marshal(signaling.SessionEndedMessage{SessionID: gone.ID, Reason: reason})
	if err != nil {
		rt.logger.Error("Failed to marshal session-ended message", zap.Error(err))
		return
	}
	rt.transport.Broadcast(gone.ID, signaling.Message{
		Type:      signaling.MessageTypeSessionEnded,
		Data:      data,
		Timestamp: time.Now(),
		SessionID: gone.ID,
	})
	rt.transport.RemoveGroup(gone.ID)
}

func (rt *Router) rejectNotFound(from, sessionID string) {
	metrics.RecordJoinRejection("not_found")
	rt.send(from, signaling.MessageTypeSessionNotFound, sessionID,
		signaling.SessionNotFoundMessage{
			SessionID:     sessionID,
			KnownSessions: rt.registry.SessionIDs(),
		})
}

func (rt *Router) send(to string, msgType signaling.MessageType, sessionID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		rt.logger.Error("Failed to marshal outbound message",
			zap.String("type", string(msgType)),
			zap.Error(err),
		)
		return
	}
	rt.transport.Send(to, signaling.Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
		SessionID: sessionID,
	})
}

func (rt *Router) sendError(to string, code int, msg string) {
	data, err := json.Marshal(signaling.ErrorMessage{Code: code, Message: msg})
	if err != nil {
		rt.logger.Error("Failed to marshal error message", zap.Error(err))
		return
	}
	rt.transport.Send(to, signaling.Message{
		Type:      signaling.MessageTypeError,
		Data:      data,
		Timestamp: time.Now(),
	})
}
