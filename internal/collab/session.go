// Package collab implements the per-connection collaborative session: room
// admission, metadata/content mutation intake and live edit relay. Handlers
// never interpret edit payloads; the server authenticates, authorizes and
// fans out.
package collab

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/access"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/coalesce"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/protocol"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/rooms"
	"github.com/google/uuid"
)

// Session is the handler set for one authenticated connection. It is created
// by the gateway after the session check passes and destroyed on disconnect.
type Session struct {
	connID uuid.UUID
	userID string
	sender rooms.Sender

	rooms  *rooms.Registry
	access access.Verifier
	saves  *coalesce.Coalescer
	logger *slog.Logger
}

func NewSession(connID uuid.UUID, userID string, sender rooms.Sender, registry *rooms.Registry, verifier access.Verifier, saves *coalesce.Coalescer, logger *slog.Logger) *Session {
	return &Session{
		connID: connID,
		userID: userID,
		sender: sender,
		rooms:  registry,
		access: verifier,
		saves:  saves,
		logger: logger.With(
			slog.String("component", "collab"),
			slog.String("connID", connID.String()),
			slog.String("userID", userID),
		),
	}
}

// HandleMessage is the transport message callback. No failure inside a
// handler may escape and break the connection; anything unexpected becomes a
// structured error to the sender plus a log entry.
func (s *Session) HandleMessage(ctx context.Context, _ uuid.UUID, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn("Failed to unmarshal client message", slog.Any("error", err))
		s.emitError("", protocol.CodeInvalidParameters, "malformed message")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler panicked", slog.String("event", env.Event), slog.Any("panic", r))
			s.emitError(env.Event, protocol.CodeInternalError, "internal error")
		}
	}()

	switch env.Event {
	case protocol.EventJoinDocument:
		s.handleJoinDocument(ctx, env.Payload)
	case protocol.EventLeaveDocument:
		s.handleLeaveDocument(env.Payload)
	case protocol.EventJoinActiveDocument:
		s.handleJoinActiveDocument(ctx, env.Payload)
	case protocol.EventLeaveActiveDocument:
		s.handleLeaveActiveDocument(env.Payload)
	case protocol.EventUpdateTitle:
		s.handleTitleUpdate(ctx, env.Payload)
	case protocol.EventUpdateContent:
		s.handleContentUpdate(ctx, env.Payload)
	case protocol.EventHeaderChange:
		s.handleHeaderChange(ctx, env.Payload)
	case protocol.EventDocChange:
		s.handleDocChange(ctx, env.Payload)
	case protocol.EventCursorUpdate:
		s.handleCursorUpdate(env.Payload)
	case protocol.EventCollaboratorDisconnect:
		s.handleCollaboratorDisconnect(env.Payload)
	default:
		s.logger.Warn("Received unknown event", slog.String("event", env.Event))
		s.emitError(env.Event, protocol.CodeInvalidParameters, "unknown event")
	}
}

// Teardown runs when the transport closes: the connection leaves every room
// it occupies, flushing any pending save for its open editor and notifying
// remaining collaborators.
func (s *Session) Teardown() {
	if doc, ok := s.rooms.ActiveDoc(s.connID); ok {
		s.saves.Flush(doc)
		if err := s.rooms.LeaveActive(s.connID, doc); err == nil {
			s.broadcastPresence(doc, protocol.PresenceLeft)
		}
	}
	s.rooms.Deregister(s.connID)
	s.logger.Debug("Session torn down")
}

// emitError reports a failure to the offending sender only. Authorization
// and state errors are never broadcast, and the connection stays open.
func (s *Session) emitError(event string, code protocol.ErrorCode, message string) {
	msg, err := protocol.Marshal(protocol.EventError, protocol.ErrorPayload{
		Event:   event,
		Message: message,
		Code:    code,
	})
	if err != nil {
		s.logger.Error("Failed to marshal error payload", slog.Any("error", err))
		return
	}
	s.sender.Send(msg)
}

// notifySaveStatus delivers a save lifecycle event on the acting user's
// private channel.
func (s *Session) notifySaveStatus(status protocol.SaveStatusPayload) {
	msg, err := protocol.Marshal(protocol.EventSaveStatus, status)
	if err != nil {
		s.logger.Error("Failed to marshal save status", slog.Any("error", err))
		return
	}
	s.rooms.NotifyUser(s.userID, msg)
}

func (s *Session) broadcastPresence(documentID string, action protocol.PresenceAction) {
	msg, err := protocol.Marshal(protocol.EventActiveUsers, protocol.ActiveUsersPayload{
		DocumentID: documentID,
		UserID:     s.userID,
		Action:     action,
	})
	if err != nil {
		s.logger.Error("Failed to marshal presence update", slog.Any("error", err))
		return
	}
	// Presence changes go to the whole active room, the subject included.
	s.rooms.BroadcastActive(documentID, uuid.Nil, msg)
}

// relayActive re-frames the original payload verbatim and fans it out to
// every other active-room member. The sender never receives its own event.
func (s *Session) relayActive(documentID, event string, payload json.RawMessage) {
	msg, err := json.Marshal(protocol.Envelope{Event: event, Payload: payload})
	if err != nil {
		s.logger.Error("Failed to marshal relay envelope", slog.Any("error", err))
		return
	}
	s.rooms.BroadcastActive(documentID, s.connID, msg)
}
