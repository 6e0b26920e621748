package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/protocol"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/rooms"
)

// parseRoomPayload applies the parameter guards shared by all four room
// operations: documentId must be present and the claimed user must be the
// authenticated one.
func (s *Session) parseRoomPayload(event string, raw json.RawMessage) (protocol.RoomPayload, bool) {
	var p protocol.RoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.emitError(event, protocol.CodeInvalidParameters, "malformed payload")
		return p, false
	}
	if p.DocumentID == "" {
		s.emitError(event, protocol.CodeMissingDocumentID, "documentId is required")
		return p, false
	}
	if p.UserID != s.userID {
		s.emitError(event, protocol.CodeUserIDMismatch, "userId does not match the authenticated user")
		return p, false
	}
	return p, true
}

func (s *Session) handleJoinDocument(ctx context.Context, raw json.RawMessage) {
	p, ok := s.parseRoomPayload(protocol.EventJoinDocument, raw)
	if !ok {
		return
	}

	if s.rooms.InMembership(s.connID, p.DocumentID) {
		s.emitError(protocol.EventJoinDocument, protocol.CodeAlreadyInRoom, "already in room")
		return
	}

	allowed, err := s.access.VerifyDocumentAccess(ctx, p.DocumentID, s.userID)
	if err != nil {
		s.logger.Error("Access check failed", slog.String("documentID", p.DocumentID), slog.Any("error", err))
		s.emitError(protocol.EventJoinDocument, protocol.CodeInternalError, "access check failed")
		return
	}
	if !allowed {
		s.emitError(protocol.EventJoinDocument, protocol.CodeUnauthorized, "no access to document")
		return
	}

	// Membership may have changed while the access check was in flight.
	if err := s.rooms.JoinMembership(s.connID, p.DocumentID); err != nil {
		if errors.Is(err, rooms.ErrAlreadyInRoom) {
			s.emitError(protocol.EventJoinDocument, protocol.CodeAlreadyInRoom, "already in room")
			return
		}
		s.logger.Error("Join failed", slog.String("documentID", p.DocumentID), slog.Any("error", err))
		s.emitError(protocol.EventJoinDocument, protocol.CodeInternalError, "join failed")
	}
}

func (s *Session) handleLeaveDocument(raw json.RawMessage) {
	p, ok := s.parseRoomPayload(protocol.EventLeaveDocument, raw)
	if !ok {
		return
	}

	if err := s.rooms.LeaveMembership(s.connID, p.DocumentID); err != nil {
		if errors.Is(err, rooms.ErrNotInRoom) || errors.Is(err, rooms.ErrUnknownConnection) {
			s.emitError(protocol.EventLeaveDocument, protocol.CodeNotInRoom, "not in room")
			return
		}
		s.logger.Error("Leave failed", slog.String("documentID", p.DocumentID), slog.Any("error", err))
		s.emitError(protocol.EventLeaveDocument, protocol.CodeInternalError, "leave failed")
	}
}

func (s *Session) handleJoinActiveDocument(ctx context.Context, raw json.RawMessage) {
	p, ok := s.parseRoomPayload(protocol.EventJoinActiveDocument, raw)
	if !ok {
		return
	}

	// Duplicate joins from an already-open editor are tolerated, without a
	// second presence broadcast.
	if cur, in := s.rooms.ActiveDoc(s.connID); in && cur == p.DocumentID {
		return
	}

	allowed, err := s.access.VerifyDocumentAccess(ctx, p.DocumentID, s.userID)
	if err != nil {
		s.logger.Error("Access check failed", slog.String("documentID", p.DocumentID), slog.Any("error", err))
		s.emitError(protocol.EventJoinActiveDocument, protocol.CodeInternalError, "access check failed")
		return
	}
	if !allowed {
		s.emitError(protocol.EventJoinActiveDocument, protocol.CodeUnauthorized, "no access to document")
		return
	}

	s.enterActiveRoom(p.DocumentID)
}

func (s *Session) handleLeaveActiveDocument(raw json.RawMessage) {
	p, ok := s.parseRoomPayload(protocol.EventLeaveActiveDocument, raw)
	if !ok {
		return
	}

	if cur, in := s.rooms.ActiveDoc(s.connID); !in || cur != p.DocumentID {
		s.emitError(protocol.EventLeaveActiveDocument, protocol.CodeNotInRoom, "not in active room")
		return
	}

	s.exitActiveRoom(p.DocumentID)
}

// enterActiveRoom joins the active room and announces presence. A different
// open editor is closed first; the single-value active-room field cannot
// hold two documents.
func (s *Session) enterActiveRoom(documentID string) {
	if cur, in := s.rooms.ActiveDoc(s.connID); in && cur != documentID {
		s.exitActiveRoom(cur)
	}

	if err := s.rooms.JoinActive(s.connID, documentID); err != nil {
		if errors.Is(err, rooms.ErrAlreadyInRoom) {
			return
		}
		s.logger.Error("Active join failed", slog.String("documentID", documentID), slog.Any("error", err))
		s.emitError(protocol.EventJoinActiveDocument, protocol.CodeInternalError, "join failed")
		return
	}

	s.broadcastPresence(documentID, protocol.PresenceJoined)
}

// exitActiveRoom flushes the document's pending save, leaves and announces
// the departure. Leaving used to discard the pending record, which silently
// lost the tail of the last edit burst; the flush makes the hand-off durable.
func (s *Session) exitActiveRoom(documentID string) {
	s.saves.Flush(documentID)

	if err := s.rooms.LeaveActive(s.connID, documentID); err != nil {
		s.logger.Warn("Active leave failed", slog.String("documentID", documentID), slog.Any("error", err))
		return
	}
	s.broadcastPresence(documentID, protocol.PresenceLeft)
}
