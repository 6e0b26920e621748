package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/protocol"
)

// handleHeaderChange relays a live header edit to both tiers immediately,
// without waiting for persistence. A sender that is not yet in the active
// room is auto-joined; live-edit delivery takes priority over strict
// membership bookkeeping.
func (s *Session) handleHeaderChange(ctx context.Context, raw json.RawMessage) {
	var p protocol.HeaderChangePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.emitError(protocol.EventHeaderChange, protocol.CodeInvalidParameters, "malformed payload")
		return
	}
	if p.DocumentID == "" {
		s.emitError(protocol.EventHeaderChange, protocol.CodeMissingDocumentID, "documentId is required")
		return
	}

	if !s.ensureActive(ctx, protocol.EventHeaderChange, p.DocumentID) {
		return
	}

	s.relayActive(p.DocumentID, protocol.EventHeaderChange, raw)
	s.relayTitleNotice(p.DocumentID, p.Title, p.Icon)
}

// handleDocChange is the core editing-delta path. Steps are opaque and
// client-defined; the server relays them verbatim to every other active-room
// member and never interprets, transforms or reorders them.
func (s *Session) handleDocChange(ctx context.Context, raw json.RawMessage) {
	var p protocol.DocChangePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.emitError(protocol.EventDocChange, protocol.CodeInvalidParameters, "malformed payload")
		return
	}
	if p.DocumentID == "" {
		s.emitError(protocol.EventDocChange, protocol.CodeMissingDocumentID, "documentId is required")
		s.nackDocChange(p.AckID, "documentId is required")
		return
	}

	if !s.ensureActive(ctx, protocol.EventDocChange, p.DocumentID) {
		s.nackDocChange(p.AckID, "no access to document")
		return
	}

	s.relayActive(p.DocumentID, protocol.EventDocChange, raw)

	if p.AckID != "" {
		s.ackDocChange(p.AckID)
	}
}

// handleCursorUpdate broadcasts presence data. Best-effort: a sender outside
// the active room is dropped silently, with no auto-join.
func (s *Session) handleCursorUpdate(raw json.RawMessage) {
	var p protocol.CursorUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Debug("Dropped malformed cursor update", slog.Any("error", err))
		return
	}
	if p.DocumentID == "" {
		return
	}
	if cur, in := s.rooms.ActiveDoc(s.connID); !in || cur != p.DocumentID {
		s.logger.Debug("Dropped cursor update from outside the active room",
			slog.String("documentID", p.DocumentID))
		return
	}

	s.relayActive(p.DocumentID, protocol.EventCursorUpdate, raw)
}

// handleCollaboratorDisconnect notifies the sender's current active room of
// an imminent departure. Clients send this before closing the editor. The
// notice always names the authenticated user; a userId in the payload cannot
// announce anyone else's departure.
func (s *Session) handleCollaboratorDisconnect(_ json.RawMessage) {
	doc, in := s.rooms.ActiveDoc(s.connID)
	if !in {
		return
	}

	msg, err := protocol.Marshal(protocol.EventCollaboratorDisconnect, protocol.CollaboratorDisconnectPayload{
		UserID: s.userID,
	})
	if err != nil {
		s.logger.Error("Failed to marshal disconnect notice", slog.Any("error", err))
		return
	}
	s.rooms.BroadcastActive(doc, s.connID, msg)
}

// ensureActive guarantees the sender occupies the document's active room,
// auto-joining after an access check when necessary. Reports failure to the
// sender and returns false when the sender may not enter.
func (s *Session) ensureActive(ctx context.Context, event, documentID string) bool {
	if cur, in := s.rooms.ActiveDoc(s.connID); in && cur == documentID {
		return true
	}

	allowed, err := s.access.VerifyDocumentAccess(ctx, documentID, s.userID)
	if err != nil {
		s.logger.Error("Access check failed", slog.String("documentID", documentID), slog.Any("error", err))
		s.emitError(event, protocol.CodeInternalError, "access check failed")
		return false
	}
	if !allowed {
		s.emitError(event, protocol.CodeUnauthorized, "no access to document")
		return false
	}

	s.enterActiveRoom(documentID)
	return true
}

func (s *Session) ackDocChange(ackID string) {
	msg, err := protocol.Marshal(protocol.EventDocChangeAck, protocol.DocChangeAckPayload{
		AckID: ackID,
		OK:    true,
		TS:    time.Now().UnixMilli(),
	})
	if err != nil {
		s.logger.Error("Failed to marshal ack", slog.Any("error", err))
		return
	}
	s.sender.Send(msg)
}

func (s *Session) nackDocChange(ackID, reason string) {
	if ackID == "" {
		return
	}
	msg, err := protocol.Marshal(protocol.EventDocChangeAck, protocol.DocChangeAckPayload{
		AckID: ackID,
		OK:    false,
		Error: reason,
	})
	if err != nil {
		s.logger.Error("Failed to marshal nack", slog.Any("error", err))
		return
	}
	s.sender.Send(msg)
}
