package collab

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/coalesce"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/protocol"
	"github.com/tidwall/gjson"
)

// handleTitleUpdate ingests a metadata mutation. The caller must already
// observe the document (membership room); write role is checked against the
// store at enqueue time. Unauthorized mutations are dropped without a reply
// so this channel does not leak role information.
func (s *Session) handleTitleUpdate(ctx context.Context, raw json.RawMessage) {
	docID := gjson.GetBytes(raw, "documentId").String()
	if docID == "" {
		s.emitError(protocol.EventUpdateTitle, protocol.CodeMissingDocumentID, "documentId is required")
		return
	}
	if !s.rooms.InMembership(s.connID, docID) {
		s.emitError(protocol.EventUpdateTitle, protocol.CodeNotInRoom, "not in room")
		return
	}

	// Absent and empty are different things for title/icon: an empty string
	// clears the field, absence leaves it alone.
	var fields coalesce.Fields
	if res := gjson.GetBytes(raw, "title"); res.Exists() {
		v := res.String()
		fields.Title = &v
	}
	if res := gjson.GetBytes(raw, "icon"); res.Exists() {
		v := res.String()
		fields.Icon = &v
	}
	if fields.Title == nil && fields.Icon == nil {
		s.emitError(protocol.EventUpdateTitle, protocol.CodeInvalidParameters, "title or icon is required")
		return
	}

	s.queueMutation(ctx, protocol.EventUpdateTitle, docID, fields)
}

// handleContentUpdate ingests a content mutation. The payload carries the
// claimed author, which must match the authenticated user before anything
// else happens.
func (s *Session) handleContentUpdate(ctx context.Context, raw json.RawMessage) {
	var p protocol.ContentUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.emitError(protocol.EventUpdateContent, protocol.CodeInvalidParameters, "malformed payload")
		return
	}
	if p.DocumentID == "" {
		s.emitError(protocol.EventUpdateContent, protocol.CodeMissingDocumentID, "documentId is required")
		return
	}
	if p.UserID != s.userID {
		s.emitError(protocol.EventUpdateContent, protocol.CodeUserIDMismatch, "userId does not match the authenticated user")
		return
	}
	if !gjson.GetBytes(raw, "content").Exists() {
		s.emitError(protocol.EventUpdateContent, protocol.CodeInvalidParameters, "content is required")
		return
	}
	if !s.rooms.InMembership(s.connID, p.DocumentID) {
		s.emitError(protocol.EventUpdateContent, protocol.CodeNotInRoom, "not in room")
		return
	}

	s.queueMutation(ctx, protocol.EventUpdateContent, p.DocumentID, coalesce.Fields{Content: &p.Content})
}

// queueMutation runs the shared check/enqueue/status sequence: resolve the
// caller's role, enqueue into the coalescer attributed to the caller, and
// emit the optimistic "saving" status on the caller's private channel.
func (s *Session) queueMutation(ctx context.Context, event, documentID string, fields coalesce.Fields) {
	acc, err := s.access.GetDirectAccess(ctx, documentID, s.userID)
	if err != nil {
		s.logger.Error("Role check failed", slog.String("documentID", documentID), slog.Any("error", err))
		s.emitError(event, protocol.CodeInternalError, "role check failed")
		return
	}
	if !acc.CanWrite() {
		// Silent drop: no error, no save status. The viewer's UI already
		// blocks editing; this is the server-side backstop.
		s.logger.Debug("Dropped mutation from non-writer",
			slog.String("documentID", documentID),
			slog.String("role", string(acc.Role)),
		)
		return
	}

	s.saves.QueueSave(documentID, s.userID, fields)
	s.notifySaveStatus(protocol.SaveStatusPayload{
		Status:     protocol.SaveStateSaving,
		DocumentID: documentID,
	})

	// Sidebar observers see metadata changes right away, without waiting for
	// the write-back.
	if fields.Title != nil || fields.Icon != nil {
		s.relayTitleNotice(documentID, fields.Title, fields.Icon)
	}
}

// relayTitleNotice pushes a metadata notice onto the document's membership
// room. The sender is excluded; it already has the values.
func (s *Session) relayTitleNotice(documentID string, title, icon *string) {
	msg, err := protocol.Marshal(protocol.ReceiveTitleEvent(documentID), protocol.TitleUpdatePayload{
		DocumentID: documentID,
		Title:      title,
		Icon:       icon,
	})
	if err != nil {
		s.logger.Error("Failed to marshal title notice", slog.Any("error", err))
		return
	}
	s.rooms.BroadcastMembership(documentID, s.connID, msg)
}
