// Package protocol declares the wire surface of the collaborative session
// server: event names, the message envelope, payload shapes and error codes.
// The server never interprets edit steps; they travel through these types as
// raw JSON.
package protocol

import "encoding/json"

// Client → server events.
const (
	EventJoinDocument        = "join-document"
	EventLeaveDocument       = "leave-document"
	EventJoinActiveDocument  = "join-active-document"
	EventLeaveActiveDocument = "leave-active-document"

	EventUpdateTitle   = "document:update:title"
	EventUpdateContent = "document:update:content"

	EventHeaderChange           = "doc-header-change"
	EventDocChange              = "doc-change"
	EventCursorUpdate           = "cursor-update"
	EventCollaboratorDisconnect = "collaborator-disconnect"
)

// Server → client events.
const (
	EventActiveUsers  = "active-users:update"
	EventSaveStatus   = "save:status"
	EventDocChangeAck = "doc-change:ack"
	EventError        = "error"
)

// ReceiveTitleEvent is the per-document membership-room channel for metadata
// notices (sidebar/tree updates).
func ReceiveTitleEvent(documentID string) string {
	return "document:receive:title:" + documentID
}

// Envelope is the framing for every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal frames a payload under an event name.
func Marshal(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

type ErrorCode string

const (
	CodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	CodeNotInRoom         ErrorCode = "NOT_IN_ROOM"
	CodeAlreadyInRoom     ErrorCode = "ALREADY_IN_ROOM"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeUserIDMismatch    ErrorCode = "USER_ID_MISMATCH"
	CodeMissingDocumentID ErrorCode = "MISSING_DOCUMENT_ID"
	CodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

// ErrorPayload is delivered to the offending sender only, never broadcast.
type ErrorPayload struct {
	Event   string    `json:"event"`
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
}

type SaveState string

const (
	SaveStateSaving SaveState = "saving"
	SaveStateSaved  SaveState = "saved"
	SaveStateError  SaveState = "error"
)

// SaveStatusPayload travels on the acting user's private channel only.
type SaveStatusPayload struct {
	Status     SaveState `json:"status"`
	DocumentID string    `json:"documentId"`
	Error      string    `json:"error,omitempty"`
}

type RoomPayload struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

type PresenceAction string

const (
	PresenceJoined PresenceAction = "joined"
	PresenceLeft   PresenceAction = "left"
)

type ActiveUsersPayload struct {
	DocumentID string         `json:"documentId"`
	UserID     string         `json:"userId"`
	Action     PresenceAction `json:"action"`
}

type TitleUpdatePayload struct {
	DocumentID string  `json:"documentId"`
	Title      *string `json:"title,omitempty"`
	Icon       *string `json:"icon,omitempty"`
}

type ContentUpdatePayload struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Content    string `json:"content"`
}

type HeaderChangePayload struct {
	DocumentID string  `json:"documentId"`
	UserID     string  `json:"userId"`
	Title      *string `json:"title,omitempty"`
	Icon       *string `json:"icon,omitempty"`
}

// DocChangePayload carries opaque edit steps. Steps are relayed verbatim;
// merge semantics live entirely on the clients.
type DocChangePayload struct {
	DocumentID string          `json:"documentId"`
	UserID     string          `json:"userId"`
	Steps      json.RawMessage `json:"steps"`
	Version    int64           `json:"version"`
	Timestamp  int64           `json:"timestamp"`
	AckID      string          `json:"ackId,omitempty"`
}

type DocChangeAckPayload struct {
	AckID string `json:"ackId"`
	OK    bool   `json:"ok"`
	TS    int64  `json:"ts,omitempty"`
	Error string `json:"error,omitempty"`
}

type CursorUpdatePayload struct {
	DocumentID string          `json:"documentId"`
	UserID     string          `json:"userId"`
	UserName   string          `json:"userName"`
	Color      string          `json:"color"`
	Cursor     json.RawMessage `json:"cursor,omitempty"`
	Selection  json.RawMessage `json:"selection,omitempty"`
	IsActive   *bool           `json:"isActive,omitempty"`
}

type CollaboratorDisconnectPayload struct {
	UserID string `json:"userId"`
}
