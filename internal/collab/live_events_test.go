package collab_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/protocol"
	"github.com/google/uuid"
)

func TestDocChangeRelaysToPeersNeverToSender(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.verifier.grant("doc-D", "a", editorAccess)
	h.verifier.grant("doc-D", "b", editorAccess)

	a, aSender := h.connect(t, "a")
	b, bSender := h.connect(t, "b")

	send(t, a, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-D", UserID: "a"})
	send(t, b, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-D", UserID: "b"})

	steps := json.RawMessage(`[{"type":"opX"}]`)
	send(t, a, protocol.EventDocChange, protocol.DocChangePayload{
		DocumentID: "doc-D",
		UserID:     "a",
		Steps:      steps,
		Version:    5,
		Timestamp:  time.Now().UnixMilli(),
	})

	got := bSender.byEvent(t, protocol.EventDocChange)
	if len(got) != 1 {
		t.Fatalf("peer should receive the change exactly once, got %d", len(got))
	}
	// The payload travels verbatim: same steps, same version.
	var relayed protocol.DocChangePayload
	if err := json.Unmarshal(got[0], &relayed); err != nil {
		t.Fatalf("malformed relayed payload: %v", err)
	}
	if string(relayed.Steps) != string(steps) || relayed.Version != 5 {
		t.Errorf("relay altered the payload: %+v", relayed)
	}

	if got := len(aSender.byEvent(t, protocol.EventDocChange)); got != 0 {
		t.Errorf("sender must never receive its own change, got %d", got)
	}

	// A disconnects abruptly; B can still leave cleanly with a left broadcast.
	a.Teardown()
	send(t, b, protocol.EventLeaveActiveDocument, protocol.RoomPayload{DocumentID: "doc-D", UserID: "b"})
	if codes := bSender.errorCodes(t); len(codes) != 0 {
		t.Errorf("leave after peer disconnect must not error, got %v", codes)
	}
}

func TestDocChangeAutoJoinsSender(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.verifier.grant("doc-D", "a", editorAccess)
	a, sender := h.connect(t, "a")

	// No explicit join-active-document first.
	send(t, a, protocol.EventDocChange, protocol.DocChangePayload{
		DocumentID: "doc-D",
		UserID:     "a",
		Steps:      json.RawMessage(`[]`),
		Version:    1,
	})

	if codes := sender.errorCodes(t); len(codes) != 0 {
		t.Errorf("auto-join should admit an authorized sender, got %v", codes)
	}
	// The auto-join announced presence to the room (the joiner included).
	if got := len(sender.byEvent(t, protocol.EventActiveUsers)); got != 1 {
		t.Errorf("expected one joined broadcast from the auto-join, got %d", got)
	}
	// A later explicit join of the same document is a quiet no-op.
	send(t, a, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-D", UserID: "a"})
	if got := len(sender.byEvent(t, protocol.EventActiveUsers)); got != 1 {
		t.Errorf("explicit join after auto-join must not broadcast again, got %d", got)
	}
}

func TestDocChangeUnauthorizedSenderNacked(t *testing.T) {
	h := newHarness(t, time.Hour)
	a, sender := h.connect(t, "a") // no grant

	send(t, a, protocol.EventDocChange, protocol.DocChangePayload{
		DocumentID: "doc-D",
		UserID:     "a",
		Steps:      json.RawMessage(`[]`),
		AckID:      "ack-1",
	})

	codes := sender.errorCodes(t)
	if len(codes) != 1 || codes[0] != protocol.CodeUnauthorized {
		t.Errorf("expected UNAUTHORIZED, got %v", codes)
	}

	acks := sender.byEvent(t, protocol.EventDocChangeAck)
	if len(acks) != 1 {
		t.Fatalf("expected one nack, got %d", len(acks))
	}
	var ack protocol.DocChangeAckPayload
	if err := json.Unmarshal(acks[0], &ack); err != nil {
		t.Fatalf("malformed ack payload: %v", err)
	}
	if ack.OK || ack.AckID != "ack-1" || ack.Error == "" {
		t.Errorf("expected failing ack for ack-1, got %+v", ack)
	}
}

func TestDocChangeAcknowledgesSenderOnly(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.verifier.grant("doc-D", "a", editorAccess)
	h.verifier.grant("doc-D", "b", editorAccess)

	a, aSender := h.connect(t, "a")
	b, bSender := h.connect(t, "b")

	send(t, a, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-D", UserID: "a"})
	send(t, b, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-D", UserID: "b"})

	send(t, a, protocol.EventDocChange, protocol.DocChangePayload{
		DocumentID: "doc-D",
		UserID:     "a",
		Steps:      json.RawMessage(`[]`),
		AckID:      "ack-7",
	})

	acks := aSender.byEvent(t, protocol.EventDocChangeAck)
	if len(acks) != 1 {
		t.Fatalf("expected one ack to the sender, got %d", len(acks))
	}
	var ack protocol.DocChangeAckPayload
	if err := json.Unmarshal(acks[0], &ack); err != nil {
		t.Fatalf("malformed ack payload: %v", err)
	}
	if !ack.OK || ack.AckID != "ack-7" || ack.TS == 0 {
		t.Errorf("expected ok ack with timestamp, got %+v", ack)
	}

	if got := len(bSender.byEvent(t, protocol.EventDocChangeAck)); got != 0 {
		t.Errorf("acks are private to the sender, got %d at peer", got)
	}
}

func TestHeaderChangeBroadcastsBothTiers(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.verifier.grant("doc-1", "a", editorAccess)
	h.verifier.grant("doc-1", "b", editorAccess)
	h.verifier.grant("doc-1", "c", viewerAccess)

	a, _ := h.connect(t, "a")
	b, bSender := h.connect(t, "b")
	c, cSender := h.connect(t, "c")

	// b edits alongside a; c only observes from the sidebar.
	send(t, b, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "b"})
	send(t, c, protocol.EventJoinDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "c"})

	// a was not in the active room: live delivery auto-joins it.
	send(t, a, protocol.EventHeaderChange, protocol.HeaderChangePayload{
		DocumentID: "doc-1",
		UserID:     "a",
		Title:      strptr("New Title"),
	})

	if got := len(bSender.byEvent(t, protocol.EventHeaderChange)); got != 1 {
		t.Errorf("active peer should receive the header change once, got %d", got)
	}
	notice := protocol.ReceiveTitleEvent("doc-1")
	if got := len(cSender.byEvent(t, notice)); got != 1 {
		t.Errorf("membership room should receive the title notice once, got %d", got)
	}
}

func TestCursorUpdateRequiresActiveRoom(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.verifier.grant("doc-1", "a", editorAccess)
	h.verifier.grant("doc-1", "b", editorAccess)

	a, aSender := h.connect(t, "a")
	b, bSender := h.connect(t, "b")
	send(t, b, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "b"})

	// a never joined: presence data is best-effort, dropped without error.
	send(t, a, protocol.EventCursorUpdate, protocol.CursorUpdatePayload{
		DocumentID: "doc-1",
		UserID:     "a",
		UserName:   "Alice",
		Color:      "#ff0000",
	})

	if codes := aSender.errorCodes(t); len(codes) != 0 {
		t.Errorf("cursor updates never error, got %v", codes)
	}
	if got := len(bSender.byEvent(t, protocol.EventCursorUpdate)); got != 0 {
		t.Errorf("out-of-room cursor update must not be relayed, got %d", got)
	}

	// Once inside, it flows to peers but not back.
	send(t, a, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "a"})
	send(t, a, protocol.EventCursorUpdate, protocol.CursorUpdatePayload{
		DocumentID: "doc-1",
		UserID:     "a",
		UserName:   "Alice",
		Color:      "#ff0000",
	})
	if got := len(bSender.byEvent(t, protocol.EventCursorUpdate)); got != 1 {
		t.Errorf("peer should receive the cursor update once, got %d", got)
	}
	if got := len(aSender.byEvent(t, protocol.EventCursorUpdate)); got != 0 {
		t.Errorf("sender must not receive its own cursor update, got %d", got)
	}
}

func TestCollaboratorDisconnectNotifiesActiveRoom(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.verifier.grant("doc-1", "a", editorAccess)
	h.verifier.grant("doc-1", "b", editorAccess)

	a, _ := h.connect(t, "a")
	b, bSender := h.connect(t, "b")

	send(t, a, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "a"})
	send(t, b, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "b"})

	send(t, a, protocol.EventCollaboratorDisconnect, protocol.CollaboratorDisconnectPayload{UserID: "a"})

	notices := bSender.byEvent(t, protocol.EventCollaboratorDisconnect)
	if len(notices) != 1 {
		t.Fatalf("peer should receive one disconnect notice, got %d", len(notices))
	}
	var p protocol.CollaboratorDisconnectPayload
	if err := json.Unmarshal(notices[0], &p); err != nil {
		t.Fatalf("malformed disconnect payload: %v", err)
	}
	if p.UserID != "a" {
		t.Errorf("expected userId a, got %q", p.UserID)
	}
}

func TestCollaboratorDisconnectIgnoresSpoofedIdentity(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.verifier.grant("doc-1", "a", editorAccess)
	h.verifier.grant("doc-1", "b", editorAccess)

	a, aSender := h.connect(t, "a")
	b, bSender := h.connect(t, "b")

	send(t, a, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "a"})
	send(t, b, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "b"})

	send(t, a, protocol.EventCollaboratorDisconnect, protocol.CollaboratorDisconnectPayload{UserID: "b"})

	notices := bSender.byEvent(t, protocol.EventCollaboratorDisconnect)
	if len(notices) != 1 {
		t.Fatalf("peer should receive one disconnect notice, got %d", len(notices))
	}
	var p protocol.CollaboratorDisconnectPayload
	if err := json.Unmarshal(notices[0], &p); err != nil {
		t.Fatalf("malformed disconnect payload: %v", err)
	}
	if p.UserID != "a" {
		t.Errorf("notice must name the authenticated sender, got %q", p.UserID)
	}
	if codes := aSender.errorCodes(t); len(codes) != 0 {
		t.Errorf("disconnect notices are best-effort, got errors %v", codes)
	}
}

func TestTeardownFlushesPendingSaveAndAnnouncesDeparture(t *testing.T) {
	h := newHarness(t, time.Hour) // window never fires on its own
	h.verifier.grant("doc-1", "a", editorAccess)
	h.verifier.grant("doc-1", "b", editorAccess)

	a, _ := h.connect(t, "a")
	b, bSender := h.connect(t, "b")

	send(t, a, protocol.EventJoinDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "a"})
	send(t, a, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "a"})
	send(t, b, protocol.EventJoinActiveDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "b"})

	send(t, a, protocol.EventUpdateContent, protocol.ContentUpdatePayload{
		DocumentID: "doc-1",
		UserID:     "a",
		Content:    `{"unsaved":"tail"}`,
	})

	a.Teardown()

	// The pending record was flushed, not discarded.
	updates := h.writer.all()
	if len(updates) != 1 {
		t.Fatalf("teardown should flush the pending save, got %d writes", len(updates))
	}
	if updates[0].Content == nil || *updates[0].Content != `{"unsaved":"tail"}` {
		t.Errorf("flushed content mismatch: %v", updates[0].Content)
	}

	// The room heard the departure.
	var sawLeft bool
	for _, raw := range bSender.byEvent(t, protocol.EventActiveUsers) {
		var p protocol.ActiveUsersPayload
		if json.Unmarshal(raw, &p) == nil && p.UserID == "a" && p.Action == protocol.PresenceLeft {
			sawLeft = true
		}
	}
	if !sawLeft {
		t.Error("expected a left presence broadcast on teardown")
	}
}

func TestMalformedMessageGetsStructuredError(t *testing.T) {
	h := newHarness(t, time.Hour)
	sess, sender := h.connect(t, "a")

	sess.HandleMessage(context.Background(), uuid.Nil, []byte("{not json"))

	codes := sender.errorCodes(t)
	if len(codes) != 1 || codes[0] != protocol.CodeInvalidParameters {
		t.Errorf("expected INVALID_PARAMETERS, got %v", codes)
	}
}

func TestUnknownEventReported(t *testing.T) {
	h := newHarness(t, time.Hour)
	sess, sender := h.connect(t, "a")

	send(t, sess, "no-such-event", map[string]string{})

	codes := sender.errorCodes(t)
	if len(codes) != 1 || codes[0] != protocol.CodeInvalidParameters {
		t.Errorf("expected INVALID_PARAMETERS for unknown event, got %v", codes)
	}
}
