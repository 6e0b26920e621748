package collab_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/protocol"
)

func TestTitleUpdateFullFlow(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.verifier.grant("doc-1", "owner", ownerAccess)
	h.verifier.grant("doc-1", "observer", viewerAccess)

	owner, ownerSender := h.connect(t, "owner")
	observer, observerSender := h.connect(t, "observer")

	send(t, owner, protocol.EventJoinDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "owner"})
	send(t, observer, protocol.EventJoinDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "observer"})

	send(t, owner, protocol.EventUpdateTitle, protocol.TitleUpdatePayload{
		DocumentID: "doc-1",
		Title:      strptr("Hello"),
	})

	// Optimistic saving status on the owner's private channel, immediately.
	statuses := ownerSender.byEvent(t, protocol.EventSaveStatus)
	if len(statuses) != 1 {
		t.Fatalf("expected immediate saving status, got %d", len(statuses))
	}
	var st protocol.SaveStatusPayload
	if err := json.Unmarshal(statuses[0], &st); err != nil {
		t.Fatalf("malformed status payload: %v", err)
	}
	if st.Status != protocol.SaveStateSaving || st.DocumentID != "doc-1" {
		t.Errorf("expected saving for doc-1, got %+v", st)
	}

	// Sidebar observers get the metadata notice right away, sender excluded.
	notice := protocol.ReceiveTitleEvent("doc-1")
	if got := len(observerSender.byEvent(t, notice)); got != 1 {
		t.Errorf("observer should receive one title notice, got %d", got)
	}
	if got := len(ownerSender.byEvent(t, notice)); got != 0 {
		t.Errorf("sender must not receive its own title notice, got %d", got)
	}

	// The debounced write lands, attributed to the owner.
	waitFor(t, time.Second, func() bool { return len(h.writer.all()) > 0 })
	upd := h.writer.all()[0]
	if upd.UserID != "owner" || upd.Title == nil || *upd.Title != "Hello" {
		t.Errorf("unexpected write-back: %+v", upd)
	}

	// Saved status follows asynchronously.
	waitFor(t, time.Second, func() bool {
		for _, raw := range ownerSender.byEvent(t, protocol.EventSaveStatus) {
			var p protocol.SaveStatusPayload
			if json.Unmarshal(raw, &p) == nil && p.Status == protocol.SaveStateSaved {
				return true
			}
		}
		return false
	})
}

func TestTitleUpdateCoalescedBurst(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.verifier.grant("doc-1", "owner", ownerAccess)
	owner, _ := h.connect(t, "owner")

	send(t, owner, protocol.EventJoinDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "owner"})

	send(t, owner, protocol.EventUpdateTitle, protocol.TitleUpdatePayload{DocumentID: "doc-1", Title: strptr("Hello")})
	time.Sleep(20 * time.Millisecond)
	send(t, owner, protocol.EventUpdateTitle, protocol.TitleUpdatePayload{DocumentID: "doc-1", Title: strptr("Hello World")})

	waitFor(t, time.Second, func() bool { return len(h.writer.all()) > 0 })

	updates := h.writer.all()
	if len(updates) != 1 {
		t.Fatalf("burst should persist exactly once, got %d writes", len(updates))
	}
	if updates[0].Title == nil || *updates[0].Title != "Hello World" {
		t.Errorf("expected the final title, got %v", updates[0].Title)
	}
}

func TestTitleUpdateRequiresMembership(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.verifier.grant("doc-1", "owner", ownerAccess)
	owner, sender := h.connect(t, "owner")

	send(t, owner, protocol.EventUpdateTitle, protocol.TitleUpdatePayload{DocumentID: "doc-1", Title: strptr("x")})

	codes := sender.errorCodes(t)
	if len(codes) != 1 || codes[0] != protocol.CodeNotInRoom {
		t.Errorf("expected NOT_IN_ROOM, got %v", codes)
	}
	if len(h.writer.all()) != 0 {
		t.Error("mutation outside the room must not reach the store")
	}
}

func TestViewerTitleUpdateSilentlyDropped(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.verifier.grant("doc-1", "viewer", viewerAccess)
	viewer, sender := h.connect(t, "viewer")

	send(t, viewer, protocol.EventJoinDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "viewer"})
	send(t, viewer, protocol.EventUpdateTitle, protocol.TitleUpdatePayload{DocumentID: "doc-1", Title: strptr("nope")})

	// Give a pending write every chance to fire before asserting silence.
	time.Sleep(80 * time.Millisecond)

	if got := len(sender.byEvent(t, protocol.EventSaveStatus)); got != 0 {
		t.Errorf("viewer must never see a save status, got %d", got)
	}
	if got := len(sender.errorCodes(t)); got != 0 {
		t.Errorf("the drop is silent, got errors %v", sender.errorCodes(t))
	}
	if len(h.writer.all()) != 0 {
		t.Error("viewer mutation must never reach the store")
	}
}

func TestViewerContentUpdateSilentlyDropped(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.verifier.grant("doc-1", "viewer", viewerAccess)
	viewer, sender := h.connect(t, "viewer")

	send(t, viewer, protocol.EventJoinDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "viewer"})
	send(t, viewer, protocol.EventUpdateContent, protocol.ContentUpdatePayload{
		DocumentID: "doc-1",
		UserID:     "viewer",
		Content:    "{}",
	})

	time.Sleep(80 * time.Millisecond)

	if got := len(sender.byEvent(t, protocol.EventSaveStatus)); got != 0 {
		t.Errorf("viewer must never see a save status, got %d", got)
	}
	if len(h.writer.all()) != 0 {
		t.Error("updateDocument must never be invoked for a viewer")
	}
}

func TestContentUpdateSpoofedUserRejected(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.verifier.grant("doc-1", "alice", editorAccess)
	alice, sender := h.connect(t, "alice")

	send(t, alice, protocol.EventJoinDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "alice"})
	send(t, alice, protocol.EventUpdateContent, protocol.ContentUpdatePayload{
		DocumentID: "doc-1",
		UserID:     "mallory",
		Content:    "{}",
	})

	codes := sender.errorCodes(t)
	if len(codes) != 1 || codes[0] != protocol.CodeUserIDMismatch {
		t.Errorf("expected USER_ID_MISMATCH, got %v", codes)
	}
	if len(h.writer.all()) != 0 {
		t.Error("spoofed mutation must not reach the store")
	}
}

func TestContentUpdateAttributedToLastActor(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond)
	h.verifier.grant("doc-1", "alice", editorAccess)
	h.verifier.grant("doc-1", "bob", editorAccess)

	alice, _ := h.connect(t, "alice")
	bob, _ := h.connect(t, "bob")

	send(t, alice, protocol.EventJoinDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "alice"})
	send(t, bob, protocol.EventJoinDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "bob"})

	send(t, alice, protocol.EventUpdateTitle, protocol.TitleUpdatePayload{DocumentID: "doc-1", Title: strptr("from alice")})
	send(t, bob, protocol.EventUpdateContent, protocol.ContentUpdatePayload{DocumentID: "doc-1", UserID: "bob", Content: "{}"})

	waitFor(t, time.Second, func() bool { return len(h.writer.all()) > 0 })

	upd := h.writer.all()[0]
	if upd.UserID != "bob" {
		t.Errorf("write must be attributed to the last actor in the window, got %q", upd.UserID)
	}
	if upd.Title == nil || *upd.Title != "from alice" {
		t.Errorf("earlier collaborator's field should ride along, got %v", upd.Title)
	}
}

func TestTitleUpdateWithNoFields(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.verifier.grant("doc-1", "owner", ownerAccess)
	owner, sender := h.connect(t, "owner")

	send(t, owner, protocol.EventJoinDocument, protocol.RoomPayload{DocumentID: "doc-1", UserID: "owner"})
	send(t, owner, protocol.EventUpdateTitle, protocol.TitleUpdatePayload{DocumentID: "doc-1"})

	codes := sender.errorCodes(t)
	if len(codes) != 1 || codes[0] != protocol.CodeInvalidParameters {
		t.Errorf("expected INVALID_PARAMETERS, got %v", codes)
	}
}
