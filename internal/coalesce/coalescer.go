// Package coalesce merges bursts of document mutations into single durable
// writes. One pending record exists per dirty document; every mutation
// re-arms a trailing-edge timer, so a burst produces exactly one write timed
// from its last edit.
package coalesce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/protocol"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/store"
)

// DocumentWriter is the single outbound persistence operation.
type DocumentWriter interface {
	UpdateDocument(ctx context.Context, upd store.DocumentUpdate) error
}

// StatusNotifier delivers a save lifecycle event to the acting user's
// private channel.
type StatusNotifier func(userID string, status protocol.SaveStatusPayload)

// Fields holds the uncommitted values of one coalescing window. Nil means
// the field was not touched in this window.
type Fields struct {
	Title   *string
	Icon    *string
	Content *string
}

func (f *Fields) merge(in Fields) {
	// last-write-wins, independently per field
	if in.Title != nil {
		f.Title = in.Title
	}
	if in.Icon != nil {
		f.Icon = in.Icon
	}
	if in.Content != nil {
		f.Content = in.Content
	}
}

func (f Fields) empty() bool {
	return f.Title == nil && f.Icon == nil && f.Content == nil
}

type entry struct {
	fields  Fields
	actorID string // most recent authorized actor in the window
	timer   *time.Timer
	gen     uint64 // bumped on every mutation; stale commits bail out
}

// Coalescer owns the pending-mutation registry. It is injected into the
// event handlers rather than living as a package singleton, and each
// document's record is only touched under the registry lock.
type Coalescer struct {
	mu      sync.Mutex
	pending map[string]*entry

	delay        time.Duration
	writeTimeout time.Duration
	writer       DocumentWriter
	notify       StatusNotifier
	logger       *slog.Logger
}

func New(writer DocumentWriter, notify StatusNotifier, delay time.Duration, logger *slog.Logger) *Coalescer {
	return &Coalescer{
		pending:      make(map[string]*entry),
		delay:        delay,
		writeTimeout: 10 * time.Second,
		writer:       writer,
		notify:       notify,
		logger:       logger.With(slog.String("component", "coalescer")),
	}
}

// QueueSave merges fields into the document's pending record and re-arms the
// window timer. The caller must have verified the actor's write role; the
// write-back is attributed to the actor of the last call in the window.
func (c *Coalescer) QueueSave(documentID, actorID string, fields Fields) {
	if fields.empty() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[documentID]
	if !ok {
		e = &entry{}
		c.pending[documentID] = e
	}
	e.fields.merge(fields)
	e.actorID = actorID
	e.gen++

	if e.timer != nil {
		e.timer.Stop()
	}
	gen := e.gen
	e.timer = time.AfterFunc(c.delay, func() {
		c.commit(documentID, gen)
	})

	c.logger.Debug("Queued save", slog.String("documentID", documentID), slog.String("actorID", actorID))
}

// Flush commits the document's pending record immediately, if any. Invoked
// when a user leaves the active room so the tail of their last edit burst is
// not lost to the debounce window.
func (c *Coalescer) Flush(documentID string) {
	c.mu.Lock()
	e, ok := c.pending[documentID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	gen := e.gen
	c.mu.Unlock()

	c.commit(documentID, gen)
}

// FlushAll commits every pending record. Invoked on graceful shutdown so a
// process exit never eats the tail of an edit burst.
func (c *Coalescer) FlushAll() {
	c.mu.Lock()
	docs := make([]string, 0, len(c.pending))
	for documentID := range c.pending {
		docs = append(docs, documentID)
	}
	c.mu.Unlock()

	for _, documentID := range docs {
		c.Flush(documentID)
	}
}

// Discard drops the pending record and timer without writing. Used on
// connection teardown after a flush already failed.
func (c *Coalescer) Discard(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[documentID]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(c.pending, documentID)
	c.logger.Debug("Discarded pending save", slog.String("documentID", documentID))
}

// HasPending reports whether a document has an uncommitted record.
func (c *Coalescer) HasPending(documentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[documentID]
	return ok
}

// Close stops all timers. Pending records are not written; call Flush per
// document first if durability matters during shutdown.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	c.pending = make(map[string]*entry)
}

// commit performs the write-back for the window identified by gen. A newer
// mutation supersedes this window, so a stale gen bails out.
func (c *Coalescer) commit(documentID string, gen uint64) {
	c.mu.Lock()
	e, ok := c.pending[documentID]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		return
	}
	upd := store.DocumentUpdate{
		DocumentID: documentID,
		UserID:     e.actorID,
		Title:      e.fields.Title,
		Icon:       e.fields.Icon,
		Content:    e.fields.Content,
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	err := c.writer.UpdateDocument(ctx, upd)
	cancel()

	if err != nil {
		// Keep the record: the next mutation's window retries the merged
		// stale+new state. There is no background retry loop.
		c.mu.Lock()
		if cur, stillPending := c.pending[documentID]; stillPending && cur.gen == gen {
			cur.timer = nil
		}
		c.mu.Unlock()

		c.logger.Error("Document write-back failed",
			slog.String("documentID", documentID),
			slog.String("actorID", upd.UserID),
			slog.Any("error", err),
		)
		c.notify(upd.UserID, protocol.SaveStatusPayload{
			Status:     protocol.SaveStateError,
			DocumentID: documentID,
			Error:      err.Error(),
		})
		return
	}

	c.mu.Lock()
	// Clear only if no new mutation arrived while the write was in flight.
	if cur, stillPending := c.pending[documentID]; stillPending && cur.gen == gen {
		delete(c.pending, documentID)
	}
	c.mu.Unlock()

	c.logger.Debug("Document write-back committed",
		slog.String("documentID", documentID),
		slog.String("actorID", upd.UserID),
	)
	c.notify(upd.UserID, protocol.SaveStatusPayload{
		Status:     protocol.SaveStateSaved,
		DocumentID: documentID,
	})
}
