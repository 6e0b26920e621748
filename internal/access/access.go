// Package access bundles the checks the session layer performs before
// admitting a connection to a room or accepting a mutation: coarse session
// validity, coarse document access and fine-grained role resolution.
package access

import (
	"context"

	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/store"
)

// SessionVerifier answers whether a claimed user currently holds a valid
// session. Backed by Redis in production.
type SessionVerifier interface {
	VerifySession(ctx context.Context, userID string) (bool, error)
}

// Verifier is the full check surface consumed by the collaboration layer.
type Verifier interface {
	SessionVerifier
	VerifyDocumentAccess(ctx context.Context, documentID, userID string) (bool, error)
	GetDirectAccess(ctx context.Context, documentID, userID string) (store.Access, error)
}

// Composite wires the session store and the document store into one Verifier.
type Composite struct {
	sessions SessionVerifier
	docs     store.Documents
}

var _ Verifier = (*Composite)(nil)

func NewComposite(sessions SessionVerifier, docs store.Documents) *Composite {
	return &Composite{sessions: sessions, docs: docs}
}

func (c *Composite) VerifySession(ctx context.Context, userID string) (bool, error) {
	return c.sessions.VerifySession(ctx, userID)
}

func (c *Composite) VerifyDocumentAccess(ctx context.Context, documentID, userID string) (bool, error) {
	return c.docs.HasAccess(ctx, documentID, userID)
}

func (c *Composite) GetDirectAccess(ctx context.Context, documentID, userID string) (store.Access, error) {
	return c.docs.GetDirectAccess(ctx, documentID, userID)
}
