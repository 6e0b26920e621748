// Package store is the durable side of the document system: document rows,
// per-document membership roles and the single write operation the
// collaboration layer coalesces into.
package store

import "context"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Access is the fine-grained result used for write gating.
type Access struct {
	HasAccess bool
	IsOwner   bool
	Role      Role
}

// CanWrite reports whether the subject may mutate document fields.
func (a Access) CanWrite() bool {
	return a.HasAccess && (a.IsOwner || a.Role == RoleEditor)
}

// DocumentUpdate carries the merged fields of one coalescing window.
// Nil fields are left untouched by the write.
type DocumentUpdate struct {
	DocumentID string
	UserID     string
	Title      *string
	Icon       *string
	Content    *string
}

// Documents is the external document store consumed by the session layer.
type Documents interface {
	// UpdateDocument applies the non-nil fields of upd, attributing the
	// write to upd.UserID.
	UpdateDocument(ctx context.Context, upd DocumentUpdate) error

	// HasAccess is the coarse check used for room admission.
	HasAccess(ctx context.Context, documentID, userID string) (bool, error)

	// GetDirectAccess resolves the fine-grained role used for write gating.
	GetDirectAccess(ctx context.Context, documentID, userID string) (Access, error)
}
