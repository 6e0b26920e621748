package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to Postgres with sane pool limits.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Postgres implements Documents against the documents/document_members tables.
type Postgres struct {
	db *sql.DB
}

var _ Documents = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) UpdateDocument(ctx context.Context, upd DocumentUpdate) error {
	if upd.DocumentID == "" {
		return errors.New("update document: missing document id")
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE documents
		SET title      = COALESCE($2, title),
		    icon       = COALESCE($3, icon),
		    content    = COALESCE($4, content),
		    updated_by = $5,
		    updated_at = now()
		WHERE id = $1 AND archived_at IS NULL`,
		upd.DocumentID, upd.Title, upd.Icon, upd.Content, upd.UserID,
	)
	if err != nil {
		return fmt.Errorf("update document %s: %w", upd.DocumentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document %s: %w", upd.DocumentID, err)
	}
	if n == 0 {
		return fmt.Errorf("update document %s: not found or archived", upd.DocumentID)
	}
	return nil
}

func (p *Postgres) HasAccess(ctx context.Context, documentID, userID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM documents d
			WHERE d.id = $1 AND d.archived_at IS NULL
			  AND (d.owner_id = $2 OR EXISTS (
				SELECT 1 FROM document_members m
				WHERE m.document_id = d.id AND m.user_id = $2
			  ))
		)`,
		documentID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check access to %s: %w", documentID, err)
	}
	return exists, nil
}

func (p *Postgres) GetDirectAccess(ctx context.Context, documentID, userID string) (Access, error) {
	var ownerID string
	err := p.db.QueryRowContext(ctx,
		`SELECT owner_id FROM documents WHERE id = $1 AND archived_at IS NULL`,
		documentID,
	).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Access{}, nil
	}
	if err != nil {
		return Access{}, fmt.Errorf("resolve access to %s: %w", documentID, err)
	}

	if ownerID == userID {
		return Access{HasAccess: true, IsOwner: true, Role: RoleOwner}, nil
	}

	var role Role
	err = p.db.QueryRowContext(ctx,
		`SELECT role FROM document_members WHERE document_id = $1 AND user_id = $2`,
		documentID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return Access{}, nil
	}
	if err != nil {
		return Access{}, fmt.Errorf("resolve role for %s: %w", documentID, err)
	}

	return Access{HasAccess: true, Role: role}, nil
}
