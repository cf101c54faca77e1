package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ResourceAccessor answers "which users can see this document", delegating
// the real ACL evaluation elsewhere (e.g. the owning application's own
// permission tables) rather than reimplementing it here. PostgresDirectory
// only needs that list of user refs plus each accessor's notification prefs.
type ResourceAccessor interface {
	AccessorsOf(ctx context.Context, docID string) ([]string, error)
}

// PostgresDirectory is a Postgres-backed Directory, grounded on the
// teacher's repository style (internal/repository/postgres/suppression.go):
// a thin struct over *sql.DB, one query per method, errors wrapped with
// %w and a short label.
type PostgresDirectory struct {
	db       *sql.DB
	accessor ResourceAccessor
}

// NewPostgresDirectory builds a PostgresDirectory. accessor supplies the
// document's accessor list; prefs and user identity are read from this
// package's own tables.
func NewPostgresDirectory(db *sql.DB, accessor ResourceAccessor) *PostgresDirectory {
	return &PostgresDirectory{db: db, accessor: accessor}
}

// Recipients returns every accessor of docID along with their merged
// preferences, read from document_notification_prefs (the same table
// backing prefs.Store, scoped to defaults + each accessor's own override).
func (d *PostgresDirectory) Recipients(ctx context.Context, docID string) ([]Recipient, error) {
	refs, err := d.accessor.AccessorsOf(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("list accessors: %w", err)
	}

	out := make([]Recipient, 0, len(refs))
	for _, ref := range refs {
		prefs, err := d.mergedPrefs(ctx, docID, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, Recipient{UserRef: ref, Prefs: prefs})
	}
	return out, nil
}

func (d *PostgresDirectory) mergedPrefs(ctx context.Context, docID, userRef string) (Prefs, error) {
	prefs := Prefs{DocChanges: false, Comments: CommentsRelevant}

	var docChanges sql.NullBool
	var comments sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT prefs->>'doc-changes', prefs->>'comments'
		FROM document_notification_prefs
		WHERE doc_id = $1 AND user_id = '__doc_defaults__' AND scope = 'defaults'
	`, docID).Scan(&docChanges, &comments)
	if err != nil && err != sql.ErrNoRows {
		return Prefs{}, fmt.Errorf("load doc defaults: %w", err)
	}
	if docChanges.Valid {
		prefs.DocChanges = docChanges.Bool
	}
	if comments.Valid {
		prefs.Comments = CommentVisibility(comments.String)
	}

	err = d.db.QueryRowContext(ctx, `
		SELECT prefs->>'doc-changes', prefs->>'comments'
		FROM document_notification_prefs
		WHERE doc_id = $1 AND user_id = $2 AND scope = 'override'
	`, docID, userRef).Scan(&docChanges, &comments)
	if err != nil && err != sql.ErrNoRows {
		return Prefs{}, fmt.Errorf("load user override: %w", err)
	}
	if docChanges.Valid {
		prefs.DocChanges = docChanges.Bool
	}
	if comments.Valid {
		prefs.Comments = CommentVisibility(comments.String)
	}

	return prefs, nil
}

// Document loads display metadata for docID from the documents table.
func (d *PostgresDirectory) Document(ctx context.Context, docID string) (*Document, error) {
	var doc Document
	doc.ID = docID
	err := d.db.QueryRowContext(ctx, `
		SELECT name, url FROM documents WHERE id = $1
	`, docID).Scan(&doc.Name, &doc.URL)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", docID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return &doc, nil
}

// EnsureUser loads userRef's email and unsubscribe key, minting and
// persisting a fresh key on first use (spec §4.F).
func (d *PostgresDirectory) EnsureUser(ctx context.Context, userRef string) (*User, error) {
	var u User
	u.UserRef = userRef
	err := d.db.QueryRowContext(ctx, `
		SELECT email, unsubscribe_key FROM notification_users WHERE user_ref = $1
	`, userRef).Scan(&u.Email, &u.UnsubscribeKey)
	if err == nil {
		return &u, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("load user %s: %w", userRef, err)
	}

	email, err := d.lookupEmail(ctx, userRef)
	if err != nil {
		return nil, err
	}
	key := uuid.New().String()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO notification_users (user_ref, email, unsubscribe_key, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_ref) DO NOTHING
	`, userRef, email, key)
	if err != nil {
		return nil, fmt.Errorf("mint user %s: %w", userRef, err)
	}

	return &User{UserRef: userRef, Email: email, UnsubscribeKey: key}, nil
}

func (d *PostgresDirectory) lookupEmail(ctx context.Context, userRef string) (string, error) {
	var email string
	err := d.db.QueryRowContext(ctx, `SELECT email FROM users WHERE ref = $1`, userRef).Scan(&email)
	if err != nil {
		return "", fmt.Errorf("lookup email for %s: %w", userRef, err)
	}
	return email, nil
}
