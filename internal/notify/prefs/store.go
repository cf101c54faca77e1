package prefs

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonb is a JSONB-column helper, the same Value/Scan shape the teacher
// uses for its own settings/metadata columns (internal/mailing/types.go).
type jsonb Patch

func (j jsonb) Value() (driver.Value, error) {
	return json.Marshal(Patch(j))
}

func (j *jsonb) Scan(value interface{}) error {
	if value == nil {
		*j = jsonb{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("prefs: unsupported jsonb scan source %T", value)
	}
	if len(b) == 0 {
		*j = jsonb{}
		return nil
	}
	var p Patch
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*j = jsonb(p)
	return nil
}

// Scope distinguishes the two rows a (doc, user) pair may have: the
// document owner's defaults, and this user's own override.
type Scope string

const (
	ScopeDefaults Scope = "defaults"
	ScopeOverride Scope = "override"
)

// Store persists the raw (unmerged) preference patches backing component
// H, as a Postgres JSONB column keyed by (doc_id, user_id, scope).
type Store struct {
	db *sql.DB
}

// NewStore builds a Store against an already-opened database handle,
// matching the teacher's repository constructors (e.g.
// postgres.NewSuppressionRepo).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get loads the document-defaults and current-user override rows for
// (docID, userID). Either may be the zero Patch if no row exists yet.
func (s *Store) Get(ctx context.Context, docID, userID string) (docDefaults, override Patch, err error) {
	docDefaults, err = s.getScope(ctx, docID, ownerScopeKey, ScopeDefaults)
	if err != nil {
		return Patch{}, Patch{}, err
	}
	override, err = s.getScope(ctx, docID, userID, ScopeOverride)
	if err != nil {
		return Patch{}, Patch{}, err
	}
	return docDefaults, override, nil
}

// ownerScopeKey is the user_id value stored for the document-defaults
// row: defaults are per-document, not per-user, but share the same
// three-column key shape as overrides.
const ownerScopeKey = "__doc_defaults__"

func (s *Store) getScope(ctx context.Context, docID, userID string, scope Scope) (Patch, error) {
	var data jsonb
	err := s.db.QueryRowContext(ctx, `
		SELECT prefs FROM document_notification_prefs
		WHERE doc_id = $1 AND user_id = $2 AND scope = $3
	`, docID, userID, scope).Scan(&data)
	if err == sql.ErrNoRows {
		return Patch{}, nil
	}
	if err != nil {
		return Patch{}, fmt.Errorf("load %s prefs: %w", scope, err)
	}
	return Patch(data), nil
}

// SetDefaults upserts the document-owner defaults row.
func (s *Store) SetDefaults(ctx context.Context, docID string, p Patch) error {
	return s.upsert(ctx, docID, ownerScopeKey, ScopeDefaults, p)
}

// SetOverride upserts userID's own override row for docID, replacing it
// wholesale. Callers applying a partial patch on top of a possibly
// already-set override (e.g. an unsubscribe link, which only ever sets
// one field) must use MergeOverride instead, or this silently drops any
// other field the row already had set.
func (s *Store) SetOverride(ctx context.Context, docID, userID string, p Patch) error {
	return s.upsert(ctx, docID, userID, ScopeOverride, p)
}

// MergeOverride applies p to userID's override row for docID field-by-field:
// only the fields p sets are changed, and any other field already present
// on the row is left untouched (spec §4.G "merge into current-user
// overrides only — do not touch document defaults").
func (s *Store) MergeOverride(ctx context.Context, docID, userID string, p Patch) error {
	existing, err := s.getScope(ctx, docID, userID, ScopeOverride)
	if err != nil {
		return err
	}
	if p.DocChanges != nil {
		existing.DocChanges = p.DocChanges
	}
	if p.Comments != nil {
		existing.Comments = p.Comments
	}
	return s.upsert(ctx, docID, userID, ScopeOverride, existing)
}

func (s *Store) upsert(ctx context.Context, docID, userID string, scope Scope, p Patch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_notification_prefs (doc_id, user_id, scope, prefs, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (doc_id, user_id, scope) DO UPDATE SET prefs = $4, updated_at = NOW()
	`, docID, userID, scope, jsonb(p))
	if err != nil {
		return fmt.Errorf("upsert %s prefs: %w", scope, err)
	}
	return nil
}
