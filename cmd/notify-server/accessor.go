package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/sparkpost-monitor/internal/notify/directory"
)

// syntheticAccessorRefs are pseudo-user-refs document_access may carry
// (e.g. a row representing "anyone signed in") that must never receive a
// notification, matching directory.Directory's documented contract that
// implementations exclude synthetic users from Recipients.
var syntheticAccessorRefs = map[string]bool{"anon": true, "everyone": true}

// sqlAccessor implements directory.ResourceAccessor against the owning
// application's own document_access table. The notification pipeline
// does not own ACL evaluation (spec §1 Non-goals); it only needs the
// list of real, individually-identified users currently entitled to see
// the document — access_type = 'direct' excludes rows that only grant
// visibility through a public share link, and the synthetic-ref filter
// below is a second, cheap guard against a direct-looking row that still
// names a pseudo-user.
type sqlAccessor struct {
	db *sql.DB
}

func newDocumentAccessor(db *sql.DB) directory.ResourceAccessor {
	return &sqlAccessor{db: db}
}

func (a *sqlAccessor) AccessorsOf(ctx context.Context, docID string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT user_ref FROM document_access
		WHERE doc_id = $1 AND access_type = 'direct'
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list document accessors: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan document accessor: %w", err)
		}
		if syntheticAccessorRefs[ref] {
			continue
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
