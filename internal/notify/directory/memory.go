package directory

import (
	"context"
	"fmt"
)

// MemDirectory is an in-memory Directory used by end-to-end tests
// (spec §8 scenarios S1-S6). It holds recipients per document, already
// reduced to "eligible" users per the Directory contract.
type MemDirectory struct {
	recipients map[string][]Recipient
	documents  map[string]*Document
	users      map[string]*User
}

func NewMemDirectory() *MemDirectory {
	return &MemDirectory{
		recipients: map[string][]Recipient{},
		documents:  map[string]*Document{},
		users:      map[string]*User{},
	}
}

// AddRecipient registers user as an eligible recipient for docID with
// the given preferences. Tests call this to set up a scenario instead of
// wiring a real ACL/preference store.
func (d *MemDirectory) AddRecipient(docID, userRef string, prefs Prefs) {
	d.recipients[docID] = append(d.recipients[docID], Recipient{UserRef: userRef, Prefs: prefs})
}

// SetDocument registers docID's metadata for render-time lookups.
func (d *MemDirectory) SetDocument(doc Document) {
	d.documents[doc.ID] = &doc
}

// SetUser registers userRef's email and unsubscribe key directly,
// bypassing EnsureUser's lazy-mint behavior for scenarios that need a
// fixed key.
func (d *MemDirectory) SetUser(u User) {
	d.users[u.UserRef] = &u
}

func (d *MemDirectory) Recipients(_ context.Context, docID string) ([]Recipient, error) {
	return d.recipients[docID], nil
}

func (d *MemDirectory) Document(_ context.Context, docID string) (*Document, error) {
	doc, ok := d.documents[docID]
	if !ok {
		return nil, fmt.Errorf("document %s not found", docID)
	}
	return doc, nil
}

func (d *MemDirectory) EnsureUser(_ context.Context, userRef string) (*User, error) {
	if u, ok := d.users[userRef]; ok {
		return u, nil
	}
	u := &User{UserRef: userRef, Email: userRef + "@example.com", UnsubscribeKey: "key-" + userRef}
	d.users[userRef] = u
	return u, nil
}

// MemACL is an in-memory ACL for a single editing bundle. Tests build one
// per scenario: SetDirectTables records what a user may see of the
// row-level changes, SetComments records what a user (or "" for
// unfiltered) may see of the comment thread.
type MemACL struct {
	tables   map[string]*TableChange
	comments map[string][]Comment
}

func NewMemACL() *MemACL {
	return &MemACL{
		tables:   map[string]*TableChange{},
		comments: map[string][]Comment{},
	}
}

func (a *MemACL) SetDirectTables(userRef string, change *TableChange) {
	a.tables[userRef] = change
}

func (a *MemACL) SetComments(userRef string, comments []Comment) {
	a.comments[userRef] = comments
}

func (a *MemACL) DirectTables(_ context.Context, userRef string) (*TableChange, error) {
	return a.tables[userRef], nil
}

func (a *MemACL) CommentsInBundle(_ context.Context, userRef string) ([]Comment, error) {
	return a.comments[userRef], nil
}
