// Package directory defines the collaborator boundary the notification
// decider depends on: who has access to a document and what preferences
// they've set (Directory), and what each user can see in a given editing
// bundle (ACL). Both are narrow capability interfaces rather than a class
// hierarchy, per the teacher's own collaborator-over-inheritance style.
package directory

import "context"

// CommentVisibility is a user's preference for which comments they want
// to be notified about.
type CommentVisibility string

const (
	CommentsNone     CommentVisibility = "none"
	CommentsRelevant CommentVisibility = "relevant"
	CommentsAll      CommentVisibility = "all"
)

// Prefs is the merged preference record for one user on one document
// (spec §3 Preference bundle, already merged per the rules in
// internal/notify/prefs).
type Prefs struct {
	DocChanges bool
	Comments   CommentVisibility
}

// Recipient is a candidate notification target with their merged prefs.
type Recipient struct {
	UserRef string
	Prefs   Prefs
}

// Document is the metadata the email renderer needs about the edited
// document (spec §4.F).
type Document struct {
	ID   string
	Name string
	URL  string
}

// User is the per-recipient detail the renderer needs beyond their
// preferences: an address to send to and the key used to sign their
// unsubscribe links.
type User struct {
	UserRef        string
	Email          string
	UnsubscribeKey string
}

// Directory answers "who could receive a notification for this document,
// and with what preferences" (spec §3 "Access-enriched preferences"),
// plus the document/recipient lookups component F needs to render an
// email. Implementations must already have excluded synthetic users
// (anon, everyone) and public-link-only access from Recipients. The
// editing user is not known to Recipients; the decider drops them.
type Directory interface {
	Recipients(ctx context.Context, docID string) ([]Recipient, error)
	Document(ctx context.Context, docID string) (*Document, error)
	// EnsureUser returns userRef's email and unsubscribe key, minting a
	// fresh unsubscribe key on first use (spec §4.F "ensures an
	// unsubscribe-key exists for them, minting one on first use").
	EnsureUser(ctx context.Context, userRef string) (*User, error)
}

// TableChange describes the row-level changes an author made that a
// given user is entitled to see.
type TableChange struct {
	AuthorRef  string
	Categories []string
	TableNames []string
}

// Comment is one comment in the edit bundle, filtered or unfiltered
// depending on the caller (spec §4.E step 3).
type Comment struct {
	AuthorRef     string
	Text          string
	Anchor        string
	MentionedRefs []string
	AudienceRefs  []string
}

// ACL answers per-bundle visibility questions: what table changes and
// comments a given user (or nobody, for the unfiltered pass) can see.
type ACL interface {
	// DirectTables returns the table-level change summary visible to
	// user, or nil if nothing in the bundle is visible to them.
	DirectTables(ctx context.Context, userRef string) (*TableChange, error)
	// CommentsInBundle returns the comments visible to user. Pass an
	// empty userRef for the unfiltered pass used to compute audience.
	CommentsInBundle(ctx context.Context, userRef string) ([]Comment, error)
}
