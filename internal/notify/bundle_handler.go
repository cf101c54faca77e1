package notify

import (
	"net/http"

	"github.com/ignite/sparkpost-monitor/internal/notify/directory"
	"github.com/ignite/sparkpost-monitor/internal/notifyerr"
	"github.com/ignite/sparkpost-monitor/internal/pkg/httputil"
)

// bundleCommitRequest is the wire shape the editing application posts
// once a bundle of edits commits (spec §5). table-changes/comments are
// keyed by user-ref, the same shape directory.MemACL is populated with —
// ACL evaluation itself stays the editing application's job (spec §1
// Non-goals); this endpoint only turns an already-evaluated bundle into
// batched notification jobs via the decider.
type bundleCommitRequest struct {
	DocID        string                           `json:"doc-id"`
	AuthorRef    string                           `json:"author-ref"`
	HasComments  bool                             `json:"has-comments"`
	TableChanges map[string]directory.TableChange `json:"table-changes"`
	Comments     map[string][]directory.Comment   `json:"comments"`
}

// SetDecider installs the component-E collaborator CommitBundle invokes.
// Left unset, CommitBundle answers 503 — handlers built only for the
// config/unsubscribe surface (e.g. most of handlers_test.go) don't need
// to wire one.
func (h *Handlers) SetDecider(d *Decider) {
	h.decider = d
}

// CommitBundle handles POST /internal/bundles/commit, the endpoint the
// document-editing application calls after a bundle of edits commits
// (spec §5 "invoked after commit, outside the write path"). It is the
// only caller of component E in a running deployment.
func (h *Handlers) CommitBundle(w http.ResponseWriter, r *http.Request) {
	if h.decider == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "bundle decider not configured")
		return
	}

	var req bundleCommitRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.DocID == "" {
		httputil.BadRequest(w, "doc-id is required")
		return
	}

	acl := directory.NewMemACL()
	for userRef, tc := range req.TableChanges {
		tableChange := tc
		acl.SetDirectTables(userRef, &tableChange)
	}
	for userRef, comments := range req.Comments {
		acl.SetComments(userRef, comments)
	}

	bundle := EditBundle{DocID: req.DocID, AuthorRef: req.AuthorRef, HasComments: req.HasComments}
	if err := h.decider.Decide(r.Context(), bundle, acl); err != nil {
		httputil.Error(w, notifyerr.HTTPStatus(notifyerr.KindOf(err)), err.Error())
		return
	}

	httputil.JSON(w, http.StatusAccepted, nil)
}
