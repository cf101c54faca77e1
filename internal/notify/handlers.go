package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/sparkpost-monitor/internal/notify/directory"
	"github.com/ignite/sparkpost-monitor/internal/notify/prefs"
	"github.com/ignite/sparkpost-monitor/internal/notifyerr"
	"github.com/ignite/sparkpost-monitor/internal/pkg/httputil"
)

// Handlers serves component I's HTTP surface: the notification-config
// GET/POST endpoints and the unsubscribe link.
type Handlers struct {
	store     *prefs.Store
	unsubKeys UnsubscribeKeyLookup
	decider   *Decider
}

// UnsubscribeKeyLookup resolves a user's unsubscribe signing key and the
// document name/URL shown on the confirmation page; the preference patch
// an unsubscribe click requests is applied through prefs.Store. Kept separate from
// directory.Directory so the HTTP layer doesn't need the full decider
// collaborator surface.
type UnsubscribeKeyLookup interface {
	UnsubscribeKeyFor(ctx context.Context, userRef string) (string, bool)
	DocumentDisplay(ctx context.Context, docID string) (name, url string, ok bool)
}

// DirectoryUnsubscribeLookup adapts a directory.Directory into an
// UnsubscribeKeyLookup, so the HTTP layer and the decider/renderer share
// one collaborator instance instead of each wiring their own lookup.
type DirectoryUnsubscribeLookup struct {
	Dir directory.Directory
}

func (d DirectoryUnsubscribeLookup) UnsubscribeKeyFor(ctx context.Context, userRef string) (string, bool) {
	u, err := d.Dir.EnsureUser(ctx, userRef)
	if err != nil {
		return "", false
	}
	return u.UnsubscribeKey, true
}

func (d DirectoryUnsubscribeLookup) DocumentDisplay(ctx context.Context, docID string) (string, string, bool) {
	doc, err := d.Dir.Document(ctx, docID)
	if err != nil {
		return "", "", false
	}
	return doc.Name, doc.URL, true
}

// NewHandlers builds Handlers. unsubKeys is used only by the unsubscribe
// endpoint.
func NewHandlers(store *prefs.Store, unsubKeys UnsubscribeKeyLookup) *Handlers {
	return &Handlers{store: store, unsubKeys: unsubKeys}
}

type prefsConfigResponse struct {
	DocDefaults prefs.Patch `json:"doc-defaults"`
	CurrentUser prefs.Patch `json:"current-user"`
}

// GetNotificationsConfig handles GET /api/docs/{doc-id}/notifications-config.
func (h *Handlers) GetNotificationsConfig(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	userID := callerUserID(r)

	docDefaults, override, err := h.store.Get(r.Context(), docID, userID)
	if err != nil {
		httputil.Error(w, notifyerr.HTTPStatus(notifyerr.TransientInfra), "could not load preferences")
		return
	}

	httputil.OK(w, prefsConfigResponse{DocDefaults: docDefaults, CurrentUser: override})
}

// setNotificationsConfigRequest is decoded with raw sub-messages so each
// patch can go through prefs.UnmarshalStrict, which rejects unknown
// field names the way spec §4.H requires — a plain json.Decoder onto
// prefs.Patch would silently ignore them instead.
type setNotificationsConfigRequest struct {
	DocDefaults json.RawMessage `json:"doc-defaults,omitempty"`
	CurrentUser json.RawMessage `json:"current-user,omitempty"`
}

// SetNotificationsConfig handles POST /api/docs/{doc-id}/notifications-config.
func (h *Handlers) SetNotificationsConfig(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	userID := callerUserID(r)

	var req setNotificationsConfigRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	if len(req.DocDefaults) > 0 {
		patch, err := prefs.UnmarshalStrict(req.DocDefaults)
		if err != nil {
			httputil.Error(w, notifyerr.HTTPStatus(notifyerr.KindOf(err)), err.Error())
			return
		}
		if err := h.store.SetDefaults(r.Context(), docID, patch); err != nil {
			httputil.Error(w, notifyerr.HTTPStatus(notifyerr.TransientInfra), "could not save preferences")
			return
		}
	}
	if len(req.CurrentUser) > 0 {
		patch, err := prefs.UnmarshalStrict(req.CurrentUser)
		if err != nil {
			httputil.Error(w, notifyerr.HTTPStatus(notifyerr.KindOf(err)), err.Error())
			return
		}
		if err := h.store.SetOverride(r.Context(), docID, userID, patch); err != nil {
			httputil.Error(w, notifyerr.HTTPStatus(notifyerr.TransientInfra), "could not save preferences")
			return
		}
	}

	httputil.JSON(w, http.StatusOK, nil)
}

// Unsubscribe handles GET /notifications-unsubscribe?token=…. Per spec
// §4.G this always answers HTTP 200, whether the token is valid or not,
// to avoid giving a prober a way to distinguish a bad token from a good
// one by status code.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	parsed, err := ParseToken(raw)
	if err != nil {
		h.writeUnsubscribePage(w, "", "", "This unsubscribe link is invalid.")
		return
	}

	key, ok := h.unsubKeys.UnsubscribeKeyFor(r.Context(), parsed.UserRef)
	if !ok {
		h.writeUnsubscribePage(w, "", "", "This unsubscribe link is invalid.")
		return
	}
	if err := Verify(parsed, key, time.Now()); err != nil {
		h.writeUnsubscribePage(w, "", "", "This unsubscribe link has expired.")
		return
	}

	docName, docURL, ok := h.unsubKeys.DocumentDisplay(r.Context(), parsed.DocID)
	if !ok {
		h.writeUnsubscribePage(w, "", "", "This document could not be found.")
		return
	}

	patch := h.patchFor(parsed)
	if err := h.applyUnsubscribe(r, parsed.DocID, parsed.UserRef, patch); err != nil {
		httputil.InternalError(w, err)
		return
	}

	h.writeUnsubscribePage(w, docName, docURL, "Your preferences have been updated.")
}

// patchFor implements spec §4.G's unsubscribe semantics: a doc-changes
// link always turns doc-change mail off; a comments link turns comment
// mail off entirely in "full" mode or back down to "relevant" otherwise.
func (h *Handlers) patchFor(t UnsubscribeToken) prefs.Patch {
	switch t.Event {
	case EventDocChanges:
		f := false
		return prefs.Patch{DocChanges: &f}
	case EventComments:
		c := directory.CommentsRelevant
		if t.Mode == ModeFull {
			c = directory.CommentsNone
		}
		return prefs.Patch{Comments: &c}
	default:
		return prefs.Patch{}
	}
}

func (h *Handlers) applyUnsubscribe(r *http.Request, docID, userRef string, patch prefs.Patch) error {
	return h.store.MergeOverride(r.Context(), docID, userRef, patch)
}

func (h *Handlers) writeUnsubscribePage(w http.ResponseWriter, docName, docURL, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	page := "<html><body><p>" + message + "</p>"
	if docName != "" {
		page += "<p>" + docName + " — <a href=\"" + docURL + "\">" + docURL + "</a></p>"
	}
	page += "</body></html>"
	w.Write([]byte(page))
}

// Healthz handles GET /healthz.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// callerUserID extracts the authenticated user id from the request. The
// document-scope auth middleware itself is out of scope (spec §1); this
// reads whatever header/context key that middleware is expected to set.
func callerUserID(r *http.Request) string {
	if v := r.Header.Get("X-User-Id"); v != "" {
		return v
	}
	return ""
}
