// Package prefs implements the document notification preference model
// (spec §3/§4.H): a document-defaults record, per-user override records,
// the merge rule between them, and validation of writes.
package prefs

import (
	"bytes"
	"encoding/json"

	"github.com/ignite/sparkpost-monitor/internal/notify/directory"
	"github.com/ignite/sparkpost-monitor/internal/notifyerr"
)

// Patch is a partial preference write: unset fields are left nil and
// inherit per the merge rule in Merge.
type Patch struct {
	DocChanges *bool                        `json:"doc-changes,omitempty"`
	Comments   *directory.CommentVisibility `json:"comments,omitempty"`
}

var validComments = map[directory.CommentVisibility]bool{
	directory.CommentsNone:     true,
	directory.CommentsRelevant: true,
	directory.CommentsAll:      true,
}

// Validate rejects a patch naming an invalid comments enum value. Unknown
// JSON fields are rejected earlier, at decode time, by UnmarshalStrict.
func Validate(p Patch) error {
	if p.Comments != nil && !validComments[*p.Comments] {
		return notifyerr.New(notifyerr.InvalidInput, "comments must be one of all, relevant, none")
	}
	return nil
}

// UnmarshalStrict decodes a preference patch from JSON, rejecting unknown
// field names (spec §4.H "rejects writes that name unknown fields").
func UnmarshalStrict(data []byte) (Patch, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p Patch
	if err := dec.Decode(&p); err != nil {
		return Patch{}, notifyerr.Wrap(notifyerr.InvalidInput, "invalid preferences shape", err)
	}
	if err := Validate(p); err != nil {
		return Patch{}, err
	}
	return p, nil
}

// defaultPrefs is the fallback when neither document-defaults nor a
// current-user override sets a field (spec §3).
var defaultPrefs = directory.Prefs{DocChanges: false, Comments: directory.CommentsRelevant}

// Merge implements the per-field override rule: override-if-present,
// otherwise inherit from defaults, otherwise fall back to defaultPrefs.
func Merge(docDefaults, override Patch) directory.Prefs {
	merged := defaultPrefs

	if docDefaults.DocChanges != nil {
		merged.DocChanges = *docDefaults.DocChanges
	}
	if docDefaults.Comments != nil {
		merged.Comments = *docDefaults.Comments
	}

	if override.DocChanges != nil {
		merged.DocChanges = *override.DocChanges
	}
	if override.Comments != nil {
		merged.Comments = *override.Comments
	}

	return merged
}
