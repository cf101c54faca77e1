package notify

import (
	"context"
	"encoding/json"

	"github.com/ignite/sparkpost-monitor/internal/notify/directory"
	"github.com/ignite/sparkpost-monitor/internal/notify/schedule"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// EditBundle is one committed set of document edits treated as one unit
// for notification purposes (spec GLOSSARY "Bundle").
type EditBundle struct {
	DocID       string
	AuthorRef   string // empty for system-synthesized edits
	HasComments bool
}

// syntheticRefs are recipients that never receive notifications even if
// a preference row exists for them (spec §4.E "synthetic users").
var syntheticRefs = map[string]bool{"anon": true, "everyone": true}

// DocChangePayload is the payload shape emitted for the doc-change
// category (spec §4.E step 2).
type DocChangePayload struct {
	AuthorRef  string   `json:"author_ref"`
	Categories []string `json:"categories"`
	TableNames []string `json:"table_names"`
}

// CommentPayload is the payload shape emitted for the comment category
// (spec §4.E step 3).
type CommentPayload struct {
	AuthorRef  string `json:"author_ref"`
	HasMention bool   `json:"has_mention"`
	Text       string `json:"text"`
	Anchor     string `json:"anchor"`
}

// Decider is component E: given an edit bundle, a Directory, and an ACL
// for that bundle, it emits zero or more (category, batch-key, payload)
// records to an Engine.
type Decider struct {
	dir    directory.Directory
	engine *Engine
}

func NewDecider(dir directory.Directory, engine *Engine) *Decider {
	return &Decider{dir: dir, engine: engine}
}

// Decide processes one edit bundle. acl is scoped to this bundle only
// (spec §5: the decider is invoked after commit, outside the write path).
func (d *Decider) Decide(ctx context.Context, bundle EditBundle, acl directory.ACL) error {
	if bundle.AuthorRef == "" {
		// System-synthesized edit (time tick, recompute pass): no author,
		// no notification owed to anyone.
		return nil
	}

	recipients, err := d.dir.Recipients(ctx, bundle.DocID)
	if err != nil {
		return err
	}

	eligible := make([]directory.Recipient, 0, len(recipients))
	for _, r := range recipients {
		if syntheticRefs[r.UserRef] || r.UserRef == bundle.AuthorRef {
			continue
		}
		eligible = append(eligible, r)
	}

	if !bundle.HasComments && !anyWantsDocChanges(eligible) {
		logger.Debug("decider short-circuit: nothing to notify", "doc_id", bundle.DocID)
		return nil
	}

	if err := d.emitDocChanges(ctx, bundle, acl, eligible); err != nil {
		return err
	}
	if bundle.HasComments {
		if err := d.emitComments(ctx, bundle, acl, eligible); err != nil {
			return err
		}
	}
	return nil
}

func anyWantsDocChanges(recipients []directory.Recipient) bool {
	for _, r := range recipients {
		if r.Prefs.DocChanges {
			return true
		}
	}
	return false
}

func (d *Decider) emitDocChanges(ctx context.Context, bundle EditBundle, acl directory.ACL, recipients []directory.Recipient) error {
	for _, r := range recipients {
		if !r.Prefs.DocChanges {
			continue
		}
		tables, err := acl.DirectTables(ctx, r.UserRef)
		if err != nil {
			return err
		}
		if tables == nil {
			continue
		}

		payload := DocChangePayload{
			AuthorRef:  tables.AuthorRef,
			Categories: tables.Categories,
			TableNames: tables.TableNames,
		}
		if err := d.emit(ctx, schedule.DocChange, bundle.DocID, r.UserRef, payload); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decider) emitComments(ctx context.Context, bundle EditBundle, acl directory.ACL, recipients []directory.Recipient) error {
	allComments, err := acl.CommentsInBundle(ctx, "")
	if err != nil {
		return err
	}
	participants := map[string]bool{}
	for _, c := range allComments {
		for _, ref := range c.AudienceRefs {
			participants[ref] = true
		}
	}

	for _, r := range recipients {
		if r.Prefs.Comments == directory.CommentsNone || r.Prefs.Comments == "" {
			continue
		}
		if !participants[r.UserRef] && r.Prefs.Comments != directory.CommentsAll {
			continue
		}

		visible, err := acl.CommentsInBundle(ctx, r.UserRef)
		if err != nil {
			return err
		}
		if len(visible) == 0 {
			continue
		}

		if r.Prefs.Comments == directory.CommentsRelevant {
			visible = filterByAudience(visible, r.UserRef)
			if len(visible) == 0 {
				continue
			}
		}

		for _, c := range visible {
			payload := CommentPayload{
				AuthorRef:  c.AuthorRef,
				HasMention: containsRef(c.MentionedRefs, r.UserRef),
				Text:       c.Text,
				Anchor:     c.Anchor,
			}
			if err := d.emit(ctx, schedule.Comment, bundle.DocID, r.UserRef, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

func filterByAudience(comments []directory.Comment, userRef string) []directory.Comment {
	out := make([]directory.Comment, 0, len(comments))
	for _, c := range comments {
		if containsRef(c.AudienceRefs, userRef) {
			out = append(out, c)
		}
	}
	return out
}

func containsRef(refs []string, target string) bool {
	for _, r := range refs {
		if r == target {
			return true
		}
	}
	return false
}

func (d *Decider) emit(ctx context.Context, category schedule.Category, docID, userRef string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	batchKey := docID + "/" + userRef
	return d.engine.Add(ctx, category, batchKey, nil, data)
}
