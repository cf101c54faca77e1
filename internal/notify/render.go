package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/osteele/liquid"

	"github.com/ignite/sparkpost-monitor/internal/notify/directory"
	"github.com/ignite/sparkpost-monitor/internal/notify/schedule"
	"github.com/ignite/sparkpost-monitor/internal/notifyerr"
)

// Templates holds the subject/text/HTML Liquid templates for one
// category (spec §4.F).
type Templates struct {
	Subject string
	Text    string
	HTML    string
}

// Renderer is component F: it consumes a drained batch and produces a
// MailEnvelope, grouping payloads the way the spec prescribes per
// category and applying Liquid templates the same way the teacher's
// TemplateService does (internal/mailing/template_engine.go).
type Renderer struct {
	dir       directory.Directory
	homeURL   string
	sender    SenderConfig
	templates map[schedule.Category]Templates
	engine    *liquid.Engine
	cache     sync.Map
}

// SenderConfig mirrors internal/config.SenderConfig without importing
// the config package, so the renderer does not depend on YAML loading.
type SenderConfig struct {
	Name                    string
	Email                   string
	DocNotificationsFrom    string
	DocNotificationsReplyTo string
}

// NewRenderer builds a Renderer. templates must have an entry for every
// category the engine is configured for.
func NewRenderer(dir directory.Directory, homeURL string, sender SenderConfig, templates map[schedule.Category]Templates) *Renderer {
	engine := liquid.NewEngine()
	registerFilters(engine)
	return &Renderer{
		dir:       dir,
		homeURL:   homeURL,
		sender:    sender,
		templates: templates,
		engine:    engine,
	}
}

// registerFilters installs the default/truncate/present filter family
// (grounded on internal/mailing/template_engine.go's registerCustomFilters),
// used to keep templates robust against missing or empty context fields.
func registerFilters(engine *liquid.Engine) {
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s, ok := value.(string); ok && s == "" {
			return defaultVal
		}
		return value
	})
	engine.RegisterFilter("truncate", func(s string, length int) string {
		if len(s) <= length {
			return s
		}
		if length <= 3 {
			return s[:length]
		}
		return s[:length-3] + "..."
	})
	engine.RegisterFilter("present", func(value interface{}) bool {
		switch v := value.(type) {
		case nil:
			return false
		case string:
			return v != ""
		case []interface{}:
			return len(v) > 0
		default:
			return true
		}
	})
}

// Handler returns a notify.Handler bound to this renderer and sender,
// suitable for Engine.SetHandler.
func (r *Renderer) Handler(sender Sender) Handler {
	return func(ctx context.Context, category schedule.Category, batchKey string, payloads [][]byte) error {
		env, err := r.Render(ctx, category, batchKey, payloads)
		if err != nil {
			return err
		}
		return sender.Send(ctx, env)
	}
}

// Render builds a MailEnvelope for one fired marker's drained batch.
func (r *Renderer) Render(ctx context.Context, category schedule.Category, batchKey string, payloads [][]byte) (MailEnvelope, error) {
	docID, userRef, err := splitBatchKey(batchKey)
	if err != nil {
		return MailEnvelope{}, notifyerr.Wrap(notifyerr.RenderFailure, "parse batch key", err)
	}

	doc, err := r.dir.Document(ctx, docID)
	if err != nil {
		return MailEnvelope{}, notifyerr.Wrap(notifyerr.RenderFailure, "load document", err)
	}
	user, err := r.dir.EnsureUser(ctx, userRef)
	if err != nil {
		return MailEnvelope{}, notifyerr.Wrap(notifyerr.RenderFailure, "load recipient", err)
	}

	tpl, ok := r.templates[category]
	if !ok {
		return MailEnvelope{}, notifyerr.New(notifyerr.RenderFailure, fmt.Sprintf("no templates registered for category %s", category))
	}

	ctxVars := map[string]interface{}{
		"doc_name":              doc.Name,
		"doc_url":               doc.URL,
		"unsubscribe_url":       r.unsubscribeURL(docID, userRef, category, ModeNormal, user.UnsubscribeKey),
		"unsubscribe_fully_url": r.unsubscribeURL(docID, userRef, category, ModeFull, user.UnsubscribeKey),
	}

	switch category {
	case schedule.DocChange:
		if err := addDocChangeContext(ctxVars, payloads); err != nil {
			return MailEnvelope{}, notifyerr.Wrap(notifyerr.RenderFailure, "decode doc-change payloads", err)
		}
	case schedule.Comment:
		if err := addCommentContext(ctxVars, payloads); err != nil {
			return MailEnvelope{}, notifyerr.Wrap(notifyerr.RenderFailure, "decode comment payloads", err)
		}
	default:
		return MailEnvelope{}, notifyerr.New(notifyerr.RenderFailure, fmt.Sprintf("unknown render category %s", category))
	}

	subject, err := r.render(string(category)+":subject", tpl.Subject, ctxVars)
	if err != nil {
		return MailEnvelope{}, err
	}
	text, err := r.render(string(category)+":text", tpl.Text, ctxVars)
	if err != nil {
		return MailEnvelope{}, err
	}
	html, err := r.render(string(category)+":html", tpl.HTML, ctxVars)
	if err != nil {
		return MailEnvelope{}, err
	}

	return MailEnvelope{
		From:    r.sender.DocNotificationsFrom,
		ReplyTo: r.sender.DocNotificationsReplyTo,
		To:      []string{user.Email},
		Subject: subject,
		Text:    text,
		HTML:    html,
	}, nil
}

func (r *Renderer) render(cacheKey, templateStr string, vars map[string]interface{}) (string, error) {
	var tpl *liquid.Template
	if cached, ok := r.cache.Load(cacheKey); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(templateStr)
		if err != nil {
			return "", notifyerr.Wrap(notifyerr.RenderFailure, "parse template "+cacheKey, err)
		}
		tpl = parsed
		r.cache.Store(cacheKey, tpl)
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", notifyerr.Wrap(notifyerr.RenderFailure, "render template "+cacheKey, err)
	}
	return out, nil
}

func (r *Renderer) unsubscribeURL(docID, userRef string, category schedule.Category, mode UnsubscribeMode, key string) string {
	event := EventDocChanges
	if category == schedule.Comment {
		event = EventComments
	} else {
		// Modes only qualify comment links; doc-changes tokens carry none.
		mode = ModeNone
	}
	token := SignToken(docID, userRef, event, mode, key, time.Now())
	return fmt.Sprintf("%s/notifications-unsubscribe?token=%s", r.homeURL, token)
}

func splitBatchKey(batchKey string) (docID, userRef string, err error) {
	parts := strings.SplitN(batchKey, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed batch key %q", batchKey)
	}
	return parts[0], parts[1], nil
}

// addDocChangeContext groups payloads by author and fills the template
// context per spec §4.F.
func addDocChangeContext(ctxVars map[string]interface{}, payloads [][]byte) error {
	type authorGroup struct {
		user       string
		tables     map[string]bool
		categories map[string]bool
	}
	order := []string{}
	groups := map[string]*authorGroup{}

	for _, raw := range payloads {
		var p DocChangePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		g, ok := groups[p.AuthorRef]
		if !ok {
			g = &authorGroup{user: p.AuthorRef, tables: map[string]bool{}, categories: map[string]bool{}}
			groups[p.AuthorRef] = g
			order = append(order, p.AuthorRef)
		}
		for _, tbl := range p.TableNames {
			g.tables[tbl] = true
		}
		for _, c := range p.Categories {
			g.categories[c] = true
		}
	}

	authors := make([]map[string]interface{}, 0, len(order))
	for _, authorRef := range order {
		g := groups[authorRef]
		tables := sortedKeys(g.tables)
		categories := sortedKeys(g.categories)
		authors = append(authors, map[string]interface{}{
			"user":               g.user,
			"tables":             tables,
			"categories":         categories,
			"extra_tables_count": maxInt(0, len(tables)-2),
		})
	}

	ctxVars["authors"] = authors
	if len(order) == 1 {
		ctxVars["sender_author_name"] = order[0]
	}
	return nil
}

// addCommentContext builds per-comment records and author-name context
// for the comment category per spec §4.F.
func addCommentContext(ctxVars map[string]interface{}, payloads [][]byte) error {
	seenAuthors := map[string]bool{}
	authorOrder := []string{}
	comments := make([]map[string]interface{}, 0, len(payloads))
	hasMentions := false

	for _, raw := range payloads {
		var p CommentPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if !seenAuthors[p.AuthorRef] {
			seenAuthors[p.AuthorRef] = true
			authorOrder = append(authorOrder, p.AuthorRef)
		}
		if p.HasMention {
			hasMentions = true
		}
		comments = append(comments, map[string]interface{}{
			"has_mention": p.HasMention,
			"author":      p.AuthorRef,
			"text":        p.Text,
			"anchor":      p.Anchor,
		})
	}

	ctxVars["comments"] = comments
	ctxVars["author_names"] = authorOrder
	ctxVars["extra_authors_count"] = maxInt(0, len(authorOrder)-2)
	ctxVars["has_mentions"] = hasMentions
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
