package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/notify/directory"
	"github.com/ignite/sparkpost-monitor/internal/notify/schedule"
)

func TestDeciderQuietShortCircuit(t *testing.T) {
	// S1: no users with doc-changes=true and no comments in the bundle.
	ctx := context.Background()
	dir := directory.NewMemDirectory()
	dir.AddRecipient("doc1", "userB", directory.Prefs{DocChanges: false, Comments: directory.CommentsNone})
	acl := directory.NewMemACL()

	e := newTestEngine(t)
	d := NewDecider(dir, e)

	require.NoError(t, d.Decide(ctx, EditBundle{DocID: "doc1", AuthorRef: "userA", HasComments: false}, acl))

	// No doc-change marker was created — the ACL handle was never consulted.
	res, scheduleErr := e.delays.Schedule(ctx, schedule.MarkerID(schedule.DocChange, "doc1/userB"), Envelope{Category: "doc-change", BatchKey: "doc1/userB"}, time.Hour)
	require.NoError(t, scheduleErr)
	require.Equal(t, Added, res, "no marker should have been created by Decide")
}

func TestDeciderAuthorNeverSelfNotified(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemDirectory()
	dir.AddRecipient("doc1", "userA", directory.Prefs{DocChanges: true})
	acl := directory.NewMemACL()
	acl.SetDirectTables("userA", &directory.TableChange{AuthorRef: "userA", TableNames: []string{"t1"}})

	e := newTestEngine(t)
	d := NewDecider(dir, e)

	// Author is both the editor and (erroneously, in test data) a
	// recipient row; AuthorRef == bundle author so they must be excluded.
	require.NoError(t, d.Decide(ctx, EditBundle{DocID: "doc1", AuthorRef: "userA"}, acl))

	exists, err := e.batches.Exists(ctx, schedule.MarkerID(schedule.DocChange, "doc1/userA"))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestDeciderDocChangeEmittedWhenACLAllows(t *testing.T) {
	// S2-ish single-bundle slice: B has doc-changes=true and ACL says
	// they can see table changes.
	ctx := context.Background()
	dir := directory.NewMemDirectory()
	dir.AddRecipient("doc1", "userB", directory.Prefs{DocChanges: true})
	acl := directory.NewMemACL()
	acl.SetDirectTables("userB", &directory.TableChange{
		AuthorRef:  "userA",
		Categories: []string{"edit"},
		TableNames: []string{"Sheet1"},
	})

	e := newTestEngine(t)
	d := NewDecider(dir, e)

	require.NoError(t, d.Decide(ctx, EditBundle{DocID: "doc1", AuthorRef: "userA"}, acl))

	payloads, err := e.batches.Drain(ctx, schedule.MarkerID(schedule.DocChange, "doc1/userB"))
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	var got DocChangePayload
	require.NoError(t, json.Unmarshal(payloads[0], &got))
	require.Equal(t, "userA", got.AuthorRef)
	require.Equal(t, []string{"Sheet1"}, got.TableNames)
}

func TestDeciderAccessGatingNilTablesSkipsUser(t *testing.T) {
	// Property 3 (access gating): ACL returns nil for this user.
	ctx := context.Background()
	dir := directory.NewMemDirectory()
	dir.AddRecipient("doc1", "userB", directory.Prefs{DocChanges: true})
	acl := directory.NewMemACL()
	acl.SetDirectTables("userB", nil)

	e := newTestEngine(t)
	d := NewDecider(dir, e)

	require.NoError(t, d.Decide(ctx, EditBundle{DocID: "doc1", AuthorRef: "userA"}, acl))

	exists, err := e.batches.Exists(ctx, schedule.MarkerID(schedule.DocChange, "doc1/userB"))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestDeciderCommentsRelevantOnlyToAudience(t *testing.T) {
	// S4: audience={userC}, mentions=∅; userC comments=relevant → notified.
	// userD comments=relevant but not in audience → not notified.
	ctx := context.Background()
	dir := directory.NewMemDirectory()
	dir.AddRecipient("doc1", "userC", directory.Prefs{Comments: directory.CommentsRelevant})
	dir.AddRecipient("doc1", "userD", directory.Prefs{Comments: directory.CommentsRelevant})

	comment := directory.Comment{AuthorRef: "userA", Text: "hi", AudienceRefs: []string{"userC"}}
	acl := directory.NewMemACL()
	acl.SetComments("", []directory.Comment{comment})
	acl.SetComments("userC", []directory.Comment{comment})
	acl.SetComments("userD", []directory.Comment{comment})

	e := newTestEngine(t)
	d := NewDecider(dir, e)

	require.NoError(t, d.Decide(ctx, EditBundle{DocID: "doc1", AuthorRef: "userA", HasComments: true}, acl))

	cPayloads, err := e.batches.Drain(ctx, schedule.MarkerID(schedule.Comment, "doc1/userC"))
	require.NoError(t, err)
	require.Len(t, cPayloads, 1)
	var gotC CommentPayload
	require.NoError(t, json.Unmarshal(cPayloads[0], &gotC))
	require.False(t, gotC.HasMention)

	exists, err := e.batches.Exists(ctx, schedule.MarkerID(schedule.Comment, "doc1/userD"))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestDeciderCommentMentionFlagged(t *testing.T) {
	// S5: single comment mentions={userD}, audience={userD}; userD notified
	// with has-mention=true.
	ctx := context.Background()
	dir := directory.NewMemDirectory()
	dir.AddRecipient("doc1", "userD", directory.Prefs{Comments: directory.CommentsRelevant})

	comment := directory.Comment{
		AuthorRef:     "userA",
		Text:          "hey @userD",
		MentionedRefs: []string{"userD"},
		AudienceRefs:  []string{"userD"},
	}
	acl := directory.NewMemACL()
	acl.SetComments("", []directory.Comment{comment})
	acl.SetComments("userD", []directory.Comment{comment})

	e := newTestEngine(t)
	d := NewDecider(dir, e)

	require.NoError(t, d.Decide(ctx, EditBundle{DocID: "doc1", AuthorRef: "userA", HasComments: true}, acl))

	payloads, err := e.batches.Drain(ctx, schedule.MarkerID(schedule.Comment, "doc1/userD"))
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	var got CommentPayload
	require.NoError(t, json.Unmarshal(payloads[0], &got))
	require.True(t, got.HasMention)
}

func TestDeciderCommentsNonePreferenceSuppressesAll(t *testing.T) {
	// Property 4: comments=none never emits.
	ctx := context.Background()
	dir := directory.NewMemDirectory()
	dir.AddRecipient("doc1", "userD", directory.Prefs{Comments: directory.CommentsNone})

	comment := directory.Comment{AuthorRef: "userA", Text: "x", MentionedRefs: []string{"userD"}, AudienceRefs: []string{"userD"}}
	acl := directory.NewMemACL()
	acl.SetComments("", []directory.Comment{comment})
	acl.SetComments("userD", []directory.Comment{comment})

	e := newTestEngine(t)
	d := NewDecider(dir, e)

	require.NoError(t, d.Decide(ctx, EditBundle{DocID: "doc1", AuthorRef: "userA", HasComments: true}, acl))

	exists, err := e.batches.Exists(ctx, schedule.MarkerID(schedule.Comment, "doc1/userD"))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestDeciderSystemSynthesizedEditEmitsNothing(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemDirectory()
	dir.AddRecipient("doc1", "userB", directory.Prefs{DocChanges: true})
	acl := directory.NewMemACL()
	acl.SetDirectTables("userB", &directory.TableChange{AuthorRef: "", TableNames: []string{"t1"}})

	e := newTestEngine(t)
	d := NewDecider(dir, e)

	require.NoError(t, d.Decide(ctx, EditBundle{DocID: "doc1", AuthorRef: ""}, acl))

	exists, err := e.batches.Exists(ctx, schedule.MarkerID(schedule.DocChange, "doc1/userB"))
	require.NoError(t, err)
	require.False(t, exists)
}
