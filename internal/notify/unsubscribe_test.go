package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := SignToken("doc1", "userA", EventComments, ModeFull, "secret-key", now)

	parsed, err := ParseToken(raw)
	require.NoError(t, err)
	require.NoError(t, Verify(parsed, "secret-key", now.Add(59*24*time.Hour)))
}

func TestTokenExpiresAfter60Days(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := SignToken("doc1", "userA", EventComments, ModeNormal, "secret-key", now)
	parsed, err := ParseToken(raw)
	require.NoError(t, err)

	err = Verify(parsed, "secret-key", now.Add(60*24*time.Hour))
	require.Error(t, err)
	assert.ErrorContains(t, err, "expired")
}

func TestTokenSignatureBindingDocID(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := SignToken("doc1", "userA", EventComments, ModeNormal, "secret-key", now)
	parsed, err := ParseToken(raw)
	require.NoError(t, err)

	parsed.DocID = "doc2"
	err = Verify(parsed, "secret-key", now)
	require.Error(t, err)
}

func TestTokenSignatureBindingEachField(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := SignToken("doc1", "userA", EventComments, ModeNormal, "secret-key", now)
	base, err := ParseToken(raw)
	require.NoError(t, err)

	mutate := []func(t *UnsubscribeToken){
		func(t *UnsubscribeToken) { t.DocID = "other-doc" },
		func(t *UnsubscribeToken) { t.UserRef = "other-user" },
		func(t *UnsubscribeToken) { t.Event = EventDocChanges },
		func(t *UnsubscribeToken) { t.Mode = ModeFull },
		func(t *UnsubscribeToken) { t.ExpiresOn = "20990101" },
	}
	for _, m := range mutate {
		tok := base
		m(&tok)
		assert.Error(t, Verify(tok, "secret-key", now), "mutated field should invalidate signature")
	}
}

func TestParseTokenRejectsWrongFieldCount(t *testing.T) {
	_, err := ParseToken("doc1|userA|comments")
	require.Error(t, err)
}

func TestParseTokenRejectsUnknownEvent(t *testing.T) {
	_, err := ParseToken("doc1|userA|smoke-signal||20990101|sig")
	require.Error(t, err)
}

func TestParseTokenRejectsUnknownMode(t *testing.T) {
	_, err := ParseToken("doc1|userA|comments|extreme|20990101|sig")
	require.Error(t, err)
}

func TestVerifyWrongKeyFails(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := SignToken("doc1", "userA", EventDocChanges, ModeNone, "secret-key", now)
	parsed, err := ParseToken(raw)
	require.NoError(t, err)

	require.Error(t, Verify(parsed, "wrong-key", now))
}
