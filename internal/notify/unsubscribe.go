package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/notifyerr"
)

// UnsubscribeEvent is the notification stream an unsubscribe token
// applies to.
type UnsubscribeEvent string

const (
	EventDocChanges UnsubscribeEvent = "doc-changes"
	EventComments   UnsubscribeEvent = "comments"
)

// UnsubscribeMode further qualifies an UnsubscribeEvent of "comments":
// "" (unset/default), "normal" (set comments=relevant), or "full" (set
// comments=none).
type UnsubscribeMode string

const (
	ModeNone   UnsubscribeMode = ""
	ModeNormal UnsubscribeMode = "normal"
	ModeFull   UnsubscribeMode = "full"
)

// tokenTTL is how long a minted unsubscribe token remains valid (spec §4.G).
const tokenTTL = 60 * 24 * time.Hour

// dayLayout is the truncated-to-day expiry format used both in the
// signed payload and the wire token.
const dayLayout = "20060102"

// UnsubscribeToken is the parsed, not-yet-verified form of a token.
type UnsubscribeToken struct {
	DocID     string
	UserRef   string
	Event     UnsubscribeEvent
	Mode      UnsubscribeMode
	ExpiresOn string // yyyymmdd, UTC
	Signature string // base64url, unverified
}

// SignToken mints a token for (docID, userRef, event, mode) using key,
// expiring 60 days from now (truncated to a UTC calendar day).
func SignToken(docID, userRef string, event UnsubscribeEvent, mode UnsubscribeMode, key string, now time.Time) string {
	expiry := now.UTC().Add(tokenTTL).Format(dayLayout)
	sig := sign(docID, userRef, event, mode, expiry, key)
	return strings.Join([]string{docID, userRef, string(event), string(mode), expiry, sig}, "|")
}

func sign(docID, userRef string, event UnsubscribeEvent, mode UnsubscribeMode, expiry, key string) string {
	payload := strings.Join([]string{docID, userRef, string(event), string(mode), expiry}, "|")
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

var validEvents = map[UnsubscribeEvent]bool{EventDocChanges: true, EventComments: true}
var validModes = map[UnsubscribeMode]bool{ModeNone: true, ModeNormal: true, ModeFull: true}

// ParseToken splits a raw token into its six fields without verifying
// the signature. Callers MUST call Verify before acting on the result.
func ParseToken(raw string) (UnsubscribeToken, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 6 {
		return UnsubscribeToken{}, notifyerr.New(notifyerr.BadSignature, "malformed unsubscribe token")
	}

	t := UnsubscribeToken{
		DocID:     parts[0],
		UserRef:   parts[1],
		Event:     UnsubscribeEvent(parts[2]),
		Mode:      UnsubscribeMode(parts[3]),
		ExpiresOn: parts[4],
		Signature: parts[5],
	}
	if t.DocID == "" || t.Signature == "" {
		return UnsubscribeToken{}, notifyerr.New(notifyerr.BadSignature, "malformed unsubscribe token")
	}
	if !validEvents[t.Event] {
		return UnsubscribeToken{}, notifyerr.New(notifyerr.BadSignature, "unknown unsubscribe event")
	}
	if !validModes[t.Mode] {
		return UnsubscribeToken{}, notifyerr.New(notifyerr.BadSignature, "unknown unsubscribe mode")
	}
	return t, nil
}

// Verify recomputes the HMAC over t's fields and checks it has not
// expired as of now. Uses a constant-time comparison (spec §4.G).
func Verify(t UnsubscribeToken, key string, now time.Time) error {
	expected := sign(t.DocID, t.UserRef, t.Event, t.Mode, t.ExpiresOn, key)
	if !hmac.Equal([]byte(expected), []byte(t.Signature)) {
		return notifyerr.New(notifyerr.BadSignature, "unsubscribe signature mismatch")
	}

	today := now.UTC().Format(dayLayout)
	if today > t.ExpiresOn {
		return notifyerr.New(notifyerr.ExpiredToken, "unsubscribe token expired")
	}
	return nil
}
