package nip46

import (
	"github.com/mirostr/nostr"

	"github.com/puzpuzpuz/xsync/v3"
)

// authURLSentinel marks a response as an authorization challenge rather than
// a final result; the challenge URL rides in the error field.
const authURLSentinel = "auth_url"

// authGate deduplicates authorization-URL notifications per request id: a
// given id surfaces its URL at most once for the session's lifetime, even
// when reconnects redeliver the same historical event. Ids are never removed,
// not even when the request itself times out.
type authGate struct {
	seen   *xsync.MapOf[string, struct{}]
	notify func(url string)
}

func newAuthGate(notify func(url string)) *authGate {
	return &authGate{
		seen:   xsync.NewMapOf[string, struct{}](),
		notify: notify,
	}
}

// challenge intercepts auth-url responses. It returns true if resp was a
// challenge (and must not complete the pending request: the real result
// arrives later, after the user approves out-of-band).
func (g *authGate) challenge(resp Response) bool {
	if resp.Result != authURLSentinel || resp.Error == "" {
		return false
	}

	if _, alreadySeen := g.seen.LoadOrStore(resp.ID, struct{}{}); alreadySeen {
		nostr.DebugLogger.Printf("[nip46] duplicate auth challenge for request %s", resp.ID)
		return true
	}

	nostr.InfoLogger.Printf("[nip46] request %s needs out-of-band approval", resp.ID)
	if g.notify != nil {
		g.notify(resp.Error)
	}
	return true
}
