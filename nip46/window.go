package nip46

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/mirostr/nostr"
)

// subscriptionSkew is subtracted from the pinned since-timestamp to tolerate
// clock skew between this device and the remote signer.
const subscriptionSkew nostr.Timestamp = 10

// subscriptionWindow computes the time boundary used to request only
// relevant events. The since-timestamp is pinned the first time any
// connection is primed and reused verbatim on every later reconnection, so
// replayed relay history covers the same span every time.
type subscriptionWindow struct {
	once  sync.Once
	since nostr.Timestamp
}

func (w *subscriptionWindow) sinceTimestamp() nostr.Timestamp {
	w.once.Do(func() {
		w.since = nostr.Now() - subscriptionSkew
	})
	return w.since
}

// subscriptionMessage builds the REQ priming a connection: remote-signing
// events addressed to us, bounded by the pinned window, under a freshly
// generated subscription id.
func (w *subscriptionWindow) subscriptionMessage(clientPubkey string) []byte {
	since := w.sinceTimestamp()
	req := nostr.ReqEnvelope{
		SubscriptionID: newSubscriptionID(),
		Filters: nostr.Filters{{
			Kinds: []int{nostr.KindNostrConnect},
			Tags:  nostr.TagMap{"p": []string{clientPubkey}},
			Since: &since,
		}},
	}
	msg, _ := req.MarshalJSON()
	return msg
}

func newSubscriptionID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return "nip46-" + hex.EncodeToString(b)
}
