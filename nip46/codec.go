package nip46

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mirostr/nostr"
)

// codec turns requests into signed, encrypted kind-24133 events and opens
// inbound events back into responses. All cryptography goes through the
// local key-holder.
type codec struct {
	keyer        nostr.Keyer
	remotePubkey string
}

// encodeRequest serializes, encrypts and signs a request, returning the
// relay message that carries it, ready for publishing.
func (c codec) encodeRequest(ctx context.Context, req Request) ([]byte, error) {
	jreq, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	content, err := c.keyer.Encrypt(ctx, string(jreq), c.remotePubkey)
	if err != nil {
		return nil, fmt.Errorf("error encrypting request: %w", err)
	}

	evt := nostr.Event{
		Content:   content,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindNostrConnect,
		Tags:      nostr.Tags{{"p", c.remotePubkey}},
	}
	if err := c.keyer.SignEvent(ctx, &evt); err != nil {
		return nil, fmt.Errorf("failed to sign request event: %w", err)
	}

	return nostr.EventEnvelope{Event: evt}.MarshalJSON()
}

// decodeResponse decrypts an inbound event against its author key. A false
// return means the event is not a response for this session: wrong kind,
// undecryptable (noise or someone else's traffic), or not response-shaped.
func (c codec) decodeResponse(ctx context.Context, evt *nostr.Event) (Response, bool) {
	if evt.Kind != nostr.KindNostrConnect {
		return Response{}, false
	}

	plain, err := c.keyer.Decrypt(ctx, evt.Content, evt.PubKey)
	if err != nil {
		// other relays may still deliver a readable copy, or this is simply
		// not addressed to us; either way it is not an error
		nostr.DebugLogger.Printf("[nip46] failed to decrypt event %s from %s: %v", evt.ID, evt.PubKey, err)
		return Response{}, false
	}

	var resp Response
	if err := json.Unmarshal([]byte(plain), &resp); err != nil {
		nostr.DebugLogger.Printf("[nip46] event %s decrypted to garbage: %v", evt.ID, err)
		return Response{}, false
	}
	return resp, true
}
