// Package nip46 implements the client side of the NIP-46 remote signing
// protocol: a BunkerClient delegates signing, encryption and decryption to a
// remote signer process, talking to it through one or more relays with
// end-to-end encrypted request/response envelopes.
package nip46

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"

	"github.com/mirostr/nostr"
)

var BUNKER_REGEX = regexp.MustCompile(`^bunker:\/\/([0-9a-f]{64})\??([?\/\w:.=&%-]*)$`)

type Request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

func (r Request) String() string {
	j, _ := json.Marshal(r)
	return string(j)
}

type Response struct {
	ID     string `json:"id"`
	Error  string `json:"error,omitempty"`
	Result string `json:"result,omitempty"`
}

func (r Response) String() string {
	j, _ := json.Marshal(r)
	return string(j)
}

type RelayReadWrite struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

func IsValidBunkerURL(input string) bool {
	return BUNKER_REGEX.MatchString(input)
}

// BunkerPointer is the decoded form of a bunker:// URL.
type BunkerPointer struct {
	// RemoteSignerPubKey is the public key envelopes are addressed to. It is
	// not necessarily the user key that will sign events.
	RemoteSignerPubKey string

	// Relays are the relay addresses the signer listens on.
	Relays []string

	// Secret is the optional pre-shared connection secret.
	Secret string
}

// ParseBunkerPointer decodes a bunker://<pubkey>?relay=...&secret=... URL.
func ParseBunkerPointer(input string) (BunkerPointer, error) {
	parsed, err := url.Parse(input)
	if err != nil {
		return BunkerPointer{}, fmt.Errorf("invalid url: %w", err)
	}

	if parsed.Scheme != "bunker" {
		return BunkerPointer{}, fmt.Errorf("wrong scheme '%s', must be bunker://", parsed.Scheme)
	}

	target := parsed.Host
	if !nostr.IsValidPublicKey(target) {
		return BunkerPointer{}, fmt.Errorf("'%s' is not a valid public key hex", target)
	}

	relays := parsed.Query()["relay"]
	if len(relays) == 0 {
		return BunkerPointer{}, fmt.Errorf("bunker url must specify at least one relay")
	}
	for i, r := range relays {
		relays[i] = nostr.NormalizeURL(r)
	}

	return BunkerPointer{
		RemoteSignerPubKey: target,
		Relays:             relays,
		Secret:             parsed.Query().Get("secret"),
	}, nil
}
