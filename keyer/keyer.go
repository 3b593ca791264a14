// Package keyer provides implementations of the nostr.Keyer capability.
package keyer

import (
	"context"
	"fmt"

	"github.com/mirostr/nostr"
	"github.com/mirostr/nostr/nip04"
	"github.com/puzpuzpuz/xsync/v3"
)

var _ nostr.Keyer = (*KeySigner)(nil)

// KeySigner is a signer that holds the private key in memory. Its Encrypt
// and Decrypt use the NIP-04 conversation cipher, which is what remote
// signing envelopes are wrapped in.
type KeySigner struct {
	sk string
	pk string

	sharedKeys *xsync.MapOf[string, []byte]
}

func NewPlainKeySigner(sec string) (KeySigner, error) {
	pk, err := nostr.GetPublicKey(sec)
	if err != nil {
		return KeySigner{}, err
	}
	return KeySigner{sec, pk, xsync.NewMapOf[string, []byte]()}, nil
}

func (ks KeySigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	return evt.Sign(ks.sk)
}

func (ks KeySigner) GetPublicKey(ctx context.Context) (string, error) {
	return ks.pk, nil
}

func (ks KeySigner) Encrypt(ctx context.Context, plaintext string, recipient string) (string, error) {
	shared, err := ks.sharedKey(recipient)
	if err != nil {
		return "", err
	}
	return nip04.Encrypt(plaintext, shared)
}

func (ks KeySigner) Decrypt(ctx context.Context, base64ciphertext string, sender string) (string, error) {
	shared, err := ks.sharedKey(sender)
	if err != nil {
		return "", err
	}
	return nip04.Decrypt(base64ciphertext, shared)
}

func (ks KeySigner) sharedKey(counterparty string) ([]byte, error) {
	if shared, ok := ks.sharedKeys.Load(counterparty); ok {
		return shared, nil
	}
	shared, err := nip04.ComputeSharedSecret(counterparty, ks.sk)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret with %s: %w", counterparty, err)
	}
	ks.sharedKeys.Store(counterparty, shared)
	return shared, nil
}
