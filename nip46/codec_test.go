package nip46

import (
	"encoding/json"
	"testing"

	"github.com/mirostr/nostr"
	"github.com/mirostr/nostr/keyer"
	"github.com/mirostr/nostr/nip04"
	"github.com/stretchr/testify/require"
)

func TestCodecRequestRoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	clientSK := nostr.GeneratePrivateKey()
	ks, err := keyer.NewPlainKeySigner(clientSK)
	require.NoError(t, err)

	c := codec{keyer: ks, remotePubkey: signer.pk}

	msg, err := c.encodeRequest(testCtx(t), Request{
		ID:     "gn-1",
		Method: "sign_event",
		Params: []string{`{"kind":1}`},
	})
	require.NoError(t, err)

	// the wire form is a plain EVENT message with an opaque encrypted payload
	env, ok := nostr.ParseMessage(msg).(*nostr.EventEnvelope)
	require.True(t, ok)
	require.Equal(t, nostr.KindNostrConnect, env.Kind)
	require.NotNil(t, env.Tags.FindWithValue("p", signer.pk))
	verified, err := env.CheckSignature()
	require.NoError(t, err)
	require.True(t, verified)

	// only the remote signer key can open it
	req, ok := signer.decryptRequest(t, msg)
	require.True(t, ok)
	require.Equal(t, "gn-1", req.ID)
	require.Equal(t, "sign_event", req.Method)
	require.Equal(t, []string{`{"kind":1}`}, req.Params)
}

func TestCodecDecodeResponse(t *testing.T) {
	signer := newTestSigner(t)
	clientSK := nostr.GeneratePrivateKey()
	clientPK, err := nostr.GetPublicKey(clientSK)
	require.NoError(t, err)
	ks, err := keyer.NewPlainKeySigner(clientSK)
	require.NoError(t, err)

	c := codec{keyer: ks, remotePubkey: signer.pk}

	msg := signer.responseMessage(t, clientPK, Response{ID: "gn-7", Result: "pong"})
	env, ok := nostr.ParseMessage(msg).(*nostr.EventEnvelope)
	require.True(t, ok)

	resp, ok := c.decodeResponse(testCtx(t), &env.Event)
	require.True(t, ok)
	require.Equal(t, "gn-7", resp.ID)
	require.Equal(t, "pong", resp.Result)
}

func TestCodecDiscardsForeignEvents(t *testing.T) {
	signer := newTestSigner(t)
	ks, err := keyer.NewPlainKeySigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	c := codec{keyer: ks, remotePubkey: signer.pk}

	// wrong kind
	_, ok := c.decodeResponse(testCtx(t), &nostr.Event{Kind: 1, Content: "hi"})
	require.False(t, ok)

	// undecryptable garbage
	_, ok = c.decodeResponse(testCtx(t), &nostr.Event{
		Kind:    nostr.KindNostrConnect,
		PubKey:  signer.pk,
		Content: "bm90IHJlYWwgY2lwaGVydGV4dA==?iv=bm90IGFuIGl2ISEhISEh",
	})
	require.False(t, ok)

	// a message encrypted for somebody else's key
	otherPK, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	stray := signer.responseMessage(t, otherPK, Response{ID: "gn-9", Result: "secret"})
	env, isEvent := nostr.ParseMessage(stray).(*nostr.EventEnvelope)
	require.True(t, isEvent)
	_, ok = c.decodeResponse(testCtx(t), &env.Event)
	require.False(t, ok)
}

func TestCodecDecodeResponseError(t *testing.T) {
	signer := newTestSigner(t)
	clientSK := nostr.GeneratePrivateKey()
	clientPK, err := nostr.GetPublicKey(clientSK)
	require.NoError(t, err)
	ks, err := keyer.NewPlainKeySigner(clientSK)
	require.NoError(t, err)
	c := codec{keyer: ks, remotePubkey: signer.pk}

	orig := Response{ID: "gn-3", Error: "user rejected"}
	jorig, err := json.Marshal(orig)
	require.NoError(t, err)

	shared, err := nip04.ComputeSharedSecret(clientPK, signer.sk)
	require.NoError(t, err)
	content, err := nip04.Encrypt(string(jorig), shared)
	require.NoError(t, err)

	evt := nostr.Event{Kind: nostr.KindNostrConnect, Content: content, CreatedAt: nostr.Now()}
	require.NoError(t, evt.Sign(signer.sk))

	resp, ok := c.decodeResponse(testCtx(t), &evt)
	require.True(t, ok)
	require.Equal(t, orig, resp)
}
