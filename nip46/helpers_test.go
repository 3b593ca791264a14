package nip46

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mirostr/nostr"
	"github.com/mirostr/nostr/nip04"
	"github.com/stretchr/testify/require"
)

// fakeTransport records everything sent through it and lets tests inject
// inbound messages and disconnects.
type fakeTransport struct {
	url          string
	onMessage    func(msg []byte)
	onDisconnect func()
	network      *fakeNetwork

	mu   sync.Mutex
	sent [][]byte
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.network.mu.Lock()
	err := t.network.connectErr[t.url]
	t.network.mu.Unlock()
	return err
}

func (t *fakeTransport) Send(ctx context.Context, msg []byte) error {
	t.mu.Lock()
	t.sent = append(t.sent, append([]byte(nil), msg...))
	t.mu.Unlock()

	t.network.deliverReplies(t, msg)
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) sentMessages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// fakeNetwork is a TransportDialer factory plus an in-memory remote signer:
// request envelopes sent through any of its transports are decrypted and
// handed to the handler, whose responses are encrypted and delivered back.
type fakeNetwork struct {
	t      *testing.T
	signer testSigner

	mu         sync.Mutex
	transports map[string][]*fakeTransport
	connectErr map[string]error

	// handler returns the ordered responses to deliver for a request; nil
	// or empty means stay silent
	handler func(url string, req Request) []Response
}

func newFakeNetwork(t *testing.T) *fakeNetwork {
	return &fakeNetwork{
		t:          t,
		signer:     newTestSigner(t),
		transports: make(map[string][]*fakeTransport),
		connectErr: make(map[string]error),
	}
}

func (n *fakeNetwork) dialer() TransportDialer {
	return func(url string, onMessage func(msg []byte), onDisconnect func()) Transport {
		tr := &fakeTransport{url: url, onMessage: onMessage, onDisconnect: onDisconnect, network: n}
		n.mu.Lock()
		n.transports[url] = append(n.transports[url], tr)
		n.mu.Unlock()
		return tr
	}
}

// latest returns the most recently dialed transport for url.
func (n *fakeNetwork) latest(url string) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	all := n.transports[url]
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (n *fakeNetwork) dialCount(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports[url])
}

func (n *fakeNetwork) deliverReplies(tr *fakeTransport, msg []byte) {
	n.mu.Lock()
	handler := n.handler
	n.mu.Unlock()
	if handler == nil {
		return
	}

	req, ok := n.signer.decryptRequest(n.t, msg)
	if !ok {
		return
	}
	for _, resp := range handler(tr.url, req) {
		tr.onMessage(n.signer.responseMessage(n.t, n.clientPubkeyFromMsg(msg), resp))
	}
}

func (n *fakeNetwork) clientPubkeyFromMsg(msg []byte) string {
	env, _ := nostr.ParseMessage(msg).(*nostr.EventEnvelope)
	return env.PubKey
}

// testSigner plays the remote signer side of the conversation.
type testSigner struct {
	sk string
	pk string
}

func newTestSigner(t *testing.T) testSigner {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	return testSigner{sk: sk, pk: pk}
}

// decryptRequest opens a published request envelope the way the remote
// signer would. ok is false for non-EVENT messages (e.g. REQ).
func (s testSigner) decryptRequest(t *testing.T, msg []byte) (req Request, ok bool) {
	env, isEvent := nostr.ParseMessage(msg).(*nostr.EventEnvelope)
	if !isEvent {
		return Request{}, false
	}

	shared, err := nip04.ComputeSharedSecret(env.PubKey, s.sk)
	require.NoError(t, err)
	plain, err := nip04.Decrypt(env.Content, shared)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(plain), &req))
	return req, true
}

// responseMessage builds the relay EVENT message carrying resp, encrypted
// for clientPubkey.
func (s testSigner) responseMessage(t *testing.T, clientPubkey string, resp Response) []byte {
	shared, err := nip04.ComputeSharedSecret(clientPubkey, s.sk)
	require.NoError(t, err)

	jresp, err := json.Marshal(resp)
	require.NoError(t, err)
	content, err := nip04.Encrypt(string(jresp), shared)
	require.NoError(t, err)

	evt := nostr.Event{
		Content:   content,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindNostrConnect,
		Tags:      nostr.Tags{{"p", clientPubkey}},
	}
	require.NoError(t, evt.Sign(s.sk))

	sub := "nip46-test"
	msg, err := nostr.EventEnvelope{SubscriptionID: &sub, Event: evt}.MarshalJSON()
	require.NoError(t, err)
	return msg
}

// newTestClient builds a connected client over the fake network. The
// handshake is answered with an ack by default.
func newTestClient(t *testing.T, network *fakeNetwork, relays []string, opts ...Option) *BunkerClient {
	clientSK := nostr.GeneratePrivateKey()

	if network.handler == nil {
		network.handler = func(url string, req Request) []Response {
			if req.Method == "connect" {
				return []Response{{ID: req.ID, Result: "ack"}}
			}
			return nil
		}
	}

	relayURL := make([]string, len(relays))
	copy(relayURL, relays)

	pointer := BunkerPointer{RemoteSignerPubKey: network.signer.pk, Relays: relayURL}
	opts = append([]Option{WithTransportDialer(network.dialer())}, opts...)

	bunker, err := ConnectBunker(testCtx(t), clientSK, pointerURL(pointer), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { bunker.Close() })
	return bunker
}

func pointerURL(pointer BunkerPointer) string {
	u := "bunker://" + pointer.RemoteSignerPubKey + "?relay=" + pointer.Relays[0]
	for _, r := range pointer.Relays[1:] {
		u += "&relay=" + r
	}
	if pointer.Secret != "" {
		u += "&secret=" + pointer.Secret
	}
	return u
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// reqSince extracts the since-timestamp of the first filter of a REQ message.
func reqSince(t *testing.T, msg []byte) nostr.Timestamp {
	env, ok := nostr.ParseMessage(msg).(*nostr.ReqEnvelope)
	require.True(t, ok, "expected a REQ message, got %s", string(msg))
	require.NotEmpty(t, env.Filters)
	require.NotNil(t, env.Filters[0].Since)
	return *env.Filters[0].Since
}

// signRequestParam parses a sign_event param and signs it with the signer's
// key, like a remote signer would.
func signRequestParam(t *testing.T, s testSigner, param string) nostr.Event {
	var evt nostr.Event
	require.NoError(t, json.Unmarshal([]byte(param), &evt))
	require.NoError(t, evt.Sign(s.sk))
	return evt
}

// blankKeyer is a key-holder with no key material at all.
type blankKeyer struct{}

var errBlankKeyer = errors.New("no key material")

func (blankKeyer) GetPublicKey(ctx context.Context) (string, error) { return "", nil }
func (blankKeyer) SignEvent(ctx context.Context, evt *nostr.Event) error {
	return errBlankKeyer
}
func (blankKeyer) Encrypt(ctx context.Context, plaintext string, recipient string) (string, error) {
	return "", errBlankKeyer
}
func (blankKeyer) Decrypt(ctx context.Context, ciphertext string, sender string) (string, error) {
	return "", errBlankKeyer
}
