package nip46

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mirostr/nostr"
	"github.com/mirostr/nostr/keyer"
)

const (
	// DefaultRequestTimeout bounds ordinary operations.
	DefaultRequestTimeout = 60 * time.Second

	// HandshakeTimeout bounds the connect handshake and public-key
	// retrieval, which legitimately wait on human approval.
	HandshakeTimeout = 120 * time.Second

	// delay between a reconnect succeeding and the pending-request replay
	// pass, so the subscription lands first
	reconnectResendDelay = 100 * time.Millisecond
)

// ConnectPermissions is the capability list sent along with the handshake.
var ConnectPermissions = "sign_event,nip04_encrypt,nip04_decrypt,nip44_encrypt,nip44_decrypt,get_relays"

// ErrNoKeyMaterial is returned by Connect when the local key-holder has no
// public key to sign envelopes with.
var ErrNoKeyMaterial = errors.New("local key material is blank")

// BunkerClient is a remote-signer session: it owns the relay connections,
// drives the handshake, correlates encrypted requests with their responses
// and exposes the signing capability of the remote signer.
type BunkerClient struct {
	serial   atomic.Uint64
	idPrefix string

	keyer        nostr.Keyer
	clientPubkey string

	target string
	secret string
	relays []string

	conns  []*relayConn
	codec  codec
	calls  *correlator
	gate   *authGate
	window *subscriptionWindow

	dial             TransportDialer
	requestTimeout   time.Duration
	handshakeTimeout time.Duration
	onAuthURL        func(url string)

	closed atomic.Bool

	// memoized
	getPublicKeyResponse string
}

// Option configures a BunkerClient.
type Option func(*BunkerClient)

// WithAuthURLHandler sets the hook invoked with a URL whenever an operation
// needs out-of-band user approval before it can complete.
func WithAuthURLHandler(fn func(url string)) Option {
	return func(bunker *BunkerClient) { bunker.onAuthURL = fn }
}

// WithTransportDialer replaces the default websocket transport.
func WithTransportDialer(dial TransportDialer) Option {
	return func(bunker *BunkerClient) { bunker.dial = dial }
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(bunker *BunkerClient) { bunker.requestTimeout = d }
}

// WithHandshakeTimeout overrides HandshakeTimeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(bunker *BunkerClient) { bunker.handshakeTimeout = d }
}

// NewBunkerClient creates a session talking to the signer identified by
// pointer, using keyHolder for all envelope cryptography. Call Connect to
// establish it.
func NewBunkerClient(keyHolder nostr.Keyer, pointer BunkerPointer, opts ...Option) *BunkerClient {
	bunker := &BunkerClient{
		keyer:            keyHolder,
		target:           pointer.RemoteSignerPubKey,
		secret:           pointer.Secret,
		relays:           pointer.Relays,
		calls:            newCorrelator(),
		window:           &subscriptionWindow{},
		dial:             DialWebsocket,
		requestTimeout:   DefaultRequestTimeout,
		handshakeTimeout: HandshakeTimeout,
		idPrefix:         "gn-" + strconv.Itoa(rand.Intn(65536)),
	}
	for _, apply := range opts {
		apply(bunker)
	}
	bunker.codec = codec{keyer: keyHolder, remotePubkey: pointer.RemoteSignerPubKey}
	bunker.gate = newAuthGate(bunker.onAuthURL)
	return bunker
}

// ConnectBunker establishes an RPC connection to a NIP-46 signer using the
// relays and secret provided in the bunkerURL, with clientSecretKey as the
// throwaway local key.
func ConnectBunker(ctx context.Context, clientSecretKey string, bunkerURL string, opts ...Option) (*BunkerClient, error) {
	pointer, err := ParseBunkerPointer(bunkerURL)
	if err != nil {
		return nil, err
	}

	ks, err := keyer.NewPlainKeySigner(clientSecretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid client secret key: %w", err)
	}

	bunker := NewBunkerClient(ks, pointer, opts...)
	if err := bunker.Connect(ctx); err != nil {
		bunker.Close()
		return nil, err
	}
	return bunker, nil
}

// Connect opens a connection per relay address, primes each with the
// subscription window, and performs the "connect" handshake. Individual
// relay failures are not fatal: the handshake only fails if no relay ever
// delivers a response within the handshake timeout.
func (bunker *BunkerClient) Connect(ctx context.Context) error {
	pk, err := bunker.keyer.GetPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to get local public key: %w", err)
	}
	if pk == "" {
		// nothing to sign envelopes with; don't open anything
		return ErrNoKeyMaterial
	}
	bunker.clientPubkey = pk

	for _, url := range bunker.relays {
		rc := newRelayConn(url, bunker.dial, bunker.handleMessage, bunker.handleDisconnect)
		rc.enqueue(bunker.window.subscriptionMessage(pk))
		bunker.conns = append(bunker.conns, rc)
	}

	for _, rc := range bunker.conns {
		if err := rc.connect(ctx); err != nil {
			nostr.InfoLogger.Printf("[nip46] %v", err)
		}
	}

	_, err = bunker.rpc(ctx, "connect",
		[]string{bunker.target, bunker.secret, ConnectPermissions},
		bunker.handshakeTimeout)
	return err
}

func (bunker *BunkerClient) Ping(ctx context.Context) error {
	_, err := bunker.RPC(ctx, "ping", []string{})
	return err
}

// GetPublicKey returns the user's public key from the remote signer,
// memoized after the first successful call.
func (bunker *BunkerClient) GetPublicKey(ctx context.Context) (string, error) {
	if bunker.getPublicKeyResponse != "" {
		return bunker.getPublicKeyResponse, nil
	}
	return bunker.PullPubkey(ctx)
}

// PullPubkey always asks the remote signer, refreshing the memoized value.
func (bunker *BunkerClient) PullPubkey(ctx context.Context) (string, error) {
	resp, err := bunker.rpc(ctx, "get_public_key", []string{}, bunker.handshakeTimeout)
	if err == nil {
		bunker.getPublicKeyResponse = resp
	}
	return resp, err
}

// SignEvent asks the remote signer to sign evt, filling in its ID, PubKey
// and Sig fields from the signer's answer.
func (bunker *BunkerClient) SignEvent(ctx context.Context, evt *nostr.Event) error {
	resp, err := bunker.RPC(ctx, "sign_event", []string{evt.String()})
	if err == nil {
		err = json.Unmarshal([]byte(resp), evt)
	}
	return err
}

func (bunker *BunkerClient) Encrypt(ctx context.Context, targetPubkey string, plaintext string) (string, error) {
	return bunker.RPC(ctx, "nip04_encrypt", []string{targetPubkey, plaintext})
}

func (bunker *BunkerClient) Decrypt(ctx context.Context, targetPubkey string, ciphertext string) (string, error) {
	return bunker.RPC(ctx, "nip04_decrypt", []string{targetPubkey, ciphertext})
}

func (bunker *BunkerClient) NIP44Encrypt(ctx context.Context, targetPubkey string, plaintext string) (string, error) {
	return bunker.RPC(ctx, "nip44_encrypt", []string{targetPubkey, plaintext})
}

func (bunker *BunkerClient) NIP44Decrypt(ctx context.Context, targetPubkey string, ciphertext string) (string, error) {
	return bunker.RPC(ctx, "nip44_decrypt", []string{targetPubkey, ciphertext})
}

// GetRelays returns the relay list the remote signer advertises for the
// user, keyed by relay URL.
func (bunker *BunkerClient) GetRelays(ctx context.Context) (map[string]RelayReadWrite, error) {
	resp, err := bunker.RPC(ctx, "get_relays", []string{})
	if err != nil {
		return nil, err
	}
	relays := make(map[string]RelayReadWrite)
	if err := json.Unmarshal([]byte(resp), &relays); err != nil {
		return nil, fmt.Errorf("failed to parse get_relays response: %w", err)
	}
	return relays, nil
}

// Close releases every relay connection. The client cannot be reused.
func (bunker *BunkerClient) Close() error {
	if !bunker.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, rc := range bunker.conns {
		rc.close()
	}
	return nil
}

// RPC performs one raw request against the remote signer with the default
// timeout.
func (bunker *BunkerClient) RPC(ctx context.Context, method string, params []string) (string, error) {
	return bunker.rpc(ctx, method, params, bunker.requestTimeout)
}

func (bunker *BunkerClient) rpc(ctx context.Context, method string, params []string, timeout time.Duration) (string, error) {
	id := bunker.idPrefix + "-" + strconv.FormatUint(bunker.serial.Add(1), 10)

	envelope, err := bunker.codec.encodeRequest(ctx, Request{ID: id, Method: method, Params: params})
	if err != nil {
		return "", err
	}

	pr := bunker.calls.add(id, envelope)
	defer bunker.calls.drop(id)

	// self-heal before transmitting: disconnect callbacks can be missed or
	// delayed, so the send path re-checks every connection itself
	for _, rc := range bunker.conns {
		if rc.Status() == StatusDisconnected {
			bunker.reconnect(ctx, rc)
		}
	}

	// transmit on every connection; relays drop messages without telling
	// anyone, so cross-relay redundancy is the delivery mechanism
	for _, rc := range bunker.conns {
		if err := rc.send(ctx, envelope, true); err != nil {
			nostr.InfoLogger.Printf("[nip46] failed to send request %s to %s: %v", id, rc.url, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case resp := <-pr.result:
		if resp.Error != "" {
			return "", fmt.Errorf("response error: %s", resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		// unknown outcome: the request may still have gone through
		return "", fmt.Errorf("timed out waiting for response to %s: %w", method, ctx.Err())
	}
}

// handleDisconnect is the passive reconnection trigger: it fires once per
// transition of a connection into the disconnected state.
func (bunker *BunkerClient) handleDisconnect(rc *relayConn) {
	if bunker.closed.Load() {
		return
	}
	go bunker.reconnect(context.Background(), rc)
}

// reconnect re-establishes a single relay connection and replays state on
// it: the subscription query (reusing the pinned window) plus every
// still-outstanding request envelope. The per-connection guard collapses
// concurrent attempts into one.
func (bunker *BunkerClient) reconnect(ctx context.Context, rc *relayConn) {
	if !rc.tryBeginReconnect() {
		return
	}
	defer rc.endReconnect()

	if rc.queueEmpty() {
		rc.enqueue(bunker.window.subscriptionMessage(bunker.clientPubkey))
	}

	if err := rc.connect(ctx); err != nil {
		// not retried here; the next disconnect signal or outbound send
		// makes the next attempt
		nostr.InfoLogger.Printf("[nip46] reconnect failed: %v", err)
		return
	}

	// let the subscription land before replaying requests
	time.Sleep(reconnectResendDelay)

	// resend unconditionally, including to relays that already delivered:
	// the correlator takes the first response and drops the rest, and the
	// remote signer is assumed to answer duplicate request ids idempotently
	bunker.calls.each(func(pr *pendingRequest) {
		if err := rc.send(ctx, pr.envelope, true); err != nil {
			nostr.DebugLogger.Printf("[nip46] replay of request %s to %s failed: %v", pr.id, rc.url, err)
		}
	})
}

// handleMessage receives every raw inbound message from every connection.
func (bunker *BunkerClient) handleMessage(url string, msg []byte) {
	switch env := nostr.ParseMessage(msg).(type) {
	case *nostr.EventEnvelope:
		bunker.handleEvent(&env.Event)
	case *nostr.NoticeEnvelope:
		nostr.InfoLogger.Printf("[nip46] notice from %s: %s", url, string(*env))
	case *nostr.ClosedEnvelope:
		nostr.InfoLogger.Printf("[nip46] subscription %s closed by %s: %s", env.SubscriptionID, url, env.Reason)
	case *nostr.OKEnvelope:
		if !env.OK {
			nostr.InfoLogger.Printf("[nip46] %s rejected event %s: %s", url, env.EventID, env.Reason)
		}
	}
}

func (bunker *BunkerClient) handleEvent(evt *nostr.Event) {
	resp, ok := bunker.codec.decodeResponse(context.Background(), evt)
	if !ok {
		return
	}

	if bunker.gate.challenge(resp) {
		// keep waiting: the real result arrives after approval
		return
	}

	if !bunker.calls.resolve(resp) {
		nostr.DebugLogger.Printf("[nip46] response %s matches no live request", resp.ID)
	}
}
