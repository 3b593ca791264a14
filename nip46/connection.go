package nip46

import (
	"context"
	"fmt"
	"sync"

	"github.com/mirostr/nostr"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	}
	return "unknown"
}

// relayConn owns one transport connection to one relay address: its status,
// the queue of messages to (re)send when it next connects, and the in-flight
// reconnect guard. The queue and status are only ever mutated here.
type relayConn struct {
	url  string
	dial TransportDialer

	// onMessage receives every raw inbound relay message.
	onMessage func(url string, msg []byte)
	// onDisconnect fires exactly once per transition into the disconnected
	// state; it is the sole passive reconnection trigger.
	onDisconnect func(rc *relayConn)

	mu           sync.Mutex
	status       Status
	transport    Transport
	queue        [][]byte
	reconnecting bool
	closed       bool
}

func newRelayConn(url string, dial TransportDialer, onMessage func(string, []byte), onDisconnect func(*relayConn)) *relayConn {
	return &relayConn{
		url:          url,
		dial:         dial,
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
	}
}

func (rc *relayConn) Status() Status {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.status
}

// enqueue adds a message to be sent on the next successful connect.
func (rc *relayConn) enqueue(msg []byte) {
	rc.mu.Lock()
	rc.queue = append(rc.queue, msg)
	rc.mu.Unlock()
}

func (rc *relayConn) queueEmpty() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.queue) == 0
}

// connect opens the transport and flushes the queue. On failure the status
// is left disconnected and the error is returned to the caller.
func (rc *relayConn) connect(ctx context.Context) error {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return fmt.Errorf("connection to %s is closed", rc.url)
	}
	if rc.status == StatusConnected {
		rc.mu.Unlock()
		return nil
	}
	rc.status = StatusConnecting
	rc.mu.Unlock()

	transport := rc.dial(rc.url, rc.handleMessage, rc.handleDisconnect)
	if err := transport.Connect(ctx); err != nil {
		rc.mu.Lock()
		rc.status = StatusDisconnected
		rc.mu.Unlock()
		return fmt.Errorf("error connecting to %s: %w", rc.url, err)
	}

	rc.mu.Lock()
	rc.transport = transport
	rc.status = StatusConnected
	queued := rc.queue
	rc.queue = nil
	rc.mu.Unlock()

	for _, msg := range queued {
		if err := transport.Send(ctx, msg); err != nil {
			nostr.InfoLogger.Printf("[nip46] failed to flush queued message to %s: %v", rc.url, err)
		}
	}

	return nil
}

// send transmits immediately if connected. When disconnected, the message is
// dropped unless force is set, in which case a connect attempt is made first;
// forced sends are for latency-sensitive request envelopes.
func (rc *relayConn) send(ctx context.Context, msg []byte, force bool) error {
	rc.mu.Lock()
	transport, connected := rc.transport, rc.status == StatusConnected
	rc.mu.Unlock()

	if connected {
		return transport.Send(ctx, msg)
	}

	if !force {
		nostr.DebugLogger.Printf("[nip46] dropping message to disconnected relay %s", rc.url)
		return nil
	}

	if err := rc.connect(ctx); err != nil {
		return err
	}

	rc.mu.Lock()
	transport = rc.transport
	rc.mu.Unlock()
	if transport == nil {
		return fmt.Errorf("connection to %s lost before send", rc.url)
	}
	return transport.Send(ctx, msg)
}

// tryBeginReconnect is the per-connection in-flight guard: at most one
// reconnection attempt runs at a time, no matter how many disconnect
// callbacks or send-path heals fire.
func (rc *relayConn) tryBeginReconnect() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.reconnecting || rc.closed {
		return false
	}
	rc.reconnecting = true
	return true
}

func (rc *relayConn) endReconnect() {
	rc.mu.Lock()
	rc.reconnecting = false
	rc.mu.Unlock()
}

func (rc *relayConn) close() {
	rc.mu.Lock()
	rc.closed = true
	transport := rc.transport
	rc.transport = nil
	rc.status = StatusDisconnected
	rc.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
}

func (rc *relayConn) handleMessage(msg []byte) {
	rc.onMessage(rc.url, msg)
}

func (rc *relayConn) handleDisconnect() {
	rc.mu.Lock()
	if rc.closed || rc.status == StatusDisconnected {
		rc.mu.Unlock()
		return
	}
	rc.status = StatusDisconnected
	rc.transport = nil
	rc.mu.Unlock()

	rc.onDisconnect(rc)
}
