package nip46

import (
	"context"
	"sync"
	"time"

	"github.com/mirostr/nostr"
)

// Transport is one socket to one relay address. A Transport is single-use:
// once it disconnects it is discarded and the dialer is asked for a new one.
type Transport interface {
	// Connect opens the socket. After it returns successfully, inbound
	// messages flow to the message handler until the socket breaks, at which
	// point the disconnect handler fires exactly once.
	Connect(ctx context.Context) error

	// Send transmits one relay message.
	Send(ctx context.Context, msg []byte) error

	// Close tears the socket down without firing the disconnect handler.
	Close() error
}

// TransportDialer creates a Transport for a relay address with the inbound
// message and disconnect handlers attached.
type TransportDialer func(url string, onMessage func(msg []byte), onDisconnect func()) Transport

// DialWebsocket is the default TransportDialer, speaking the standard relay
// websocket protocol.
func DialWebsocket(url string, onMessage func(msg []byte), onDisconnect func()) Transport {
	return &websocketTransport{url: url, onMessage: onMessage, onDisconnect: onDisconnect}
}

type websocketTransport struct {
	url          string
	onMessage    func(msg []byte)
	onDisconnect func()

	mu     sync.Mutex
	conn   *nostr.Connection
	closed bool
}

func (t *websocketTransport) Connect(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 7*time.Second)
		defer cancel()
	}

	conn, err := nostr.NewConnection(ctx, t.url, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *websocketTransport) readLoop(conn *nostr.Connection) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()

			t.mu.Lock()
			closed := t.closed
			t.closed = true
			t.mu.Unlock()

			if !closed && t.onDisconnect != nil {
				t.onDisconnect()
			}
			return
		}
		if t.onMessage != nil {
			t.onMessage(msg)
		}
	}
}

func (t *websocketTransport) Send(ctx context.Context, msg []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	return conn.WriteMessage(msg)
}

func (t *websocketTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
