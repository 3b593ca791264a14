package nostr

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeControlTimeout = 10 * time.Second

// Connection is a thin wrapper around a relay websocket that serializes
// writes. Reads must happen from a single goroutine.
type Connection struct {
	socket *websocket.Conn
	mutex  sync.Mutex
}

// NewConnection dials the given relay url and returns an established
// websocket connection.
func NewConnection(ctx context.Context, url string, requestHeader http.Header) (*Connection, error) {
	socket, _, err := websocket.DefaultDialer.DialContext(ctx, url, requestHeader)
	if err != nil {
		return nil, fmt.Errorf("error opening websocket to '%s': %w", url, err)
	}

	socket.SetPingHandler(func(appData string) error {
		return socket.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeControlTimeout))
	})

	return &Connection{socket: socket}, nil
}

func (c *Connection) WriteMessage(data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *Connection) Ping() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeControlTimeout))
}

// ReadMessage blocks until the next text or binary message arrives, the
// connection breaks, or it is closed.
func (c *Connection) ReadMessage() ([]byte, error) {
	for {
		typ, message, err := c.socket.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return message, nil
		}
	}
}

func (c *Connection) Close() error {
	return c.socket.Close()
}
