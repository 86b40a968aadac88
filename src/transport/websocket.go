package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/socketclient/config"
	"github.com/orchestra-mcp/socketclient/src/types"
)

// Dialer opens WebSocket connections. It implements types.Dialer.
type Dialer struct {
	dialer       websocket.Dialer
	writeTimeout time.Duration
}

// NewDialer builds a Dialer from the handshake and write timeouts in cfg.
func NewDialer(cfg config.ClientConfig) *Dialer {
	cfg = cfg.WithDefaults()
	return &Dialer{
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout(),
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		writeTimeout: cfg.WriteTimeout(),
	}
}

// Dial performs the WebSocket handshake against url.
func (d *Dialer) Dial(ctx context.Context, url string) (types.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &Conn{conn: conn, writeTimeout: d.writeTimeout}, nil
}

// Conn adapts a fasthttp/websocket connection to types.Conn. Envelopes
// travel as text frames; binary frames are skipped.
type Conn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage blocks for the next text frame. A normal close from the peer
// is reported as io.EOF.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close sends a close frame, best effort, and closes the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
