package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes.
const (
	CloseNormal   = websocket.CloseNormalClosure
	CloseAbnormal = websocket.CloseAbnormalClosure
)

// MessageType is the kind of a WebSocket data frame.
type MessageType int

const (
	TextMessage   MessageType = websocket.TextMessage
	BinaryMessage MessageType = websocket.BinaryMessage
)

// Conn is one open socket. ReadMessage is called from a single goroutine;
// WriteMessage and Close may be called concurrently.
type Conn interface {
	ReadMessage() (MessageType, []byte, error)
	WriteMessage(t MessageType, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseCode extracts the close code from a read error. Errors that are not
// close frames count as abnormal closure.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// Dial opens url.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &wsConn{conn: conn, writeTimeout: writeTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) ReadMessage() (MessageType, []byte, error) {
	t, data, err := c.conn.ReadMessage()
	return MessageType(t), data, err
}

func (c *wsConn) WriteMessage(t MessageType, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(int(t), data)
}

func (c *wsConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
