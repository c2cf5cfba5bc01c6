package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"motorlink/internal/protocol"
)

const writeWait = 5 * time.Second

// Conn is the dashboard side of a broker connection
type Conn interface {
	// Send writes one envelope to the broker
	Send(msg interface{}) error
	// Next blocks until the broker sends the next envelope
	Next() (*protocol.Envelope, error)
	Close() error
}

// Client is a dashboard connection to a running broker
type Client struct {
	conn  *websocket.Conn
	mutex sync.Mutex
}

// Dial connects to the dashboard endpoint at url
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	return &Client{conn: conn}, nil
}

// Send encodes msg and writes it as a text frame
func (c *Client) Send(msg interface{}) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Next reads the next frame. Pings from the broker are answered while reading.
func (c *Client) Next() (*protocol.Envelope, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

// Close sends a close frame and releases the connection
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.conn.Close()
}
