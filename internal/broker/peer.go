package broker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"motorlink/internal/registry"
)

// peer is the WebSocket side of a registered device or dashboard. All data
// frames go through the buffered send channel and a single writer goroutine;
// pings and close frames use WriteControl, which may run concurrently.
type peer struct {
	conn      *websocket.Conn
	kind      registry.PeerKind
	id        string
	send      chan []byte
	writeWait time.Duration

	closeOnce sync.Once
	closed    atomic.Bool
}

func newPeer(conn *websocket.Conn, kind registry.PeerKind, id string, buffer int, writeWait time.Duration) *peer {
	return &peer{
		conn:      conn,
		kind:      kind,
		id:        id,
		send:      make(chan []byte, buffer),
		writeWait: writeWait,
	}
}

// Send queues payload without blocking. A full buffer or a closed peer
// drops the frame.
func (p *peer) Send(payload []byte) (sent bool) {
	// Terminate can close the channel between the check and the send
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	if p.closed.Load() {
		return false
	}
	select {
	case p.send <- payload:
		return true
	default:
		return false
	}
}

// Ping writes a ping control frame
func (p *peer) Ping() error {
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.writeWait))
}

// Terminate closes the connection immediately without draining the queue
func (p *peer) Terminate() {
	p.closeSend()
	_ = p.conn.Close()
}

func (p *peer) closeSend() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.send)
	})
}

// writePump drains the send channel into the connection until the channel
// is closed or a write fails
func (p *peer) writePump() {
	defer func() {
		_ = p.conn.Close()
	}()

	for message := range p.send {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeWait))
		if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			p.closeSend()
			return
		}
	}
}
