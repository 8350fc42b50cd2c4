package gateway

import (
	"encoding/json"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/cmd/server/internal/hub"
	"github.com/Kenny427/vault-sub003/cmd/server/internal/protocol"
)

const (
	maxMessageSize = 512 * 1024

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second // must be shorter than pongWait
)

// ClientAdapter bridges one raw websocket connection to the hub: a read loop
// decoding watch commands and a write loop draining the outbound queue.
type ClientAdapter struct {
	conn   net.Conn
	hub    *hub.Hub
	out    chan []byte
	logger *zap.Logger

	// The hub's snapshot delivery runs async and can race the disconnect
	// path, so sends and Close coordinate through closed.
	mu     sync.Mutex
	closed bool
}

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger) *ClientAdapter {
	return &ClientAdapter{
		conn:   conn,
		hub:    h,
		out:    make(chan []byte, 256),
		logger: logger,
	}
}

func (c *ClientAdapter) Start() {
	go c.writeLoop()
	go c.readLoop()
}

func (c *ClientAdapter) ID() string { return c.conn.RemoteAddr().String() }

// Close shuts the outbound queue; the write loop sends the close frame and
// tears down the connection. Idempotent, and any send racing it becomes a
// no-op instead of hitting a closed channel.
func (c *ClientAdapter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(b)
}

func (c *ClientAdapter) SendBytes(b []byte) { c.enqueue(b) }

// enqueue drops the message when the client is gone or the queue is full; a
// slow consumer loses price ticks rather than stalling the hub.
func (c *ClientAdapter) enqueue(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- b:
	default:
	}
}

// readFrame reads one complete frame off the wire, unmasking client payloads.
// Fragmented and oversized frames are rejected outright.
func (c *ClientAdapter) readFrame() (ws.Header, []byte, error) {
	header, err := ws.ReadHeader(c.conn)
	if err != nil {
		return header, nil, err
	}
	if !header.Fin {
		c.logger.Warn("Rejecting fragmented frame")
		return header, nil, io.ErrUnexpectedEOF
	}
	if header.Length > maxMessageSize {
		c.logger.Warn("Rejecting oversized frame", zap.Int64("size", header.Length))
		return header, nil, io.ErrUnexpectedEOF
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return header, nil, err
	}
	if header.Masked {
		ws.Cipher(payload, header.Mask, 0)
	}
	return header, payload, nil
}

func (c *ClientAdapter) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		header, payload, err := c.readFrame()
		if err != nil {
			return
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		case ws.OpText:
			c.handleCommand(payload)
		}
	}
}

func (c *ClientAdapter) handleCommand(payload []byte) {
	var req protocol.WSRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendJSON(protocol.WSResponse{Type: "error", Message: "Invalid JSON"})
		return
	}

	for i, id := range req.Payload.Items {
		req.Payload.Items[i] = strings.TrimSpace(id)
	}

	c.hub.HandleCommand(c, req)
}

func (c *ClientAdapter) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
