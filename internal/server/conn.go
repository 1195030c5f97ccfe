package server

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"statesync/internal/sim"
	"statesync/pkg/protocol"
)

const (
	writeWait      = 5 * time.Second
	readWait       = 60 * time.Second
	maxMessageSize = 4096
)

// client is one live connection. The run goroutine owns its registration,
// the read pump validates and forwards inputs, and the write pump is the
// only writer on the socket.
type client struct {
	id   string
	ws   *websocket.Conn
	srv  *Server
	send chan []byte
	done chan struct{}

	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos, written by the read pump

	closeOnce sync.Once
}

func newClient(id string, ws *websocket.Conn, srv *Server) *client {
	c := &client{
		id:      id,
		ws:      ws,
		srv:     srv,
		send:    make(chan []byte, srv.cfg.SendQueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(srv.cfg.InputRateLimit), srv.cfg.InputBurst),
	}
	c.touch(time.Now())
	return c
}

func (c *client) touch(t time.Time) {
	c.lastSeen.Store(t.UnixNano())
}

func (c *client) seenAt() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// enqueue hands a frame to the write pump without blocking. A full queue
// drops the frame: a slow client degrades only itself, never the tick.
func (c *client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *client) writePump() {
	defer c.ws.Close()
	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.ws.Close()
		c.srv.unregister <- c
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPingHandler(func(appData string) error {
		c.ws.SetReadDeadline(time.Now().Add(readWait))
		c.touch(time.Now())
		return c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(readWait))
		c.touch(time.Now())
		c.handleMessage(payload)
	}
}

// handleMessage decodes one inbound frame. Unknown types are logged and
// ignored so the connection tolerates newer clients.
func (c *client) handleMessage(payload []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.srv.metrics.InputsRejected.Add(1)
		c.srv.log.Debugw("malformed frame", "id", c.id, "err", err)
		return
	}

	switch msg.Type {
	case protocol.TypeInput:
		c.handleInput(msg.Data)
	case protocol.TypePing:
		c.handlePing(msg.Data)
	default:
		c.srv.log.Debugw("unexpected message type", "id", c.id, "type", msg.Type)
	}
}

func (c *client) handleInput(data []byte) {
	if !c.limiter.Allow() {
		c.srv.metrics.InputsRateLimited.Add(1)
		return
	}

	var in protocol.Input
	if err := json.Unmarshal(data, &in); err != nil {
		c.srv.metrics.InputsRejected.Add(1)
		c.srv.log.Debugw("malformed input", "id", c.id, "err", err)
		return
	}
	if err := protocol.ValidateInput(in); err != nil {
		// Dropped, never fatal: a buggy or hostile client loses the command,
		// the connection stays up.
		c.srv.metrics.InputsRejected.Add(1)
		c.srv.log.Debugw("rejected input", "id", c.id, "seq", in.Sequence, "err", err)
		return
	}

	cmd := command{
		clientID: c.id,
		cmd: sim.Command{
			Sequence: in.Sequence,
			Movement: *in.Movement,
			DT:       in.DT,
		},
	}
	select {
	case c.srv.commands <- cmd:
	default:
		c.srv.metrics.InputsDropped.Add(1)
	}
}

// handlePing echoes the client timestamp straight back so the client can
// measure round-trip time without waiting for a tick.
func (c *client) handlePing(data []byte) {
	var p protocol.Ping
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	pong, err := protocol.Encode(protocol.TypePong, protocol.Pong{SentAt: p.SentAt})
	if err != nil {
		return
	}
	if !c.enqueue(pong) {
		c.srv.metrics.SendsDropped.Add(1)
	}
}
