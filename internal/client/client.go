package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"statesync/internal/config"
	"statesync/internal/model"
	"statesync/pkg/protocol"
)

const writeWait = 5 * time.Second

// intentBounds clamps raw UI movement before it becomes a command.
var intentBounds = model.Bounds{
	Min: model.Vec2{X: -1, Y: -1},
	Max: model.Vec2{X: 1, Y: 1},
}

// Client connects to the server and runs the three client-side algorithms:
// prediction for the local entity, reconciliation against authoritative
// snapshots, and interpolation for everyone else.
type Client struct {
	cfg  config.Client
	log  *zap.SugaredLogger
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	mu        sync.RWMutex
	id        string
	predictor *Predictor
	interp    *Interpolator
	movement  model.Vec2
	wasMoving bool
	rtt       time.Duration
}

func New(cfg config.Client, log *zap.SugaredLogger) *Client {
	return &Client{
		cfg:    cfg,
		log:    log,
		send:   make(chan []byte, 128),
		done:   make(chan struct{}),
		interp: NewInterpolator(cfg.InterpolationDelay(), cfg.History()),
	}
}

// Connect dials the server and starts the network, input and ping loops.
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.cfg.ServerAddr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	c.conn = conn

	go c.readLoop()
	go c.writeLoop()
	go c.inputLoop()
	go c.pingLoop()
	return nil
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Done is closed when the connection is torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// SetMovement sets the current movement intent; the input loop samples it
// once per local frame. Axes are clamped to [-1, 1].
func (c *Client) SetMovement(v model.Vec2) {
	c.mu.Lock()
	c.movement = intentBounds.Clamp(v)
	c.mu.Unlock()
}

// View returns the render state: the predicted local entity, interpolated
// remote entities, the measured round-trip time, and the pending input
// count. ready is false until the server's hello has arrived.
func (c *Client) View(now time.Time) (local model.Entity, others map[string]protocol.EntityState, rtt time.Duration, pending int, ready bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.predictor == nil {
		return model.Entity{}, nil, 0, 0, false
	}
	return c.predictor.Entity(), c.interp.At(now, c.id), c.rtt, c.predictor.PendingLen(), true
}

func (c *Client) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
		c.log.Debugw("send queue full, dropping frame")
	}
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warnw("read failed", "err", err)
			}
			return
		}
		c.handleMessage(payload, time.Now())
	}
}

func (c *Client) writeLoop() {
	// Transport-level pings keep the server's read deadline fresh while the
	// player is idle; the app-level ping loop is for RTT only.
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) inputLoop() {
	interval := c.cfg.InputInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.stepInput(interval.Seconds())
		case <-c.done:
			return
		}
	}
}

// stepInput runs one local simulation frame. One extra command goes out
// after motion stops so the server zeroes the entity's velocity.
func (c *Client) stepInput(dt float64) {
	c.mu.Lock()
	moving := !c.movement.IsZero()
	if c.predictor == nil || (!moving && !c.wasMoving) {
		c.mu.Unlock()
		return
	}
	movement := c.movement
	c.wasMoving = moving
	cmd := c.predictor.Step(movement, dt)
	c.mu.Unlock()

	payload, err := protocol.Encode(protocol.TypeInput, protocol.Input{
		Sequence: cmd.Sequence,
		Movement: &movement,
		DT:       cmd.DT,
		SentAt:   time.Now().UnixMilli(),
	})
	if err != nil {
		c.log.Errorw("encode input", "err", err)
		return
	}
	c.enqueue(payload)
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			payload, err := protocol.Encode(protocol.TypePing, protocol.Ping{
				SentAt: time.Now().UnixMilli(),
			})
			if err != nil {
				c.log.Errorw("encode ping", "err", err)
				continue
			}
			c.enqueue(payload)
		case <-c.done:
			return
		}
	}
}

// handleMessage dispatches one inbound frame. Unknown types are logged and
// ignored so the client tolerates newer servers.
func (c *Client) handleMessage(payload []byte, now time.Time) {
	var msg protocol.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Debugw("malformed frame", "err", err)
		return
	}

	switch msg.Type {
	case protocol.TypeConnected:
		c.handleConnected(msg.Data)
	case protocol.TypeState:
		c.handleState(msg.Data, now)
	case protocol.TypePong:
		c.handlePong(msg.Data, now)
	case protocol.TypePlayerLeft:
		var left protocol.PlayerLeft
		if err := json.Unmarshal(msg.Data, &left); err == nil {
			c.log.Infow("player left", "id", left.ClientID)
		}
	default:
		c.log.Debugw("unexpected message type", "type", msg.Type)
	}
}

func (c *Client) handleConnected(data []byte) {
	var hello protocol.Connected
	if err := json.Unmarshal(data, &hello); err != nil {
		c.log.Warnw("malformed hello", "err", err)
		return
	}

	c.mu.Lock()
	c.id = hello.ClientID
	c.predictor = NewPredictor(hello.Entity, c.cfg.ReconcileThreshold)
	c.mu.Unlock()

	c.log.Infow("connected", "id", hello.ClientID)
}

func (c *Client) handleState(data []byte, now time.Time) {
	var state protocol.State
	if err := json.Unmarshal(data, &state); err != nil {
		c.log.Debugw("malformed state", "err", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.interp.Observe(state, now)

	if c.predictor == nil {
		return
	}
	for _, e := range state.Entities {
		if e.ID != c.id {
			continue
		}
		snapped := c.predictor.Reconcile(model.Entity{
			ID:                 e.ID,
			Position:           e.Position,
			Velocity:           e.Velocity,
			LastProcessedInput: e.LastProcessedInput,
		})
		if snapped {
			c.log.Debugw("reconciled", "ack", e.LastProcessedInput)
		}
		break
	}
}

func (c *Client) handlePong(data []byte, now time.Time) {
	var pong protocol.Pong
	if err := json.Unmarshal(data, &pong); err != nil {
		return
	}
	c.mu.Lock()
	c.rtt = time.Duration(now.UnixMilli()-pong.SentAt) * time.Millisecond
	c.mu.Unlock()
}
