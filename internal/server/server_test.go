package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"statesync/internal/config"
	"statesync/internal/logging"
	"statesync/internal/model"
	"statesync/internal/sim"
	"statesync/pkg/protocol"
)

func newTestServer(mutate func(*config.Server)) *Server {
	cfg := config.Default().Server
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, logging.Discard())
}

func decodeFrame(t *testing.T, raw []byte) protocol.Message {
	t.Helper()
	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return msg
}

// drainSend empties a client's send queue and returns the decoded frames.
func drainSend(t *testing.T, c *client) []protocol.Message {
	t.Helper()
	var frames []protocol.Message
	for {
		select {
		case raw := <-c.send:
			frames = append(frames, decodeFrame(t, raw))
		default:
			return frames
		}
	}
}

func TestTickAppliesQueuedCommands(t *testing.T) {
	s := newTestServer(nil)
	c := newClient("p1", nil, s)
	s.addClient(c)

	s.commands <- command{clientID: "p1", cmd: sim.Command{Sequence: 1, Movement: model.Vec2{X: 1}, DT: 0.05}}
	s.commands <- command{clientID: "p1", cmd: sim.Command{Sequence: 2, Movement: model.Vec2{X: 1}, DT: 0.05}}
	s.tick()

	e, ok := s.world.Get("p1")
	if !ok {
		t.Fatal("entity missing after tick")
	}
	if e.Position.X != 0.5 {
		t.Errorf("expected X = 0.5, got %f", e.Position.X)
	}
	if e.LastProcessedInput != 2 {
		t.Errorf("expected last processed input 2, got %d", e.LastProcessedInput)
	}
	if got := s.metrics.InputsApplied.Load(); got != 2 {
		t.Errorf("inputs applied = %d", got)
	}

	frames := drainSend(t, c)
	if len(frames) == 0 || frames[len(frames)-1].Type != protocol.TypeState {
		t.Fatalf("expected trailing state frame, got %+v", frames)
	}
}

func TestStaleCommandCountedNotApplied(t *testing.T) {
	s := newTestServer(nil)
	s.addClient(newClient("p1", nil, s))

	s.commands <- command{clientID: "p1", cmd: sim.Command{Sequence: 5, Movement: model.Vec2{X: 1}, DT: 0.05}}
	s.commands <- command{clientID: "p1", cmd: sim.Command{Sequence: 5, Movement: model.Vec2{X: 1}, DT: 0.05}}
	s.tick()

	e, _ := s.world.Get("p1")
	if e.Position.X != 0.25 {
		t.Errorf("duplicate resend moved the entity: X = %f", e.Position.X)
	}
	if got := s.metrics.InputsStale.Load(); got != 1 {
		t.Errorf("inputs stale = %d", got)
	}
}

func TestRejectedInputDoesNotAdvanceSequence(t *testing.T) {
	s := newTestServer(nil)
	c := newClient("p1", nil, s)
	s.addClient(c)

	// Axis magnitude above 1 must be dropped before it reaches the world.
	c.handleMessage([]byte(`{"type":"input","data":{"sequence":1,"movement":{"x":2,"y":0},"dt":0.05}}`))
	s.tick()

	e, _ := s.world.Get("p1")
	if e.Position.X != 0 || e.LastProcessedInput != 0 {
		t.Errorf("rejected input affected entity: %+v", e)
	}
	if got := s.metrics.InputsRejected.Load(); got != 1 {
		t.Errorf("inputs rejected = %d", got)
	}
}

func TestMissingMovementRejected(t *testing.T) {
	s := newTestServer(nil)
	c := newClient("p1", nil, s)
	s.addClient(c)

	c.handleMessage([]byte(`{"type":"input","data":{"sequence":1,"dt":0.05}}`))

	if len(s.commands) != 0 {
		t.Error("command without movement was queued")
	}
	if got := s.metrics.InputsRejected.Load(); got != 1 {
		t.Errorf("inputs rejected = %d", got)
	}
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	s := newTestServer(nil)
	c := newClient("p1", nil, s)
	s.addClient(c)

	c.handleMessage([]byte(`{"type":"teleport","data":{"x":0,"y":0}}`))

	if len(s.commands) != 0 {
		t.Error("unknown message type queued a command")
	}
}

func TestInputRateLimited(t *testing.T) {
	s := newTestServer(func(cfg *config.Server) {
		cfg.InputRateLimit = 1
		cfg.InputBurst = 1
	})
	c := newClient("p1", nil, s)
	s.addClient(c)

	frame := []byte(`{"type":"input","data":{"sequence":1,"movement":{"x":1,"y":0},"dt":0.05}}`)
	c.handleMessage(frame)
	c.handleMessage(frame)

	if len(s.commands) != 1 {
		t.Errorf("expected 1 queued command, got %d", len(s.commands))
	}
	if got := s.metrics.InputsRateLimited.Load(); got != 1 {
		t.Errorf("inputs rate limited = %d", got)
	}
}

func TestRemoveClientNotifiesOthers(t *testing.T) {
	s := newTestServer(nil)
	c1 := newClient("p1", nil, s)
	c2 := newClient("p2", nil, s)
	s.addClient(c1)
	s.addClient(c2)
	drainSend(t, c2)

	s.removeClient(c1)

	if _, ok := s.world.Get("p1"); ok {
		t.Error("entity survived disconnect")
	}

	frames := drainSend(t, c2)
	if len(frames) != 1 || frames[0].Type != protocol.TypePlayerLeft {
		t.Fatalf("expected one playerLeft frame, got %+v", frames)
	}
	var left protocol.PlayerLeft
	if err := json.Unmarshal(frames[0].Data, &left); err != nil {
		t.Fatal(err)
	}
	if left.ClientID != "p1" {
		t.Errorf("playerLeft for %q", left.ClientID)
	}

	snap := s.world.Snapshot(time.Now())
	for _, e := range snap.Entities {
		if e.ID == "p1" {
			t.Error("departed entity still present in snapshot")
		}
	}
}

func TestRemoveClientIdempotent(t *testing.T) {
	s := newTestServer(nil)
	c := newClient("p1", nil, s)
	s.addClient(c)

	s.removeClient(c)
	s.removeClient(c)

	if got := s.metrics.Clients.Load(); got != 0 {
		t.Errorf("clients gauge = %d", got)
	}
}

func TestBroadcastSkipsFullQueues(t *testing.T) {
	s := newTestServer(func(cfg *config.Server) {
		cfg.SendQueueSize = 1
	})
	c1 := newClient("p1", nil, s)
	c2 := newClient("p2", nil, s)
	s.addClient(c1)
	s.addClient(c2)
	drainSend(t, c2)
	// c1's queue is left full with its hello frame.

	s.broadcastState(time.Now())

	if got := s.metrics.SendsDropped.Load(); got != 1 {
		t.Errorf("sends dropped = %d", got)
	}
	if frames := drainSend(t, c2); len(frames) != 1 || frames[0].Type != protocol.TypeState {
		t.Errorf("healthy client did not receive the snapshot: %+v", frames)
	}
}

func TestSweepIdleDisconnects(t *testing.T) {
	s := newTestServer(func(cfg *config.Server) {
		cfg.ClientTimeoutMS = 100
	})
	c := newClient("p1", nil, s)
	s.addClient(c)

	c.touch(time.Now().Add(-time.Second))
	s.sweepIdle(time.Now())

	if _, ok := s.world.Get("p1"); ok {
		t.Error("idle client's entity still in the world")
	}
	if _, ok := s.clients["p1"]; ok {
		t.Error("idle client still registered")
	}
}

// TestWebSocketRoundTrip exercises the full path: dial, hello, input,
// authoritative movement in a later snapshot, ping/pong echo.
func TestWebSocketRoundTrip(t *testing.T) {
	s := newTestServer(func(cfg *config.Server) {
		cfg.TickRate = 100
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.run(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	readFrame := func() protocol.Message {
		t.Helper()
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return decodeFrame(t, raw)
	}

	hello := readFrame()
	if hello.Type != protocol.TypeConnected {
		t.Fatalf("expected connected, got %s", hello.Type)
	}
	var connected protocol.Connected
	if err := json.Unmarshal(hello.Data, &connected); err != nil {
		t.Fatal(err)
	}
	if connected.ClientID == "" {
		t.Fatal("empty client id in hello")
	}

	input, err := protocol.Encode(protocol.TypeInput, protocol.Input{
		Sequence: 1,
		Movement: &model.Vec2{X: 1},
		DT:       0.05,
		SentAt:   time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, input); err != nil {
		t.Fatal(err)
	}

	ping, err := protocol.Encode(protocol.TypePing, protocol.Ping{SentAt: 12345})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatal(err)
	}

	var sawPong, sawMove bool
	for !sawPong || !sawMove {
		msg := readFrame()
		switch msg.Type {
		case protocol.TypePong:
			var pong protocol.Pong
			if err := json.Unmarshal(msg.Data, &pong); err != nil {
				t.Fatal(err)
			}
			if pong.SentAt != 12345 {
				t.Errorf("pong echoed %d", pong.SentAt)
			}
			sawPong = true
		case protocol.TypeState:
			var state protocol.State
			if err := json.Unmarshal(msg.Data, &state); err != nil {
				t.Fatal(err)
			}
			for _, e := range state.Entities {
				if e.ID == connected.ClientID && e.LastProcessedInput == 1 {
					if e.Position.X != 0.25 {
						t.Errorf("authoritative X = %f, want 0.25", e.Position.X)
					}
					sawMove = true
				}
			}
		}
	}
}
