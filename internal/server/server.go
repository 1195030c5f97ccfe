package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"statesync/internal/config"
	"statesync/internal/sim"
	"statesync/pkg/protocol"
)

// Server owns the authoritative world and every live connection. All entity
// mutation happens on the run goroutine: connection goroutines only feed the
// command queue and drain their own send queues, which keeps the world
// lock-free.
type Server struct {
	cfg   config.Server
	log   *zap.SugaredLogger
	world *sim.World

	clients    map[string]*client
	register   chan *client
	unregister chan *client
	commands   chan command

	upgrader websocket.Upgrader
	metrics  *Metrics
}

// command is one validated input waiting for the next tick.
type command struct {
	clientID string
	cmd      sim.Command
}

func New(cfg config.Server, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:        cfg,
		log:        log,
		world:      sim.NewWorld(),
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client, 64),
		commands:   make(chan command, cfg.CommandQueueSize),
		metrics:    NewMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run starts the tick loop and the HTTP server and blocks until ctx is
// cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}

	errc := make(chan error, 1)
	go func() {
		errc <- httpSrv.ListenAndServe()
	}()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		s.run(loopCtx)
	}()

	s.log.Infof("listening on %s", s.cfg.Addr)

	select {
	case err := <-errc:
		cancel()
		<-loopDone
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	err := httpSrv.Shutdown(shutdownCtx)
	cancel()
	<-loopDone
	return err
}

// Handler exposes the websocket endpoint plus the observability surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// run is the single goroutine that owns the world and the clients map.
func (s *Server) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, c := range s.clients {
				s.removeClient(c)
			}
			return
		case c := <-s.register:
			s.addClient(c)
		case c := <-s.unregister:
			s.removeClient(c)
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Server) tick() {
	start := time.Now()
	s.drainCommands()
	s.sweepIdle(start)
	s.broadcastState(start)
	s.metrics.ObserveTick(time.Since(start))
}

// drainCommands applies every input queued since the last tick, in arrival
// order. Stale sequence numbers are counted but otherwise ignored.
func (s *Server) drainCommands() {
	for {
		select {
		case in := <-s.commands:
			if s.world.Apply(in.clientID, in.cmd) {
				s.metrics.InputsApplied.Add(1)
			} else {
				s.metrics.InputsStale.Add(1)
			}
		default:
			return
		}
	}
}

// sweepIdle disconnects clients whose transport went silent without a close
// frame. The read deadline usually catches this first; the sweep is the
// fallback for half-open connections, so a dead transport never leaks its
// entity into the simulation.
func (s *Server) sweepIdle(now time.Time) {
	timeout := s.cfg.ClientTimeout()
	if timeout <= 0 {
		return
	}
	for _, c := range s.clients {
		if now.Sub(c.seenAt()) > timeout {
			s.log.Warnw("client timed out", "id", c.id)
			s.removeClient(c)
		}
	}
}

// broadcastState sends an identical snapshot to every client. Sends are
// independent: a full queue drops the frame for that client only.
func (s *Server) broadcastState(now time.Time) {
	if len(s.clients) == 0 {
		return
	}
	payload, err := protocol.Encode(protocol.TypeState, s.world.Snapshot(now))
	if err != nil {
		s.log.Errorw("encode state", "err", err)
		return
	}
	for _, c := range s.clients {
		if !c.enqueue(payload) {
			s.metrics.SendsDropped.Add(1)
		}
	}
}

func (s *Server) addClient(c *client) {
	entity := s.world.Add(c.id)
	s.clients[c.id] = c
	s.metrics.Clients.Store(int64(len(s.clients)))

	hello, err := protocol.Encode(protocol.TypeConnected, protocol.Connected{
		ClientID: c.id,
		Entity:   entity,
	})
	if err != nil {
		s.log.Errorw("encode connected", "err", err)
		return
	}
	c.enqueue(hello)
	s.log.Infow("client connected", "id", c.id, "clients", len(s.clients))
}

// removeClient tears down the connection and its entity together and tells
// the remaining clients. Safe to call twice for the same client.
func (s *Server) removeClient(c *client) {
	if _, ok := s.clients[c.id]; !ok {
		return
	}
	delete(s.clients, c.id)
	s.world.Remove(c.id)
	s.metrics.Clients.Store(int64(len(s.clients)))
	c.close()

	left, err := protocol.Encode(protocol.TypePlayerLeft, protocol.PlayerLeft{ClientID: c.id})
	if err != nil {
		s.log.Errorw("encode playerLeft", "err", err)
		return
	}
	for _, other := range s.clients {
		if !other.enqueue(left) {
			s.metrics.SendsDropped.Add(1)
		}
	}
	s.log.Infow("client disconnected", "id", c.id, "clients", len(s.clients))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "err", err)
		return
	}

	c := newClient(uuid.NewString(), ws, s)
	s.register <- c

	go c.writePump()
	go c.readPump()
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.metrics.Snapshot())
}
