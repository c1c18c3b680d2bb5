package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

type inboundFrame struct {
	session *Session
	data    []byte
}

// Status is the /status document
type Status struct {
	ClientsTotal int             `json:"clients_total"` // tracked sockets, both kinds
	Game         GameStatus      `json:"game"`
	Chat         ChatStatus      `json:"chat"`
	Metrics      MetricsSnapshot `json:"metrics"`
}

// GameStatus summarizes the engine
type GameStatus struct {
	Running bool   `json:"running"`
	Tick    uint64 `json:"tick"`
	Players int    `json:"players"`
	Food    int    `json:"food"`
	Clients int    `json:"clients"`
}

// ChatStatus summarizes the relay
type ChatStatus struct {
	Clients int      `json:"clients"`
	Users   []string `json:"users"`
	Strokes int      `json:"strokes"`
}

// Hub owns every session, the chat relay and the game engine. All of that
// state is touched only by the Run goroutine; other goroutines talk to it
// through channels.
type Hub struct {
	cfg     Config
	log     *zap.Logger
	metrics *Metrics
	store   MessageStore
	relay   *Relay
	engine  *Engine

	sessions map[*Session]bool

	register   chan *Session
	unregister chan *Session
	inbound    chan inboundFrame
	pongs      chan *Session
	persisted  chan persistResult
	statusReq  chan chan Status
	done       chan struct{}

	// ctx is the Run context, used for persistence calls
	ctx        context.Context
	gameTicker *time.Ticker

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
}

// NewHub creates a hub. Call Run to start it.
func NewHub(cfg Config, store MessageStore, log *zap.Logger, metrics *Metrics) *Hub {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Hub{
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		store:      store,
		relay:      NewRelay(cfg.Chat, log.Named("chat")),
		engine:     NewEngine(cfg.Game, rng, log.Named("game")),
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session, 64),
		inbound:    make(chan inboundFrame, 256),
		pongs:      make(chan *Session, 64),
		persisted:  make(chan persistResult, 64),
		statusReq:  make(chan chan Status),
		done:       make(chan struct{}),
		ctx:        context.Background(),
		ipConns:    make(map[string]int),
	}
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= h.cfg.Limits.MaxTotalConns {
		return false
	}
	if h.ipConns[ip] >= h.cfg.Limits.MaxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}

// SetEventSink forwards game joins and deaths to sink. Call before Run.
func (h *Hub) SetEventSink(sink EventSink) {
	h.engine.SetEventSink(sink)
}

// Register hands a new session to the loop. The channel is unbuffered, so
// once Register returns the session is known before any of its frames.
func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.done:
		s.peer.Close()
	}
}

// Unregister tells the loop a socket is gone
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Inbound queues a frame read from s
func (h *Hub) Inbound(s *Session, data []byte) {
	select {
	case h.inbound <- inboundFrame{session: s, data: data}:
	case <-h.done:
	}
}

// Pong records a heartbeat answer from s
func (h *Hub) Pong(s *Session) {
	select {
	case h.pongs <- s:
	case <-h.done:
	}
}

// Status asks the loop for a consistent snapshot
func (h *Hub) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case h.statusReq <- reply:
	case <-h.done:
		return Status{}, context.Canceled
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Run is the event loop. It returns when ctx is cancelled, after closing
// every socket.
func (h *Hub) Run(ctx context.Context) {
	h.ctx = ctx
	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer func() {
		heartbeat.Stop()
		h.stopGameTicker()
		for s := range h.sessions {
			s.peer.Close()
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("hub stopping", zap.Int("sessions", len(h.sessions)))
			return

		case s := <-h.register:
			h.add(s)

		case s := <-h.unregister:
			h.remove(s)

		case f := <-h.inbound:
			if h.sessions[f.session] {
				h.dispatch(f.session, f.data)
			}

		case s := <-h.pongs:
			if h.sessions[s] {
				s.alive = true
			}

		case res := <-h.persisted:
			h.deliver(res)

		case reply := <-h.statusReq:
			reply <- h.snapshot()

		case <-heartbeat.C:
			h.sweep()

		case now := <-h.gameTick():
			start := time.Now()
			h.engine.Tick(now)
			h.metrics.AddTick(time.Since(start))
		}
		h.syncGameTicker()
	}
}

func (h *Hub) add(s *Session) {
	h.sessions[s] = true
	s.alive = true
	if s.Kind == KindChat {
		h.relay.Open(s.peer)
	}
	h.log.Debug("session registered",
		zap.String("session", s.ID), zap.Stringer("kind", s.Kind), zap.String("addr", s.Addr))
}

// remove drops s and runs the disconnect cleanup for its kind
func (h *Hub) remove(s *Session) {
	if !h.sessions[s] {
		return
	}
	delete(h.sessions, s)
	switch s.Kind {
	case KindChat:
		h.relay.Close(s.peer)
	case KindGame:
		if s.state == stateGameBound {
			h.engine.Leave(s.playerID)
		}
	}
	s.unbind()
	h.log.Debug("session removed", zap.String("session", s.ID), zap.Stringer("kind", s.Kind))
}

// sweep evicts sessions that missed the previous heartbeat and pings the
// rest
func (h *Hub) sweep() {
	for s := range h.sessions {
		if !s.alive {
			h.metrics.IncEvictions()
			h.log.Info("evicting unresponsive session",
				zap.String("session", s.ID), zap.Stringer("kind", s.Kind), zap.String("addr", s.Addr))
			h.remove(s)
			s.peer.Close()
			continue
		}
		s.alive = false
		s.peer.Ping()
	}
}

// dispatch is the single entry point for inbound frames
func (h *Hub) dispatch(s *Session, data []byte) {
	var env InEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.peer.SendJSON(errorMsg("Invalid JSON"))
		return
	}
	if s.Kind == KindGame {
		h.dispatchGame(s, env.Type, data)
		return
	}
	h.dispatchChat(s, env.Type, data)
}

// Payload decode errors are ignored in both dispatchers: a field with the
// wrong JSON type keeps its zero value, which validation then rejects or
// replaces with a default.

func (h *Hub) dispatchChat(s *Session, typ string, data []byte) {
	bound := s.state == stateChatBound
	switch typ {
	case MsgJoin:
		var msg JoinMsg
		_ = json.Unmarshal(data, &msg)
		if name, ok := h.relay.Join(s.peer, msg); ok {
			s.bindChat(name)
		}
	case MsgMessage:
		if !bound {
			s.peer.SendJSON(errorMsg("Must join first"))
			return
		}
		var msg ChatMsg
		_ = json.Unmarshal(data, &msg)
		if sender, content, ok := h.relay.PrepareMessage(s.peer, msg); ok {
			h.persistAsync(s, sender, content)
		}
	case MsgDrawStroke:
		if !bound {
			return
		}
		var msg DrawStrokeMsg
		_ = json.Unmarshal(data, &msg)
		h.relay.Stroke(s.peer, msg.Stroke)
	case MsgDrawProgress:
		if !bound {
			return
		}
		var msg StrokeProgressMsg
		_ = json.Unmarshal(data, &msg)
		h.relay.Progress(s.peer, msg)
	case MsgDrawClear:
		if bound {
			h.relay.Clear(s.peer)
		}
	default:
		s.peer.SendJSON(errorMsg("Unknown message type: " + typ))
	}
}

// Direction, respawn and leave only apply once the session owns a player.
func (h *Hub) dispatchGame(s *Session, typ string, data []byte) {
	bound := s.state == stateGameBound
	switch typ {
	case MsgSnakeJoin:
		var msg SnakeJoinMsg
		_ = json.Unmarshal(data, &msg)
		s.bindGame(h.engine.Join(s.peer, s.Binary, s.playerID, msg))
	case MsgSnakeDirection:
		if !bound {
			return
		}
		var msg SnakeDirectionMsg
		_ = json.Unmarshal(data, &msg)
		h.engine.SetDirection(s.playerID, msg.Direction)
	case MsgSnakeRespawn:
		if bound {
			h.engine.Respawn(s.playerID)
		}
	case MsgSnakePing:
		var msg SnakePingMsg
		_ = json.Unmarshal(data, &msg)
		s.peer.SendJSON(SnakePingMsg{Type: MsgSnakePong, T: msg.T})
	case MsgSnakeLeave:
		if bound {
			h.engine.Leave(s.playerID)
			s.unbind()
		}
	default:
		s.peer.SendJSON(errorMsg("Unknown game message: " + typ))
	}
}

// persistAsync runs the store call off the loop and posts the result back
func (h *Hub) persistAsync(s *Session, sender, content string) {
	ctx := h.ctx
	go func() {
		res := persist(ctx, h.store, h.cfg.PersistTimeout, s, sender, content)
		select {
		case h.persisted <- res:
		case <-h.done:
		}
	}()
}

func (h *Hub) deliver(res persistResult) {
	if res.err != nil {
		h.metrics.IncPersistFailed()
		h.log.Warn("failed to save message",
			zap.String("session", res.session.ID), zap.Error(res.err))
	} else {
		h.metrics.IncPersisted()
	}
	h.relay.Deliver(res.session.peer, res.record, res.err)
}

func (h *Hub) snapshot() Status {
	return Status{
		Game: GameStatus{
			Running: h.engine.Running(),
			Tick:    h.engine.TickCount(),
			Players: h.engine.PlayerCount(),
			Food:    h.engine.FoodCount(),
			Clients: h.engine.ClientCount(),
		},
		Chat: ChatStatus{
			Clients: h.relay.ClientCount(),
			Users:   h.relay.Users(),
			Strokes: h.relay.History().Len(),
		},
		Metrics:      h.metrics.Snapshot(),
		ClientsTotal: h.TotalConns(),
	}
}

// gameTick returns the tick channel, or nil while the engine is idle so the
// select case never fires
func (h *Hub) gameTick() <-chan time.Time {
	if h.gameTicker == nil {
		return nil
	}
	return h.gameTicker.C
}

// syncGameTicker starts or stops the tick source to follow the engine
func (h *Hub) syncGameTicker() {
	running := h.engine.Running()
	switch {
	case running && h.gameTicker == nil:
		h.gameTicker = time.NewTicker(h.cfg.Game.TickDuration())
	case !running && h.gameTicker != nil:
		h.stopGameTicker()
	}
}

func (h *Hub) stopGameTicker() {
	if h.gameTicker != nil {
		h.gameTicker.Stop()
		h.gameTicker = nil
	}
}
