package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Conn is the engine's and relay's view of a socket
type Conn interface {
	SendJSON(msg interface{})
	SendRaw(data []byte)
	SendBinary(data []byte)
	Open() bool
}

type gameClient struct {
	conn   Conn
	binary bool // wants msgpack snapshots
}

// Engine is the authoritative snake world. It is not safe for concurrent
// use; the hub calls it from its single loop goroutine.
type Engine struct {
	cfg   GameConfig
	world World
	rng   *rand.Rand
	log   *zap.Logger

	events EventSink // optional

	players map[string]*Player
	order   []string // player ids in join order
	clients map[string]gameClient
	food    []FoodItem
	grid    *SpatialGrid

	nextFoodID uint64
	tick       uint64
	running    bool
}

// NewEngine creates an idle engine
func NewEngine(cfg GameConfig, rng *rand.Rand, log *zap.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		world:   World{Size: cfg.MapSize, Grid: cfg.Grid},
		rng:     rng,
		log:     log,
		players: make(map[string]*Player),
		clients: make(map[string]gameClient),
		grid:    NewSpatialGrid(),
	}
}

// Join spawns a snake for conn and returns its player id. prevID is the
// id this socket joined with before, if any; that player is dropped first.
func (e *Engine) Join(conn Conn, binary bool, prevID string, msg SnakeJoinMsg) string {
	if prevID != "" {
		delete(e.clients, prevID)
		e.removePlayer(prevID)
	}

	name, color, cosmetics := SanitizeJoin(msg, e.cfg.MaxPlayerNameLen)
	id := e.newPlayerID()
	e.clients[id] = gameClient{conn: conn, binary: binary}
	e.players[id] = NewPlayer(id, name, color, cosmetics, e.spawnPoint(), e.cfg.InitialLength, e.cfg.Grid)
	e.order = append(e.order, id)

	conn.SendJSON(SnakeJoinedMsg{
		Type:     MsgSnakeJoined,
		PlayerID: id,
		MapSize:  e.cfg.MapSize,
		TickRate: e.cfg.TickRate,
	})

	e.start()
	e.broadcastPlayerCount()
	e.log.Info("snake joined", zap.String("player", id), zap.String("name", name))
	e.track(GameEvent{Type: EvtSnakeJoin, PlayerID: id, Name: name})
	return id
}

// SetDirection stages a steering input. Unknown players, dead players and
// invalid directions are ignored without a reply.
func (e *Engine) SetDirection(playerID, dir string) {
	p, ok := e.players[playerID]
	if !ok {
		return
	}
	d, ok := ParseDirection(dir)
	if !ok {
		return
	}
	p.SetNextDirection(d)
}

// Respawn revives a dead player under the same id
func (e *Engine) Respawn(playerID string) {
	p, ok := e.players[playerID]
	if !ok || p.Alive {
		return
	}
	p.Respawn(e.spawnPoint(), e.cfg.InitialLength, e.cfg.Grid)
	e.broadcast(SnakeRespawnedMsg{Type: MsgSnakeRespawned, PlayerID: p.ID})
	e.broadcastPlayerCount()
}

// Leave removes a player and its socket. The world goes idle when the last
// socket leaves.
func (e *Engine) Leave(playerID string) {
	if playerID == "" {
		return
	}
	if p, ok := e.players[playerID]; ok {
		e.log.Info("snake left", zap.String("player", playerID), zap.String("name", p.Name))
	}
	_, known := e.clients[playerID]
	delete(e.clients, playerID)
	e.removePlayer(playerID)
	if !known {
		return
	}
	e.broadcastPlayerCount()
	if len(e.clients) == 0 {
		e.stop()
	}
}

// Tick advances the world one step and broadcasts the result
func (e *Engine) Tick(now time.Time) {
	if !e.running {
		return
	}
	e.tick++

	// Sockets that closed without a leave
	for id, c := range e.clients {
		if !c.conn.Open() {
			delete(e.clients, id)
			e.removePlayer(id)
		}
	}
	for _, id := range append([]string(nil), e.order...) {
		if _, ok := e.clients[id]; !ok {
			e.removePlayer(id)
		}
	}
	if len(e.clients) == 0 {
		e.stop()
		return
	}

	alive := e.alivePlayers()

	for _, p := range alive {
		p.ApplyDirection()
	}
	for _, p := range alive {
		p.Advance(e.world)
	}
	for _, p := range alive {
		if e.eatFood(p.Head()) {
			p.Score += e.cfg.ScorePerFood
		} else {
			p.Trim()
		}
	}
	for _, p := range alive {
		if !e.world.Contains(p.Head()) {
			e.kill(p, "")
		}
	}
	e.checkSnakeCollisions()

	e.replenishFood()
	e.broadcastState(now)
}

// checkSnakeCollisions kills every snake whose head sits on a body. Snakes
// are checked in join order against the bodies alive when the phase
// began, so two heads meeting in one cell both die.
func (e *Engine) checkSnakeCollisions() {
	alive := e.alivePlayers()
	bodies := make([][]Point, len(alive))
	for i, p := range alive {
		bodies[i] = p.Segments
	}
	BuildBodyGrid(e.grid, bodies)

	for i, p := range alive {
		hit := FindCollision(e.grid, i, p.Head())
		if hit < 0 {
			continue
		}
		killer := ""
		if hit != i {
			killer = alive[hit].ID
		}
		e.kill(p, killer)
	}
}

// kill marks p dead, leaves food where it was and announces it. An empty
// killer means a wall or the snake itself.
func (e *Engine) kill(p *Player, killer string) {
	p.Kill()
	e.dropFood(p.Segments)

	msg := SnakeDiedMsg{Type: MsgSnakeDied, PlayerID: p.ID}
	if killer != "" {
		msg.KilledBy = &killer
	}
	e.broadcast(msg)
	e.broadcastPlayerCount()
	e.track(GameEvent{Type: EvtSnakeDeath, PlayerID: p.ID, Name: p.Name, Score: p.Score, Killer: killer})
}

// SetEventSink makes the engine report joins and deaths to sink
func (e *Engine) SetEventSink(sink EventSink) {
	e.events = sink
}

func (e *Engine) track(evt GameEvent) {
	if e.events == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	e.events.Track(evt)
}

func (e *Engine) start() {
	if e.running {
		return
	}
	e.running = true
	e.tick = 0
	if len(e.food) == 0 {
		e.initFood()
	}
	e.log.Info("game loop started")
}

// stop returns the engine to idle and drops all world state
func (e *Engine) stop() {
	if e.running {
		e.log.Info("game loop stopped")
	}
	e.running = false
	e.food = nil
	e.players = make(map[string]*Player)
	e.order = nil
	e.clients = make(map[string]gameClient)
}

func (e *Engine) spawnPoint() Point {
	return e.world.RandomPoint(e.rng, e.cfg.InitialLength-1)
}

func (e *Engine) newPlayerID() string {
	for {
		id := fmt.Sprintf("p_%08x", e.rng.Uint32())
		if _, taken := e.players[id]; !taken {
			return id
		}
	}
}

func (e *Engine) removePlayer(id string) {
	if _, ok := e.players[id]; !ok {
		return
	}
	delete(e.players, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *Engine) alivePlayers() []*Player {
	alive := make([]*Player, 0, len(e.order))
	for _, id := range e.order {
		if p := e.players[id]; p.Alive {
			alive = append(alive, p)
		}
	}
	return alive
}

// Snapshot builds the per-tick state message
func (e *Engine) Snapshot(now time.Time) GameState {
	state := GameState{
		Type:      MsgSnakeState,
		Tick:      e.tick,
		Timestamp: now.UnixMilli(),
		Snakes:    make([]SnakeState, 0, len(e.order)),
		Food:      make([]FoodItem, len(e.food)),
	}
	for _, id := range e.order {
		state.Snakes = append(state.Snakes, e.players[id].ToState())
	}
	copy(state.Food, e.food)
	return state
}

// broadcastState sends the current game state to all clients, encoding
// each wire format at most once
func (e *Engine) broadcastState(now time.Time) {
	state := e.Snapshot(now)
	data, err := json.Marshal(state)
	if err != nil {
		e.log.Error("marshal state", zap.Error(err))
		return
	}
	var packed []byte
	for _, c := range e.clients {
		if !c.binary {
			c.conn.SendRaw(data)
			continue
		}
		if packed == nil {
			if packed, err = msgpack.Marshal(state); err != nil {
				e.log.Error("msgpack state", zap.Error(err))
				c.conn.SendRaw(data)
				continue
			}
		}
		c.conn.SendBinary(packed)
	}
}

func (e *Engine) broadcastPlayerCount() {
	e.broadcast(SnakePlayersMsg{Type: MsgSnakePlayers, Count: len(e.clients)})
}

// broadcast sends a message to every game socket
func (e *Engine) broadcast(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		e.log.Error("marshal broadcast", zap.Error(err))
		return
	}
	for _, c := range e.clients {
		c.conn.SendRaw(data)
	}
}

// Running reports whether the tick loop should be active
func (e *Engine) Running() bool { return e.running }

// TickCount returns the current tick number
func (e *Engine) TickCount() uint64 { return e.tick }

// PlayerCount returns the number of snakes, dead or alive
func (e *Engine) PlayerCount() int { return len(e.players) }

// ClientCount returns the number of joined game sockets
func (e *Engine) ClientCount() int { return len(e.clients) }

// FoodCount returns the number of pellets on the map
func (e *Engine) FoodCount() int { return len(e.food) }

// Player returns a player by id
func (e *Engine) Player(id string) (*Player, bool) {
	p, ok := e.players[id]
	return p, ok
}
