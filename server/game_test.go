package main

import (
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// mockConn captures sent frames for testing
type mockConn struct {
	mu     sync.Mutex
	text   [][]byte
	binary [][]byte
	closed bool
	pings  int
}

func (m *mockConn) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	m.SendRaw(data)
}

func (m *mockConn) SendRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = append(m.text, append([]byte(nil), data...))
}

func (m *mockConn) SendBinary(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binary = append(m.binary, append([]byte(nil), data...))
}

func (m *mockConn) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *mockConn) Ping() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
}

func (m *mockConn) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// ofType decodes every text frame of the given type
func (m *mockConn) ofType(typ string) []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]interface{}
	for _, raw := range m.text {
		var msg map[string]interface{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg["type"] == typ {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockConn) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = nil
	m.binary = nil
}

var testNow = time.UnixMilli(1700000000000)

func newTestEngine(mutate func(*GameConfig)) *Engine {
	cfg := DefaultConfig().Game
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEngine(cfg, rand.New(rand.NewSource(1)), zap.NewNop())
}

func placeSnake(p *Player, dir Direction, segs ...Point) {
	p.Segments = segs
	p.Direction = dir
	p.NextDirection = dir
}

func mustPlayer(t *testing.T, e *Engine, id string) *Player {
	t.Helper()
	p, ok := e.Player(id)
	if !ok {
		t.Fatalf("player %s not found", id)
	}
	return p
}

func TestEngineJoin(t *testing.T) {
	e := newTestEngine(nil)
	c := &mockConn{}
	id := e.Join(c, false, "", SnakeJoinMsg{Name: "  Ann  "})

	if !strings.HasPrefix(id, "p_") || len(id) != 10 {
		t.Errorf("unexpected player id %q", id)
	}
	joined := c.ofType(MsgSnakeJoined)
	if len(joined) != 1 {
		t.Fatalf("expected 1 snake_joined, got %d", len(joined))
	}
	if joined[0]["playerId"] != id || joined[0]["mapSize"] != 2000.0 || joined[0]["tickRate"] != 15.0 {
		t.Errorf("unexpected snake_joined: %v", joined[0])
	}
	if !e.Running() {
		t.Error("engine should be running after a join")
	}
	if e.FoodCount() != 30 {
		t.Errorf("expected 30 food, got %d", e.FoodCount())
	}
	counts := c.ofType(MsgSnakePlayers)
	if len(counts) != 1 || counts[0]["count"] != 1.0 {
		t.Errorf("expected snake_players count 1, got %v", counts)
	}

	p := mustPlayer(t, e, id)
	if p.Name != "Ann" || p.Color != defaultPlayerColor || p.Cosmetics != DefaultCosmetics {
		t.Errorf("unexpected player defaults: %+v", p)
	}
	if len(p.Segments) != 5 || p.Direction != DirUp || !p.Alive {
		t.Errorf("unexpected spawn: %+v", p)
	}
	for _, s := range p.Segments {
		if !e.world.Contains(s) || s.X%20 != 0 || s.Y%20 != 0 {
			t.Errorf("segment %v not grid aligned inside the map", s)
		}
	}
}

func TestEngineReversalIgnored(t *testing.T) {
	e := newTestEngine(func(g *GameConfig) { g.FoodCount = 0 })
	c := &mockConn{}
	id := e.Join(c, false, "", SnakeJoinMsg{})
	p := mustPlayer(t, e, id)
	placeSnake(p, DirUp, Point{1000, 1000}, Point{1000, 1020}, Point{1000, 1040})

	e.SetDirection(id, "down")
	e.Tick(testNow)
	if p.Direction != DirUp {
		t.Fatalf("reversal should be ignored, direction is %s", p.Direction)
	}
	if p.Head() != (Point{1000, 980}) {
		t.Errorf("expected head at 1000,980, got %v", p.Head())
	}

	e.SetDirection(id, "left")
	e.Tick(testNow)
	if p.Direction != DirLeft {
		t.Errorf("expected left, got %s", p.Direction)
	}
	if p.Head() != (Point{980, 980}) {
		t.Errorf("expected head at 980,980, got %v", p.Head())
	}
	if len(p.Segments) != 3 {
		t.Errorf("length should stay 3 without food, got %d", len(p.Segments))
	}
}

func TestEngineInvalidDirectionIgnored(t *testing.T) {
	e := newTestEngine(nil)
	id := e.Join(&mockConn{}, false, "", SnakeJoinMsg{})
	e.SetDirection(id, "sideways")
	e.SetDirection("p_missing", "left")
	if p := mustPlayer(t, e, id); p.NextDirection != DirUp {
		t.Errorf("invalid input should be ignored, got %s", p.NextDirection)
	}
}

func TestEngineEatingGrows(t *testing.T) {
	e := newTestEngine(func(g *GameConfig) { g.FoodCount = 3 })
	c := &mockConn{}
	id := e.Join(c, false, "", SnakeJoinMsg{})
	p := mustPlayer(t, e, id)
	placeSnake(p, DirUp, Point{1000, 1000}, Point{1000, 1020}, Point{1000, 1040}, Point{1000, 1060}, Point{1000, 1080})
	e.food = []FoodItem{
		{ID: "fa", X: 1000, Y: 980},
		{ID: "fb", X: 40, Y: 40},
		{ID: "fc", X: 60, Y: 60},
	}

	e.Tick(testNow)

	if len(p.Segments) != 6 {
		t.Errorf("expected length 6, got %d", len(p.Segments))
	}
	if p.Score != 10 {
		t.Errorf("expected score 10, got %d", p.Score)
	}
	if e.FoodCount() != 3 {
		t.Errorf("food should be back at 3, got %d", e.FoodCount())
	}
	ids := map[string]bool{}
	for _, f := range e.food {
		ids[f.ID] = true
	}
	if ids["fa"] || !ids["fb"] || !ids["fc"] {
		t.Errorf("only the eaten food should be gone: %v", e.food)
	}
}

func TestEngineWallDeathEmitsOnce(t *testing.T) {
	e := newTestEngine(func(g *GameConfig) { g.FoodCount = 0 })
	c := &mockConn{}
	id := e.Join(c, false, "", SnakeJoinMsg{})
	p := mustPlayer(t, e, id)
	placeSnake(p, DirLeft, Point{0, 100}, Point{20, 100}, Point{40, 100})

	e.Tick(testNow)
	e.Tick(testNow)

	if p.Alive || !p.RespawnPending {
		t.Fatal("snake should be dead and waiting to respawn")
	}
	died := c.ofType(MsgSnakeDied)
	if len(died) != 1 {
		t.Fatalf("expected exactly 1 snake_died, got %d", len(died))
	}
	if died[0]["playerId"] != id || died[0]["killedBy"] != nil {
		t.Errorf("unexpected snake_died: %v", died[0])
	}
	// every other in-bounds segment becomes food
	if e.FoodCount() != 1 {
		t.Errorf("expected 1 dropped food, got %d", e.FoodCount())
	}
}

func TestEngineHeadOnCollisionKillsBoth(t *testing.T) {
	e := newTestEngine(func(g *GameConfig) { g.FoodCount = 0 })
	ca, cb := &mockConn{}, &mockConn{}
	a := e.Join(ca, false, "", SnakeJoinMsg{Name: "A"})
	b := e.Join(cb, false, "", SnakeJoinMsg{Name: "B"})
	pa, pb := mustPlayer(t, e, a), mustPlayer(t, e, b)
	placeSnake(pa, DirRight, Point{980, 1000}, Point{960, 1000}, Point{940, 1000})
	placeSnake(pb, DirLeft, Point{1020, 1000}, Point{1040, 1000}, Point{1060, 1000})

	e.Tick(testNow)

	if pa.Alive || pb.Alive {
		t.Fatal("both snakes should die")
	}
	killers := map[string]interface{}{}
	for _, msg := range ca.ofType(MsgSnakeDied) {
		killers[msg["playerId"].(string)] = msg["killedBy"]
	}
	if killers[a] != b {
		t.Errorf("A should be killed by B, got %v", killers[a])
	}
	if killers[b] != a {
		t.Errorf("B should be killed by A, got %v", killers[b])
	}
}

func TestEngineBodyCollisionCreditsOwner(t *testing.T) {
	e := newTestEngine(func(g *GameConfig) { g.FoodCount = 0 })
	c := &mockConn{}
	a := e.Join(c, false, "", SnakeJoinMsg{})
	b := e.Join(&mockConn{}, false, "", SnakeJoinMsg{})
	pa, pb := mustPlayer(t, e, a), mustPlayer(t, e, b)
	// B runs into the middle of A
	placeSnake(pa, DirUp, Point{1000, 1000}, Point{1000, 1020}, Point{1000, 1040})
	placeSnake(pb, DirLeft, Point{1020, 1020}, Point{1040, 1020}, Point{1060, 1020})

	e.Tick(testNow)

	if !pa.Alive {
		t.Error("A should survive")
	}
	if pb.Alive {
		t.Fatal("B should die")
	}
	died := c.ofType(MsgSnakeDied)
	if len(died) != 1 || died[0]["killedBy"] != a {
		t.Errorf("expected B killed by A, got %v", died)
	}
}

func TestEngineSelfCollision(t *testing.T) {
	e := newTestEngine(func(g *GameConfig) { g.FoodCount = 0 })
	c := &mockConn{}
	id := e.Join(c, false, "", SnakeJoinMsg{})
	p := mustPlayer(t, e, id)
	placeSnake(p, DirLeft,
		Point{200, 200}, Point{220, 200}, Point{220, 220}, Point{200, 220}, Point{180, 220})
	e.SetDirection(id, "down")

	e.Tick(testNow)

	if p.Alive {
		t.Fatal("snake should die on its own body")
	}
	died := c.ofType(MsgSnakeDied)
	if len(died) != 1 || died[0]["killedBy"] != nil {
		t.Errorf("self hit should have no killer, got %v", died)
	}
}

func TestEngineIdleAfterLastLeave(t *testing.T) {
	e := newTestEngine(nil)
	c := &mockConn{}
	id := e.Join(c, false, "", SnakeJoinMsg{})
	e.Tick(testNow)

	e.Leave(id)
	if e.Running() || e.PlayerCount() != 0 || e.FoodCount() != 0 || e.ClientCount() != 0 {
		t.Fatalf("engine should be idle and empty: running=%v players=%d food=%d",
			e.Running(), e.PlayerCount(), e.FoodCount())
	}

	e.Join(&mockConn{}, false, "", SnakeJoinMsg{})
	if !e.Running() || e.FoodCount() != 30 {
		t.Errorf("rejoin should restart with 30 food, got running=%v food=%d", e.Running(), e.FoodCount())
	}
	if e.TickCount() != 0 {
		t.Errorf("tick counter should reset, got %d", e.TickCount())
	}
}

func TestEngineTickDropsClosedSockets(t *testing.T) {
	e := newTestEngine(nil)
	c := &mockConn{}
	e.Join(c, false, "", SnakeJoinMsg{})
	c.Close()

	e.Tick(testNow)

	if e.Running() || e.PlayerCount() != 0 {
		t.Error("a tick with only closed sockets should go idle")
	}
}

func TestEngineRejoinReplacesPlayer(t *testing.T) {
	e := newTestEngine(nil)
	c := &mockConn{}
	first := e.Join(c, false, "", SnakeJoinMsg{Name: "one"})
	second := e.Join(c, false, first, SnakeJoinMsg{Name: "two"})

	if first == second {
		t.Fatal("rejoin should mint a new id")
	}
	if _, ok := e.Player(first); ok {
		t.Error("previous player should be removed")
	}
	if e.PlayerCount() != 1 || e.ClientCount() != 1 {
		t.Errorf("expected 1 player and 1 client, got %d and %d", e.PlayerCount(), e.ClientCount())
	}
	if e.order[0] != second {
		t.Errorf("order should hold only the new id, got %v", e.order)
	}
}

func TestEngineRespawn(t *testing.T) {
	e := newTestEngine(func(g *GameConfig) { g.FoodCount = 0 })
	c := &mockConn{}
	id := e.Join(c, false, "", SnakeJoinMsg{})
	p := mustPlayer(t, e, id)

	e.Respawn(id)
	if len(c.ofType(MsgSnakeRespawned)) != 0 {
		t.Fatal("a live snake must not respawn")
	}

	placeSnake(p, DirUp, Point{100, 0}, Point{100, 20})
	e.Tick(testNow)
	if p.Alive {
		t.Fatal("snake should have hit the top wall")
	}
	e.SetDirection(id, "left")
	if p.NextDirection == DirLeft {
		t.Error("dead snakes should ignore input")
	}

	e.Respawn(id)
	if !p.Alive || p.ID != id || len(p.Segments) != 5 || p.Score != 0 {
		t.Errorf("unexpected respawn state: %+v", p)
	}
	resp := c.ofType(MsgSnakeRespawned)
	if len(resp) != 1 || resp[0]["playerId"] != id {
		t.Errorf("expected snake_respawned for %s, got %v", id, resp)
	}
}

func TestEngineStateBroadcast(t *testing.T) {
	e := newTestEngine(nil)
	text, bin := &mockConn{}, &mockConn{}
	a := e.Join(text, false, "", SnakeJoinMsg{Name: "json"})
	b := e.Join(bin, true, "", SnakeJoinMsg{Name: "pack"})
	placeSnake(mustPlayer(t, e, a), DirUp, Point{500, 500}, Point{500, 520})
	placeSnake(mustPlayer(t, e, b), DirUp, Point{1500, 500}, Point{1500, 520})
	e.food = e.food[:0]
	e.replenishFood()
	for i := range e.food {
		// keep pellets off both paths
		e.food[i].Y = 1500
	}

	e.Tick(testNow)

	states := text.ofType(MsgSnakeState)
	if len(states) != 1 {
		t.Fatalf("expected 1 JSON snake_state, got %d", len(states))
	}
	if states[0]["tick"] != 1.0 || states[0]["timestamp"] != float64(testNow.UnixMilli()) {
		t.Errorf("unexpected tick/timestamp: %v", states[0])
	}
	if len(bin.ofType(MsgSnakeState)) != 0 {
		t.Error("binary client should not get JSON state")
	}
	if len(bin.binary) != 1 {
		t.Fatalf("expected 1 binary frame, got %d", len(bin.binary))
	}
	var gs GameState
	if err := msgpack.Unmarshal(bin.binary[0], &gs); err != nil {
		t.Fatalf("msgpack decode: %v", err)
	}
	if gs.Type != MsgSnakeState || gs.Tick != 1 || len(gs.Snakes) != 2 || len(gs.Food) != 30 {
		t.Errorf("unexpected msgpack state: type=%s tick=%d snakes=%d food=%d",
			gs.Type, gs.Tick, len(gs.Snakes), len(gs.Food))
	}
	if gs.Snakes[0].Name != "json" || gs.Snakes[1].Name != "pack" {
		t.Error("snakes should be listed in join order")
	}
}

func TestEngineDropFoodCapped(t *testing.T) {
	e := newTestEngine(func(g *GameConfig) {
		g.FoodCount = 0
		g.FoodDropCap = 2
	})
	body := make([]Point, 10)
	for i := range body {
		body[i] = Point{X: 100, Y: 100 + i*20}
	}
	e.dropFood(body)
	if e.FoodCount() != 2 {
		t.Errorf("expected drop cap of 2, got %d", e.FoodCount())
	}
	if e.food[0].X != 100 || e.food[0].Y != 100 || e.food[1].Y != 140 {
		t.Errorf("food should land on every other segment: %v", e.food)
	}
}
