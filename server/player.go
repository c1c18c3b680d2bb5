package main

import (
	"strings"
	"unicode/utf8"
)

const (
	defaultPlayerName  = "Player"
	defaultPlayerColor = "#22c55e"
	maxColorLen        = 32
)

// Cosmetic choices the client knows how to draw
var (
	snakePatterns = []string{"solid", "striped", "neon", "rainbow", "dotted"}
	snakeHats     = []string{"none", "crown", "tophat", "party", "halo", "horns"}
	snakeEyes     = []string{"normal", "angry", "cute", "alien", "cyclops", "sleepy"}
)

// Cosmetics is the purely visual part of a snake
type Cosmetics struct {
	Pattern string `json:"pattern" msgpack:"pattern"`
	Hat     string `json:"hat" msgpack:"hat"`
	Eyes    string `json:"eyes" msgpack:"eyes"`
}

// DefaultCosmetics is used for anything the client leaves out
var DefaultCosmetics = Cosmetics{Pattern: "solid", Hat: "none", Eyes: "normal"}

// Sanitize replaces unknown cosmetic values with the defaults
func (c Cosmetics) Sanitize() Cosmetics {
	return Cosmetics{
		Pattern: oneOf(c.Pattern, snakePatterns, DefaultCosmetics.Pattern),
		Hat:     oneOf(c.Hat, snakeHats, DefaultCosmetics.Hat),
		Eyes:    oneOf(c.Eyes, snakeEyes, DefaultCosmetics.Eyes),
	}
}

func oneOf(v string, allowed []string, def string) string {
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}

// Player is one snake in the world
type Player struct {
	ID        string
	Name      string
	Color     string
	Cosmetics Cosmetics
	Segments  []Point // head first
	Direction Direction
	// NextDirection is the latest input, promoted at the start of a tick
	NextDirection  Direction
	Score          int
	Alive          bool
	RespawnPending bool
}

// NewPlayer creates a live snake with its head at head and the body
// hanging below it, facing up
func NewPlayer(id, name, color string, cosmetics Cosmetics, head Point, length, grid int) *Player {
	p := &Player{
		ID:        id,
		Name:      name,
		Color:     color,
		Cosmetics: cosmetics,
	}
	p.Respawn(head, length, grid)
	return p
}

// Respawn resets the snake to a fresh live body at head, keeping its
// identity and looks
func (p *Player) Respawn(head Point, length, grid int) {
	if length < 1 {
		length = 1
	}
	p.Segments = make([]Point, length)
	for i := range p.Segments {
		p.Segments[i] = Point{X: head.X, Y: head.Y + i*grid}
	}
	p.Direction = DirUp
	p.NextDirection = DirUp
	p.Score = 0
	p.Alive = true
	p.RespawnPending = false
}

// Head returns the first segment
func (p *Player) Head() Point {
	return p.Segments[0]
}

// SetNextDirection stages an input for the next tick. Dead snakes ignore it.
func (p *Player) SetNextDirection(d Direction) {
	if !p.Alive {
		return
	}
	p.NextDirection = d
}

// ApplyDirection promotes the staged input unless it would reverse the
// snake into its own neck
func (p *Player) ApplyDirection() {
	if !IsOpposite(p.Direction, p.NextDirection) {
		p.Direction = p.NextDirection
	}
}

// Advance pushes a new head one step along the current direction. The
// tail is left in place until Trim.
func (p *Player) Advance(w World) {
	head := w.Step(p.Head(), p.Direction)
	p.Segments = append(p.Segments, Point{})
	copy(p.Segments[1:], p.Segments)
	p.Segments[0] = head
}

// Trim drops the last segment
func (p *Player) Trim() {
	if len(p.Segments) > 1 {
		p.Segments = p.Segments[:len(p.Segments)-1]
	}
}

// Kill marks the snake dead and waiting for a respawn request
func (p *Player) Kill() {
	p.Alive = false
	p.RespawnPending = true
}

// ToState converts to protocol state
func (p *Player) ToState() SnakeState {
	segs := make([]Point, len(p.Segments))
	copy(segs, p.Segments)
	return SnakeState{
		ID:        p.ID,
		Name:      p.Name,
		Color:     p.Color,
		Cosmetics: p.Cosmetics,
		Segments:  segs,
		Score:     p.Score,
		Direction: p.Direction,
		Alive:     p.Alive,
	}
}

// SanitizeJoin applies the join defaults: trimmed name capped at maxName
// runes, trimmed color, known cosmetics
func SanitizeJoin(msg SnakeJoinMsg, maxName int) (name, color string, cosmetics Cosmetics) {
	name = truncateRunes(strings.TrimSpace(msg.Name), maxName)
	if name == "" {
		name = defaultPlayerName
	}
	color = truncateRunes(strings.TrimSpace(msg.Color), maxColorLen)
	if color == "" {
		color = defaultPlayerColor
	}
	if msg.Cosmetics != nil {
		cosmetics = msg.Cosmetics.Sanitize()
	} else {
		cosmetics = DefaultCosmetics
	}
	return name, color, cosmetics
}

// truncateRunes cuts s to at most n runes
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
