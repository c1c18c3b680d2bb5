package main

import "encoding/json"

// Chat client -> server message types
const (
	MsgJoin         = "join"
	MsgMessage      = "message"
	MsgDrawStroke   = "draw_stroke"
	MsgDrawProgress = "draw_stroke_progress"
	MsgDrawClear    = "draw_clear"
)

// Chat server -> client message types (draw_* types are echoed as-is)
const (
	MsgUsersOnline = "users_online"
	MsgNewMessage  = "new_message"
	MsgDrawSync    = "draw_sync"
	MsgError       = "error"
)

// Game client -> server message types
const (
	MsgSnakeJoin      = "snake_join"
	MsgSnakeDirection = "snake_direction"
	MsgSnakeRespawn   = "snake_respawn"
	MsgSnakePing      = "snake_ping"
	MsgSnakeLeave     = "snake_leave"
)

// Game server -> client message types
const (
	MsgSnakeJoined    = "snake_joined"
	MsgSnakeState     = "snake_state"
	MsgSnakeDied      = "snake_died"
	MsgSnakeRespawned = "snake_respawned"
	MsgSnakePlayers   = "snake_players"
	MsgSnakePong      = "snake_pong"
)

// InEnvelope reads only the discriminator; the full frame is decoded again
// into the type-specific struct
type InEnvelope struct {
	Type string `json:"type"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorMsg(text string) ErrorMsg {
	return ErrorMsg{Type: MsgError, Message: text}
}

// --- chat ---

// JoinMsg binds a display name to a chat socket
type JoinMsg struct {
	Sender string `json:"sender"`
}

// ChatMsg is a chat line from a client
type ChatMsg struct {
	Content string `json:"content"`
}

// StrokeData is the client's view of a stroke; every field is optional
type StrokeData struct {
	ID     string       `json:"id"`
	Points []FloatPoint `json:"points"`
	Color  string       `json:"color"`
	Width  float64      `json:"width"`
	Tool   string       `json:"tool"`
}

// FloatPoint is a canvas coordinate. Drawing is not grid-aligned.
type FloatPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DrawStrokeMsg carries a finished stroke in either direction
type DrawStrokeMsg struct {
	Type   string      `json:"type"`
	Stroke *StrokeData `json:"stroke,omitempty"`
}

// DrawStrokeOut is the relayed form of a stored stroke
type DrawStrokeOut struct {
	Type   string       `json:"type"`
	Stroke StrokeRecord `json:"stroke"`
}

// StrokeRecord is a normalized stroke as stored and replayed
type StrokeRecord struct {
	ID     string       `json:"id"`
	Sender string       `json:"sender"`
	Points []FloatPoint `json:"points"`
	Color  string       `json:"color"`
	Width  float64      `json:"width"`
	Tool   string       `json:"tool"`
}

// StrokeProgressMsg is a live preview of a stroke being drawn
type StrokeProgressMsg struct {
	Type     string       `json:"type"`
	StrokeID string       `json:"strokeId"`
	Sender   string       `json:"sender,omitempty"`
	Points   []FloatPoint `json:"points"`
	Color    string       `json:"color"`
	Width    float64      `json:"width"`
	Tool     string       `json:"tool"`
}

// UsersOnlineMsg is the presence list
type UsersOnlineMsg struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// NewMessageMsg carries a persisted chat record
type NewMessageMsg struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// DrawClearMsg tells the others who wiped the board
type DrawClearMsg struct {
	Type   string `json:"type"`
	Sender string `json:"sender"`
}

// DrawSyncMsg replays the stored history to a late joiner
type DrawSyncMsg struct {
	Type    string         `json:"type"`
	Strokes []StrokeRecord `json:"strokes"`
}

// --- game ---

// SnakeJoinMsg is sent when a player wants a snake
type SnakeJoinMsg struct {
	Name      string     `json:"name"`
	Color     string     `json:"color"`
	Cosmetics *Cosmetics `json:"cosmetics"`
}

// SnakeDirectionMsg is a steering input
type SnakeDirectionMsg struct {
	Direction string `json:"direction"`
}

// SnakePingMsg is a latency probe; T is echoed untouched
type SnakePingMsg struct {
	Type string          `json:"type"`
	T    json.RawMessage `json:"t,omitempty"`
}

// SnakeJoinedMsg answers a join
type SnakeJoinedMsg struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
	MapSize  int    `json:"mapSize"`
	TickRate int    `json:"tickRate"`
}

// SnakeState is broadcast per snake each tick
type SnakeState struct {
	ID        string    `json:"id" msgpack:"id"`
	Name      string    `json:"name" msgpack:"name"`
	Color     string    `json:"color" msgpack:"color"`
	Cosmetics Cosmetics `json:"cosmetics" msgpack:"cosmetics"`
	Segments  []Point   `json:"segments" msgpack:"segments"`
	Score     int       `json:"score" msgpack:"score"`
	Direction Direction `json:"direction" msgpack:"direction"`
	Alive     bool      `json:"alive" msgpack:"alive"`
}

// FoodItem is one pellet
type FoodItem struct {
	ID string `json:"id" msgpack:"id"`
	X  int    `json:"x" msgpack:"x"`
	Y  int    `json:"y" msgpack:"y"`
}

// GameState is the full snapshot broadcast every tick
type GameState struct {
	Type      string       `json:"type" msgpack:"type"`
	Tick      uint64       `json:"tick" msgpack:"tick"`
	Timestamp int64        `json:"timestamp" msgpack:"timestamp"` // unix ms
	Snakes    []SnakeState `json:"snakes" msgpack:"snakes"`
	Food      []FoodItem   `json:"food" msgpack:"food"`
}

// SnakeDiedMsg announces a death; KilledBy is nil for walls and self hits
type SnakeDiedMsg struct {
	Type     string  `json:"type"`
	PlayerID string  `json:"playerId"`
	KilledBy *string `json:"killedBy"`
}

// SnakeRespawnedMsg announces a respawn
type SnakeRespawnedMsg struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
}

// SnakePlayersMsg carries the connected player count
type SnakePlayersMsg struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}
