package main

import "github.com/google/uuid"

// SessionKind is fixed by the endpoint a socket upgraded on
type SessionKind int

const (
	KindChat SessionKind = iota
	KindGame
)

func (k SessionKind) String() string {
	if k == KindGame {
		return "game"
	}
	return "chat"
}

type sessionState int

const (
	stateUnjoined sessionState = iota
	stateChatBound
	stateGameBound
)

// Peer is a socket as the hub sees it
type Peer interface {
	Conn
	Ping()
	Close()
}

// Session is the hub's record of one connection. Only the hub loop reads
// or writes its fields after registration.
type Session struct {
	ID     string
	Kind   SessionKind
	Addr   string
	Binary bool // game snapshots as msgpack

	peer     Peer
	alive    bool // answered the last heartbeat
	state    sessionState
	name     string // chat display name once bound
	playerID string // game player once bound
}

// NewSession creates an unjoined session for peer
func NewSession(kind SessionKind, addr string, binary bool, peer Peer) *Session {
	return &Session{
		ID:     uuid.NewString(),
		Kind:   kind,
		Addr:   addr,
		Binary: binary && kind == KindGame,
		peer:   peer,
		alive:  true,
	}
}

func (s *Session) bindChat(name string) {
	s.name = name
	s.state = stateChatBound
}

func (s *Session) bindGame(playerID string) {
	s.playerID = playerID
	s.state = stateGameBound
}

func (s *Session) unbind() {
	s.name = ""
	s.playerID = ""
	s.state = stateUnjoined
}
