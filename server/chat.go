package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultStrokeColor = "#000000"
	defaultStrokeWidth = 3
	toolPen            = "pen"
	toolEraser         = "eraser"
)

type chatMember struct {
	conn Conn
	name string // empty until join
}

// Relay is the chat and shared-whiteboard service. Like Engine it is
// driven only from the hub loop.
type Relay struct {
	cfg     ChatConfig
	log     *zap.Logger
	members []*chatMember // connection order
	history *StrokeHistory
}

// NewRelay creates an empty relay
func NewRelay(cfg ChatConfig, log *zap.Logger) *Relay {
	return &Relay{
		cfg:     cfg,
		log:     log,
		history: NewStrokeHistory(cfg.MaxStrokes),
	}
}

// Open adds a freshly upgraded chat socket
func (r *Relay) Open(conn Conn) {
	if r.member(conn) != nil {
		return
	}
	r.members = append(r.members, &chatMember{conn: conn})
}

// Close removes a chat socket and refreshes presence if it had a name
func (r *Relay) Close(conn Conn) {
	for i, m := range r.members {
		if m.conn != conn {
			continue
		}
		r.members = append(r.members[:i], r.members[i+1:]...)
		if m.name != "" {
			r.log.Info("chat user disconnected", zap.String("sender", m.name))
			r.broadcastUsers()
		}
		return
	}
}

// Join binds a display name, broadcasts presence and replays the board to
// the joiner. It returns the bound name, or false if the name was rejected.
func (r *Relay) Join(conn Conn, msg JoinMsg) (string, bool) {
	m := r.member(conn)
	if m == nil {
		return "", false
	}
	sender := strings.TrimSpace(msg.Sender)
	if sender == "" || utf8.RuneCountInString(sender) > r.cfg.MaxNameLen {
		conn.SendJSON(errorMsg(fmt.Sprintf("Invalid sender (max %d chars)", r.cfg.MaxNameLen)))
		return "", false
	}
	m.name = sender
	r.log.Info("chat user joined", zap.String("sender", sender))
	r.broadcastUsers()
	if r.history.Len() > 0 {
		conn.SendJSON(DrawSyncMsg{Type: MsgDrawSync, Strokes: r.history.Strokes()})
	}
	return sender, true
}

// PrepareMessage validates an outgoing chat line. On success it returns the
// bound sender and trimmed content for persistence; otherwise the client
// has already been told why.
func (r *Relay) PrepareMessage(conn Conn, msg ChatMsg) (sender, content string, ok bool) {
	m := r.member(conn)
	if m == nil || m.name == "" {
		conn.SendJSON(errorMsg("Must join first"))
		return "", "", false
	}
	content = strings.TrimSpace(msg.Content)
	if content == "" || utf8.RuneCountInString(content) > r.cfg.MaxContentLen {
		conn.SendJSON(errorMsg(fmt.Sprintf("Invalid content (1-%d chars)", r.cfg.MaxContentLen)))
		return "", "", false
	}
	return m.name, content, true
}

// Deliver finishes a chat line once persistence has answered. Failures go
// to the sender only, and only if it is still connected; a stored record
// goes to every chat socket connected now.
func (r *Relay) Deliver(conn Conn, record json.RawMessage, err error) {
	if err != nil {
		if r.member(conn) != nil {
			conn.SendJSON(errorMsg("Failed to save message"))
		}
		return
	}
	r.broadcast(NewMessageMsg{Type: MsgNewMessage, Message: record}, nil)
}

// Stroke stores a finished stroke and relays it to everyone but the sender
func (r *Relay) Stroke(conn Conn, data *StrokeData) {
	m := r.member(conn)
	if m == nil || m.name == "" {
		return
	}
	if data == nil {
		data = &StrokeData{}
	}
	stroke := StrokeRecord{
		ID:     data.ID,
		Sender: m.name,
		Points: normalizePoints(data.Points),
		Color:  strokeColor(data.Color),
		Width:  strokeWidth(data.Width),
		Tool:   strokeTool(data.Tool),
	}
	if stroke.ID == "" {
		stroke.ID = uuid.NewString()
	}
	r.history.Append(stroke)
	r.broadcast(DrawStrokeOut{Type: MsgDrawStroke, Stroke: stroke}, conn)
}

// Progress relays a live stroke preview without storing it
func (r *Relay) Progress(conn Conn, msg StrokeProgressMsg) {
	m := r.member(conn)
	if m == nil || m.name == "" {
		return
	}
	r.broadcast(StrokeProgressMsg{
		Type:     MsgDrawProgress,
		StrokeID: msg.StrokeID,
		Sender:   m.name,
		Points:   normalizePoints(msg.Points),
		Color:    strokeColor(msg.Color),
		Width:    strokeWidth(msg.Width),
		Tool:     strokeTool(msg.Tool),
	}, conn)
}

// Clear wipes the board and tells everyone but the sender
func (r *Relay) Clear(conn Conn) {
	m := r.member(conn)
	if m == nil || m.name == "" {
		return
	}
	r.history.Clear()
	r.broadcast(DrawClearMsg{Type: MsgDrawClear, Sender: m.name}, conn)
}

// Users returns the distinct bound names, ordered by when each name's
// first socket connected
func (r *Relay) Users() []string {
	users := make([]string, 0, len(r.members))
	seen := make(map[string]bool, len(r.members))
	for _, m := range r.members {
		if m.name == "" || seen[m.name] {
			continue
		}
		seen[m.name] = true
		users = append(users, m.name)
	}
	return users
}

// ClientCount returns the number of open chat sockets
func (r *Relay) ClientCount() int { return len(r.members) }

// History exposes the stored strokes
func (r *Relay) History() *StrokeHistory { return r.history }

func (r *Relay) member(conn Conn) *chatMember {
	for _, m := range r.members {
		if m.conn == conn {
			return m
		}
	}
	return nil
}

func (r *Relay) broadcastUsers() {
	r.broadcast(UsersOnlineMsg{Type: MsgUsersOnline, Users: r.Users()}, nil)
}

// broadcast sends msg to every chat socket except skip
func (r *Relay) broadcast(msg interface{}, skip Conn) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal chat broadcast", zap.Error(err))
		return
	}
	for _, m := range r.members {
		if skip != nil && m.conn == skip {
			continue
		}
		m.conn.SendRaw(data)
	}
}

func normalizePoints(pts []FloatPoint) []FloatPoint {
	if pts == nil {
		return []FloatPoint{}
	}
	return pts
}

func strokeColor(c string) string {
	if c == "" {
		return defaultStrokeColor
	}
	return c
}

func strokeWidth(w float64) float64 {
	if w <= 0 {
		return defaultStrokeWidth
	}
	return w
}

func strokeTool(t string) string {
	if t == toolEraser {
		return toolEraser
	}
	return toolPen
}
