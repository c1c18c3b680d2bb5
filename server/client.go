package main

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second

	// binaryMarker prefixes queued frames that must go out as binary
	binaryMarker = 0xFF
)

// Client is one WebSocket connection. ReadPump and WritePump are the only
// goroutines touching conn; everything else goes through the hub.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	session    *Session
	send       chan []byte
	ping       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	open       atomic.Bool
	remoteAddr string
	limits     LimitsConfig
	log        *zap.Logger

	msgCount   int
	msgResetAt time.Time
}

// NewClient wraps an upgraded connection. The caller starts the pumps.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	c := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.cfg.Limits.SendBuffer),
		ping:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		remoteAddr: remoteAddr,
		limits:     hub.cfg.Limits,
		log:        hub.log,
	}
	c.open.Store(true)
	return c
}

// ReadPump reads frames and hands them to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.Unregister(c.session)
		c.Close()
	}()

	if c.limits.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.limits.MaxMessageSize)
	}
	c.conn.SetPongHandler(func(string) error {
		c.hub.Pong(c.session)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("ws read error", zap.String("session", c.session.ID), zap.Error(err))
			}
			break
		}

		if c.limits.MaxMessagesPerSec > 0 {
			now := time.Now()
			if now.After(c.msgResetAt) {
				c.msgCount = 0
				c.msgResetAt = now.Add(time.Second)
			}
			c.msgCount++
			if c.msgCount > c.limits.MaxMessagesPerSec {
				c.hub.metrics.IncRateLimited()
				c.log.Warn("rate limit exceeded, disconnecting",
					zap.String("session", c.session.ID), zap.String("addr", c.remoteAddr))
				break
			}
		}

		c.hub.metrics.IncFramesIn()
		c.hub.Inbound(c.session, message)
	}
}

// WritePump drains the send queue and writes heartbeat pings
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			var err error
			if len(message) > 0 && message[0] == binaryMarker {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				c.open.Store(false)
				return
			}

		case <-c.ping:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.open.Store(false)
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal error", zap.Error(err))
		return
	}
	c.SendRaw(data)
}

// SendRaw queues pre-marshaled bytes as a text frame. A full queue drops
// the frame.
func (c *Client) SendRaw(data []byte) {
	if !c.open.Load() {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.metrics.IncFramesDropped()
	}
}

// SendBinary queues bytes as a binary frame
func (c *Client) SendBinary(data []byte) {
	msg := make([]byte, len(data)+1)
	msg[0] = binaryMarker
	copy(msg[1:], data)
	c.SendRaw(msg)
}

// Ping asks the writer to send a WebSocket ping
func (c *Client) Ping() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// Open reports whether the socket can still take frames
func (c *Client) Open() bool { return c.open.Load() }

// Close stops the writer, which closes the connection and so ends the
// reader. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
	})
}
