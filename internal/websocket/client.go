package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"koma-chat/internal/config"
	"koma-chat/internal/models"
	"koma-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrSendQueueFull = errors.New("send queue full or closed")

// Handler receives a session's lifecycle. OnOpen runs before any frame is
// read; returning an error closes the session. OnClose runs exactly once
// per session, whatever ended it.
type Handler interface {
	OnOpen(c *Client) error
	OnEvent(c *Client, event models.Inbound)
	OnClose(c *Client)
}

type Settings struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func DefaultSettings() Settings {
	return Settings{
		PingInterval:   54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 8192,
		SendBuffer:     256,
	}
}

func SettingsFromConfig(cfg config.WebSocketConfig) Settings {
	return Settings{
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
	}
}

// Client is one connection session bound to a single room.
type Client struct {
	id       string
	conn     *websocket.Conn
	username string
	room     string
	handler  Handler
	settings Settings

	state atomic.Int32

	send       chan []byte
	sendMu     sync.RWMutex
	sendClosed bool

	cleanupOnce sync.Once
	done        chan struct{}
}

func NewClient(conn *websocket.Conn, username, room string, handler Handler, settings Settings) *Client {
	return newClient(conn, username, room, handler, settings)
}

func newClient(conn *websocket.Conn, username, room string, handler Handler, settings Settings) *Client {
	if settings.SendBuffer <= 0 {
		settings.SendBuffer = DefaultSettings().SendBuffer
	}
	return &Client{
		id:       uuid.NewString(),
		conn:     conn,
		username: username,
		room:     room,
		handler:  handler,
		settings: settings,
		send:     make(chan []byte, settings.SendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) Username() string { return c.username }
func (c *Client) Room() string     { return c.room }
func (c *Client) State() State     { return State(c.state.Load()) }

// Done is closed after the session's cleanup has run.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send queues payload without blocking. It reports false when the queue is
// full or the session is closing.
func (c *Client) Send(payload []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.sendClosed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// SendEvent marshals event and queues it for this session only.
func (c *Client) SendEvent(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", event, err)
	}
	if !c.Send(data) {
		return ErrSendQueueFull
	}
	return nil
}

// Close asks the session to shut down. The write pump sends a close frame
// and drops the connection, which ends the read pump and runs cleanup.
func (c *Client) Close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) ReadPump() {
	defer c.cleanup()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in session %s (%s in %s): %v\n%s", c.id, c.username, c.room, r, debug.Stack())
		}
	}()

	if err := c.handler.OnOpen(c); err != nil {
		logger.Error("Error opening session for %s in room %s: %v", c.username, c.room, err)
		return
	}
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))

	c.conn.SetReadLimit(c.settings.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.settings.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error: %v", err)
			}
			return
		}

		event, err := models.DecodeInbound(data)
		if err != nil {
			logger.Debug("Dropping frame from %s in room %s: %v", c.username, c.room, err)
			continue
		}
		if !event.Known() {
			logger.Debug("Ignoring %q event from %s", event.Type, c.username)
			continue
		}

		c.handler.OnEvent(c, event)
	}
}

func (c *Client) cleanup() {
	c.cleanupOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		defer close(c.done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic while closing session %s: %v", c.id, r)
			}
		}()

		c.Close()
		if c.conn != nil {
			c.conn.Close()
		}
		c.handler.OnClose(c)
	})
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("Write error for %s: %v", c.username, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
