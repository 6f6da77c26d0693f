package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"koma-chat/internal/broker"
	"koma-chat/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	opened  int
	closed  int
	events  []models.Inbound
	openErr error
}

func (h *recordingHandler) OnOpen(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened++
	return h.openErr
}

func (h *recordingHandler) OnEvent(c *Client, event models.Inbound) {
	if event.Message == "boom" {
		panic("handler exploded")
	}

	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()

	if event.Type == models.EventChat {
		_ = c.SendEvent(models.NewChatEvent(c.Username(), event.Message))
	}
}

func (h *recordingHandler) OnClose(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func (h *recordingHandler) counts() (opened, closed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened, h.closed
}

func (h *recordingHandler) recorded() []models.Inbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Inbound(nil), h.events...)
}

func startSession(t *testing.T, h Handler) (*websocket.Conn, *Client) {
	t.Helper()

	sessions := make(chan *Client, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(conn, "A", "General", h, DefaultSettings())
		sessions <- c
		c.Start()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	select {
	case c := <-sessions:
		return conn, c
	case <-time.After(5 * time.Second):
		t.Fatal("session was not created")
		return nil, nil
	}
}

func waitClosed(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not clean up")
	}
}

func TestSessionDispatchesKnownEvents(t *testing.T) {
	h := &recordingHandler{}
	conn, c := startSession(t, h)

	frames := []string{
		`not json`,
		`{"message":"no type"}`,
		`{"type":"reaction","emoji":"+1"}`,
		`{"type":"chat","message":"hi"}`,
		`{"type":"typing","is_typing":true}`,
	}
	for _, f := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	var echo models.ChatEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&echo))
	assert.Equal(t, models.NewChatEvent("A", "hi"), echo)

	require.Eventually(t, func() bool { return len(h.recorded()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []models.Inbound{
		{Type: models.EventChat, Message: "hi"},
		{Type: models.EventTyping, IsTyping: true},
	}, h.recorded())
	assert.Equal(t, StateOpen, c.State())
}

func TestSessionCleanupRunsOnceOnClientClose(t *testing.T) {
	h := &recordingHandler{}
	conn, c := startSession(t, h)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	waitClosed(t, c)

	c.cleanup()
	opened, closed := h.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
	assert.Equal(t, StateClosed, c.State())
}

func TestSessionCleanupRunsAfterHandlerPanic(t *testing.T) {
	h := &recordingHandler{}
	conn, c := startSession(t, h)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","message":"boom"}`)))
	waitClosed(t, c)

	_, closed := h.counts()
	assert.Equal(t, 1, closed)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestSessionServerCloseSendsCloseFrame(t *testing.T) {
	h := &recordingHandler{}
	conn, c := startSession(t, h)

	require.Eventually(t, func() bool { return c.State() == StateOpen }, 5*time.Second, 10*time.Millisecond)
	c.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	waitClosed(t, c)
	_, closed := h.counts()
	assert.Equal(t, 1, closed)
}

func TestSessionOpenFailureStillCleansUp(t *testing.T) {
	h := &recordingHandler{openErr: errors.New("no room")}
	conn, c := startSession(t, h)

	waitClosed(t, c)
	opened, closed := h.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestManagerShutdownClosesSessions(t *testing.T) {
	h := &recordingHandler{}
	conn, c := startSession(t, h)

	m := NewManager(broker.NewLocal(), 0)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Subscribe(c.Room(), c))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	waitClosed(t, c)
	assert.Equal(t, StateClosed, c.State())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
