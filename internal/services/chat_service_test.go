package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"koma-chat/internal/database"
	"koma-chat/internal/models"
	"koma-chat/internal/presence"
	ws "koma-chat/internal/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	room  string
	event any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[*ws.Client]bool
	events []published
	closed bool
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{subs: make(map[string]map[*ws.Client]bool)}
}

func (f *fakeBroadcaster) Subscribe(room string, c *ws.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ws.ErrShuttingDown
	}
	if f.subs[room] == nil {
		f.subs[room] = make(map[*ws.Client]bool)
	}
	f.subs[room][c] = true
	return nil
}

func (f *fakeBroadcaster) Unsubscribe(room string, c *ws.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[room], c)
}

func (f *fakeBroadcaster) Publish(_ context.Context, room string, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{room: room, event: event})
	return nil
}

func (f *fakeBroadcaster) subscribers(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[room])
}

func (f *fakeBroadcaster) publishedEvents() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.events...)
}

func (f *fakeBroadcaster) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

type failingStore struct {
	*database.MemoryDB
}

func (failingStore) AppendMessage(context.Context, int, string, string) (*models.Message, error) {
	return nil, errors.New("disk full")
}

type brokenRooms struct {
	*database.MemoryDB
}

func (brokenRooms) GetOrCreateRoom(context.Context, string) (*models.Room, error) {
	return nil, errors.New("db down")
}

// gatedStore holds AppendMessage until release is closed.
type gatedStore struct {
	*database.MemoryDB
	started chan struct{}
	release chan struct{}
}

func (g gatedStore) AppendMessage(ctx context.Context, roomID int, sender, content string) (*models.Message, error) {
	close(g.started)
	<-g.release
	return g.MemoryDB.AppendMessage(ctx, roomID, sender, content)
}

// historyRecorder records how many subscribers the room had when history was read.
type historyRecorder struct {
	*database.MemoryDB
	hub  *fakeBroadcaster
	seen []int
}

func (h *historyRecorder) ListRecentMessages(ctx context.Context, roomID, limit int) ([]*models.Message, error) {
	h.seen = append(h.seen, h.hub.subscribers("General"))
	return h.MemoryDB.ListRecentMessages(ctx, roomID, limit)
}

type chatFixture struct {
	db      *database.MemoryDB
	tracker *presence.Tracker
	hub     *fakeBroadcaster
	svc     *ChatService
}

func newChatFixture() *chatFixture {
	db := database.NewMemoryDB()
	tracker := presence.NewTracker()
	hub := newFakeBroadcaster()
	svc := NewChatService(db, db, tracker, hub, ChatOptions{
		HistoryLimit:       10,
		PersistConcurrency: 2,
		PersistTimeout:     time.Second,
	})
	return &chatFixture{db: db, tracker: tracker, hub: hub, svc: svc}
}

func (f *chatFixture) open(t *testing.T, user, room string) *ws.Client {
	t.Helper()
	c := ws.NewClient(nil, user, room, f.svc, ws.DefaultSettings())
	require.NoError(t, f.svc.OnOpen(c))
	return c
}

func TestOnOpenSubscribesAndAnnouncesPresence(t *testing.T) {
	f := newChatFixture()

	f.open(t, "A", "General")
	f.open(t, "B", "General")

	assert.Equal(t, 2, f.hub.subscribers("General"))
	assert.Equal(t, []published{
		{room: "General", event: models.NewPresenceEvent([]string{"A"})},
		{room: "General", event: models.NewPresenceEvent([]string{"A", "B"})},
	}, f.hub.publishedEvents())

	room, err := f.db.GetRoomByName(context.Background(), "General")
	require.NoError(t, err)
	assert.Equal(t, "General", room.Name)
}

func TestChatIsPersistedThenBroadcast(t *testing.T) {
	f := newChatFixture()
	a := f.open(t, "A", "General")
	f.hub.reset()

	f.svc.OnEvent(a, models.Inbound{Type: models.EventChat, Message: "hello"})

	assert.Equal(t, []published{
		{room: "General", event: models.NewChatEvent("A", "hello")},
	}, f.hub.publishedEvents())

	room, err := f.db.GetRoomByName(context.Background(), "General")
	require.NoError(t, err)
	stored, err := f.db.ListMessages(context.Background(), room.ID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "A", stored[0].Sender)
	assert.Equal(t, "hello", stored[0].Content)
}

func TestChatFromOneSenderKeepsOrder(t *testing.T) {
	f := newChatFixture()
	a := f.open(t, "A", "General")
	f.hub.reset()

	texts := []string{"one", "two", "three", "four"}
	for _, text := range texts {
		f.svc.OnEvent(a, models.Inbound{Type: models.EventChat, Message: text})
	}

	room, err := f.db.GetRoomByName(context.Background(), "General")
	require.NoError(t, err)
	stored, err := f.db.ListMessages(context.Background(), room.ID, 0)
	require.NoError(t, err)

	var storedTexts []string
	for _, m := range stored {
		storedTexts = append(storedTexts, m.Content)
	}
	assert.Equal(t, texts, storedTexts)

	var broadcast []string
	for _, p := range f.hub.publishedEvents() {
		broadcast = append(broadcast, p.event.(models.ChatEvent).Message)
	}
	assert.Equal(t, texts, broadcast)
}

func TestFailedPersistIsNotBroadcast(t *testing.T) {
	f := newChatFixture()
	f.svc.messages = failingStore{f.db}
	a := f.open(t, "A", "General")
	f.hub.reset()

	f.svc.OnEvent(a, models.Inbound{Type: models.EventChat, Message: "lost"})

	assert.Empty(t, f.hub.publishedEvents())
}

func TestTypingIsBroadcastButNotStored(t *testing.T) {
	f := newChatFixture()
	a := f.open(t, "A", "General")
	b := f.open(t, "B", "General")
	f.hub.reset()

	f.svc.OnEvent(a, models.Inbound{Type: models.EventTyping, IsTyping: true})
	f.svc.OnEvent(b, models.Inbound{Type: models.EventTyping, IsTyping: true})
	f.svc.OnEvent(a, models.Inbound{Type: models.EventTyping, IsTyping: false})

	assert.Equal(t, []published{
		{room: "General", event: models.NewTypingEvent("A", true)},
		{room: "General", event: models.NewTypingEvent("B", true)},
		{room: "General", event: models.NewTypingEvent("A", false)},
	}, f.hub.publishedEvents())

	room, err := f.db.GetRoomByName(context.Background(), "General")
	require.NoError(t, err)
	stored, err := f.db.ListMessages(context.Background(), room.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestEmptyAndUnknownEventsAreIgnored(t *testing.T) {
	f := newChatFixture()
	a := f.open(t, "A", "General")
	f.hub.reset()

	f.svc.OnEvent(a, models.Inbound{Type: models.EventChat, Message: ""})
	f.svc.OnEvent(a, models.Inbound{Type: "reaction"})

	assert.Empty(t, f.hub.publishedEvents())
}

func TestOnCloseRemovesPresence(t *testing.T) {
	f := newChatFixture()
	a := f.open(t, "A", "Prayer")
	f.open(t, "B", "Prayer")
	f.hub.reset()

	f.svc.OnClose(a)

	assert.Equal(t, 1, f.hub.subscribers("Prayer"))
	assert.Equal(t, []string{"B"}, f.tracker.Snapshot("Prayer"))
	assert.Equal(t, []published{
		{room: "Prayer", event: models.NewPresenceEvent([]string{"B"})},
	}, f.hub.publishedEvents())
}

func TestSecondConnectionKeepsUserPresent(t *testing.T) {
	f := newChatFixture()
	first := f.open(t, "A", "General")
	f.open(t, "A", "General")

	f.svc.OnClose(first)
	assert.Equal(t, []string{"A"}, f.tracker.Snapshot("General"))
}

func TestPostMessage(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	_, err := f.svc.PostMessage(ctx, "Nowhere", "A", "hi")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = f.db.GetOrCreateRoom(ctx, "Announcements")
	require.NoError(t, err)

	_, err = f.svc.PostMessage(ctx, "Announcements", "A", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	msg, err := f.svc.PostMessage(ctx, "Announcements", "A", "service at 10")
	require.NoError(t, err)
	assert.Equal(t, "Announcements", msg.Room)
	assert.Equal(t, []published{
		{room: "Announcements", event: models.NewChatEvent("A", "service at 10")},
	}, f.hub.publishedEvents())
}

func TestPersistStartedBeforeDisconnectCompletes(t *testing.T) {
	f := newChatFixture()
	store := gatedStore{MemoryDB: f.db, started: make(chan struct{}), release: make(chan struct{})}
	f.svc.messages = store
	a := f.open(t, "A", "General")
	f.hub.reset()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.svc.OnEvent(a, models.Inbound{Type: models.EventChat, Message: "amen"})
	}()

	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("persist did not start")
	}

	a.Close()
	f.svc.OnClose(a)
	assert.Empty(t, f.tracker.Snapshot("General"))
	assert.Zero(t, f.hub.subscribers("General"))

	close(store.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("persist did not finish")
	}

	room, err := f.db.GetRoomByName(context.Background(), "General")
	require.NoError(t, err)
	stored, err := f.db.ListMessages(context.Background(), room.ID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "amen", stored[0].Content)
	assert.Contains(t, f.hub.publishedEvents(), published{room: "General", event: models.NewChatEvent("A", "amen")})
}

func TestHistoryIsReadBeforeSubscribing(t *testing.T) {
	f := newChatFixture()
	recorder := &historyRecorder{MemoryDB: f.db, hub: f.hub}
	f.svc.messages = recorder

	f.open(t, "A", "General")
	f.open(t, "B", "General")

	assert.Equal(t, []int{0, 1}, recorder.seen)
	assert.Equal(t, 2, f.hub.subscribers("General"))
}

func TestFailedOpenLeavesNoPresence(t *testing.T) {
	f := newChatFixture()
	svc := NewChatService(brokenRooms{f.db}, f.db, f.tracker, f.hub, ChatOptions{PersistTimeout: time.Second})

	c := ws.NewClient(nil, "A", "General", svc, ws.DefaultSettings())
	require.Error(t, svc.OnOpen(c))
	svc.OnClose(c)

	assert.Empty(t, f.hub.publishedEvents())
	assert.Zero(t, f.hub.subscribers("General"))
	assert.Empty(t, f.tracker.Rooms())
}

func TestOpenFailsWhenBroadcasterIsShuttingDown(t *testing.T) {
	f := newChatFixture()
	f.hub.closed = true

	c := ws.NewClient(nil, "A", "General", f.svc, ws.DefaultSettings())
	assert.ErrorIs(t, f.svc.OnOpen(c), ws.ErrShuttingDown)
	f.svc.OnClose(c)

	assert.Empty(t, f.hub.publishedEvents())
	assert.Empty(t, f.tracker.Snapshot("General"))
}

func TestOnCloseRunsOncePerSession(t *testing.T) {
	f := newChatFixture()
	a := f.open(t, "A", "General")
	f.hub.reset()

	f.svc.OnClose(a)
	f.svc.OnClose(a)

	assert.Len(t, f.hub.publishedEvents(), 1)
}
