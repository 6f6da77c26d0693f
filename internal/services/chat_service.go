package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"koma-chat/internal/database"
	"koma-chat/internal/models"
	"koma-chat/internal/presence"
	ws "koma-chat/internal/websocket"
	"koma-chat/pkg/logger"

	"golang.org/x/sync/semaphore"
)

// Broadcaster is the room fan-out used by the chat service. *websocket.Manager
// implements it.
type Broadcaster interface {
	Subscribe(room string, c *ws.Client) error
	Unsubscribe(room string, c *ws.Client)
	Publish(ctx context.Context, room string, event any) error
}

type ChatOptions struct {
	HistoryLimit       int
	PersistConcurrency int
	PersistTimeout     time.Duration
}

// ChatService drives connection sessions: it persists chat messages before
// broadcasting them, relays typing indicators and keeps presence current.
type ChatService struct {
	rooms    database.RoomRepository
	messages database.MessageRepository
	presence *presence.Tracker
	hub      Broadcaster

	persistSlots   *semaphore.Weighted
	persistTimeout time.Duration
	historyLimit   int

	roomIDs sync.Map // room name -> id
	joined  sync.Map // conn id of sessions whose OnOpen succeeded
}

var _ ws.Handler = (*ChatService)(nil)

func NewChatService(rooms database.RoomRepository, messages database.MessageRepository, tracker *presence.Tracker, hub Broadcaster, opts ChatOptions) *ChatService {
	if opts.PersistConcurrency <= 0 {
		opts.PersistConcurrency = 1
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	return &ChatService{
		rooms:          rooms,
		messages:       messages,
		presence:       tracker,
		hub:            hub,
		persistSlots:   semaphore.NewWeighted(int64(opts.PersistConcurrency)),
		persistTimeout: opts.PersistTimeout,
		historyLimit:   opts.HistoryLimit,
	}
}

func (s *ChatService) roomID(ctx context.Context, name string) (int, error) {
	if id, ok := s.roomIDs.Load(name); ok {
		return id.(int), nil
	}
	room, err := s.rooms.GetOrCreateRoom(ctx, name)
	if err != nil {
		return 0, err
	}
	s.roomIDs.Store(name, room.ID)
	return room.ID, nil
}

// OnOpen sends the session recent history, subscribes it to its room and
// announces the new presence snapshot to the room. History is read before
// subscribing, so no message arrives both live and in the history frame.
func (s *ChatService) OnOpen(c *ws.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	roomID, err := s.roomID(ctx, c.Room())
	if err != nil {
		return fmt.Errorf("resolve room %q: %w", c.Room(), err)
	}

	if s.historyLimit > 0 {
		s.sendHistory(ctx, c, roomID)
	}

	if err := s.hub.Subscribe(c.Room(), c); err != nil {
		return fmt.Errorf("subscribe to room %q: %w", c.Room(), err)
	}

	s.joined.Store(c.ID(), struct{}{})
	s.presence.Connect(c.Room(), c.Username(), c.ID(), s.presenceNotifier(c.Room()))
	logger.Info("User %s joined room %s", c.Username(), c.Room())
	return nil
}

func (s *ChatService) sendHistory(ctx context.Context, c *ws.Client, roomID int) {
	messages, err := s.messages.ListRecentMessages(ctx, roomID, s.historyLimit)
	if err != nil {
		logger.Error("Error loading recent messages for room %s: %v", c.Room(), err)
		return
	}
	if len(messages) == 0 {
		return
	}
	if err := c.SendEvent(models.NewHistoryEvent(messages)); err != nil {
		logger.Warn("Could not send history to %s: %v", c.Username(), err)
	}
}

func (s *ChatService) OnEvent(c *ws.Client, event models.Inbound) {
	switch event.Type {
	case models.EventChat:
		s.handleChat(c, event.Message)
	case models.EventTyping:
		s.publish(c.Room(), models.NewTypingEvent(c.Username(), event.IsTyping))
	}
}

func (s *ChatService) handleChat(c *ws.Client, text string) {
	if text == "" {
		return
	}

	msg, err := s.persist(c.Room(), c.Username(), text)
	if err != nil {
		logger.Error("Error saving message from %s in room %s: %v", c.Username(), c.Room(), err)
		if err := c.SendEvent(models.NewErrorEvent("message could not be saved")); err != nil {
			logger.Debug("Could not report save failure to %s: %v", c.Username(), err)
		}
		return
	}

	s.publish(c.Room(), models.NewChatEvent(msg.Sender, msg.Content))
}

// persist runs with its own deadline so that a write already started
// completes even if the session goes away meanwhile.
func (s *ChatService) persist(room, sender, content string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	if err := s.persistSlots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for persist slot: %w", err)
	}
	defer s.persistSlots.Release(1)

	roomID, err := s.roomID(ctx, room)
	if err != nil {
		return nil, err
	}
	return s.messages.AppendMessage(ctx, roomID, sender, content)
}

// OnClose undoes a successful OnOpen. Sessions that never joined leave no
// trace in presence and cause no broadcast.
func (s *ChatService) OnClose(c *ws.Client) {
	if _, ok := s.joined.LoadAndDelete(c.ID()); !ok {
		return
	}

	s.hub.Unsubscribe(c.Room(), c)
	s.presence.Disconnect(c.Room(), c.Username(), c.ID(), s.presenceNotifier(c.Room()))
	logger.Info("User %s left room %s", c.Username(), c.Room())
}

func (s *ChatService) presenceNotifier(room string) presence.NotifyFunc {
	return func(users []string) {
		s.publish(room, models.NewPresenceEvent(users))
	}
}

func (s *ChatService) publish(room string, event any) {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	if err := s.hub.Publish(ctx, room, event); err != nil {
		logger.Error("Error publishing to room %s: %v", room, err)
	}
}

var ErrEmptyMessage = errors.New("message is required")

// PostMessage stores a message sent outside a websocket session and
// broadcasts it to the room. The room must already exist.
func (s *ChatService) PostMessage(ctx context.Context, roomName, sender, content string) (*models.Message, error) {
	if content == "" {
		return nil, ErrEmptyMessage
	}

	room, err := s.rooms.GetRoomByName(ctx, roomName)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.AppendMessage(ctx, room.ID, sender, content)
	if err != nil {
		return nil, err
	}
	msg.Room = room.Name

	s.publish(room.Name, models.NewChatEvent(msg.Sender, msg.Content))
	return msg, nil
}
