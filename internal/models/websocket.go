package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type EventType string

const (
	EventChat     EventType = "chat"
	EventTyping   EventType = "typing"
	EventPresence EventType = "presence"
	EventHistory  EventType = "history"
	EventError    EventType = "error"
)

var ErrMalformedEvent = errors.New("malformed event")

// Inbound is a client frame after decoding. Type may name a kind the server
// does not handle; callers ignore those.
type Inbound struct {
	Type     EventType
	Message  string
	IsTyping bool
}

func (e Inbound) Known() bool {
	return e.Type == EventChat || e.Type == EventTyping
}

type inboundFrame struct {
	Type     EventType `json:"type"`
	Message  *string   `json:"message"`
	IsTyping *bool     `json:"is_typing"`
}

// DecodeInbound parses one client frame. Invalid JSON, a missing type, or a
// known type without its required field is reported as ErrMalformedEvent.
func DecodeInbound(data []byte) (Inbound, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch f.Type {
	case "":
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	case EventChat:
		if f.Message == nil {
			return Inbound{}, fmt.Errorf("%w: chat without message", ErrMalformedEvent)
		}
		return Inbound{Type: EventChat, Message: *f.Message}, nil
	case EventTyping:
		if f.IsTyping == nil {
			return Inbound{}, fmt.Errorf("%w: typing without is_typing", ErrMalformedEvent)
		}
		return Inbound{Type: EventTyping, IsTyping: *f.IsTyping}, nil
	default:
		return Inbound{Type: f.Type}, nil
	}
}

type ChatEvent struct {
	Type     EventType `json:"type"`
	Message  string    `json:"message"`
	Username string    `json:"username"`
}

func NewChatEvent(username, message string) ChatEvent {
	return ChatEvent{Type: EventChat, Message: message, Username: username}
}

type TypingEvent struct {
	Type     EventType `json:"type"`
	Username string    `json:"username"`
	IsTyping bool      `json:"is_typing"`
}

func NewTypingEvent(username string, isTyping bool) TypingEvent {
	return TypingEvent{Type: EventTyping, Username: username, IsTyping: isTyping}
}

type PresenceEvent struct {
	Type  EventType `json:"type"`
	Users []string  `json:"users"`
}

func NewPresenceEvent(users []string) PresenceEvent {
	if users == nil {
		users = []string{}
	}
	return PresenceEvent{Type: EventPresence, Users: users}
}

type HistoryItem struct {
	Message   string    `json:"message"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEvent carries recent messages to a session that just opened.
type HistoryEvent struct {
	Type     EventType     `json:"type"`
	Messages []HistoryItem `json:"messages"`
}

func NewHistoryEvent(messages []*Message) HistoryEvent {
	items := make([]HistoryItem, 0, len(messages))
	for _, m := range messages {
		items = append(items, HistoryItem{Message: m.Content, Username: m.Sender, CreatedAt: m.CreatedAt})
	}
	return HistoryEvent{Type: EventHistory, Messages: items}
}

type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}
