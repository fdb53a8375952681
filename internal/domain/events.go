package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	// Bus event discriminators. Stable wire literals shared with the
	// publishing API processes; never rename without a coordinated deploy.
	ChatCreatedEvent    EventType = "chat-created-event"
	MessageDeletedEvent EventType = "message-deleted-event"
	MessageEditedEvent  EventType = "message-edited-event"
	ChatDeletedEvent    EventType = "chat-deleted-event"

	// Client -> gateway frames.
	JoinChatRoomFrame  EventType = "join-chat-room"
	LeaveChatRoomFrame EventType = "leave-chat-room"
	SendMessageFrame   EventType = "send-message"
	MarkAsReadFrame    EventType = "mark-as-read"

	// Gateway -> client frames.
	ChatCreatedEmit      EventType = "chat-created"
	ChatDeletedEmit      EventType = "chat-deleted"
	MessageDeletedEmit   EventType = "message-deleted"
	MessageEditedEmit    EventType = "message-edited"
	NewMessageEmit       EventType = "new-message"
	MessageConfirmedEmit EventType = "message-confirmed"
	MessagesReadEmit     EventType = "messages-read"
	UserJoinedEmit       EventType = "user-joined"
	UserLeftEmit         EventType = "user-left"
)

// Envelope is the {type, data} wrapper carried over the bus and over the
// websocket in both directions. Data stays raw until the type is known.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(t EventType, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return json.Marshal(&Envelope{Type: t, Data: data})
}

// Room keys. Personal and chat rooms share one table in the hub, the
// prefixes keep the key spaces disjoint.
func PersonalRoom(userID string) string { return "user:" + userID }
func ChatRoom(chatID string) string     { return "chat:" + chatID }

type ChatMemberRef struct {
	ID       string `json:"id" db:"id"`
	Username string `json:"username,omitempty" db:"username"`
}

type ChatCreatedPayload struct {
	ChatID    string          `json:"chatId"`
	Name      string          `json:"name,omitempty"`
	Members   []ChatMemberRef `json:"members"`
	CreatedBy string          `json:"createdBy,omitempty"`
	CreatedAt time.Time       `json:"createdAt,omitempty"`
}

func (p *ChatCreatedPayload) Validate() error {
	if p.ChatID == "" {
		return ErrValidation.WithMessage("chat-created: chatId is required")
	}
	for i, m := range p.Members {
		if m.ID == "" {
			return ErrValidation.WithMessage(fmt.Sprintf("chat-created: members[%d].id is required", i))
		}
	}
	return nil
}

type MessageDeletedPayload struct {
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	Action    string    `json:"action,omitempty"`
	DeletedAt time.Time `json:"deletedAt,omitempty"`
}

func (p *MessageDeletedPayload) Validate() error {
	if p.ChatID == "" {
		return ErrValidation.WithMessage("message-deleted: chatId is required")
	}
	if p.MessageID == "" {
		return ErrValidation.WithMessage("message-deleted: messageId is required")
	}
	return nil
}

// MessageEditedPayload is the full display projection of the edited message,
// forwarded to the chat room as-is.
type MessageEditedPayload struct {
	MessageID  string     `json:"messageId"`
	ChatID     string     `json:"chatId"`
	SenderID   string     `json:"senderId,omitempty"`
	SenderName string     `json:"senderName,omitempty"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt,omitempty"`
	EditedAt   *time.Time `json:"editedAt,omitempty"`
}

func (p *MessageEditedPayload) Validate() error {
	if p.ChatID == "" {
		return ErrValidation.WithMessage("message-edited: chatId is required")
	}
	if p.MessageID == "" {
		return ErrValidation.WithMessage("message-edited: messageId is required")
	}
	return nil
}

type ChatDeletedPayload struct {
	ChatID    string   `json:"chatId"`
	MemberIDs []string `json:"memberIds"`
	UserID    string   `json:"userId,omitempty"`
}

func (p *ChatDeletedPayload) Validate() error {
	if p.ChatID == "" {
		return ErrValidation.WithMessage("chat-deleted: chatId is required")
	}
	for i, id := range p.MemberIDs {
		if id == "" {
			return ErrValidation.WithMessage(fmt.Sprintf("chat-deleted: memberIds[%d] is empty", i))
		}
	}
	return nil
}

type PresencePayload struct {
	ChatID   string `json:"chatId,omitempty"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Online   bool   `json:"online"`
}

type MessagesReadPayload struct {
	ChatID            string `json:"chatId"`
	UserID            string `json:"userId"`
	LastReadMessageID string `json:"lastReadMessageId"`
}
