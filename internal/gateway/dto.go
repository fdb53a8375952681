package gateway

import "time"

// Client -> gateway frame payloads.

type JoinRoomRequest struct {
	ChatID string `json:"chatId"`
}

type SendMessageRequest struct {
	// TempID is the client-side placeholder id echoed back in the ack.
	TempID  string `json:"tempId"`
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

type MarkAsReadRequest struct {
	ChatID            string `json:"chatId"`
	LastReadMessageID string `json:"lastReadMessageId"`
}

// Gateway -> client ack payload for send-message.
type MessageConfirmed struct {
	TempID    string    `json:"tempId"`
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	CreatedAt time.Time `json:"createdAt"`
}
