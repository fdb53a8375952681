package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"chatrelay/internal/domain"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// MessageStore is the slice of the relational repository the synchronous
// client path needs.
type MessageStore interface {
	InsertMessage(ctx context.Context, chatID, senderID, content string) (*domain.Message, error)
	MarkRead(ctx context.Context, chatID, userID, lastReadMessageID string) error
}

// PresenceTracker marks connections online/offline in the presence store.
type PresenceTracker interface {
	Connect(ctx context.Context, userID string) (bool, error)
	Disconnect(ctx context.Context, userID string) (bool, error)
	Touch(ctx context.Context, userID string) error
}

// Service runs the per-connection read/write pumps and the synchronous
// client-originated handlers. The asynchronous bus path shares the same hub
// through Emit but never goes through this type.
type Service struct {
	hub      *Hub
	messages MessageStore
	presence PresenceTracker
}

func NewService(hub *Hub, messages MessageStore, presence PresenceTracker) *Service {
	return &Service{
		hub:      hub,
		messages: messages,
		presence: presence,
	}
}

// HandleConn owns an admitted connection until it closes. The client must
// already carry a validated identity.
func (s *Service) HandleConn(ctx context.Context, client *Client) {
	userID := client.identity.UserID

	if _, err := s.presence.Connect(ctx, userID); err != nil {
		slog.Error("Failed to mark user online", "user_id", userID, "error", err)
	}

	s.hub.Register(client)

	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := s.presence.Touch(ctx, userID); err != nil {
			slog.Warn("Failed to refresh presence", "user_id", userID, "error", err)
		}
		return nil
	})

	defer func() {
		s.hub.Unregister(client)
		client.conn.Close()

		// Best effort: the TTL on the presence key covers a crash here.
		if _, err := s.presence.Disconnect(context.WithoutCancel(ctx), userID); err != nil {
			slog.Error("Failed to mark user offline", "user_id", userID, "error", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.read(ctx, client)
	})

	g.Go(func() error {
		return s.write(ctx, client)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Connection terminated", "user_id", userID, "error", err)
	}
}

func (s *Service) read(ctx context.Context, client *Client) error {
	client.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			var frame domain.Envelope
			if err := client.conn.ReadJSON(&frame); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
					websocket.CloseNoStatusReceived,
					websocket.CloseNormalClosure) {
					slog.Error("Websocket close error", "user_id", client.identity.UserID, "error", err)
				}
				return context.Canceled
			}

			s.handleFrame(ctx, client, &frame)
		}
	}
}

// handleFrame routes one client frame. A malformed frame is logged and
// dropped; the connection stays up.
func (s *Service) handleFrame(ctx context.Context, client *Client, frame *domain.Envelope) {
	switch frame.Type {
	case domain.JoinChatRoomFrame:
		var req JoinRoomRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.ChatID == "" {
			slog.Error("Dropping malformed join-chat-room frame", "user_id", client.identity.UserID, "error", err)
			return
		}
		s.handleJoinChatRoom(client, req.ChatID)

	case domain.LeaveChatRoomFrame:
		var req JoinRoomRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.ChatID == "" {
			slog.Error("Dropping malformed leave-chat-room frame", "user_id", client.identity.UserID, "error", err)
			return
		}
		s.handleLeaveChatRoom(client, req.ChatID)

	case domain.SendMessageFrame:
		var req SendMessageRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.ChatID == "" || req.Content == "" {
			slog.Error("Dropping malformed send-message frame", "user_id", client.identity.UserID, "error", err)
			return
		}
		s.handleSendMessage(ctx, client, &req)

	case domain.MarkAsReadFrame:
		var req MarkAsReadRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.ChatID == "" || req.LastReadMessageID == "" {
			slog.Error("Dropping malformed mark-as-read frame", "user_id", client.identity.UserID, "error", err)
			return
		}
		s.handleMarkAsRead(ctx, client, &req)

	default:
		slog.Warn("Unknown client frame type", "user_id", client.identity.UserID, "type", frame.Type)
	}
}

func (s *Service) handleJoinChatRoom(client *Client, chatID string) {
	s.hub.Join(client, domain.ChatRoom(chatID))

	s.hub.Emit(domain.ChatRoom(chatID), domain.UserJoinedEmit, &domain.PresencePayload{
		ChatID:   chatID,
		UserID:   client.identity.UserID,
		Username: client.identity.Username,
		Online:   true,
	})
}

func (s *Service) handleLeaveChatRoom(client *Client, chatID string) {
	s.hub.Leave(client, domain.ChatRoom(chatID))

	s.hub.Emit(domain.ChatRoom(chatID), domain.UserLeftEmit, &domain.PresencePayload{
		ChatID:   chatID,
		UserID:   client.identity.UserID,
		Username: client.identity.Username,
		Online:   false,
	})
}

func (s *Service) handleSendMessage(ctx context.Context, client *Client, req *SendMessageRequest) {
	msg, err := s.messages.InsertMessage(ctx, req.ChatID, client.identity.UserID, req.Content)
	if err != nil {
		slog.Error("Failed to save message",
			"user_id", client.identity.UserID,
			"chat_id", req.ChatID,
			"error", err,
		)
		return
	}

	// Ack to the sender only, then fan out to the chat room.
	s.sendDirect(client, domain.MessageConfirmedEmit, &MessageConfirmed{
		TempID:    req.TempID,
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		CreatedAt: msg.CreatedAt,
	})

	s.hub.Emit(domain.ChatRoom(req.ChatID), domain.NewMessageEmit, msg)
}

func (s *Service) handleMarkAsRead(ctx context.Context, client *Client, req *MarkAsReadRequest) {
	if err := s.messages.MarkRead(ctx, req.ChatID, client.identity.UserID, req.LastReadMessageID); err != nil {
		slog.Error("Failed to persist read marker",
			"user_id", client.identity.UserID,
			"chat_id", req.ChatID,
			"error", err,
		)
		return
	}

	s.hub.Emit(domain.ChatRoom(req.ChatID), domain.MessagesReadEmit, &domain.MessagesReadPayload{
		ChatID:            req.ChatID,
		UserID:            client.identity.UserID,
		LastReadMessageID: req.LastReadMessageID,
	})
}

func (s *Service) sendDirect(client *Client, event domain.EventType, payload any) {
	frame, err := domain.NewEnvelope(event, payload)
	if err != nil {
		slog.Error("Failed to marshal direct frame", "event", event, "error", err)
		return
	}

	select {
	case client.send <- frame:
	case <-client.done:
	default:
		slog.Warn("Dropping direct frame for slow client", "user_id", client.identity.UserID, "event", event)
	}
}

func (s *Service) write(ctx context.Context, client *Client) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}

		case <-client.done:
			// Flush buffered frames, then run the close handshake. Closing
			// the underlying connection unblocks the read pump.
			for flushed := false; !flushed; {
				select {
				case frame := <-client.send:
					client.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						flushed = true
					}
				default:
					flushed = true
				}
			}
			client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			client.conn.Close()
			return nil

		case frame := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Error("Failed to write frame", "user_id", client.identity.UserID, "error", err)
				return err
			}
		}
	}
}
