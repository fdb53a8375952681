package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/domain"
)

// Store is the slice of the relational repository the producer routes need.
type Store interface {
	CreateChat(ctx context.Context, name *string, createdBy string, memberIDs []string) (*domain.Chat, error)
	DeleteChat(ctx context.Context, chatID, userID string) ([]string, error)
	GetChatMembers(ctx context.Context, chatID string) ([]domain.ChatMemberRef, error)
	EditMessage(ctx context.Context, messageID, content string) (*domain.Message, string, error)
	SoftDeleteMessage(ctx context.Context, messageID string) (string, time.Time, error)
}

// Publisher pushes typed envelopes onto the notification bus. A publish
// failure never fails the HTTP request: the relational store is the source
// of truth and clients recover stale state on their next fetch.
type Publisher interface {
	PublishEvent(ctx context.Context, t domain.EventType, v any) error
}

// Handler hosts the HTTP mutation routes that play the producer role: each
// one commits to the relational store first, then publishes the matching
// domain event for the gateways to fan out.
type Handler struct {
	store     Store
	publisher Publisher
}

func NewHandler(store Store, publisher Publisher) *Handler {
	return &Handler{
		store:     store,
		publisher: publisher,
	}
}

func (h *Handler) Register(mux *http.ServeMux, authenticator *auth.Authenticator) {
	authed := AuthMiddleware(authenticator)

	mux.Handle("POST /chats", authed(http.HandlerFunc(h.handleCreateChat)))
	mux.Handle("DELETE /chats/{chat_id}", authed(http.HandlerFunc(h.handleDeleteChat)))
	mux.Handle("PATCH /messages/{message_id}", authed(http.HandlerFunc(h.handleEditMessage)))
	mux.Handle("DELETE /messages/{message_id}", authed(http.HandlerFunc(h.handleDeleteMessage)))
}

func (h *Handler) publish(ctx context.Context, t domain.EventType, v any) {
	if err := h.publisher.PublishEvent(ctx, t, v); err != nil {
		slog.Error("Failed to publish event, live update skipped", "type", t, "error", err)
	}
}

func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	identity, err := IdentityFromContext(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	var in CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		handleError(w, domain.ErrInvalidRequest)
		return
	}
	if len(in.MemberIDs) == 0 {
		handleError(w, domain.ErrInvalidRequest.WithMessage("memberIds must not be empty"))
		return
	}

	memberIDs := in.MemberIDs
	if !contains(memberIDs, identity.UserID) {
		memberIDs = append(memberIDs, identity.UserID)
	}

	chat, err := h.store.CreateChat(r.Context(), in.Name, identity.UserID, memberIDs)
	if err != nil {
		handleError(w, err)
		return
	}

	members, err := h.store.GetChatMembers(r.Context(), chat.ID)
	if err != nil {
		handleError(w, err)
		return
	}

	name := ""
	if chat.Name != nil {
		name = *chat.Name
	}
	h.publish(r.Context(), domain.ChatCreatedEvent, &domain.ChatCreatedPayload{
		ChatID:    chat.ID,
		Name:      name,
		Members:   members,
		CreatedBy: chat.CreatedBy,
		CreatedAt: chat.CreatedAt,
	})

	writeJSON(w, http.StatusCreated, chat)
}

func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	identity, err := IdentityFromContext(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	chatID := r.PathValue("chat_id")
	if chatID == "" {
		handleError(w, domain.ErrInvalidRequest)
		return
	}

	memberIDs, err := h.store.DeleteChat(r.Context(), chatID, identity.UserID)
	if err != nil {
		handleError(w, err)
		return
	}

	h.publish(r.Context(), domain.ChatDeletedEvent, &domain.ChatDeletedPayload{
		ChatID:    chatID,
		MemberIDs: memberIDs,
		UserID:    identity.UserID,
	})

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("message_id")
	if messageID == "" {
		handleError(w, domain.ErrInvalidRequest)
		return
	}

	var in EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Content == "" {
		handleError(w, domain.ErrInvalidRequest)
		return
	}

	msg, senderName, err := h.store.EditMessage(r.Context(), messageID, in.Content)
	if err != nil {
		handleError(w, err)
		return
	}

	h.publish(r.Context(), domain.MessageEditedEvent, &domain.MessageEditedPayload{
		MessageID:  msg.ID,
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		SenderName: senderName,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
		EditedAt:   msg.EditedAt,
	})

	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("message_id")
	if messageID == "" {
		handleError(w, domain.ErrInvalidRequest)
		return
	}

	chatID, deletedAt, err := h.store.SoftDeleteMessage(r.Context(), messageID)
	if err != nil {
		handleError(w, err)
		return
	}

	h.publish(r.Context(), domain.MessageDeletedEvent, &domain.MessageDeletedPayload{
		ChatID:    chatID,
		MessageID: messageID,
		Action:    "soft-delete",
		DeletedAt: deletedAt,
	})

	w.WriteHeader(http.StatusOK)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
