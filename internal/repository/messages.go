package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/domain"

	"github.com/google/uuid"
)

func (r *Repository) InsertMessage(ctx context.Context, chatID, senderID, content string) (*domain.Message, error) {
	query := `
		INSERT INTO messages (id, chat_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, chat_id, sender_id, content, created_at;
	`

	var msg domain.Message
	err := r.db.QueryRowxContext(ctx, query, uuid.NewString(), chatID, senderID, content).StructScan(&msg)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (r *Repository) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, content, created_at, edited_at, deleted_at
		FROM messages
		WHERE id = $1 AND deleted_at IS NULL;
	`

	var msg domain.Message
	err := r.db.GetContext(ctx, &msg, query, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound.WithMessage("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	return &msg, nil
}

// EditMessage updates the content and returns the edited message together
// with the sender's username, which the display projection carries.
func (r *Repository) EditMessage(ctx context.Context, messageID, content string) (*domain.Message, string, error) {
	query := `
		UPDATE messages m
		SET content = $1, edited_at = NOW()
		FROM users u
		WHERE m.id = $2 AND m.deleted_at IS NULL AND u.id = m.sender_id
		RETURNING m.id, m.chat_id, m.sender_id, u.username AS sender_name, m.content, m.created_at, m.edited_at;
	`

	var row struct {
		domain.Message
		SenderName string `db:"sender_name"`
	}
	err := r.db.QueryRowxContext(ctx, query, content, messageID).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", domain.ErrNotFound.WithMessage("message not found")
	}
	if err != nil {
		return nil, "", fmt.Errorf("edit message %s: %w", messageID, err)
	}
	return &row.Message, row.SenderName, nil
}

// SoftDeleteMessage marks the message deleted and reports the chat it
// belonged to, so the caller can publish the notification.
func (r *Repository) SoftDeleteMessage(ctx context.Context, messageID string) (chatID string, deletedAt time.Time, err error) {
	query := `
		UPDATE messages
		SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING chat_id, deleted_at;
	`

	err = r.db.QueryRowContext(ctx, query, messageID).Scan(&chatID, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, domain.ErrNotFound.WithMessage("message not found")
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return chatID, deletedAt, nil
}

func (r *Repository) MarkRead(ctx context.Context, chatID, userID, lastReadMessageID string) error {
	query := `
		INSERT INTO read_markers (chat_id, user_id, last_read_message_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chat_id, user_id)
		DO UPDATE SET last_read_message_id = EXCLUDED.last_read_message_id, updated_at = NOW();
	`

	if _, err := r.db.ExecContext(ctx, query, chatID, userID, lastReadMessageID); err != nil {
		return fmt.Errorf("mark read chat %s user %s: %w", chatID, userID, err)
	}
	return nil
}
