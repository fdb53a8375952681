package repository

import (
	"context"
	"database/sql"
	"fmt"

	"chatrelay/internal/domain"

	"github.com/google/uuid"
)

func (r *Repository) CreateChat(ctx context.Context, name *string, createdBy string, memberIDs []string) (*domain.Chat, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin create chat: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO chats (id, name, created_by, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, name, created_by, created_at;
	`

	var chat domain.Chat
	if err := tx.QueryRowxContext(ctx, query, uuid.NewString(), name, createdBy).StructScan(&chat); err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	memberQuery := `
		INSERT INTO chat_members (chat_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (chat_id, user_id) DO NOTHING;
	`

	for _, memberID := range memberIDs {
		if _, err := tx.ExecContext(ctx, memberQuery, chat.ID, memberID); err != nil {
			return nil, fmt.Errorf("insert chat member %s: %w", memberID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create chat: %w", err)
	}
	return &chat, nil
}

// DeleteChat removes the chat and returns the member list as it stood at
// deletion time, for the fan-out notification.
func (r *Repository) DeleteChat(ctx context.Context, chatID, userID string) ([]string, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin delete chat: %w", err)
	}
	defer tx.Rollback()

	var memberIDs []string
	if err := tx.SelectContext(ctx, &memberIDs,
		`SELECT user_id FROM chat_members WHERE chat_id = $1;`, chatID); err != nil {
		return nil, fmt.Errorf("select chat members: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM chats WHERE id = $1 AND created_by = $2;`, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("delete chat %s: %w", chatID, err)
	}

	rowsAff, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAff == 0 {
		return nil, domain.ErrNotFound.WithMessage("chat not found or not owned by user")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete chat: %w", err)
	}
	return memberIDs, nil
}

func (r *Repository) GetChatMembers(ctx context.Context, chatID string) ([]domain.ChatMemberRef, error) {
	query := `
		SELECT u.id, u.username
		FROM chat_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.chat_id = $1
		ORDER BY u.id;
	`

	var members []domain.ChatMemberRef
	if err := r.db.SelectContext(ctx, &members, query, chatID); err != nil {
		return nil, fmt.Errorf("select members of chat %s: %w", chatID, err)
	}
	return members, nil
}
