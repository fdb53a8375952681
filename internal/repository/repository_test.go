package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"chatrelay/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestSetLastSeen(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now()
	mock.ExpectExec("UPDATE users").
		WithArgs(now, "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetLastSeen(context.Background(), "u1", now); err != nil {
		t.Fatalf("set last seen: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInsertMessage(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "chat_id", "sender_id", "content", "created_at"}).
		AddRow("m1", "c1", "u1", "hello", now)

	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "c1", "u1", "hello").
		WillReturnRows(rows)

	msg, err := repo.InsertMessage(context.Background(), "c1", "u1", "hello")
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if msg.ID != "m1" || msg.ChatID != "c1" || msg.SenderID != "u1" || msg.Content != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEditMessageReturnsSenderName(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "chat_id", "sender_id", "sender_name", "content", "created_at", "edited_at"}).
		AddRow("m1", "c1", "u1", "alice", "edited", now, now)

	mock.ExpectQuery("UPDATE messages").
		WithArgs("edited", "m1").
		WillReturnRows(rows)

	msg, senderName, err := repo.EditMessage(context.Background(), "m1", "edited")
	if err != nil {
		t.Fatalf("edit message: %v", err)
	}
	if msg.ID != "m1" || msg.Content != "edited" || msg.EditedAt == nil {
		t.Errorf("unexpected message: %+v", msg)
	}
	if senderName != "alice" {
		t.Errorf("sender name: expected alice, got %q", senderName)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEditMessageNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("UPDATE messages").
		WithArgs("new content", "missing").
		WillReturnError(sql.ErrNoRows)

	_, _, err := repo.EditMessage(context.Background(), "missing", "new content")
	var appErr *domain.AppError
	if !errors.As(err, &appErr) || appErr.Code != domain.ErrNotFound.Code {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestSoftDeleteMessage(t *testing.T) {
	repo, mock := newMockRepo(t)

	deletedAt := time.Now()
	rows := sqlmock.NewRows([]string{"chat_id", "deleted_at"}).AddRow("c1", deletedAt)

	mock.ExpectQuery("UPDATE messages").
		WithArgs("m1").
		WillReturnRows(rows)

	chatID, gotDeletedAt, err := repo.SoftDeleteMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if chatID != "c1" {
		t.Errorf("chat id: expected c1, got %q", chatID)
	}
	if !gotDeletedAt.Equal(deletedAt) {
		t.Errorf("deleted at: expected %v, got %v", deletedAt, gotDeletedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSoftDeleteMessageAlreadyDeleted(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("UPDATE messages").
		WithArgs("m1").
		WillReturnError(sql.ErrNoRows)

	_, _, err := repo.SoftDeleteMessage(context.Background(), "m1")
	var appErr *domain.AppError
	if !errors.As(err, &appErr) || appErr.Code != domain.ErrNotFound.Code {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestMarkRead(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO read_markers").
		WithArgs("c1", "u1", "m9").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkRead(context.Background(), "c1", "u1", "m9"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateChatInsertsAllMembers(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO chats").
		WithArgs(sqlmock.AnyArg(), nil, "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_by", "created_at"}).
			AddRow("c1", nil, "u1", now))
	mock.ExpectExec("INSERT INTO chat_members").
		WithArgs("c1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO chat_members").
		WithArgs("c1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	chat, err := repo.CreateChat(context.Background(), nil, "u1", []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if chat.ID != "c1" || chat.CreatedBy != "u1" {
		t.Errorf("unexpected chat: %+v", chat)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDeleteChatNotOwned(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id FROM chat_members").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2"))
	mock.ExpectExec("DELETE FROM chats").
		WithArgs("c1", "intruder").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.DeleteChat(context.Background(), "c1", "intruder")
	var appErr *domain.AppError
	if !errors.As(err, &appErr) || appErr.Code != domain.ErrNotFound.Code {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}
