package domain

import "time"

// Identity is the validated user record attached to a connection at
// admission. It is set exactly once and never mutated; a role or avatar
// change requires a fresh credential and a new connection.
type Identity struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatarUrl"`
}

type Chat struct {
	ID        string    `json:"id" db:"id"`
	Name      *string   `json:"name,omitempty" db:"name"`
	CreatedBy string    `json:"createdBy" db:"created_by"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type Message struct {
	ID        string     `json:"id" db:"id"`
	ChatID    string     `json:"chatId" db:"chat_id"`
	SenderID  string     `json:"senderId" db:"sender_id"`
	Content   string     `json:"content" db:"content"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	EditedAt  *time.Time `json:"editedAt,omitempty" db:"edited_at"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}

type User struct {
	ID         string     `json:"id" db:"id"`
	Username   string     `json:"username" db:"username"`
	Email      string     `json:"email" db:"email"`
	Role       string     `json:"role" db:"role"`
	AvatarURL  *string    `json:"avatarUrl,omitempty" db:"avatar_url"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`
}
