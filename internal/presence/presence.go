package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// connTTL is a safety net: if a gateway process dies without running its
// disconnect handlers, stale presence keys expire on their own.
const connTTL = 5 * time.Minute

// LastSeenRecorder persists the best-effort last-seen timestamp when a user
// goes fully offline. Implemented by the relational repository.
type LastSeenRecorder interface {
	SetLastSeen(ctx context.Context, userID string, t time.Time) error
}

// Store tracks online/offline per user in Redis. Presence is reference
// counted per live connection: a user with two tabs open stays online when
// one of them closes. Online means count > 0.
type Store struct {
	redis    *redis.Client
	lastSeen LastSeenRecorder
}

func NewStore(rdb *redis.Client, lastSeen LastSeenRecorder) *Store {
	return &Store{
		redis:    rdb,
		lastSeen: lastSeen,
	}
}

func key(userID string) string {
	return "presence:" + userID
}

// Connect registers one live connection for the user. Returns true when this
// connection took the user from offline to online.
func (s *Store) Connect(ctx context.Context, userID string) (bool, error) {
	count, err := s.redis.Incr(ctx, key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence incr for user %s: %w", userID, err)
	}

	if err := s.redis.Expire(ctx, key(userID), connTTL).Err(); err != nil {
		slog.Warn("Failed to refresh presence ttl", "user_id", userID, "error", err)
	}

	return count == 1, nil
}

// Touch refreshes the safety TTL. Called from the connection heartbeat.
func (s *Store) Touch(ctx context.Context, userID string) error {
	return s.redis.Expire(ctx, key(userID), connTTL).Err()
}

// Disconnect unregisters one connection. When the last connection is gone
// the key is removed and a last-seen timestamp is recorded best-effort.
// Returns true when the user went fully offline.
func (s *Store) Disconnect(ctx context.Context, userID string) (bool, error) {
	count, err := s.redis.Decr(ctx, key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence decr for user %s: %w", userID, err)
	}

	if count > 0 {
		return false, nil
	}

	if err := s.redis.Del(ctx, key(userID)).Err(); err != nil {
		slog.Warn("Failed to delete presence key", "user_id", userID, "error", err)
	}

	if s.lastSeen != nil {
		if err := s.lastSeen.SetLastSeen(ctx, userID, time.Now()); err != nil {
			slog.Warn("Failed to record last seen", "user_id", userID, "error", err)
		}
	}

	return true, nil
}

func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	count, err := s.redis.Get(ctx, key(userID)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("presence get for user %s: %w", userID, err)
	}
	return count > 0, nil
}
