package repository

import (
	"context"
	"fmt"
	"time"
)

// SetLastSeen records the best-effort last-seen timestamp written when the
// user's final connection closes.
func (r *Repository) SetLastSeen(ctx context.Context, userID string, t time.Time) error {
	query := `
		UPDATE users
		SET last_seen_at = $1
		WHERE id = $2;
	`

	if _, err := r.db.ExecContext(ctx, query, t, userID); err != nil {
		return fmt.Errorf("set last seen for user %s: %w", userID, err)
	}
	return nil
}
