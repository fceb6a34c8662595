// Package locks provides an optional redis advisory lock per booking. The
// database row lock is the correctness backstop; this only sheds contending
// requests before they queue on the row.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrBookingBusy = errors.New("booking_busy")

type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

// NewLocker returns nil when no redis client is configured; callers treat a
// nil Locker as a no-op.
func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    30 * time.Second,
	}
}

// TryLock claims the per-booking lock. The returned token must be passed to
// Release. A held lock returns ErrBookingBusy.
func (l *Locker) TryLock(ctx context.Context, bookingID snowflake.ID) (string, error) {
	if l == nil || l.client == nil {
		return "", nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(bookingID), token, l.ttl).Result()
	if err != nil {
		// Redis being down never blocks transitions; the row lock holds.
		return "", nil
	}
	if !ok {
		return "", ErrBookingBusy
	}
	return token, nil
}

// Release deletes the lock only when the token still owns it.
func (l *Locker) Release(ctx context.Context, bookingID snowflake.ID, token string) {
	if l == nil || l.client == nil || token == "" {
		return
	}
	_ = l.script.Run(ctx, l.client, []string{lockKey(bookingID)}, token).Err()
}

func lockKey(bookingID snowflake.ID) string {
	return fmt.Sprintf("booking:lock:%s", bookingID)
}
