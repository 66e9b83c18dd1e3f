package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "stripe:event:"

// EventDeduper remembers which Stripe event ids were already accepted within
// the retention window. Redis SETNX is the fast path; when Redis is down the
// in-memory fallback keeps duplicate suppression working for this process.
type EventDeduper struct {
	redis     *redis.Client
	retention time.Duration

	mu       sync.Mutex
	fallback map[string]time.Time
}

func NewEventDeduper(rdb *redis.Client, retention time.Duration) *EventDeduper {
	return &EventDeduper{
		redis:     rdb,
		retention: retention,
		fallback:  make(map[string]time.Time),
	}
}

// Seen marks the event id and reports whether it had already been marked.
// Failures on the Redis side degrade to the local map rather than failing
// the webhook.
func (d *EventDeduper) Seen(ctx context.Context, eventID string) bool {
	if d.redis != nil {
		ok, err := d.redis.SetNX(ctx, dedupKeyPrefix+eventID, 1, d.retention).Result()
		if err == nil {
			return !ok
		}
		log.Warnf("[Dedup] Redis unavailable, falling back to in-memory set: %v", err)
	}
	return d.seenLocal(eventID)
}

func (d *EventDeduper) seenLocal(eventID string) bool {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, at := range d.fallback {
		if now.Sub(at) > d.retention {
			delete(d.fallback, id)
		}
	}
	if at, ok := d.fallback[eventID]; ok && now.Sub(at) <= d.retention {
		return true
	}
	d.fallback[eventID] = now
	return false
}
