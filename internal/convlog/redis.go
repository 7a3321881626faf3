package convlog

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	logKeyPrefix = "convlog:"
	defaultTTL   = 24 * time.Hour
	recordBudget = 2 * time.Second
)

// Redis appends entries to a per-session list with a TTL. Writes are
// bounded and best-effort; a down Redis only costs audit records.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Record(ctx context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	val, err := json.Marshal(e)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, recordBudget)
	defer cancel()

	key := logKeyPrefix + e.SessionID
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, val)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		metricRecordErrors.Inc()
		log.Printf("[convlog] record failed session=%s: %v", e.SessionID, err)
		return
	}
	metricRecords.Inc()
}

var _ Logger = (*Redis)(nil)
