package fallback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	itemKeyPrefix = "fallback:item:"
	pendingKey    = "fallback:pending"
)

type RedisQueue struct {
	client   redis.UniversalClient
	clock    clockwork.Clock
	notifier Notifier
	ttl      time.Duration
}

// NewRedisQueue keeps settled items for ttl so receipts stay pollable for a
// while; zero keeps them forever.
func NewRedisQueue(client redis.UniversalClient, clock clockwork.Clock, notifier Notifier, ttl time.Duration) *RedisQueue {
	return &RedisQueue{
		client:   client,
		clock:    clock,
		notifier: notifier,
		ttl:      ttl,
	}
}

func itemKey(id string) string {
	return itemKeyPrefix + id
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte, reason string) (*Item, error) {
	now := q.clock.Now().UTC()
	item := Item{
		ID:         uuid.NewString(),
		Payload:    append([]byte(nil), payload...),
		Reason:     reason,
		Status:     StatusQueued,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, itemKey(item.ID), map[string]any{
			"payload":     string(item.Payload),
			"reason":      item.Reason,
			"status":      string(item.Status),
			"attempts":    0,
			"enqueued_at": now.Format(time.RFC3339Nano),
			"updated_at":  now.Format(time.RFC3339Nano),
		})
		pipe.LPush(ctx, pendingKey, item.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue fallback item: %w", err)
	}

	if q.notifier != nil {
		if err := q.notifier.Notify(ctx, item); err != nil {
			log.Warn().Err(err).Str("queue_id", item.ID).Msg("fallback notify failed")
		}
	}

	return &item, nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*Item, error) {
	fields, err := q.client.HGetAll(ctx, itemKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load fallback item: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrItemNotFound
	}
	return decodeItem(id, fields)
}

// dequeueScript pops ids until it finds one still queued. Items abandoned
// while waiting are dropped from the list here.
var dequeueScript = redis.NewScript(`
while true do
  local id = redis.call("RPOP", KEYS[1])
  if not id then
    return false
  end
  local key = ARGV[1] .. id
  if redis.call("HGET", key, "status") == "queued" then
    redis.call("HSET", key, "status", "processing", "updated_at", ARGV[2])
    redis.call("HINCRBY", key, "attempts", 1)
    return id
  end
end
`)

func (q *RedisQueue) Dequeue(ctx context.Context) (*Item, error) {
	now := q.clock.Now().UTC().Format(time.RFC3339Nano)

	id, err := dequeueScript.Run(ctx, q.client, []string{pendingKey}, itemKeyPrefix, now).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("dequeue fallback item: %w", err)
	}
	return q.Get(ctx, id)
}

// transitionScript sets status only when the current one is listed in
// ARGV[4:]. Returns -1 for a missing item, 0 for an ineligible status.
var transitionScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "status")
if not cur then
  return -1
end
for i = 4, #ARGV do
  if cur == ARGV[i] then
    redis.call("HSET", KEYS[1], "status", ARGV[1], "updated_at", ARGV[2])
    if ARGV[3] ~= "" then
      redis.call("HSET", KEYS[1], "last_error", ARGV[3])
    end
    return 1
  end
end
return 0
`)

func (q *RedisQueue) transition(ctx context.Context, id string, to Status, lastError string, from ...Status) error {
	args := []any{string(to), q.clock.Now().UTC().Format(time.RFC3339Nano), lastError}
	for _, s := range from {
		args = append(args, string(s))
	}

	res, err := transitionScript.Run(ctx, q.client, []string{itemKey(id)}, args...).Int()
	if err != nil {
		return fmt.Errorf("mark fallback item %s: %w", to, err)
	}
	switch res {
	case -1:
		return ErrItemNotFound
	case 0:
		return ErrInvalidTransition
	}

	if q.ttl > 0 {
		if err := q.client.Expire(ctx, itemKey(id), q.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("queue_id", id).Msg("set fallback item ttl failed")
		}
	}
	return nil
}

func (q *RedisQueue) MarkProcessed(ctx context.Context, id string) error {
	return q.transition(ctx, id, StatusProcessed, "", StatusProcessing)
}

func (q *RedisQueue) MarkAbandoned(ctx context.Context, id, reason string) error {
	return q.transition(ctx, id, StatusAbandoned, reason, StatusQueued, StatusProcessing)
}

func decodeItem(id string, f map[string]string) (*Item, error) {
	item := &Item{
		ID:        id,
		Payload:   []byte(f["payload"]),
		Reason:    f["reason"],
		Status:    Status(f["status"]),
		LastError: f["last_error"],
	}

	if v := f["attempts"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode attempts: %w", err)
		}
		item.Attempts = n
	}

	var err error
	if item.EnqueuedAt, err = parseTime(f["enqueued_at"]); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(f["updated_at"]); err != nil {
		return nil, err
	}
	return item, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode timestamp %q: %w", v, err)
	}
	return t, nil
}
