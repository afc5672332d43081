package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
)

// ErrEmpty is returned when a receive long-poll expires without a message.
var ErrEmpty = errors.New("queue empty")

// Config holds queue behavior settings.
type Config struct {
	// Name prefixes every Redis key used by the queue.
	Name string
	// Visibility is how long a received message stays invisible before the
	// reaper redelivers it.
	Visibility time.Duration
	// ReceiveWait bounds one Receive long-poll.
	ReceiveWait time.Duration
	// MaxReceive is the delivery count after which a message goes to the DLQ.
	MaxReceive int
}

// Message is one received work item. ID stays stable across redeliveries.
type Message struct {
	ID           string
	Body         []byte
	ReceiveCount int
	// DeadLettered marks a message that exceeded MaxReceive. Its payload has
	// already been copied to the DLQ and removed from the queue; the consumer
	// must record a terminal outcome for it instead of processing it again.
	DeadLettered bool
}

// RedisQueue is a durable at-least-once queue on Redis. Pending message ids
// sit in a list; Receive moves an id atomically to the in-flight list and
// stamps a visibility deadline, after which the reaper hands it back to
// pending. BLMOVE keeps every id in exactly one of the two lists, so a crash
// mid-receive never loses a message.
type RedisQueue struct {
	client *redis.Client
	cfg    Config
	logger *observability.Logger

	// now is swapped out in tests.
	now func() time.Time
}

// NewRedisQueue creates a queue and verifies connectivity.
func NewRedisQueue(url string, cfg Config, logger *observability.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse queue url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue redis ping failed: %w", err)
	}

	if cfg.Name == "" {
		cfg.Name = "enrichment"
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 300 * time.Second
	}
	if cfg.ReceiveWait <= 0 {
		cfg.ReceiveWait = 20 * time.Second
	}
	if cfg.MaxReceive <= 0 {
		cfg.MaxReceive = 5
	}

	return &RedisQueue{client: client, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) pendingKey() string   { return q.cfg.Name + ":pending" }
func (q *RedisQueue) inflightKey() string  { return q.cfg.Name + ":inflight" }
func (q *RedisQueue) payloadKey() string   { return q.cfg.Name + ":messages" }
func (q *RedisQueue) receivesKey() string  { return q.cfg.Name + ":receives" }
func (q *RedisQueue) deadlinesKey() string { return q.cfg.Name + ":deadlines" }
func (q *RedisQueue) dlqKey() string       { return q.cfg.Name + ":dlq" }

// Send publishes one message.
func (q *RedisQueue) Send(ctx context.Context, body []byte) (string, error) {
	id := uuid.NewString()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.payloadKey(), id, body)
	pipe.LPush(ctx, q.pendingKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue send: %w", err)
	}
	return id, nil
}

// Receive blocks up to the configured wait for one message and moves it in
// flight. Returns ErrEmpty when the poll expires. Messages past the receive
// cap come back once more with DeadLettered set so the consumer can account
// for them before the payload is gone for good.
func (q *RedisQueue) Receive(ctx context.Context) (*Message, error) {
	for {
		id, err := q.client.BLMove(ctx, q.pendingKey(), q.inflightKey(), "RIGHT", "LEFT", q.cfg.ReceiveWait).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("queue receive: %w", err)
		}

		count, err := q.client.HIncrBy(ctx, q.receivesKey(), id, 1).Result()
		if err != nil {
			return nil, fmt.Errorf("queue receive count: %w", err)
		}
		if int(count) > q.cfg.MaxReceive {
			body, err := q.moveToDLQ(ctx, id)
			if err != nil {
				return nil, err
			}
			if body == nil {
				continue
			}
			return &Message{ID: id, Body: body, ReceiveCount: int(count), DeadLettered: true}, nil
		}

		body, err := q.client.HGet(ctx, q.payloadKey(), id).Bytes()
		if errors.Is(err, redis.Nil) {
			// Payload already deleted; drop the stale pointer.
			q.client.LRem(ctx, q.inflightKey(), 1, id)
			q.client.HDel(ctx, q.receivesKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("queue receive payload: %w", err)
		}

		deadline := q.now().Add(q.cfg.Visibility).UnixMilli()
		if err := q.client.HSet(ctx, q.deadlinesKey(), id, deadline).Err(); err != nil {
			return nil, fmt.Errorf("queue stamp deadline: %w", err)
		}
		return &Message{ID: id, Body: body, ReceiveCount: int(count)}, nil
	}
}

// ExtendVisibility pushes a message's redelivery deadline out by d. Used for
// throttled items that must come back later rather than fail. A no-op for
// messages no longer in flight.
func (q *RedisQueue) ExtendVisibility(ctx context.Context, id string, d time.Duration) error {
	if _, err := q.client.LPos(ctx, q.inflightKey(), id, redis.LPosArgs{}).Result(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("queue extend visibility: %w", err)
	}
	deadline := q.now().Add(d).UnixMilli()
	if err := q.client.HSet(ctx, q.deadlinesKey(), id, deadline).Err(); err != nil {
		return fmt.Errorf("queue extend visibility: %w", err)
	}
	return nil
}

// Delete acknowledges a message permanently.
func (q *RedisQueue) Delete(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.inflightKey(), 1, id)
	pipe.HDel(ctx, q.deadlinesKey(), id)
	pipe.HDel(ctx, q.payloadKey(), id)
	pipe.HDel(ctx, q.receivesKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue delete: %w", err)
	}
	return nil
}

// Reap returns expired in-flight messages to the pending list. An in-flight
// id with no stamped deadline counts as expired; redelivering it early is a
// duplicate the at-least-once contract already allows. Returns how many were
// redelivered.
func (q *RedisQueue) Reap(ctx context.Context) (int, error) {
	ids, err := q.client.LRange(ctx, q.inflightKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("queue reap scan: %w", err)
	}

	now := q.now().UnixMilli()
	redelivered := 0
	for _, id := range ids {
		raw, err := q.client.HGet(ctx, q.deadlinesKey(), id).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return redelivered, fmt.Errorf("queue reap deadline: %w", err)
		}
		if err == nil {
			deadline, parseErr := strconv.ParseInt(raw, 10, 64)
			if parseErr == nil && deadline > now {
				continue
			}
		}

		removed, err := q.client.LRem(ctx, q.inflightKey(), 1, id).Result()
		if err != nil {
			return redelivered, fmt.Errorf("queue reap remove: %w", err)
		}
		if removed == 0 {
			// Another reaper or a Delete won the race.
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.HDel(ctx, q.deadlinesKey(), id)
		pipe.LPush(ctx, q.pendingKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return redelivered, fmt.Errorf("queue reap requeue: %w", err)
		}
		redelivered++
	}
	return redelivered, nil
}

// RunReaper redelivers expired messages on a fixed interval until ctx ends.
func (q *RedisQueue) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.Reap(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				q.logger.Error().Err(err).Msg("Queue reaper pass failed")
				continue
			}
			if n > 0 {
				q.logger.Info().Int("redelivered", n).Msg("Redelivered expired queue messages")
			}
		}
	}
}

// moveToDLQ copies the payload onto the DLQ list and removes every trace of
// the message from the queue, returning the payload so the caller can still
// account for the item.
func (q *RedisQueue) moveToDLQ(ctx context.Context, id string) ([]byte, error) {
	body, err := q.client.HGet(ctx, q.payloadKey(), id).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("queue dlq read: %w", err)
	}

	pipe := q.client.TxPipeline()
	if len(body) > 0 {
		pipe.LPush(ctx, q.dlqKey(), body)
	}
	pipe.LRem(ctx, q.inflightKey(), 1, id)
	pipe.HDel(ctx, q.deadlinesKey(), id)
	pipe.HDel(ctx, q.payloadKey(), id)
	pipe.HDel(ctx, q.receivesKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue dlq move: %w", err)
	}

	q.logger.Warn().Str("message_id", id).Msg("Message exceeded max receives, moved to DLQ")
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}
