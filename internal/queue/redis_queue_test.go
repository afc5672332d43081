package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
)

func newTestQueue(t *testing.T, cfg Config) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	if cfg.ReceiveWait == 0 {
		cfg.ReceiveWait = 50 * time.Millisecond
	}
	q, err := NewRedisQueue("redis://"+mr.Addr(), cfg, observability.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

// advance shifts the queue's clock without touching real time.
func advance(q *RedisQueue, d time.Duration) {
	base := time.Now()
	q.now = func() time.Time { return base.Add(d) }
}

func TestSendReceiveDelete(t *testing.T) {
	q := newTestQueue(t, Config{Name: "t", Visibility: time.Minute, MaxReceive: 5})
	ctx := context.Background()

	id, err := q.Send(ctx, []byte(`{"work":1}`))
	require.NoError(t, err)

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, []byte(`{"work":1}`), msg.Body)
	assert.Equal(t, 1, msg.ReceiveCount)
	assert.False(t, msg.DeadLettered)

	require.NoError(t, q.Delete(ctx, msg.ID))

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestReceiveEmptyQueue(t *testing.T) {
	q := newTestQueue(t, Config{Name: "t", Visibility: time.Minute, MaxReceive: 5})
	_, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestReceivedMessageInvisibleUntilReaped(t *testing.T) {
	q := newTestQueue(t, Config{Name: "t", Visibility: time.Minute, MaxReceive: 5})
	ctx := context.Background()

	_, err := q.Send(ctx, []byte("work"))
	require.NoError(t, err)
	first, err := q.Receive(ctx)
	require.NoError(t, err)

	// Still within the visibility window: nothing to reap, nothing to receive.
	n, err := q.Reap(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	advance(q, 2*time.Minute)
	n, err = q.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.Body, again.Body)
	assert.Equal(t, 2, again.ReceiveCount)
}

func TestExtendVisibilityDefersRedelivery(t *testing.T) {
	q := newTestQueue(t, Config{Name: "t", Visibility: time.Minute, MaxReceive: 5})
	ctx := context.Background()

	_, err := q.Send(ctx, []byte("throttled item"))
	require.NoError(t, err)
	msg, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.ExtendVisibility(ctx, msg.ID, time.Hour))

	advance(q, 2*time.Minute)
	n, err := q.Reap(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "extended deadline must outlive the original visibility")

	advance(q, 2*time.Hour)
	n, err = q.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExtendVisibilityAfterDeleteIsNoop(t *testing.T) {
	q := newTestQueue(t, Config{Name: "t", Visibility: time.Minute, MaxReceive: 5})
	ctx := context.Background()

	_, err := q.Send(ctx, []byte("work"))
	require.NoError(t, err)
	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Delete(ctx, msg.ID))

	require.NoError(t, q.ExtendVisibility(ctx, msg.ID, time.Hour))

	// The no-op extension must not resurrect the acknowledged message.
	advance(q, 2*time.Hour)
	n, err := q.Reap(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestReapAfterDeleteFindsNothing(t *testing.T) {
	q := newTestQueue(t, Config{Name: "t", Visibility: time.Minute, MaxReceive: 5})
	ctx := context.Background()

	_, err := q.Send(ctx, []byte("work"))
	require.NoError(t, err)
	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Delete(ctx, msg.ID))

	advance(q, 2*time.Minute)
	n, err := q.Reap(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMaxReceiveSurfacesDeadLetter(t *testing.T) {
	q := newTestQueue(t, Config{Name: "t", Visibility: time.Minute, MaxReceive: 1})
	ctx := context.Background()

	id, err := q.Send(ctx, []byte("stuck item"))
	require.NoError(t, err)

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, first.DeadLettered)

	advance(q, 2*time.Minute)
	n, err := q.Reap(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Second delivery crosses the cap: the payload comes back one last time,
	// flagged, so the consumer can record a terminal outcome.
	second, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, second.DeadLettered)
	assert.Equal(t, id, second.ID)
	assert.Equal(t, []byte("stuck item"), second.Body)
	assert.Equal(t, 2, second.ReceiveCount)

	// The payload is preserved on the DLQ and the queue is drained.
	dlq, err := q.client.LRange(ctx, q.dlqKey(), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"stuck item"}, dlq)
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	// Extending or deleting the dead-lettered message is harmless.
	require.NoError(t, q.ExtendVisibility(ctx, second.ID, time.Hour))
	advance(q, 2*time.Hour)
	n, err = q.Reap(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendPreservesFIFOOrder(t *testing.T) {
	q := newTestQueue(t, Config{Name: "t", Visibility: time.Minute, MaxReceive: 5})
	ctx := context.Background()

	for _, body := range []string{"first", "second", "third"} {
		_, err := q.Send(ctx, []byte(body))
		require.NoError(t, err)
	}

	var got []string
	for i := 0; i < 3; i++ {
		msg, err := q.Receive(ctx)
		require.NoError(t, err)
		got = append(got, string(msg.Body))
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)
}
