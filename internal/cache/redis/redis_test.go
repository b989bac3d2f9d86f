package redis

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// newTestClient connects to ESTATE_TEST_REDIS_ADDR under a throwaway prefix.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("ESTATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ESTATE_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, PoolSize: 4, Prefix: "test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: DefaultPrefix}
	assert.Equal(t, "estate:quote:static:100", c.key("quote", "static:100"))
}

func TestQuoteCache(t *testing.T) {
	c := newTestClient(t)
	qc := NewQuoteCache(c)
	ctx := context.Background()

	_, err := qc.GetQuote(ctx, "feed:1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, qc.SetQuote(ctx, "feed:1", big.NewInt(12345), time.Minute))
	v, err := qc.GetQuote(ctx, "feed:1")
	require.NoError(t, err)
	assert.Equal(t, "12345", v.String())
}

func TestLockExclusive(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	lease, err := lm.Acquire(ctx, "writer", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "writer", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	// Refresh keeps the lock past its original TTL.
	time.Sleep(1500 * time.Millisecond)
	_, err = lm.Acquire(ctx, "writer", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	select {
	case <-lease.Lost:
		t.Fatal("lease reported lost while refreshed")
	default:
	}

	lease.Release()
	lease.Release()
	again, err := lm.Acquire(ctx, "writer", time.Second)
	require.NoError(t, err)
	again.Release()
}

func TestLockLostWhenTakenOver(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	lease, err := lm.Acquire(ctx, "writer", 300*time.Millisecond)
	require.NoError(t, err)
	defer lease.Release()

	require.NoError(t, c.rdb.Set(ctx, c.key("lock", "writer"), "other-node", time.Minute).Err())
	select {
	case <-lease.Lost:
	case <-time.After(2 * time.Second):
		t.Fatal("lease not reported lost")
	}
}

func TestKeepAliveReportsLoss(t *testing.T) {
	run := func(extend func(context.Context) (bool, error)) (lost, done chan struct{}, stop chan struct{}) {
		stop, done, lost = make(chan struct{}), make(chan struct{}), make(chan struct{})
		go keepAlive(extend, 30*time.Millisecond, stop, done, lost)
		return lost, done, stop
	}
	waitClosed := func(t *testing.T, ch <-chan struct{}, what string) {
		t.Helper()
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s not closed", what)
		}
	}

	t.Run("token gone", func(t *testing.T) {
		lost, done, _ := run(func(context.Context) (bool, error) { return false, nil })
		waitClosed(t, lost, "lost")
		waitClosed(t, done, "done")
	})

	t.Run("refresh failing past ttl", func(t *testing.T) {
		lost, done, _ := run(func(context.Context) (bool, error) { return false, errors.New("connection refused") })
		waitClosed(t, lost, "lost")
		waitClosed(t, done, "done")
	})

	t.Run("stopped while held", func(t *testing.T) {
		lost, done, stop := run(func(context.Context) (bool, error) { return true, nil })
		time.Sleep(100 * time.Millisecond)
		close(stop)
		waitClosed(t, done, "done")
		select {
		case <-lost:
			t.Fatal("released lease reported lost")
		default:
		}
	})
}

func TestRateLimiter(t *testing.T) {
	c := newTestClient(t)
	rl := NewRateLimiter(c, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "client", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "client", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBusStream(t *testing.T) {
	c := newTestClient(t)
	sb := NewSignalBus(c)
	ctx := context.Background()

	require.NoError(t, sb.StreamAppend(ctx, "market:events:stream", []byte(`{"seq":1}`)))
	require.NoError(t, sb.StreamAppend(ctx, "market:events:stream", []byte(`{"seq":2}`)))

	msgs, err := sb.StreamRead(ctx, "market:events:stream", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"seq":2}`, string(msgs[1].Payload))

	rest, err := sb.StreamRead(ctx, "market:events:stream", msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)
}
