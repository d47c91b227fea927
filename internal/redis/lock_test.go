package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, Locker, func() bool) {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	locker := NewRedisSlotLocker(rdb, 5*time.Second, 2*time.Second, zerolog.Nop())
	exists := func() bool { return mr.Exists(SlotKey(1, time.Unix(1748750400, 0))) }
	return mr, locker, exists
}

func TestWithSlotLockReleasesKey(t *testing.T) {
	_, locker, exists := newTestClient(t)
	at := time.Unix(1748750400, 0)

	err := locker.WithSlotLock(context.Background(), 1, at, func(ctx context.Context) error {
		assert.True(t, exists(), "key is held while fn runs")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, exists(), "key is released afterwards")
}

func TestWithSlotLockPropagatesFnError(t *testing.T) {
	_, locker, exists := newTestClient(t)
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), 1, time.Unix(1748750400, 0), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, exists())
}

func TestWithSlotLockSerializesHolders(t *testing.T) {
	_, locker, _ := newTestClient(t)
	at := time.Unix(1748750400, 0)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithSlotLock(context.Background(), 1, at, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestWithSlotLockTimesOutWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	at := time.Unix(1748750400, 0)
	require.NoError(t, mr.Set(SlotKey(7, at), "someone-else"))

	locker := NewRedisSlotLocker(rdb, time.Second, 100*time.Millisecond, zerolog.Nop())
	called := false
	err = locker.WithSlotLock(context.Background(), 7, at, func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrLockWaitTimeout)
	assert.False(t, called)
	got, _ := mr.Get(SlotKey(7, at))
	assert.Equal(t, "someone-else", got, "foreign lock is never deleted")
}

func TestWithSlotLockRunsUnguardedWhenRedisIsDown(t *testing.T) {
	mr, locker, _ := newTestClient(t)
	mr.Close()

	called := false
	err := locker.WithSlotLock(context.Background(), 1, time.Unix(1748750400, 0), func(ctx context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
}

func TestWithSlotLockRedisDownKeepsFnError(t *testing.T) {
	mr, locker, _ := newTestClient(t)
	mr.Close()
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), 1, time.Unix(1748750400, 0), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWithSlotLockCancelledContext(t *testing.T) {
	mr, locker, _ := newTestClient(t)
	mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := locker.WithSlotLock(ctx, 1, time.Unix(1748750400, 0), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestNopLocker(t *testing.T) {
	ran := false
	err := NopLocker{}.WithSlotLock(context.Background(), 1, time.Now(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}
