/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedToken(token string) Option {
	return WithTokenGenerator(func() string { return token })
}

type countingRecorder struct {
	mu       sync.Mutex
	acquires map[string]int
	releases map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{acquires: map[string]int{}, releases: map[string]int{}}
}

func (c *countingRecorder) ObserveLockAcquire(_, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquires[result]++
}

func (c *countingRecorder) ObserveLockRelease(_, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases[result]++
}

func newMiniredisLocker(t *testing.T, opts ...Option) (*Locker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, opts...), mr
}

func TestLocker_Acquire_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, fixedToken("test-token"))

	mock.ExpectSetNX("lock:test-key", "test-token", 5*time.Second).SetVal(true)

	acquired, token, err := locker.Acquire(context.Background(), "test-key", 5*time.Second)
	assert.NoError(t, err)
	assert.True(t, acquired)
	assert.Equal(t, "test-token", token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Acquire_Contended(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rec := newCountingRecorder()
	locker := NewLocker(db, fixedToken("test-token"), WithRecorder(rec))

	mock.ExpectSetNX("lock:test-key", "test-token", 5*time.Second).SetVal(false)

	acquired, token, err := locker.Acquire(context.Background(), "test-key", 5*time.Second)
	assert.NoError(t, err)
	assert.False(t, acquired)
	assert.Equal(t, "test-token", token)
	assert.Equal(t, 1, rec.acquires["contended"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Acquire_StoreError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rec := newCountingRecorder()
	locker := NewLocker(db, fixedToken("test-token"), WithRecorder(rec))

	mock.ExpectSetNX("lock:test-key", "test-token", 5*time.Second).SetErr(errors.New("connection refused"))

	acquired, _, err := locker.Acquire(context.Background(), "test-key", 5*time.Second)
	assert.EqualError(t, err, "connection refused")
	assert.False(t, acquired)
	assert.Equal(t, 1, rec.acquires["error"])
}

func TestLocker_Release(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db)

	mock.ExpectEval(releaseScript, []string{"lock:test-key"}, "test-token").SetVal(int64(1))
	released, err := locker.Release(context.Background(), "test-key", "test-token")
	assert.NoError(t, err)
	assert.True(t, released)

	mock.ExpectEval(releaseScript, []string{"lock:test-key"}, "other-token").SetVal(int64(0))
	released, err = locker.Release(context.Background(), "test-key", "other-token")
	assert.NoError(t, err)
	assert.False(t, released)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Release_StoreError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db)

	mock.ExpectEval(releaseScript, []string{"lock:test-key"}, "test-token").SetErr(errors.New("i/o timeout"))
	_, err := locker.Release(context.Background(), "test-key", "test-token")
	assert.EqualError(t, err, "i/o timeout")
}

func TestLocker_Extend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db)

	mock.ExpectEval(extendScript, []string{"lock:test-key"}, "test-token", "5000").SetVal(int64(1))
	extended, err := locker.Extend(context.Background(), "test-key", "test-token", 5*time.Second)
	assert.NoError(t, err)
	assert.True(t, extended)

	mock.ExpectEval(extendScript, []string{"lock:test-key"}, "stale-token", "5000").SetVal(int64(0))
	extended, err = locker.Extend(context.Background(), "test-key", "stale-token", 5*time.Second)
	assert.NoError(t, err)
	assert.False(t, extended)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_IsLocked(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db)

	mock.ExpectExists("lock:test-key").SetVal(1)
	locked, err := locker.IsLocked(context.Background(), "test-key")
	assert.NoError(t, err)
	assert.True(t, locked)

	mock.ExpectExists("lock:test-key").SetVal(0)
	locked, err = locker.IsLocked(context.Background(), "test-key")
	assert.NoError(t, err)
	assert.False(t, locked)
}

func TestAcquireBackToBackReturnsDistinctTokens(t *testing.T) {
	locker, _ := newMiniredisLocker(t)
	ctx := context.Background()

	first, firstToken, err := locker.Acquire(ctx, "payout:relay", 60*time.Second)
	require.NoError(t, err)
	second, secondToken, err := locker.Acquire(ctx, "payout:relay", 60*time.Second)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.NotEmpty(t, firstToken)
	assert.NotEmpty(t, secondToken)
	assert.NotEqual(t, firstToken, secondToken)
}

func TestReleaseWithForeignTokenKeepsLease(t *testing.T) {
	locker, mr := newMiniredisLocker(t)
	ctx := context.Background()

	acquired, token, err := locker.Acquire(ctx, "payout-relay", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	released, err := locker.Release(ctx, "payout-relay", "not-the-holder")
	require.NoError(t, err)
	assert.False(t, released)

	stored, err := mr.Get("lock:payout-relay")
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	released, err = locker.Release(ctx, "payout-relay", token)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("lock:payout-relay"))
}

func TestLeaseExpiresAndIsReclaimable(t *testing.T) {
	locker, mr := newMiniredisLocker(t)
	ctx := context.Background()

	acquired, token, err := locker.Acquire(ctx, "payout-relay", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(2 * time.Second)

	acquired, _, err = locker.Acquire(ctx, "payout-relay", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)

	released, err := locker.Release(ctx, "payout-relay", token)
	require.NoError(t, err)
	assert.False(t, released, "expired holder must not release the new lease")
}

func TestExtendRearmsExpiry(t *testing.T) {
	locker, mr := newMiniredisLocker(t)
	ctx := context.Background()

	lease, err := locker.AcquireWithRetry(ctx, "reconciliation", RetryOptions{TTL: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, lease)

	ok, err := lease.Extend(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Minute, lease.TTL)
	assert.Equal(t, 10*time.Minute, mr.TTL("lock:reconciliation"))

	ok, err = locker.Extend(ctx, "reconciliation", "someone-else", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 10*time.Minute, mr.TTL("lock:reconciliation"))
}

func TestAcquireWithRetry_OnlyOneConcurrentWinner(t *testing.T) {
	locker, _ := newMiniredisLocker(t)
	ctx := context.Background()

	const callers = 20
	var winners int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			lease, err := locker.AcquireWithRetry(ctx, "payout-relay", RetryOptions{
				TTL:        time.Minute,
				MaxRetries: 2,
				RetryDelay: time.Millisecond,
			})
			assert.NoError(t, err)
			if lease != nil {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

func TestAcquireWithRetry_WaitsForRelease(t *testing.T) {
	locker, _ := newMiniredisLocker(t)
	ctx := context.Background()

	acquired, token, err := locker.Acquire(ctx, "payout-relay", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = locker.Release(ctx, "payout-relay", token)
	}()

	lease, err := locker.AcquireWithRetry(ctx, "payout-relay", RetryOptions{
		TTL:        time.Minute,
		MaxRetries: 20,
		RetryDelay: 10 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.NotEqual(t, token, lease.Token)
}

func TestAcquireWithRetry_ExhaustedReturnsNil(t *testing.T) {
	locker, _ := newMiniredisLocker(t)
	ctx := context.Background()

	acquired, _, err := locker.Acquire(ctx, "payout-relay", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	lease, err := locker.AcquireWithRetry(ctx, "payout-relay", RetryOptions{TTL: time.Minute, MaxRetries: 2, RetryDelay: time.Millisecond})
	assert.NoError(t, err)
	assert.Nil(t, lease)
}

func TestAcquireWithRetry_StoreErrorIsNotRetried(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, fixedToken("t"))

	mock.ExpectSetNX("lock:payout-relay", "t", time.Minute).SetErr(errors.New("connection refused"))

	lease, err := locker.AcquireWithRetry(context.Background(), "payout-relay", RetryOptions{TTL: time.Minute, MaxRetries: 5, RetryDelay: time.Millisecond})
	assert.EqualError(t, err, "connection refused")
	assert.Nil(t, lease)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLock_RunsAndReleases(t *testing.T) {
	rec := newCountingRecorder()
	locker, mr := newMiniredisLocker(t, WithRecorder(rec))

	result, ran, err := WithLock(context.Background(), locker, "payout-relay", RetryOptions{TTL: time.Minute},
		func(ctx context.Context, lease *Lease) (int, error) {
			assert.True(t, mr.Exists("lock:payout-relay"))
			return 42, nil
		})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 42, result)
	assert.False(t, mr.Exists("lock:payout-relay"))
	assert.Equal(t, 1, rec.releases["released"])
}

func TestWithLock_ReleasesWhenFnFails(t *testing.T) {
	locker, mr := newMiniredisLocker(t)

	_, ran, err := WithLock(context.Background(), locker, "payout-relay", RetryOptions{TTL: time.Minute},
		func(ctx context.Context, lease *Lease) (struct{}, error) {
			return struct{}{}, errors.New("boom")
		})

	assert.EqualError(t, err, "boom")
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:payout-relay"))
}

func TestWithLock_ReleasesWhenFnPanics(t *testing.T) {
	locker, mr := newMiniredisLocker(t)

	assert.Panics(t, func() {
		_, _, _ = WithLock(context.Background(), locker, "payout-relay", RetryOptions{TTL: time.Minute},
			func(ctx context.Context, lease *Lease) (struct{}, error) {
				panic("unexpected")
			})
	})
	assert.False(t, mr.Exists("lock:payout-relay"))
}

func TestWithLock_SkipsWhenHeld(t *testing.T) {
	locker, _ := newMiniredisLocker(t)
	ctx := context.Background()

	acquired, _, err := locker.Acquire(ctx, "payout-relay", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	called := false
	_, ran, err := WithLock(ctx, locker, "payout-relay", RetryOptions{TTL: time.Minute},
		func(ctx context.Context, lease *Lease) (struct{}, error) {
			called = true
			return struct{}{}, nil
		})

	assert.NoError(t, err)
	assert.False(t, ran)
	assert.False(t, called)
}
