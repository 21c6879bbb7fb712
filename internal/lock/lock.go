package redlock

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	keyPrefix = "lock:"

	// delete/re-arm only when the stored token is ours, in one round trip
	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript  = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"

	releaseTimeout = 5 * time.Second
)

var errContended = errors.New("lock is held by another holder")

// Recorder receives lock outcomes, typically for metrics.
type Recorder interface {
	ObserveLockAcquire(resource, result string)
	ObserveLockRelease(resource, result string)
}

type Locker struct {
	client   redis.UniversalClient
	recorder Recorder
	newToken func() string
}

type Option func(*Locker)

func WithRecorder(r Recorder) Option {
	return func(l *Locker) {
		l.recorder = r
	}
}

func WithTokenGenerator(fn func() string) Option {
	return func(l *Locker) {
		l.newToken = fn
	}
}

func NewLocker(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client:   client,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func lockKey(resource string) string {
	return keyPrefix + resource
}

func (l *Locker) observeAcquire(resource, result string) {
	if l.recorder != nil {
		l.recorder.ObserveLockAcquire(resource, result)
	}
}

func (l *Locker) observeRelease(resource, result string) {
	if l.recorder != nil {
		l.recorder.ObserveLockRelease(resource, result)
	}
}

// Acquire tries once to take the lease on resource. A fresh token is returned
// whether or not the lease was granted. Contention is reported as false, not as
// an error; errors mean the coordination store could not be reached.
func (l *Locker) Acquire(ctx context.Context, resource string, ttl time.Duration) (bool, string, error) {
	token := l.newToken()
	acquired, err := l.client.SetNX(ctx, lockKey(resource), token, ttl).Result()
	if err != nil {
		l.observeAcquire(resource, "error")
		return false, token, err
	}
	if !acquired {
		l.observeAcquire(resource, "contended")
		logrus.WithField("resource", resource).Debug("lock is held elsewhere")
		return false, token, nil
	}
	l.observeAcquire(resource, "acquired")
	return true, token, nil
}

// Release deletes the lease only if token still owns it. False means the lease
// had already expired or belongs to someone else.
func (l *Locker) Release(ctx context.Context, resource, token string) (bool, error) {
	result, err := l.client.Eval(ctx, releaseScript, []string{lockKey(resource)}, token).Int64()
	if err != nil {
		l.observeRelease(resource, "error")
		return false, err
	}
	if result == 0 {
		l.observeRelease(resource, "not_held")
		return false, nil
	}
	l.observeRelease(resource, "released")
	return true, nil
}

// Extend re-arms the lease expiry to ttl from now if token still owns it.
func (l *Locker) Extend(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	result, err := l.client.Eval(ctx, extendScript, []string{lockKey(resource)}, token, strconv.FormatInt(ttl.Milliseconds(), 10)).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// IsLocked is a point-in-time answer only; the lease may change hands as soon
// as it returns.
func (l *Locker) IsLocked(ctx context.Context, resource string) (bool, error) {
	n, err := l.client.Exists(ctx, lockKey(resource)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type RetryOptions struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration
}

func (o RetryOptions) backOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.RetryDelay
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = 100 * time.Millisecond
	}
	exp.MaxInterval = o.MaxDelay
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = 10 * exp.InitialInterval
	}
	// jitter keeps waiters that started together from retrying together
	exp.RandomizationFactor = 0.5
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0

	retries := o.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Lease is a granted lock.
type Lease struct {
	Resource   string
	Token      string
	TTL        time.Duration
	AcquiredAt time.Time

	locker *Locker
}

func (le *Lease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := le.locker.Extend(ctx, le.Resource, le.Token, ttl)
	if ok {
		le.TTL = ttl
	}
	return ok, err
}

func (le *Lease) Release(ctx context.Context) (bool, error) {
	return le.locker.Release(ctx, le.Resource, le.Token)
}

// AcquireWithRetry retries Acquire with exponential backoff and jitter.
//
// Parameters:
// - ctx: Cancelling it stops the retries.
// - resource: The name of the lease to take.
// - opts: Lease TTL plus the backoff bounds.
//
// Returns:
// - *Lease: The held lease, or nil when the retries ran out while someone else
//   held the lock. The caller should skip its work in that case.
// - error: Only set when the coordination store could not be reached.
func (l *Locker) AcquireWithRetry(ctx context.Context, resource string, opts RetryOptions) (*Lease, error) {
	var lease *Lease
	err := backoff.Retry(func() error {
		acquired, token, err := l.Acquire(ctx, resource, opts.TTL)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !acquired {
			return errContended
		}
		lease = &Lease{
			Resource:   resource,
			Token:      token,
			TTL:        opts.TTL,
			AcquiredAt: time.Now(),
			locker:     l,
		}
		return nil
	}, opts.backOff(ctx))

	if errors.Is(err, errContended) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// WithLock runs fn while holding resource and always releases afterwards, even
// when fn fails or panics. ran is false when the lock could not be taken, in
// which case fn was not called.
func WithLock[T any](ctx context.Context, l *Locker, resource string, opts RetryOptions, fn func(ctx context.Context, lease *Lease) (T, error)) (result T, ran bool, err error) {
	lease, err := l.AcquireWithRetry(ctx, resource, opts)
	if err != nil {
		return result, false, err
	}
	if lease == nil {
		return result, false, nil
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		released, releaseErr := lease.Release(releaseCtx)
		if releaseErr != nil {
			logrus.WithFields(logrus.Fields{"resource": resource, "error": releaseErr}).Error("failed to release lock")
			return
		}
		if !released {
			logrus.WithField("resource", resource).Warn("lock expired before release; work may have overlapped with another holder")
		}
	}()

	result, err = fn(ctx, lease)
	return result, true, err
}
