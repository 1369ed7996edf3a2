package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/metrics"
)

const keyPrefix = "lock:"

var ErrLockTimeout = errors.New("lock timeout")

// TimeoutError is returned by WithLock when the lock could not be obtained
// within the configured retries.
type TimeoutError struct {
	Resource string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lock timeout on %s after %d attempts", e.Resource, e.Attempts)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// Options tunes a WithLock call. Zero fields take the manager defaults; set
// Retries to NoRetry for a single attempt.
type Options struct {
	TTL        time.Duration
	Retries    int
	RetryDelay time.Duration
}

// NoRetry makes WithLock give up after the first contended attempt.
const NoRetry = -1

var DefaultOptions = Options{
	TTL:        10 * time.Second,
	Retries:    20,
	RetryDelay: 100 * time.Millisecond,
}

type Manager struct {
	store    Store
	defaults Options
}

// NewManager builds a manager. Zero fields in defaults take DefaultOptions.
func NewManager(store Store, defaults Options) *Manager {
	return &Manager{store: store, defaults: merge(defaults, DefaultOptions)}
}

// SessionResource names the lock guarding capacity decisions for one class
// session.
func SessionResource(tenantID, sessionID string) string {
	return "session:" + tenantID + ":" + sessionID
}

// Acquire makes a single attempt. ok is false when another holder owns the
// resource.
func (m *Manager) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, bool, error) {
	if resource == "" {
		return "", false, errors.New("lock resource is empty")
	}
	if ttl <= 0 {
		ttl = m.defaults.TTL
	}

	token := uuid.NewString()
	ok, err := m.store.SetNX(ctx, keyPrefix+resource, token, ttl)
	if err != nil {
		metrics.RecordLockAttempt("error")
		return "", false, fmt.Errorf("acquire %s: %w", resource, err)
	}
	if !ok {
		metrics.RecordLockAttempt("contended")
		return "", false, nil
	}
	metrics.RecordLockAttempt("acquired")
	return token, true, nil
}

// Release deletes the lock only if token still owns it. false means the lock
// expired or was taken over.
func (m *Manager) Release(ctx context.Context, resource, token string) (bool, error) {
	if resource == "" || token == "" {
		return false, nil
	}
	return m.store.CompareAndDelete(ctx, keyPrefix+resource, token)
}

// WithLock runs fn while holding resource. The lock is always released;
// release failures are logged only.
func (m *Manager) WithLock(ctx context.Context, resource string, opts Options, fn func(ctx context.Context) error) error {
	opts = merge(opts, m.defaults)

	var (
		token    string
		acquired bool
		attempts int
	)
	for {
		attempts++
		var err error
		token, acquired, err = m.Acquire(ctx, resource, opts.TTL)
		if err != nil {
			return err
		}
		if acquired || attempts > max(opts.Retries, 0) {
			break
		}

		timer := time.NewTimer(opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if !acquired {
		metrics.RecordLockAttempt("timeout")
		return &TimeoutError{Resource: resource, Attempts: attempts}
	}

	defer func() {
		// release with a fresh context so a cancelled caller does not leak the lock
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		released, err := m.Release(relCtx, resource, token)
		if err != nil {
			logger.Error("lock release failed", "resource", resource, "error", err)
			return
		}
		if !released {
			logger.Warn("lock expired before release", "resource", resource)
		}
	}()

	return fn(ctx)
}

func merge(o, fallback Options) Options {
	if o.TTL <= 0 {
		o.TTL = fallback.TTL
	}
	if o.Retries == 0 {
		o.Retries = fallback.Retries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = fallback.RetryDelay
	}
	return o
}
