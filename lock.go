package cassmig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/root-talis/cassmig/driver"
)

const (
	DefaultLockTTL  = 30 * time.Second
	DefaultLockWait = 30 * time.Second
)

// lease is a held migration lock. It is refreshed in the background until
// released; if a refresh fails the context handed out by acquire is cancelled.
type lease struct {
	store  driver.Store
	owner  string
	ttl    time.Duration
	logger *slog.Logger

	cancel context.CancelCauseFunc
	stop   chan struct{}
	done   sync.WaitGroup
}

// acquireLease retries AcquireLock with exponential backoff until wait
// elapses. The returned context is cancelled when the lease is lost.
func acquireLease(
	ctx context.Context,
	store driver.Store,
	ttl, wait time.Duration,
	logger *slog.Logger,
) (*lease, context.Context, error) {
	owner := uuid.NewString()

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if wait > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 100 * time.Millisecond
		exp.MaxInterval = 2 * time.Second
		exp.MaxElapsedTime = wait
		policy = exp
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		ok, err := store.AcquireLock(ctx, owner, ttl)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			logger.Debug("migration lock is held by another process", "attempt", attempt)
			return ErrLockContention
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if errors.Is(err, ErrLockContention) {
			return nil, nil, fmt.Errorf("%w: gave up after %s", ErrLockContention, wait)
		}
		return nil, nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &lease{
		store:  store,
		owner:  owner,
		ttl:    ttl,
		logger: logger.With("owner", owner),
		cancel: cancel,
		stop:   make(chan struct{}),
	}

	l.done.Add(1)
	go l.refresh(leaseCtx)

	l.logger.Debug("acquired migration lock", "ttl", ttl)
	return l, leaseCtx, nil
}

func (l *lease) refresh(ctx context.Context) {
	defer l.done.Done()

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := l.store.RefreshLock(ctx, l.owner, l.ttl)
			if err == nil && !ok {
				err = ErrLockLost
			} else if err != nil {
				err = fmt.Errorf("%w: %w", ErrLockLost, err)
			}
			if err != nil {
				l.logger.Error("failed to refresh migration lock", "error", err)
				l.cancel(err)
				return
			}
		}
	}
}

// release stops refreshing and deletes the lock row. It uses its own context
// so that it also runs after the operation was cancelled.
func (l *lease) release() {
	close(l.stop)
	l.done.Wait()
	l.cancel(nil)

	ctx, cancel := context.WithTimeout(context.Background(), l.ttl)
	defer cancel()

	if err := l.store.ReleaseLock(ctx, l.owner); err != nil {
		l.logger.Warn("failed to release migration lock, it will expire on its own", "error", err)
		return
	}
	l.logger.Debug("released migration lock")
}
