package rate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Limiter enforces fixed-window budgets per key over a CounterStore.
type Limiter struct {
	store CounterStore
	now   func() time.Time
}

// New returns a limiter. now defaults to time.Now.
func New(store CounterStore, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, now: now}
}

// Key joins an action class and actor into a counter key.
func Key(class, actor string) string {
	return class + ":" + actor
}

// Check counts one attempt against key. It returns ErrRateLimited once the
// count exceeds max, and an ErrStoreUnavailable-wrapped error when the store
// cannot answer; both must deny.
func (l *Limiter) Check(ctx context.Context, key string, max int64, window time.Duration) (Window, error) {
	if max <= 0 || window <= 0 {
		return Window{}, fmt.Errorf("%w: invalid budget %d/%s", ErrStoreUnavailable, max, window)
	}
	w, err := l.store.Hit(ctx, key, l.now(), window)
	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return Window{}, err
	}
	if w.Count > max {
		return w, ErrRateLimited
	}
	return w, nil
}

// Count records an event and returns the count in the current window
// without enforcing a budget.
func (l *Limiter) Count(ctx context.Context, key string, window time.Duration) (int64, error) {
	w, err := l.store.Hit(ctx, key, l.now(), window)
	if err != nil {
		return 0, err
	}
	return w.Count, nil
}

// Reset clears key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}
