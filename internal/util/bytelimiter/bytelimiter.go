package bytelimiter

import (
	"context"
	"errors"
	"sync"
)

// ErrExceedsCapacity is returned when a single reservation is larger than
// the whole budget and can therefore never succeed.
var ErrExceedsCapacity = errors.New("reservation exceeds limiter capacity")

// ByteLimiter is a byte-counting semaphore. A nil *ByteLimiter is an
// unlimited budget.
type ByteLimiter struct {
	max  int
	mu   sync.Mutex
	cond *sync.Cond
	used int
}

// New returns a limiter allowing up to max bytes reserved at once.
// When max <= 0 the limiter is disabled and nil is returned.
func New(max int) *ByteLimiter {
	if max <= 0 {
		return nil
	}
	bl := &ByteLimiter{max: max}
	bl.cond = sync.NewCond(&bl.mu)
	return bl
}

// Acquire blocks until n bytes can be reserved or ctx is done.
func (b *ByteLimiter) Acquire(ctx context.Context, n int) error {
	if b == nil {
		return nil
	}
	if n > b.max {
		return ErrExceedsCapacity
	}
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.used+n > b.max {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.cond.Wait()
	}
	b.used += n
	return nil
}

// TryAcquire reserves n bytes without blocking and reports whether it
// succeeded.
func (b *ByteLimiter) TryAcquire(n int) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used+n > b.max {
		return false
	}
	b.used += n
	return true
}

// Release returns n previously reserved bytes.
func (b *ByteLimiter) Release(n int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.used -= n
	if b.used < 0 {
		b.used = 0
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Used reports the current number of reserved bytes.
func (b *ByteLimiter) Used() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Capacity returns the configured maximum number of bytes.
func (b *ByteLimiter) Capacity() int {
	if b == nil {
		return 0
	}
	return b.max
}
