package bytelimiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNilLimiterIsUnlimited(t *testing.T) {
	var b *ByteLimiter = New(0)
	if !b.TryAcquire(1 << 30) {
		t.Fatal("nil limiter must accept any reservation")
	}
	if err := b.Acquire(context.Background(), 1<<30); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	b.Release(10)
	if b.Used() != 0 || b.Capacity() != 0 {
		t.Fatal("nil limiter reports usage")
	}
}

func TestTryAcquireRespectsBudget(t *testing.T) {
	b := New(100)
	if !b.TryAcquire(60) {
		t.Fatal("first reservation refused")
	}
	if b.TryAcquire(41) {
		t.Fatal("reservation beyond budget accepted")
	}
	b.Release(60)
	if b.Used() != 0 {
		t.Fatalf("used = %d after release", b.Used())
	}
	b.Release(5)
	if b.Used() != 0 {
		t.Fatal("over-release must clamp at zero")
	}
}

func TestAcquireRejectsOversize(t *testing.T) {
	b := New(10)
	if err := b.Acquire(context.Background(), 11); !errors.Is(err, ErrExceedsCapacity) {
		t.Fatalf("err = %v", err)
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	b := New(10)
	b.TryAcquire(10)

	done := make(chan error, 1)
	go func() { done <- b.Acquire(context.Background(), 5) }()

	select {
	case err := <-done:
		t.Fatalf("acquire returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	b.Release(10)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not wake after release")
	}
	if b.Used() != 5 {
		t.Fatalf("used = %d, want 5", b.Used())
	}
}

func TestAcquireCancelled(t *testing.T) {
	b := New(10)
	b.TryAcquire(10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
