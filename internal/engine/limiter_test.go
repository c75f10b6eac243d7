package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter_RejectsZeroCapacity(t *testing.T) {
	if _, err := NewLimiter(0); err == nil {
		t.Fatal("expected error for capacity 0")
	}
}

func TestLimiter_BoundsConcurrency(t *testing.T) {
	// 9 jobs sleeping one time unit at K=3 must take about 3 units:
	// never 9 (serial) and never less than 3 (over-parallel).
	const unit = 100 * time.Millisecond
	lim, err := NewLimiter(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var running, peak int32
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		if err := lim.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer lim.Release()
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(unit)
			atomic.AddInt32(&running, -1)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if got := atomic.LoadInt32(&peak); got > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", got)
	}
	if elapsed < 3*unit {
		t.Fatalf("elapsed = %v, impossible below %v with K=3", elapsed, 3*unit)
	}
	if elapsed > 6*unit {
		t.Fatalf("elapsed = %v, slots sat idle (expected about %v)", elapsed, 3*unit)
	}
}

func TestLimiter_AcquireHonoursCancellation(t *testing.T) {
	lim, _ := NewLimiter(1)
	if err := lim.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := lim.Acquire(ctx); err == nil {
		t.Fatal("expected context error while at capacity")
	}
	lim.Release()
}

func TestLimiter_NestedTwoLevelsDoesNotDeadlock(t *testing.T) {
	outer, _ := NewLimiter(2)
	inner, _ := NewLimiter(2)

	donech := make(chan struct{})
	go func() {
		defer close(donech)
		var wg sync.WaitGroup
		for s := 0; s < 4; s++ {
			if err := outer.Acquire(context.Background()); err != nil {
				t.Errorf("outer acquire: %v", err)
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer outer.Release()
				var sub sync.WaitGroup
				for j := 0; j < 3; j++ {
					if err := inner.Acquire(context.Background()); err != nil {
						t.Errorf("inner acquire: %v", err)
						return
					}
					sub.Add(1)
					go func() {
						defer sub.Done()
						defer inner.Release()
						time.Sleep(5 * time.Millisecond)
					}()
				}
				sub.Wait()
			}()
		}
		wg.Wait()
	}()

	select {
	case <-donech:
	case <-time.After(5 * time.Second):
		t.Fatal("nested limiters deadlocked")
	}
}
