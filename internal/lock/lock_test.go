package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"expertdraw/internal/domain"
)

var (
	_ Locker = (*Table)(nil)
	_ Locker = (*Redis)(nil)
)

func TestTableSerializesSameKey(t *testing.T) {
	tbl := NewTable(0)
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := tbl.Acquire(context.Background(), "d1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxInside)
	}
	if tbl.Len() != 0 {
		t.Fatalf("entries not reclaimed: %d", tbl.Len())
	}
}

func TestTableWaitBoundReturnsConflict(t *testing.T) {
	tbl := NewTable(20 * time.Millisecond)
	release, err := tbl.Acquire(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	if _, err := tbl.Acquire(context.Background(), "d1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	other, err := tbl.Acquire(context.Background(), "d2")
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	other()
}

func TestTableReleaseIsIdempotent(t *testing.T) {
	tbl := NewTable(time.Second)
	release, err := tbl.Acquire(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	release()
	release()
	again, err := tbl.Acquire(context.Background(), "d1")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again()
}

func TestTableHonoursCancellation(t *testing.T) {
	tbl := NewTable(0)
	release, _ := tbl.Acquire(context.Background(), "d1")
	defer release()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tbl.Acquire(ctx, "d1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
