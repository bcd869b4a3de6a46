// Package lock serializes mutations of a single draw.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"expertdraw/internal/domain"
)

// Locker grants exclusive access to a key. The returned release func must
// be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Table is an in-process Locker holding one slot per key.
type Table struct {
	// Wait bounds how long Acquire blocks. Zero waits for ctx only.
	Wait time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	slot chan struct{}
	refs int
}

func NewTable(wait time.Duration) *Table {
	return &Table{Wait: wait, entries: map[string]*entry{}}
}

func (t *Table) Acquire(ctx context.Context, key string) (func(), error) {
	e := t.ref(key)
	if t.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Wait)
		defer cancel()
	}
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		t.unref(key)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: draw %s is busy", domain.ErrConflict, key)
		}
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			t.unref(key)
		})
	}, nil
}

func (t *Table) ref(key string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries == nil {
		t.entries = map[string]*entry{}
	}
	e, ok := t.entries[key]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	return e
}

func (t *Table) unref(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(t.entries, key)
	}
}

// Len reports how many keys are held or awaited.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
