package image

import (
	"sync"
	"time"
)

// Interrupt reports whether the host has cancelled the request being
// served. The engine polls it while waiting for a chunk lock and during
// network transfers. A nil Interrupt never cancels.
type Interrupt func() bool

// How often a waiter checks the interrupt predicate while parked.
const lockPollInterval = 100 * time.Millisecond

// lockTable provides per-chunk mutual exclusion. An entry exists only while
// some thread owns or waits for the chunk, so the table stays small: it
// coalesces concurrent demand for a chunk rather than tracking all of them.
type lockTable struct {
	mu     sync.Mutex
	chunks map[uint64]*lockEntry
}

type lockEntry struct {
	busy    bool
	waiters int
	wake    chan struct{} // capacity 1; tokens are wakeups, not ownership
}

func newLockTable() *lockTable {
	return &lockTable{chunks: make(map[uint64]*lockEntry)}
}

// acquire returns false if the request was interrupted before the lock
// could be taken. A waiter that is interrupted just as the lock becomes
// available acquires it anyway, so that exactly one release path exists.
func (t *lockTable) acquire(chunk uint64, intr Interrupt) bool {
	t.mu.Lock()
	ent := t.chunks[chunk]
	if ent == nil {
		t.chunks[chunk] = &lockEntry{busy: true, wake: make(chan struct{}, 1)}
		t.mu.Unlock()
		return true
	}
	ent.waiters++
	interrupted := false
	for ent.busy && !interrupted {
		t.mu.Unlock()
		select {
		case <-ent.wake:
		case <-time.After(lockPollInterval):
			interrupted = intr != nil && intr()
		}
		t.mu.Lock()
	}
	ok := !ent.busy
	if ok {
		ent.busy = true
	}
	ent.waiters--
	t.mu.Unlock()
	return ok
}

func (t *lockTable) release(chunk uint64) {
	t.mu.Lock()
	ent := t.chunks[chunk]
	if ent.waiters > 0 {
		ent.busy = false
		select {
		case ent.wake <- struct{}{}:
		default:
		}
	} else {
		delete(t.chunks, chunk)
	}
	t.mu.Unlock()
}
