package store

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// keyedLocks serializes mutations per group inside one process. Entries are
// dropped once no caller holds or waits on them.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[snowflake.ID]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{entries: make(map[snowflake.ID]*lockEntry)}
}

func (k *keyedLocks) lock(ctx context.Context, id snowflake.ID) (func(), error) {
	k.mu.Lock()
	entry, ok := k.entries[id]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		k.entries[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(id, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			k.release(id, entry)
		})
	}, nil
}

func (k *keyedLocks) release(id snowflake.ID, entry *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, id)
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
