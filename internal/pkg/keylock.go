package pkg

import "sync"

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex serializes work per key. Entries are dropped once nobody holds or waits for them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		entries: make(map[string]*keyEntry),
	}
}

// Lock blocks until key is free and returns the matching unlock func.
func (that *KeyedMutex) Lock(key string) func() {
	that.mu.Lock()
	entry, ok := that.entries[key]
	if !ok {
		entry = &keyEntry{}
		that.entries[key] = entry
	}
	entry.refs++
	that.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		that.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(that.entries, key)
		}
		that.mu.Unlock()
	}
}

// WithLock runs fn while holding key.
func (that *KeyedMutex) WithLock(key string, fn func() error) error {
	unlock := that.Lock(key)
	defer unlock()

	return fn()
}

func (that *KeyedMutex) size() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.entries)
}
