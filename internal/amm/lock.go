package amm

import "sync"

// KeyedMutex serializes mutating operations per pool. Every sequence that
// reads a pool snapshot, submits a chain transaction, and mirrors the
// confirmed result must hold the pool's lock for the whole sequence, or two
// operations can interleave their read-modify-write of the reserves.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
// Entries are retained for the process lifetime; the key space is the set of
// pools, which is small and never shrinks.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
