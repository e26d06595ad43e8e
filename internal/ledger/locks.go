package ledger

import "sync"

// keyedLocks hands out one mutex per (user, mint) key so trade application
// is serialized per position while independent positions proceed in
// parallel. Mutexes are never released from the map; the key space is
// bounded by the number of traded positions.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for key, creating it on first use.
func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
