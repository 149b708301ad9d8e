package pipeline

import "sync"

// KeyedMutex provides per-key mutual exclusion with non-blocking acquisition.
// The publish orchestrator uses one instance to guarantee a single publish
// run per workspace at a time.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		held: make(map[string]struct{}),
	}
}

// TryLock attempts to acquire the lock for key without blocking. Returns
// false when the key is already held.
func (k *KeyedMutex) TryLock(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, taken := k.held[key]; taken {
		return false
	}
	k.held[key] = struct{}{}
	return true
}

// Unlock releases the lock for key. Unlocking a key that is not held is a
// programming error.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, taken := k.held[key]; !taken {
		panic("keyedmutex: unlock of unheld key " + key)
	}
	delete(k.held, key)
}

// Held reports whether the key is currently locked.
func (k *KeyedMutex) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, taken := k.held[key]
	return taken
}
