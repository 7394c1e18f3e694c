package sync

import "sync"

// keyedMutex serializes work per key. Different keys never contend.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()

	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}

	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}

	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--

		if l.refs == 0 {
			delete(k.locks, key)
		}

		k.mu.Unlock()
	}
}
