package cache

import (
	"sync"
)

// KeyedMutex hands out one mutex per key so that read-modify-write cycles
// on a single video's metadata are serialised without blocking unrelated
// videos. Entries are created lazily and reaped once the last holder or
// waiter lets go, so a cancelled video leaves nothing behind while a blocked
// waiter can never race a newcomer onto a fresh mutex.
type KeyedMutex struct {
	mutexes map[string]*keyedLock
	mapLock sync.Mutex
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		mutexes: make(map[string]*keyedLock),
	}
}

// Lock acquires the mutex for key and returns its unlock function, meant to
// be used as `defer mu.Lock(id)()`.
func (k *KeyedMutex) Lock(key string) func() {
	k.mapLock.Lock()
	entry, ok := k.mutexes[key]
	if !ok {
		entry = &keyedLock{}
		k.mutexes[key] = entry
	}
	entry.refs++
	k.mapLock.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mapLock.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.mutexes, key)
		}
		k.mapLock.Unlock()
	}
}
