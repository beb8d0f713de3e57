package app

import "sync"

// KeyedMutex hands out one mutex per key and forgets keys nobody holds.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is held and returns the matching unlock.
func (k *KeyedMutex) Lock(key string) func() {
	l := k.acquire(key)
	l.mu.Lock()
	return func() { k.release(key, l) }
}

// TryLock returns false without blocking when key is already held.
func (k *KeyedMutex) TryLock(key string) (func(), bool) {
	l := k.acquire(key)
	if !l.mu.TryLock() {
		k.drop(key, l)
		return nil, false
	}
	return func() { k.release(key, l) }, true
}

func (k *KeyedMutex) acquire(key string) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyedMutex) release(key string, l *refLock) {
	l.mu.Unlock()
	k.drop(key, l)
}

func (k *KeyedMutex) drop(key string, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func pairKey(token, participantID string) string {
	return token + "\x00" + participantID
}
