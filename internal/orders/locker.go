package orders

import (
	"context"
	"sync"
	"time"
)

const (
	KeyLockCheckout  = "lock:checkout:%s"  // per user
	KeyLockOrder     = "lock:order:%s"     // per order
	KeyLockReconcile = "lock:reconcile:%s" // per gateway intent ref

	LockTTL = 15 * time.Second
)

// LocalLocker is an in-process keyed mutex. Entries are dropped when the last
// holder or waiter leaves so the map does not grow with every user id.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*keyLock{}}
}

// Lock ignores ttl; the lock is held until unlock is called.
func (l *LocalLocker) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
