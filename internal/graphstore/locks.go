package graphstore

import "sync"

// nsLocks hands out one mutex per namespace, so namespace-scoped writes
// serialize against each other while writes to distinct namespaces proceed
// concurrently.
type nsLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newNsLocks() *nsLocks {
	return &nsLocks{locks: map[string]*sync.Mutex{}}
}

func (n *nsLocks) acquire(namespace string) func() {
	n.mu.Lock()
	lock, ok := n.locks[namespace]
	if !ok {
		lock = &sync.Mutex{}
		n.locks[namespace] = lock
	}
	n.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
