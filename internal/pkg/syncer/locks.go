package syncer

import "sync"

// invoiceLocks serializes work per invoice id so a webhook and a sweep
// touching the same invoice never interleave their read-modify-write.
type invoiceLocks struct {
	mu    sync.Mutex
	locks map[string]*invoiceLock
}

type invoiceLock struct {
	mu   sync.Mutex
	refs int
}

func newInvoiceLocks() *invoiceLocks {
	return &invoiceLocks{locks: make(map[string]*invoiceLock)}
}

// Lock acquires the per-invoice mutex and returns its release func. Lock
// entries are reference counted and removed once the last holder releases,
// so the map does not grow with the total number of invoices ever seen.
func (l *invoiceLocks) Lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &invoiceLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
