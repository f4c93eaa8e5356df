package allowlist

import (
	"sync"
	"sync/atomic"
)

// Static is a fixed, already resolved list.
type Static AllowList

// Get returns the list.
func (s Static) Get() (AllowList, error) { return AllowList(s), nil }

// Lazy resolves on first use, for servers whose bound addresses are only
// known after startup. The first successful result is kept for the life of
// the process and is never recomputed, even if the addresses change later.
// Failures are not kept: every call retries until resolution succeeds.
type Lazy struct {
	configured []string
	discover   func() []string

	mu   sync.Mutex
	list atomic.Pointer[AllowList]
}

// NewLazy returns a Lazy over configured hosts and a discovery func. discover
// may be nil when only configured hosts are used.
func NewLazy(configured []string, discover func() []string) *Lazy {
	return &Lazy{configured: configured, discover: discover}
}

// Get returns the memoized list, resolving it if needed.
func (l *Lazy) Get() (AllowList, error) {
	if list := l.list.Load(); list != nil {
		return *list, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if list := l.list.Load(); list != nil {
		return *list, nil
	}

	var discovered []string
	if len(l.configured) == 0 && l.discover != nil {
		discovered = l.discover()
	}

	list, err := Resolve(l.configured, discovered)
	if err != nil {
		return AllowList{}, err
	}
	l.list.Store(&list)
	return list, nil
}
