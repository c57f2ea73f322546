package session

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/metrics"
)

// Factory builds the Store for a newly seen browser client.
type Factory func(clientID string, meta identity.ClientMeta) *Store

// Registry maps browser client ids to their Stores. It holds at most size
// stores; a store idle for ttl, or pushed out by a newer one, is closed.
type Registry struct {
	cache   *expirable.LRU[string, *Store]
	factory Factory
	group   singleflight.Group
}

// NewRegistry creates a Registry.
func NewRegistry(size int, ttl time.Duration, factory Factory) *Registry {
	r := &Registry{factory: factory}
	r.cache = expirable.NewLRU[string, *Store](size, func(_ string, s *Store) {
		s.Close()
		metrics.SessionStoreClosed()
	}, ttl)
	return r
}

// Get returns the Store for clientID, creating it on first use. Concurrent
// first requests from one client share a single Store. Every call restarts
// the idle timer.
func (r *Registry) Get(clientID string, meta identity.ClientMeta) *Store {
	v, _, _ := r.group.Do(clientID, func() (any, error) {
		if s, ok := r.cache.Get(clientID); ok {
			r.cache.Add(clientID, s)
			return s, nil
		}
		// An expired entry can linger until the sweeper runs; evict it so its
		// store is closed before the replacement is added.
		r.cache.Remove(clientID)
		s := r.factory(clientID, meta)
		metrics.SessionStoreOpened()
		r.cache.Add(clientID, s)
		return s, nil
	})
	return v.(*Store)
}

// Lookup returns the Store for clientID if one is held.
func (r *Registry) Lookup(clientID string) (*Store, bool) {
	return r.cache.Peek(clientID)
}

// Remove closes and forgets the Store for clientID.
func (r *Registry) Remove(clientID string) {
	r.cache.Remove(clientID)
}

// Len returns the number of held stores.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close closes every held store.
func (r *Registry) Close() {
	r.cache.Purge()
}
