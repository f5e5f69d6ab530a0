package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache stores values of type V with an expiration time.
type Cache[V any] struct {
	items           sync.Map
	counter         atomic.Uint32
	defaultDuration time.Duration

	// now is replaced in tests
	now func() time.Time
}

// An item represents a value with expiration time.
type item[V any] struct {
	data    V
	expires int64
}

// New creates a new cache. Expired entries are dropped when read, and swept
// every hundred writes.
func New[V any](defaultDuration time.Duration) *Cache[V] {

	if defaultDuration <= 0 {
		defaultDuration = 10 * time.Minute
	}

	cache := &Cache[V]{
		defaultDuration: defaultDuration,
		now:             time.Now,
	}

	return cache
}

// Set sets a value for the given key with an expiration duration.
// A zero duration uses the cache default; a negative one stores forever.
func (cache *Cache[V]) Set(key string, value V, duration time.Duration) {
	var expires int64

	if duration == 0 {
		duration = cache.defaultDuration
	}

	if duration > 0 {
		expires = cache.now().Add(duration).UnixNano()
	}

	cache.items.Store(key, item[V]{
		data:    value,
		expires: expires,
	})

	count := cache.counter.Add(1)

	if count >= 100 {
		cache.DeleteExpired()
		cache.counter.Store(0)
	}
}

// Get gets the value for the given key.
func (cache *Cache[V]) Get(key string) (V, bool) {
	var zero V

	obj, exists := cache.items.Load(key)
	if !exists {
		return zero, false
	}

	it := obj.(item[V])

	if it.expires > 0 && cache.now().UnixNano() > it.expires {
		cache.items.Delete(key)
		return zero, false
	}

	return it.data, true
}

// DeleteExpired removes every entry whose time has passed.
func (cache *Cache[V]) DeleteExpired() {
	now := cache.now().UnixNano()

	fn := func(key, value any) bool {
		it := value.(item[V])

		if it.expires > 0 && now > it.expires {
			cache.items.Delete(key)
		}

		return true
	}

	cache.items.Range(fn)

}

// Delete deletes the key and its value from the cache.
func (cache *Cache[V]) Delete(key string) {
	cache.items.Delete(key)
}
