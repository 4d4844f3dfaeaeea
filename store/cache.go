package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/willf/bloom"
)

// Cache is an LRU cache fronted by a bloom filter, so lookups of keys
// never added skip the LRU entirely.
type Cache[V any] struct {
	cache       *lru.Cache[string, V]
	bloomFilter *bloom.BloomFilter
	mutex       sync.RWMutex
}

func NewCache[V any](size int, expectedItems uint, falsePositiveRate float64) (*Cache[V], error) {
	c, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}
	return &Cache[V]{
		cache:       c,
		bloomFilter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}, nil
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.bloomFilter.TestString(key) {
		var zero V
		return zero, false
	}
	return c.cache.Get(key)
}

func (c *Cache[V]) Add(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.bloomFilter.AddString(key)
	c.cache.Add(key, value)
}

func (c *Cache[V]) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache.Remove(key)
}

func (c *Cache[V]) Len() int {
	return c.cache.Len()
}

// Purge empties the cache and resets the filter.
func (c *Cache[V]) Purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache.Purge()
	c.bloomFilter.ClearAll()
}
