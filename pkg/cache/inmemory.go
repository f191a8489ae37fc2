package cache

import (
	"container/heap"
	"sync"
	"time"
)

type (
	// InMemory is a TTL cache. Values live in an arena of slots addressed by a key index;
	// an expiry heap drives eviction so no goroutine is spawned per key.
	InMemory[V any] struct {
		slots  []slot[V]
		index  map[string]int
		free   []int
		expiry expiryHeap
		now    func() time.Time

		mx sync.Mutex
	}

	slot[V any] struct {
		key        string
		value      V
		expiresAt  time.Time
		generation uint64
		live       bool
	}

	expiryEntry struct {
		slot       int
		generation uint64
		expiresAt  time.Time
	}

	expiryHeap []expiryEntry
)

func NewInMemory[V any]() *InMemory[V] {
	return NewInMemoryWithClock[V](time.Now)
}

func NewInMemoryWithClock[V any](now func() time.Time) *InMemory[V] {
	return &InMemory[V]{
		slots: make([]slot[V], 0, 100),   //nolint:mnd // initial capacity
		index: make(map[string]int, 100), //nolint:mnd // initial capacity
		now:   now,
	}
}

func (c *InMemory[V]) Get(key string) (V, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()

	var zero V
	i, ok := c.index[key]
	if !ok {
		return zero, false
	}
	if !c.now().Before(c.slots[i].expiresAt) {
		c.release(i)
		return zero, false
	}
	return c.slots[i].value, true
}

func (c *InMemory[V]) Set(key string, value V, ttl time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()

	expiresAt := c.now().Add(ttl)
	i, ok := c.index[key]
	if !ok {
		i = c.allocate()
		c.index[key] = i
	}

	s := &c.slots[i]
	s.key = key
	s.value = value
	s.expiresAt = expiresAt
	s.generation++
	s.live = true
	heap.Push(&c.expiry, expiryEntry{slot: i, generation: s.generation, expiresAt: expiresAt})
}

func (c *InMemory[V]) Delete(key string) {
	c.mx.Lock()
	defer c.mx.Unlock()

	if i, ok := c.index[key]; ok {
		c.release(i)
	}
}

// Evict drops every expired entry and returns how many were removed.
func (c *InMemory[V]) Evict() int {
	c.mx.Lock()
	defer c.mx.Unlock()

	now := c.now()
	evicted := 0
	for c.expiry.Len() > 0 && !now.Before(c.expiry[0].expiresAt) {
		e := heap.Pop(&c.expiry).(expiryEntry) //nolint:forcetypeassert // heap holds only expiryEntry
		s := c.slots[e.slot]
		if !s.live || s.generation != e.generation {
			continue
		}
		c.release(e.slot)
		evicted++
	}
	return evicted
}

func (c *InMemory[V]) Len() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.index)
}

func (c *InMemory[V]) allocate() int {
	if n := len(c.free); n > 0 {
		i := c.free[n-1]
		c.free = c.free[:n-1]
		return i
	}
	c.slots = append(c.slots, slot[V]{})
	return len(c.slots) - 1
}

func (c *InMemory[V]) release(i int) {
	var zero V
	s := &c.slots[i]
	delete(c.index, s.key)
	s.key = ""
	s.value = zero
	s.live = false
	s.generation++
	c.free = append(c.free, i)
}

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(x any) {
	*h = append(*h, x.(expiryEntry)) //nolint:forcetypeassert // heap holds only expiryEntry
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
