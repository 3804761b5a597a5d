// Package imagecache keeps decoded pixel buffers around so that frames of the
// same size can be decoded without allocating. A buffer can be keyed with what
// it holds; while it stays pooled, Lookup returns it untouched and the decode
// is skipped altogether.
//
// The pool is best effort. Entries are held without ownership: a bounded
// number of entries is kept, and Purge invalidates everything at once, which
// stands in for the runtime reclaiming memory under pressure. Callers must
// always be ready for Acquire to come back empty.
package imagecache

import (
	"container/list"
	"sync"
)

// DefaultMaxEntries bounds the pool when no option is given.
const DefaultMaxEntries = 4

// Stats counts what the cache has done since it was created.
type Stats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Resident  uint64 `json:"resident"`
	Misses    uint64 `json:"misses"`
	Inserts   uint64 `json:"inserts"`
	Rejects   uint64 `json:"rejects"`
	Evictions uint64 `json:"evictions"`
	Purged    uint64 `json:"purged"`
}

type entry struct {
	buf *Buffer
	gen uint64
}

// Cache is a pool of reusable buffers, matched by byte capacity.
type Cache struct {
	mu         sync.Mutex
	entries    *list.List // oldest at the front
	members    map[*Buffer]*list.Element
	gen        uint64
	maxEntries int
	stats      Stats
}

// An Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries bounds the number of pooled buffers.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := new(Cache)
	c.entries = list.New()
	c.members = make(map[*Buffer]*list.Element)
	c.maxEntries = DefaultMaxEntries
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire removes and returns the first pooled buffer that can hold size
// bytes, or nil if there is none. Stale entries met on the way are dropped.
// The returned buffer's key is cleared since its pixels are about to be
// overwritten.
func (c *Cache) Acquire(size int) *Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.take(func(b *Buffer) bool { return b.Cap() >= size })
	if b == nil {
		c.stats.Misses++
		return nil
	}
	b.key = ""
	c.stats.Hits++
	return b
}

// Lookup removes and returns the pooled buffer whose key is key, or nil. The
// buffer comes back with its pixels untouched.
func (c *Cache) Lookup(key string) *Buffer {
	if key == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.take(func(b *Buffer) bool { return b.key == key })
	if b != nil {
		c.stats.Resident++
	}
	return b
}

// MaxEntries is the pool bound.
func (c *Cache) MaxEntries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxEntries
}

// SetMaxEntries changes the pool bound, evicting the oldest entries if the
// pool is over it. Values below one are ignored.
func (c *Cache) SetMaxEntries(n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxEntries = n
	for c.entries.Len() > n {
		c.remove(c.entries.Front())
		c.stats.Evictions++
	}
}

// take removes and returns the first live entry accepted by match, dropping
// stale entries on the way. c.mu must be held.
func (c *Cache) take(match func(*Buffer) bool) *Buffer {
	for e := c.entries.Front(); e != nil; {
		next := e.Next()
		ent := e.Value.(*entry)
		if ent.gen != c.gen || !ent.buf.Mutable() || ent.buf.Recycled() {
			c.remove(e)
			c.stats.Purged++
		} else if ent.buf.reusable() && match(ent.buf) {
			c.remove(e)
			ent.buf.inUse.Store(true)
			return ent.buf
		}
		e = next
	}
	return nil
}

// Allocate returns a pooled buffer of at least size bytes, or a new one.
// While the pool has room, keyed buffers are left where they are so their
// pixels stay resident; once it is full the first fitting buffer is reused.
func (c *Cache) Allocate(size int) *Buffer {
	c.mu.Lock()
	full := c.entries.Len() >= c.maxEntries
	b := c.take(func(b *Buffer) bool {
		return b.Cap() >= size && (full || b.key == "")
	})
	if b != nil {
		b.key = ""
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()

	if b == nil {
		b = NewBuffer(size)
		b.inUse.Store(true)
	}
	return b
}

// Release offers b back to the pool. An empty pool always takes it; otherwise
// it is kept only if it is at least as large as the largest pooled buffer.
func (c *Cache) Release(b *Buffer) {
	if b == nil {
		return
	}
	b.inUse.Store(false)
	if !b.Mutable() || b.Recycled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.members[b]; ok {
		return
	}

	largest := -1
	for e := c.entries.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if ent.gen != c.gen || !ent.buf.reusable() {
			continue
		}
		if ent.buf.Cap() > largest {
			largest = ent.buf.Cap()
		}
	}
	if largest >= 0 && b.Cap() < largest {
		c.stats.Rejects++
		return
	}

	for c.entries.Len() >= c.maxEntries {
		c.remove(c.entries.Front())
		c.stats.Evictions++
	}
	c.members[b] = c.entries.PushBack(&entry{buf: b, gen: c.gen})
	c.stats.Inserts++
}

// Purge invalidates every pooled buffer. They are dropped lazily by the next
// Acquire scan, or replaced by the next Release.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

// Len is the number of entries currently held, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.entries.Len()
	return s
}

func (c *Cache) remove(e *list.Element) {
	ent := c.entries.Remove(e).(*entry)
	delete(c.members, ent.buf)
}
