package state

import (
	"bytes"
	"sort"

	"github.com/hashicorp/golang-lru/simplelru"
)

type cacheEntry struct {
	key     []byte
	value   []byte
	deleted bool

	// durable value before the first buffered write, reported to flush listeners
	old    []byte
	hadOld bool
}

// changed reports whether the entry differs from the durable value it replaces
func (e *cacheEntry) changed() bool {
	if e.deleted {
		return e.hadOld
	}
	return !e.hadOld || !bytes.Equal(e.old, e.value)
}

// writeCache buffers dirty writes. Entries pushed out by the LRU are collected in evicted
// and must be written through by the caller.
type writeCache struct {
	lru     *simplelru.LRU
	evicted []*cacheEntry
}

func newWriteCache(size int) (*writeCache, error) {
	c := &writeCache{}
	lru, err := simplelru.NewLRU(
		size, func(_ interface{}, value interface{}) {
			c.evicted = append(c.evicted, value.(*cacheEntry))
		},
	)
	if err != nil {
		return nil, err
	}

	c.lru = lru
	return c, nil
}

func (c *writeCache) peek(key []byte) (*cacheEntry, bool) {
	v, ok := c.lru.Peek(string(key))
	if !ok {
		return nil, false
	}
	return v.(*cacheEntry), true
}

// put records a write and returns entries evicted to make room
func (c *writeCache) put(key, value []byte, deleted bool, old func() ([]byte, bool)) []*cacheEntry {
	if e, ok := c.peek(key); ok {
		e.value = value
		e.deleted = deleted
		c.lru.Get(string(key))
		return nil
	}

	e := &cacheEntry{key: key, value: value, deleted: deleted}
	if old != nil {
		e.old, e.hadOld = old()
	}
	c.lru.Add(string(key), e)
	return c.takeEvicted()
}

func (c *writeCache) takeEvicted() []*cacheEntry {
	if len(c.evicted) == 0 {
		return nil
	}
	out := c.evicted
	c.evicted = nil
	return out
}

// drain removes and returns all entries, oldest first
func (c *writeCache) drain() []*cacheEntry {
	keys := c.lru.Keys()
	out := make([]*cacheEntry, 0, len(keys))
	for _, k := range keys {
		if v, ok := c.lru.Peek(k); ok {
			out = append(out, v.(*cacheEntry))
		}
	}

	c.lru.Purge()
	c.evicted = nil
	return out
}

func (c *writeCache) len() int {
	return c.lru.Len()
}

// inRange returns buffered entries with keys in [from, to), sorted by key
func (c *writeCache) inRange(from, to []byte) []*cacheEntry {
	var out []*cacheEntry
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		e := v.(*cacheEntry)
		if inBounds(e.key, from, to) {
			out = append(out, e)
		}
	}

	sort.Slice(
		out, func(i, j int) bool {
			return bytes.Compare(out[i].key, out[j].key) < 0
		},
	)
	return out
}

func inBounds(key, from, to []byte) bool {
	if from != nil && bytes.Compare(key, from) < 0 {
		return false
	}
	if to != nil && bytes.Compare(key, to) >= 0 {
		return false
	}
	return true
}
