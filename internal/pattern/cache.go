package pattern

import (
	"sync"

	"github.com/gobwas/glob"
)

// entry is a doubly linked list node holding one compiled pattern.
// A nil g records a pattern that failed to compile, so it is not retried.
type entry struct {
	pattern string
	g       glob.Glob
	prev    *entry
	next    *entry
}

// globCache is a thread-safe LRU of compiled wildcard patterns.
// Rule and exclusion lists are small and stable, so nearly every lookup hits.
type globCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*entry
	head     *entry // most recently used (sentinel)
	tail     *entry // least recently used (sentinel)
}

func newGlobCache(capacity int) *globCache {
	if capacity < 1 {
		capacity = 1
	}
	head := &entry{}
	tail := &entry{}
	head.next = tail
	tail.prev = head
	return &globCache{
		capacity: capacity,
		items:    make(map[string]*entry, capacity),
		head:     head,
		tail:     tail,
	}
}

// get returns the compiled glob for pattern, compiling and caching it on a miss.
func (c *globCache) get(pattern string) glob.Glob {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[pattern]; ok {
		c.unlink(e)
		c.pushFront(e)
		return e.g
	}

	g, err := compileWildcard(pattern)
	if err != nil {
		g = nil
	}

	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.unlink(victim)
		delete(c.items, victim.pattern)
	}
	e := &entry{pattern: pattern, g: g}
	c.items[pattern] = e
	c.pushFront(e)
	return g
}

func (c *globCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// patterns lists cached patterns from most to least recently used.
func (c *globCache) patterns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.items))
	for cur := c.head.next; cur != c.tail; cur = cur.next {
		out = append(out, cur.pattern)
	}
	return out
}

// caller must hold lock
func (c *globCache) unlink(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = nil
	e.next = nil
}

// caller must hold lock
func (c *globCache) pushFront(e *entry) {
	e.next = c.head.next
	e.prev = c.head
	c.head.next.prev = e
	c.head.next = e
}
