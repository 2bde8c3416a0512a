package httpclient

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/archiecobbs/pdel-go/pevent"
)

type cacheEntry struct {
	key    cacheKey
	conn   net.Conn
	expiry time.Time
}

// socketCache holds idle connections ordered by ascending expiry
// time (insertion order, since every entry shares the same maxIdle),
// with a single pevent timer armed against the head's expiry at any
// given moment.
type socketCache struct {
	pc      *pevent.Context
	maxSize int
	maxIdle time.Duration
	logger  *zap.Logger
	onEvict func() // called once per connection the cache itself closes

	mu      sync.Mutex
	entries []*cacheEntry
	armed   bool
}

func newSocketCache(pc *pevent.Context, maxSize int, maxIdle time.Duration, logger *zap.Logger, onEvict func()) *socketCache {
	return &socketCache{pc: pc, maxSize: maxSize, maxIdle: maxIdle, logger: logger, onEvict: onEvict}
}

// take removes and returns the first live entry matching key,
// closing and discarding any broken entries it encounters along the
// way (scanning the whole equal-key range, per the spec).
func (c *socketCache) take(key cacheKey) net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.entries[:0]
	var found net.Conn
	for _, e := range c.entries {
		if found != nil || e.key != key {
			kept = append(kept, e)
			continue
		}
		if isIdleReadable(e.conn) {
			found = e.conn
			continue
		}
		e.conn.Close()
		c.onEvict()
	}
	c.entries = kept
	return found
}

// offer inserts conn into the cache if there's room (or room can be
// made by evicting the oldest entry); returns false if the caller
// should close conn itself instead.
func (c *socketCache) offer(key cacheKey, conn net.Conn) bool {
	if c.maxSize <= 0 {
		return false
	}
	c.mu.Lock()
	needArm := !c.armed
	if len(c.entries) >= c.maxSize {
		oldest := c.entries[0]
		oldest.conn.Close()
		c.onEvict()
		c.entries = c.entries[1:]
	}
	c.entries = append(c.entries, &cacheEntry{key: key, conn: conn, expiry: time.Now().Add(c.maxIdle)})
	if needArm {
		c.armed = true
	}
	delay := c.maxIdle
	c.mu.Unlock()

	if needArm {
		c.arm(delay)
	}
	return true
}

// arm registers the one outstanding eviction timer; it is never
// canceled early (only re-armed once it fires), which avoids blocking
// a cache operation on a running timer handler that might itself want
// the cache's own lock.
func (c *socketCache) arm(delay time.Duration) {
	c.pc.RegisterTimer(delay, 0, nil, func(context.Context, any) {
		c.evictExpired()
	}, nil)
}

func (c *socketCache) evictExpired() {
	c.mu.Lock()
	now := time.Now()
	i := 0
	for ; i < len(c.entries); i++ {
		if c.entries[i].expiry.After(now) {
			break
		}
		c.entries[i].conn.Close()
		c.onEvict()
	}
	if i > 0 {
		c.entries = c.entries[i:]
	}
	var nextDelay time.Duration
	rearm := len(c.entries) > 0
	if rearm {
		nextDelay = time.Until(c.entries[0].expiry)
		if nextDelay < 0 {
			nextDelay = 0
		}
	} else {
		c.armed = false
	}
	c.mu.Unlock()

	if rearm {
		c.arm(nextDelay)
	}
}
