package playermail

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// cooldowns remembers each sender's last successful send. Entries expire
// with the window, and the cache is bounded so long-running servers do not
// accumulate one entry per player ever seen. State is in-memory only.
//
// A sender evicted by the bound before its window ends is free to send
// again; see WithCooldownCapacity.
type cooldowns struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex // serializes reserve against settle
	last *expirable.LRU[string, time.Time]
}

func newCooldowns(window time.Duration, capacity int, now func() time.Time) *cooldowns {
	c := &cooldowns{window: window, now: now}
	if window > 0 {
		c.last = expirable.NewLRU[string, time.Time](capacity, nil, window)
	}
	return c
}

// remaining returns how long senderID must still wait. Zero means free to send.
func (c *cooldowns) remaining(senderID string) time.Duration {
	if c.last == nil || senderID == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked(senderID)
}

func (c *cooldowns) remainingLocked(senderID string) time.Duration {
	at, ok := c.last.Peek(senderID)
	if !ok {
		return 0
	}
	if left := c.window - c.now().Sub(at); left > 0 {
		return left
	}
	return 0
}

// reserve checks senderID and stamps it in one step, so of several
// concurrent sends from one sender only the first gets through. The
// returned settle func must be called once the send finishes: ok restamps
// the window from completion, !ok withdraws the reservation.
func (c *cooldowns) reserve(senderID string) (settle func(ok bool), err error) {
	if c.last == nil || senderID == "" {
		return func(bool) {}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if left := c.remainingLocked(senderID); left > 0 {
		return nil, &CooldownError{SenderID: senderID, Remaining: left}
	}
	stamp := c.now()
	c.last.Add(senderID, stamp)

	var once sync.Once
	return func(ok bool) {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if ok {
				c.last.Add(senderID, c.now())
				return
			}
			if at, found := c.last.Peek(senderID); found && at.Equal(stamp) {
				c.last.Remove(senderID)
			}
		})
	}, nil
}

// reset forgets every sender.
func (c *cooldowns) reset() {
	if c.last == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last.Purge()
}
