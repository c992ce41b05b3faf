// cache.go - process-wide balance cache with update notifications.
//
// Any consumer (header badge, purchase dialog, playback views) sees the
// latest known balance; consumption and wallet webhooks publish updates.
// Injected explicitly where needed, never a package global.
package credits

import "sync"

// BalanceCache holds the last known credit balance and fans updates out
// to subscribers. Channels are buffered with capacity 1 and updated with
// replace semantics: a slow consumer sees the newest value, not a backlog.
type BalanceCache struct {
	mu      sync.Mutex
	balance int64
	known   bool
	nextID  int
	subs    map[int]chan int64
}

// NewBalanceCache creates an empty cache with no known balance.
func NewBalanceCache() *BalanceCache {
	return &BalanceCache{subs: make(map[int]chan int64)}
}

// Latest returns the last published balance. known is false until the
// first publish.
func (c *BalanceCache) Latest() (balance int64, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, c.known
}

// Publish records a new balance and notifies all subscribers.
func (c *BalanceCache) Publish(balance int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = balance
	c.known = true
	for _, ch := range c.subs {
		select {
		case ch <- balance:
		default:
			// Replace the stale pending value.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- balance:
			default:
			}
		}
	}
}

// Subscribe registers for balance updates. The returned cancel function
// must be called when the consumer goes away; it closes the channel.
func (c *BalanceCache) Subscribe() (<-chan int64, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan int64, 1)
	c.subs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}
