package engine

import "sync"

// clockHistoryLimit bounds how many distinct transaction ids the clock
// remembers; PostgreSQL txids are sparse and monotone over a session, so
// evicting the oldest entries once the map grows past this never
// re-assigns a timestamp a live transaction still needs.
const clockHistoryLimit = 8192

// clock assigns a dense, monotone per-engine logical timestamp to each
// distinct observed PostgreSQL txid (§9 Open Question: logical timestamp
// source). txid_current() is itself monotone but sparse and eventually
// wraps around; Assign gives every distinct txid the next integer in
// sequence the first time it's seen, so every row from one transaction
// gets the same logical_ts and later transactions always get a larger one.
type clock struct {
	mu       sync.Mutex
	assigned map[int64]int64
	order    []int64
	next     int64
}

func newClock() *clock {
	return &clock{assigned: make(map[int64]int64), next: 1}
}

func (c *clock) Assign(txid int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, ok := c.assigned[txid]; ok {
		return ts
	}

	ts := c.next
	c.next++
	c.assigned[txid] = ts
	c.order = append(c.order, txid)

	if len(c.order) > clockHistoryLimit {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.assigned, evict)
	}

	return ts
}
