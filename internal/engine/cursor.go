package engine

import "context"

// ErrSnapshotComplete is returned by Cursor.Next once a SubscribeSnapshot
// cursor has delivered every row of its one-shot snapshot (§6
// subscribe_snapshot: "finite sequence: the current snapshot then
// completes").
var ErrSnapshotComplete = newError(KindInternal, "snapshot complete")

// Cursor is the explicit pull interface a client drains (§9 Design Notes:
// "coroutine-style cursor semantics are rendered as an explicit pull
// interface"). Next blocks on the cursor's own ring with a
// heartbeat-aligned timeout and returns exactly one EventRecord per call.
type Cursor struct {
	engine       *Engine
	slot         *Slot
	ring         *RingBuffer
	snapshotOnly bool

	replay     []EventRecord
	buffered   []EventRecord
	replayed   bool
	overflowed bool
}

// Next returns the next event, blocking until one is available, the
// slot is cancelled, or ctx is done. For a snapshot cursor, it returns
// ErrSnapshotComplete once the initial snapshot has been fully delivered.
// Once an EventOverflow record has been returned, every later call
// returns a KindOverflow error.
func (c *Cursor) Next(ctx context.Context) (EventRecord, error) {
	if c.overflowed {
		return EventRecord{}, newError(KindOverflow, "slot %s overflowed; events were lost", c.slot.ID)
	}
	if !c.replayed {
		c.replayed = true
		c.buffered = append(c.buffered, c.replay...)
	}

	for {
		if len(c.buffered) > 0 {
			ev := c.buffered[0]
			c.buffered = c.buffered[1:]
			if ev.Kind == EventOverflow {
				c.overflowed = true
			}
			return ev, nil
		}

		if c.snapshotOnly {
			return EventRecord{}, ErrSnapshotComplete
		}

		select {
		case <-c.slot.done:
			return EventRecord{}, newError(KindCancelled, "slot %s was cancelled", c.slot.ID)
		case <-ctx.Done():
			return EventRecord{}, ctx.Err()
		default:
		}

		c.buffered = c.ring.Drain()
		if len(c.buffered) > 0 {
			continue
		}

		if c.ring.Wait(ctx, c.engine.cfg.HeartbeatInterval) {
			c.buffered = c.ring.Drain()
			continue
		}

		select {
		case <-c.slot.done:
			return EventRecord{}, newError(KindCancelled, "slot %s was cancelled", c.slot.ID)
		case <-ctx.Done():
			return EventRecord{}, ctx.Err()
		default:
		}

		if c.engine.heartbeatDue(c.slot, c.engine.cfg.HeartbeatInterval) {
			c.engine.emitHeartbeat(c.slot, c.engine.cfg.HeartbeatInterval)
		}
		c.buffered = c.ring.Drain()
	}
}

// Close releases this cursor's share of the slot, cancelling the slot
// entirely once the last cursor leaves.
func (c *Cursor) Close() {
	slot := c.slot
	slot.removeReader(c.ring)

	slot.mu.Lock()
	slot.Refcount--
	shouldClose := slot.Refcount <= 0
	slot.mu.Unlock()

	if shouldClose {
		c.engine.Cancel(slot.ID)
	}
}

// SlotID reports the id of the slot this cursor is attached to.
func (c *Cursor) SlotID() string { return c.slot.ID }
