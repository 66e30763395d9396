package engine

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nnaka2992/pg-subscribe/internal/analyzer"
)

// triggerPayload is the JSON shape the installed trigger function emits
// via pg_notify (§4.4), decoded in the listener goroutine rather than the
// committer's.
type triggerPayload struct {
	Op    string                 `json:"op"`
	Table string                 `json:"table"`
	Txid  int64                  `json:"txid"`
	Old   map[string]interface{} `json:"old,omitempty"`
	New   map[string]interface{} `json:"new,omitempty"`
}

// dispatchLoop drains notifications and applies §4.4's per-row dispatch
// to every interested slot. It runs in the single goroutine reading
// Notifier.Notifications(), standing in for "the executor of the
// committing transaction" — it must never block on a slot's ring.
func (e *Engine) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-e.notifier.Notifications():
			if !ok {
				return
			}
			if n == nil {
				continue
			}
			e.dispatchOne(n)
		}
	}
}

func (e *Engine) dispatchOne(n *Notification) {
	var payload triggerPayload
	if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil {
		e.logger.WithError(err).WithField("channel", n.Channel).Warn("pg_subscribe: malformed trigger payload")
		return
	}

	ts := e.clock.Assign(payload.Txid)

	e.mu.RLock()
	slotIDs := make([]string, 0, len(e.tableIndex[payload.Table]))
	for id := range e.tableIndex[payload.Table] {
		slotIDs = append(slotIDs, id)
	}
	slots := make([]*Slot, 0, len(slotIDs))
	for _, id := range slotIDs {
		if s, ok := e.slots[id]; ok {
			slots = append(slots, s)
		}
	}
	e.mu.RUnlock()

	for _, slot := range slots {
		e.dispatchToSlot(slot, payload, ts)
	}
}

func (e *Engine) dispatchToSlot(slot *Slot, payload triggerPayload, ts int64) {
	if slot.Strategy == analyzer.LivePredicate {
		e.dispatchLivePredicate(slot, payload, ts)
		return
	}
	e.enqueueToken(slot, payload.Table, ts)
}

// dispatchLivePredicate evaluates φ directly against OLD/NEW (§4.4 point
// 3), emitting at most one -1 and one +1, both at ts.
func (e *Engine) dispatchLivePredicate(slot *Slot, payload triggerPayload, ts int64) {
	switch payload.Op {
	case "DELETE":
		e.emitIfMatches(slot, payload.Old, ts, -1)
	case "INSERT":
		e.emitIfMatches(slot, payload.New, ts, +1)
	case "UPDATE":
		e.emitIfMatches(slot, payload.Old, ts, -1)
		e.emitIfMatches(slot, payload.New, ts, +1)
	}
}

func (e *Engine) emitIfMatches(slot *Slot, row map[string]interface{}, ts int64, diff int32) {
	if row == nil {
		return
	}
	matched, err := evalPredicate(slot.predicate, row)
	if err != nil {
		e.logger.WithError(err).WithField("slot_id", slot.ID).Warn("pg_subscribe: predicate evaluation failed, row skipped")
		return
	}
	if !matched {
		return
	}
	data, err := rowToEventJSON(row)
	if err != nil {
		e.logger.WithError(err).WithField("slot_id", slot.ID).Warn("pg_subscribe: row encoding failed")
		return
	}
	e.emit(slot, EventRecord{LogicalTS: ts, Diff: diff, Kind: EventData, Data: data})
}

// enqueueToken coalesces pending change notifications into the slot's
// single-entry latch: a full channel means a wake is already pending, so
// the send is simply dropped rather than blocked on.
func (e *Engine) enqueueToken(slot *Slot, table string, ts int64) {
	select {
	case slot.tokens <- changeToken{table: table, ts: ts}:
	default:
	}
}

// emit fans an event out to every cursor currently sharing slot, marking
// overflow instead of blocking on whichever reader is full. The slot's
// sent counter and events_total are bumped once per event that reached at
// least one reader (which also pushes the slot's next heartbeat back by
// one interval); overflows_total is bumped once per reader that was full.
func (e *Engine) emit(slot *Slot, ev EventRecord) {
	readers := slot.snapshotReaders()
	if len(readers) == 0 {
		return
	}
	delivered := false
	for _, r := range readers {
		if r.TryAppend(ev) {
			delivered = true
		} else {
			e.metrics.overflowsTotal.Inc()
		}
	}
	if delivered {
		atomic.AddUint64(&slot.EventsSent, 1)
		e.metrics.eventsTotal.Inc()
		slot.mu.Lock()
		slot.HeartbeatDue = time.Now().Add(e.cfg.HeartbeatInterval)
		slot.mu.Unlock()
	}
}
