package engine

import "time"

// heartbeatDue reports whether H ms have passed since slot's last
// heartbeat (or real event); Cursor.Next consults it before calling
// emitHeartbeat so two cursors sharing a slot, each waking independently
// on their own ring's timeout, don't double up on heartbeats within one
// interval.
func (e *Engine) heartbeatDue(slot *Slot, interval time.Duration) bool {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return time.Now().After(slot.HeartbeatDue)
}

// emitHeartbeat emits a progressed=true event on slot's readers (§4.7).
// It runs on the goroutine of whichever cursor's Next found the heartbeat
// due; there is no standalone heartbeat goroutine, and each ring's mutex
// serializes these appends with the dispatch and slot-worker writes.
func (e *Engine) emitHeartbeat(slot *Slot, interval time.Duration) {
	slot.mu.Lock()
	slot.HeartbeatDue = time.Now().Add(interval)
	ts := slot.LastLogicalTS
	slot.mu.Unlock()

	ev := EventRecord{
		LogicalTS:  ts,
		Diff:       0,
		Progressed: true,
		Kind:       EventHeartbeat,
	}
	for _, r := range slot.snapshotReaders() {
		if r.TryAppend(ev) {
			e.metrics.heartbeatsSent.Inc()
		}
		// Ring saturation during a heartbeat is not critical (§4.7); the
		// next real event's overflow marker will catch that reader up.
	}
}
