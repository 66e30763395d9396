// Package engine implements the change-propagation core (§2 C1-C8 of the
// specification this module was built from): the slot table and ring
// buffers, the query dedup index, the shared trigger manager, trigger
// dispatch, and the snapshot-diff evaluator, wired together behind a
// single process-wide Engine standing in for the shared-memory facility a
// database backend would otherwise provide.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nnaka2992/pg-subscribe/internal/analyzer"
	"github.com/nnaka2992/pg-subscribe/internal/querykey"
)

// Config bounds and tunes one Engine instance (§6 Configuration, §4.9).
type Config struct {
	HeartbeatInterval time.Duration
	MaxSlots          int
	MaxEventsPerSlot  int
	MaxTrackedTables  int
	BackendPID        int
}

// DefaultConfig matches the specification's defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: time.Second,
		MaxSlots:          64,
		MaxEventsPerSlot:  32,
		MaxTrackedTables:  256,
	}
}

// Engine is the process-wide singleton that owns every slot, the dedup
// index, the tracked-table trigger refcounts, and the logical clock — the
// explicit process-wide singleton the specification's "Global mutable
// state" design note calls for in place of shared memory.
type Engine struct {
	cfg Config

	mu         sync.RWMutex
	slots      map[string]*Slot
	tableIndex map[string]map[string]bool // table -> set of slot IDs

	dedup    *dedupIndex
	triggers *triggerManager
	clock    *clock
	metrics  *Metrics
	logger   *logrus.Logger

	db       Querier
	notifier Notifier

	cancelDispatch context.CancelFunc
	wg             sync.WaitGroup
}

// New wires an Engine against db (query execution) and notifier
// (pg_notify delivery) and starts its background dispatch loop. registerer
// may be nil to skip Prometheus registration, as tests do.
func New(cfg Config, db Querier, notifier Notifier, logger *logrus.Logger, registerer prometheus.Registerer) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:            cfg,
		slots:          make(map[string]*Slot),
		tableIndex:     make(map[string]map[string]bool),
		dedup:          newDedupIndex(),
		triggers:       newTriggerManager(db, notifier),
		clock:          newClock(),
		metrics:        newMetrics(registerer),
		logger:         logger,
		db:             db,
		notifier:       notifier,
		cancelDispatch: cancel,
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchLoop(ctx)
	}()

	return e
}

// Close stops the dispatch loop and every slot worker. It does not drop
// triggers — callers that want a clean table state should Cancel every
// slot first.
func (e *Engine) Close() {
	e.cancelDispatch()
	e.mu.RLock()
	slots := make([]*Slot, 0, len(e.slots))
	for _, s := range e.slots {
		slots = append(slots, s)
	}
	e.mu.RUnlock()
	for _, s := range slots {
		close(s.done)
	}
	e.wg.Wait()
}

// Subscribe registers a new lazy subscription and returns a Cursor over
// it (§6 subscribe, §4.6 lifecycle Initializing→Live).
func (e *Engine) Subscribe(ctx context.Context, query string, identityColumns []string) (*Cursor, error) {
	return e.subscribe(ctx, query, identityColumns, false)
}

// SubscribeSnapshot behaves like Subscribe but the returned Cursor is
// finite: it yields the current snapshot and then reports io.EOF-like
// completion via ErrSnapshotComplete.
func (e *Engine) SubscribeSnapshot(ctx context.Context, query string, identityColumns []string) (*Cursor, error) {
	return e.subscribe(ctx, query, identityColumns, true)
}

func (e *Engine) subscribe(ctx context.Context, query string, identityColumns []string, snapshotOnly bool) (*Cursor, error) {
	facts, err := analyzer.Analyze(query)
	if err != nil {
		return nil, wrapError(KindInternal, err, "analyze query")
	}
	if !facts.Valid {
		return nil, newError(KindInvalidQuery, "%s", facts.Error)
	}
	if facts.HasRecursiveCTE {
		return nil, newError(KindUnsupportedQuery, "recursive CTEs are not supported")
	}

	normalized := querykey.Normalize(query)
	hash := querykey.Hash(normalized)

	if slotID, ok := e.dedup.lookup(hash); ok {
		e.mu.RLock()
		slot, ok := e.slots[slotID]
		e.mu.RUnlock()
		if ok && e.slotIsLive(slot) {
			return e.newCursor(slot, snapshotOnly), nil
		}
	}

	slot, err := e.allocateSlot(query, normalized, hash, identityColumns, facts)
	if err != nil {
		return nil, err
	}

	if err := e.triggers.attach(ctx, keys(slot.ReferencedTables)); err != nil {
		e.releaseSlot(slot)
		return nil, err
	}
	e.metrics.trackedTables.Set(float64(len(e.triggers.trackedTables())))

	if facts.Strategy == analyzer.LivePredicate {
		pred, err := wherePredicate(query)
		if err != nil {
			e.detachAndRelease(ctx, slot)
			return nil, wrapError(KindInternal, err, "extract predicate")
		}
		slot.predicate = pred
	}

	if err := e.initialSnapshot(ctx, slot); err != nil {
		e.detachAndRelease(ctx, slot)
		return nil, err
	}

	slot.mu.Lock()
	slot.State = StateLive
	slot.mu.Unlock()

	e.dedup.set(hash, slot.ID)
	e.metrics.activeSlots.Inc()

	if facts.Strategy == analyzer.SnapshotDiff {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.slotWorker(slot)
		}()
	}

	// newCursor builds its replay straight from the now-populated
	// last_result, exactly the path a later dedup joiner takes — the
	// initial snapshot never touches the bounded ring, so its size isn't
	// limited by ring capacity and it can never race a second cursor's
	// drain of the same queue.
	return e.newCursor(slot, snapshotOnly), nil
}

func (e *Engine) slotIsLive(slot *Slot) bool {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.State == StateLive
}

// newCursor registers a fresh per-cursor ring with slot and replays the
// slot's current last_result as an immediate +1 snapshot into that cursor
// alone — the very first subscriber's initial snapshot and a later
// dedup'd subscriber's join-time catch-up (§4.6 Dedup) both go through
// this same path. Every other cursor sharing the slot keeps seeing only
// ring events from its own join point forward.
func (e *Engine) newCursor(slot *Slot, snapshotOnly bool) *Cursor {
	ring := NewRingBuffer(e.cfg.MaxEventsPerSlot)
	slot.addReader(ring)

	slot.mu.Lock()
	slot.Refcount++
	replay := make([]map[string]interface{}, 0)
	for _, rows := range slot.LastResult.rows {
		replay = append(replay, rows...)
	}
	ts := slot.LastLogicalTS
	slot.mu.Unlock()

	cursor := &Cursor{engine: e, slot: slot, ring: ring, snapshotOnly: snapshotOnly}
	for _, row := range replay {
		data, err := rowToEventJSON(row)
		if err != nil {
			continue
		}
		cursor.replay = append(cursor.replay, EventRecord{LogicalTS: ts, Diff: 1, Kind: EventData, Data: data})
	}
	return cursor
}

func (e *Engine) allocateSlot(query, normalized string, hash uint64, identityColumns []string, facts *analyzer.QueryFacts) (*Slot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.slots) >= e.cfg.MaxSlots {
		return nil, newError(KindResourceExhausted, "no free slot (max %d)", e.cfg.MaxSlots)
	}

	tables := make(map[string]bool, len(facts.ReferencedTables))
	for _, t := range facts.ReferencedTables {
		tables[t] = true
	}

	trackedAfter := len(e.tableIndex)
	for t := range tables {
		if _, exists := e.tableIndex[t]; !exists {
			trackedAfter++
		}
	}
	if trackedAfter > e.cfg.MaxTrackedTables {
		return nil, newError(KindResourceExhausted, "tracked-table limit reached (max %d)", e.cfg.MaxTrackedTables)
	}

	slot := &Slot{
		ID:               uuid.NewString(),
		QueryHash:        hash,
		NormalizedQuery:  normalized,
		OriginalQuery:    query,
		IdentityColumns:  identityColumns,
		ReferencedTables: tables,
		Strategy:         facts.Strategy,
		State:            StateInitializing,
		CreatedAt:        time.Now(),
		BackendPID:       e.cfg.BackendPID,
		LastResult:       newResultSet(),
		HeartbeatDue:     time.Now().Add(e.cfg.HeartbeatInterval),
		tokens:           make(chan changeToken, 1),
		done:             make(chan struct{}),
	}

	e.slots[slot.ID] = slot
	for t := range tables {
		if e.tableIndex[t] == nil {
			e.tableIndex[t] = make(map[string]bool)
		}
		e.tableIndex[t][slot.ID] = true
	}

	return slot, nil
}

func (e *Engine) releaseSlot(slot *Slot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.slots, slot.ID)
	for t := range slot.ReferencedTables {
		delete(e.tableIndex[t], slot.ID)
		if len(e.tableIndex[t]) == 0 {
			delete(e.tableIndex, t)
		}
	}
}

func (e *Engine) detachAndRelease(ctx context.Context, slot *Slot) {
	_ = e.triggers.detach(ctx, keys(slot.ReferencedTables))
	e.metrics.trackedTables.Set(float64(len(e.triggers.trackedTables())))
	e.releaseSlot(slot)
}

// initialSnapshot evaluates the subscribed query and records it as the
// slot's last_result at a fresh logical timestamp. It never touches the
// ring: the rows it produces are delivered to the subscribing cursor
// through newCursor's replay, the same path a later dedup joiner takes,
// so the snapshot's size is never bounded by ring capacity.
func (e *Engine) initialSnapshot(ctx context.Context, slot *Slot) error {
	rows, err := evaluateSnapshot(ctx, e.db, slot.OriginalQuery)
	if err != nil {
		return wrapError(KindInternal, err, "initial snapshot")
	}
	rs, err := buildResultSet(rows, slot.IdentityColumns)
	if err != nil {
		return wrapError(KindInternal, err, "build initial result set")
	}

	slot.mu.Lock()
	slot.LastResult = rs
	slot.LastLogicalTS++
	slot.mu.Unlock()
	return nil
}

// slotWorker drains change tokens for a SnapshotDiff slot, re-evaluates
// the query, and writes the resulting diff to the ring (§4.5).
func (e *Engine) slotWorker(slot *Slot) {
	ctx := context.Background()
	for {
		select {
		case <-slot.done:
			return
		case tok := <-slot.tokens:
			e.reEvaluate(ctx, slot, tok.ts)
		}
	}
}

func (e *Engine) reEvaluate(ctx context.Context, slot *Slot, ts int64) {
	rows, err := evaluateSnapshot(ctx, e.db, slot.OriginalQuery)
	if err != nil {
		e.logger.WithError(err).WithField("slot_id", slot.ID).Error("pg_subscribe: re-evaluation failed")
		return
	}
	newSet, err := buildResultSet(rows, slot.IdentityColumns)
	if err != nil {
		e.logger.WithError(err).WithField("slot_id", slot.ID).Error("pg_subscribe: build result set failed")
		return
	}

	slot.mu.Lock()
	oldSet := slot.LastResult
	if ts > slot.LastLogicalTS {
		slot.LastLogicalTS = ts
	} else {
		slot.LastLogicalTS++
	}
	newTS := slot.LastLogicalTS
	slot.LastResult = newSet
	slot.mu.Unlock()

	d := diff(oldSet, newSet, slot.IdentityColumns)
	for _, row := range d.deletes {
		data, err := rowToEventJSON(row)
		if err != nil {
			continue
		}
		e.emit(slot, EventRecord{LogicalTS: newTS, Diff: -1, Kind: EventData, Data: data})
	}
	for _, row := range d.inserts {
		data, err := rowToEventJSON(row)
		if err != nil {
			continue
		}
		e.emit(slot, EventRecord{LogicalTS: newTS, Diff: 1, Kind: EventData, Data: data})
	}
}

// Prepare subscribes to query through Subscribe and returns only the slot
// id. The cursor Subscribe opens stays attached but is not returned, so
// the slot stays allocated until Cancel; nothing is published on a
// channel named after the id.
func (e *Engine) Prepare(ctx context.Context, query string) (string, error) {
	cursor, err := e.Subscribe(ctx, query, nil)
	if err != nil {
		return "", err
	}
	return cursor.slot.ID, nil
}

// Cancel cancels a slot by id, returning true if it existed. All sharing
// cursors observe KindCancelled on their next Next call.
func (e *Engine) Cancel(slotID string) bool {
	e.mu.RLock()
	slot, ok := e.slots[slotID]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	slot.mu.Lock()
	if slot.State == StateClosed {
		slot.mu.Unlock()
		return false
	}
	slot.State = StateDraining
	slot.mu.Unlock()

	ctx := context.Background()
	e.detachAndRelease(ctx, slot)

	slot.mu.Lock()
	slot.State = StateClosed
	slot.mu.Unlock()
	close(slot.done)

	e.dedup.delete(slot.QueryHash)
	e.metrics.activeSlots.Dec()
	return true
}

// ListActive returns the metadata pg_subscribe_list_active() exposes.
func (e *Engine) ListActive() []ActiveSlot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]ActiveSlot, 0, len(e.slots))
	for _, s := range e.slots {
		s.mu.Lock()
		slotID, query, createdAt, backendPID := s.ID, s.OriginalQuery, s.CreatedAt, s.BackendPID
		s.mu.Unlock()
		out = append(out, ActiveSlot{
			SlotID:     slotID,
			Query:      query,
			CreatedAt:  createdAt,
			EventsSent: atomic.LoadUint64(&s.EventsSent),
			BackendPID: backendPID,
		})
	}
	return out
}

// Stats returns the key/value counters pg_subscribe_stats() reports.
func (e *Engine) Stats() map[string]int64 {
	stats := e.metrics.snapshot()
	e.mu.RLock()
	stats["slots"] = int64(len(e.slots))
	stats["tracked_tables_live"] = int64(len(e.tableIndex))
	e.mu.RUnlock()
	return stats
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
