package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pganalyze/pg_query_go/v6"

	"github.com/nnaka2992/pg-subscribe/internal/analyzer"
)

// SlotState is a subscription's lifecycle state (§4.6).
type SlotState int

const (
	StateInitializing SlotState = iota
	StateLive
	StateDraining
	StateClosed
)

func (s SlotState) String() string {
	switch s {
	case StateLive:
		return "Live"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return "Initializing"
	}
}

// EventKind discriminates the three shapes an EventRecord can take; §3
// describes progressed/overflow narratively, this is the concrete tag.
type EventKind int

const (
	EventData EventKind = iota
	EventHeartbeat
	EventOverflow
)

// EventRecord is the immutable unit a cursor observes.
type EventRecord struct {
	LogicalTS  int64
	Diff       int32
	Progressed bool
	Kind       EventKind
	Data       json.RawMessage
}

// changeToken is the coalesced notice that a watched table changed; the
// slot's channel holding at most one of these is the "single-entry latch"
// of §4.4 point 3.
type changeToken struct {
	table string
	ts    int64
}

// Slot is a subscription's shared state: one per distinct normalized
// query (or one per non-deduped subscriber), refcounted across sharing
// cursors.
type Slot struct {
	mu sync.Mutex

	ID               string
	QueryHash        uint64
	NormalizedQuery  string
	OriginalQuery    string
	IdentityColumns  []string
	ReferencedTables map[string]bool
	Strategy         analyzer.Strategy
	Refcount         int
	LastLogicalTS    int64
	LastResult       resultSet
	HeartbeatDue     time.Time
	State            SlotState
	CreatedAt        time.Time
	EventsSent       uint64
	BackendPID       int

	// readers holds one RingBuffer per cursor currently sharing this
	// slot. emit fans every event out to each of them independently, so
	// dedup'd cursors each see the identical sequence from their own
	// join point forward instead of racing to drain a single queue.
	readers []*RingBuffer

	// predicate is the parsed WHERE clause for LivePredicate slots, nil
	// otherwise; dispatch evaluates it directly against trigger rows
	// instead of enqueuing a change token.
	predicate *pg_query.Node

	tokens chan changeToken
	done   chan struct{}
}

// addReader registers a new cursor's ring to receive every future emit.
func (s *Slot) addReader(r *RingBuffer) {
	s.mu.Lock()
	s.readers = append(s.readers, r)
	s.mu.Unlock()
}

// removeReader unregisters a cursor's ring, e.g. on Cursor.Close.
func (s *Slot) removeReader(r *RingBuffer) {
	s.mu.Lock()
	for i, rr := range s.readers {
		if rr == r {
			s.readers = append(s.readers[:i], s.readers[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// snapshotReaders returns a stable copy of the current reader set for
// emit to iterate without holding the slot lock across ring appends.
func (s *Slot) snapshotReaders() []*RingBuffer {
	s.mu.Lock()
	out := make([]*RingBuffer, len(s.readers))
	copy(out, s.readers)
	s.mu.Unlock()
	return out
}

// ActiveSlot is the read-only projection pg_subscribe_list_active()
// returns.
type ActiveSlot struct {
	SlotID     string
	Query      string
	CreatedAt  time.Time
	EventsSent uint64
	BackendPID int
}

// TrackedTable is a base table currently observed by at least one slot.
type TrackedTable struct {
	Table       string
	TriggerName string
	Refcount    int
}
