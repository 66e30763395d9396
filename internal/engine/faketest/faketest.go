// Package faketest provides an in-memory Querier and Notifier so
// internal/engine's tests exercise Subscribe/Cancel/dispatch/evaluate
// end to end without a live PostgreSQL connection, per SPEC_FULL §8
// ("internal/engine/faketest ... so the suite runs without a live
// PostgreSQL instance"). It models just enough of a table store and a
// pg_notify bus to drive the scenarios in spec.md §8 (S1-S6): seeded
// rows, mutation helpers that append trigger-shaped JSON payloads, and a
// query engine that understands the small slice of SQL pg_subscribe
// itself emits as its "re-run the SELECT" snapshot query.
package faketest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nnaka2992/pg-subscribe/internal/engine"
)

// Row is a single in-memory record, column name to value.
type Row map[string]interface{}

// Table is a named, ordered collection of rows. The monotone txid counter
// standing in for PostgreSQL's txid_current() lives on DB, shared by all
// tables.
type Table struct {
	mu      sync.Mutex
	name    string
	columns []string
	rows    []Row
	nextID  int64
}

// DB is the in-memory store faketest.Querier and faketest.Notifier share:
// mutating a Table through DB.Insert/Update/Delete both changes the data
// a later snapshot query sees and publishes a trigger-shaped notification
// exactly as the real installed trigger's pg_notify call would.
type DB struct {
	mu     sync.Mutex
	tables map[string]*Table
	bus    *Bus
	txid   int64
}

// New creates an empty in-memory database wired to a fresh Bus.
func New() *DB {
	return &DB{tables: make(map[string]*Table), bus: NewBus()}
}

// Bus returns the Notifier this DB publishes table changes on.
func (d *DB) Bus() *Bus { return d.bus }

// CreateTable registers table with the given column order and seeds it
// with rows, in order.
func (d *DB) CreateTable(name string, columns []string, rows ...Row) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &Table{name: name, columns: columns}
	t.rows = append(t.rows, rows...)
	t.nextID = int64(len(rows) + 1)
	d.tables[name] = t
}

func (d *DB) table(name string) (*Table, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[name]
	return t, ok
}

func (d *DB) nextTxid() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txid++
	return d.txid
}

// Insert appends row to table and notifies the bus as the table's
// trigger would on commit.
func (d *DB) Insert(table string, row Row) error {
	t, ok := d.table(table)
	if !ok {
		return fmt.Errorf("faketest: unknown table %s", table)
	}
	t.mu.Lock()
	t.rows = append(t.rows, cloneRow(row))
	t.mu.Unlock()

	return d.bus.publish(table, triggerPayload{Op: "INSERT", Table: table, Txid: d.nextTxid(), New: row})
}

// Update finds the first row matching match (equality on every key) and
// replaces its columns with the values in set, notifying the bus with
// both the old and new row.
func (d *DB) Update(table string, match Row, set Row) error {
	t, ok := d.table(table)
	if !ok {
		return fmt.Errorf("faketest: unknown table %s", table)
	}
	t.mu.Lock()
	idx := findRow(t.rows, match)
	if idx < 0 {
		t.mu.Unlock()
		return fmt.Errorf("faketest: no row in %s matches %v", table, match)
	}
	old := cloneRow(t.rows[idx])
	for k, v := range set {
		t.rows[idx][k] = v
	}
	updated := cloneRow(t.rows[idx])
	t.mu.Unlock()

	return d.bus.publish(table, triggerPayload{Op: "UPDATE", Table: table, Txid: d.nextTxid(), Old: old, New: updated})
}

// Delete removes the first row matching match, notifying the bus with
// the removed row.
func (d *DB) Delete(table string, match Row) error {
	t, ok := d.table(table)
	if !ok {
		return fmt.Errorf("faketest: unknown table %s", table)
	}
	t.mu.Lock()
	idx := findRow(t.rows, match)
	if idx < 0 {
		t.mu.Unlock()
		return fmt.Errorf("faketest: no row in %s matches %v", table, match)
	}
	old := cloneRow(t.rows[idx])
	t.rows = append(t.rows[:idx], t.rows[idx+1:]...)
	t.mu.Unlock()

	return d.bus.publish(table, triggerPayload{Op: "DELETE", Table: table, Txid: d.nextTxid(), Old: old})
}

func findRow(rows []Row, match Row) int {
	for i, r := range rows {
		if rowMatches(r, match) {
			return i
		}
	}
	return -1
}

func rowMatches(row, match Row) bool {
	for k, v := range match {
		if fmt.Sprintf("%v", row[k]) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// triggerPayload mirrors engine's internal decode shape; duplicated here
// (rather than imported) because that type is unexported, exactly as a
// real trigger's pg_notify JSON would be opaque to anything outside the
// engine package.
type triggerPayload struct {
	Op    string `json:"op"`
	Table string `json:"table"`
	Txid  int64  `json:"txid"`
	Old   Row    `json:"old,omitempty"`
	New   Row    `json:"new,omitempty"`
}

// Querier adapts DB to engine.Querier, running the tiny subset of SQL
// pg_subscribe's own snapshot re-evaluation needs: `SELECT <cols> FROM
// <table> [WHERE col = literal]`, enough to drive every scenario in
// spec.md §8 without embedding a real SQL engine.
type Querier struct {
	db *DB
}

// NewQuerier wraps db as an engine.Querier.
func NewQuerier(db *DB) *Querier { return &Querier{db: db} }

var _ engine.Querier = (*Querier)(nil)

func (q *Querier) QueryContext(ctx context.Context, query string, args ...interface{}) (engine.Rows, error) {
	table, cols, where, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	t, ok := q.db.table(table)
	if !ok {
		return nil, fmt.Errorf("faketest: unknown table %s", table)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	outCols := cols
	if len(outCols) == 1 && outCols[0] == "*" {
		outCols = append([]string(nil), t.columns...)
	}

	var matched []Row
	for _, r := range t.rows {
		if where == nil || rowMatchesPredicate(r, *where) {
			matched = append(matched, cloneRow(r))
		}
	}
	return newRows(outCols, matched), nil
}

func (q *Querier) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return driverResult{}, nil
}

func (q *Querier) BeginTx(ctx context.Context, opts *sql.TxOptions) (engine.Tx, error) {
	return fakeTx{q: q}, nil
}

type fakeTx struct{ q *Querier }

func (t fakeTx) QueryContext(ctx context.Context, query string, args ...interface{}) (engine.Rows, error) {
	return t.q.QueryContext(ctx, query, args...)
}
func (t fakeTx) Commit() error   { return nil }
func (t fakeTx) Rollback() error { return nil }

type driverResult struct{}

func (driverResult) LastInsertId() (int64, error) { return 0, nil }
func (driverResult) RowsAffected() (int64, error) { return 0, nil }

// equalityPredicate is the one WHERE shape faketest's parser understands:
// `col = literal`, sufficient for every LivePredicate scenario §8 names.
type equalityPredicate struct {
	column string
	value  string
}

func rowMatchesPredicate(r Row, p equalityPredicate) bool {
	return fmt.Sprintf("%v", r[p.column]) == p.value
}

// parseSelect recognizes `SELECT <cols> FROM <table> [WHERE <col> = <lit>]`,
// case-insensitively, with an optional trailing semicolon.
func parseSelect(query string) (table string, cols []string, where *equalityPredicate, err error) {
	q := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT ") {
		return "", nil, nil, fmt.Errorf("faketest: unsupported query %q", query)
	}

	fromIdx := strings.Index(upper, " FROM ")
	if fromIdx < 0 {
		return "", nil, nil, fmt.Errorf("faketest: missing FROM in %q", query)
	}
	colsPart := strings.TrimSpace(q[len("SELECT "):fromIdx])
	for _, c := range strings.Split(colsPart, ",") {
		cols = append(cols, strings.TrimSpace(c))
	}

	rest := strings.TrimSpace(q[fromIdx+len(" FROM "):])
	whereIdx := strings.Index(strings.ToUpper(rest), " WHERE ")
	if whereIdx < 0 {
		return strings.TrimSpace(rest), cols, nil, nil
	}

	table = strings.TrimSpace(rest[:whereIdx])
	clause := strings.TrimSpace(rest[whereIdx+len(" WHERE "):])
	parts := strings.SplitN(clause, "=", 2)
	if len(parts) != 2 {
		return "", nil, nil, fmt.Errorf("faketest: unsupported WHERE clause %q", clause)
	}
	col := strings.TrimSpace(parts[0])
	val := strings.Trim(strings.TrimSpace(parts[1]), "'")
	return table, cols, &equalityPredicate{column: col, value: val}, nil
}

// rows implements engine.Rows over an in-memory slice, the fake stand-in
// for *sql.Rows.
type rows struct {
	cols []string
	data []Row
	pos  int
	cur  Row
}

func newRows(cols []string, data []Row) *rows {
	sort.SliceStable(data, func(i, j int) bool {
		return fmt.Sprintf("%v", data[i]) < fmt.Sprintf("%v", data[j])
	})
	return &rows{cols: cols, data: data, pos: -1}
}

func (r *rows) Columns() ([]string, error) { return r.cols, nil }

func (r *rows) ColumnTypes() ([]*sql.ColumnType, error) {
	// pg_subscribe's row decoding only special-cases time.Time values and
	// []byte values (the latter by DatabaseTypeName); faketest rows never
	// produce either, so
	// a nil-typed slice (one per column) is all ColumnTypes needs to
	// return for convertValue's default passthrough case to apply.
	return make([]*sql.ColumnType, len(r.cols)), nil
}

func (r *rows) Next() bool {
	r.pos++
	if r.pos >= len(r.data) {
		return false
	}
	r.cur = r.data[r.pos]
	return true
}

func (r *rows) Scan(dest ...interface{}) error {
	if len(dest) != len(r.cols) {
		return fmt.Errorf("faketest: scan arity mismatch: %d dest, %d cols", len(dest), len(r.cols))
	}
	for i, col := range r.cols {
		ptr, ok := dest[i].(*interface{})
		if !ok {
			return fmt.Errorf("faketest: scan dest %d is not *interface{}", i)
		}
		*ptr = r.cur[col]
	}
	return nil
}

func (r *rows) Err() error   { return nil }
func (r *rows) Close() error { return nil }

var _ engine.Rows = (*rows)(nil)

// Bus is an in-memory Notifier: Listen/Unlisten track a channel set and
// publish fans a payload out to every subscribed channel's queue,
// mirroring pq.Listener's Notifications() without a socket.
type Bus struct {
	mu        sync.Mutex
	listening map[string]bool
	ch        chan *engine.Notification
}

// NewBus creates an empty, unbuffered-consumer Bus. The channel itself is
// buffered generously since faketest tests publish many mutations before
// a slot worker drains them, mirroring a burst of commits arriving faster
// than a subscriber reads (spec.md §8 S6).
func NewBus() *Bus {
	return &Bus{listening: make(map[string]bool), ch: make(chan *engine.Notification, 4096)}
}

var _ engine.Notifier = (*Bus)(nil)

func (b *Bus) Listen(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listening[channel] = true
	return nil
}

func (b *Bus) Unlisten(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listening, channel)
	return nil
}

func (b *Bus) Notifications() <-chan *engine.Notification { return b.ch }

func (b *Bus) Close() error {
	close(b.ch)
	return nil
}

func (b *Bus) publish(table string, payload triggerPayload) error {
	channel := "pgsub_" + sanitizeName(table)
	b.mu.Lock()
	listening := b.listening[channel]
	b.mu.Unlock()
	if !listening {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.ch <- &engine.Notification{Channel: channel, Payload: string(data)}
	return nil
}

func sanitizeName(table string) string {
	var bld strings.Builder
	for _, r := range table {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			bld.WriteRune(r)
		default:
			bld.WriteByte('_')
		}
	}
	return bld.String()
}

// FillOverflow publishes count near-identical inserts back-to-back
// without waiting for consumption, for overflow scenario tests (§8 S6).
func FillOverflow(db *DB, table string, count int, seedID int) error {
	for i := 0; i < count; i++ {
		id := strconv.Itoa(seedID + i)
		if err := db.Insert(table, Row{"id": id, "name": "burst" + id}); err != nil {
			return err
		}
	}
	return nil
}
