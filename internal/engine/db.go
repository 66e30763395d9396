package engine

import (
	"context"
	"database/sql"
)

// Rows is the subset of *sql.Rows the evaluator's row decoding needs.
// Abstracting it out of Querier/Tx (rather than naming *sql.Rows
// directly) is what lets internal/engine/faketest stand in an in-memory
// result set without a real driver underneath: *sql.Rows already
// satisfies this interface method-for-method, so production code needs
// no adapter beyond the ones below.
type Rows interface {
	Columns() ([]string, error)
	ColumnTypes() ([]*sql.ColumnType, error)
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}

// Tx is the subset of *sql.Tx the evaluator needs to run a snapshot query
// inside a single read-only transaction (§4.5).
type Tx interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Commit() error
	Rollback() error
}

// Querier abstracts the query execution surface the evaluator and
// trigger manager need, so production code runs against a pooled
// *sql.DB while tests run against an in-memory fake (internal/engine/faketest).
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
}

// SQLQuerier adapts a pooled *sql.DB to Querier.
type SQLQuerier struct {
	DB *sql.DB
}

func (q SQLQuerier) QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return q.DB.QueryContext(ctx, query, args...)
}

func (q SQLQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return q.DB.ExecContext(ctx, query, args...)
}

func (q SQLQuerier) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := q.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sqlTxAdapter{tx}, nil
}

// sqlTxAdapter makes *sql.Tx satisfy Tx: *sql.Tx.QueryContext returns the
// concrete *sql.Rows, one method signature away from the Rows interface,
// so this thin wrapper is what lines the two up.
type sqlTxAdapter struct{ tx *sql.Tx }

func (a sqlTxAdapter) QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return a.tx.QueryContext(ctx, query, args...)
}

func (a sqlTxAdapter) Commit() error   { return a.tx.Commit() }
func (a sqlTxAdapter) Rollback() error { return a.tx.Rollback() }

// Notification carries the fields dispatch needs out of a pq.Notification
// without binding the engine to lib/pq's concrete type.
type Notification struct {
	Channel string
	Payload string
}

// Notifier abstracts pq.Listener: Listen/Unlisten manage the channel set
// SharedTriggerManager needs, and Notifications delivers payloads as they
// arrive. Production code satisfies this with lib/pq; tests use a fake
// bus that never touches a socket.
type Notifier interface {
	Listen(channel string) error
	Unlisten(channel string) error
	Notifications() <-chan *Notification
	Close() error
}
