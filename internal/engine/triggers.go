package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// triggerManager installs and drops the shared row-level triggers that
// fan DML events out via pg_notify, refcounted so exactly one trigger
// set exists per table while any slot watches it (§4.3). Grounded in the
// pgnotify bus's createTableTrigger pattern (other_examples
// a9ef32e6_r3e-network-service_layer__pkg-pgnotify-bus.go.go), generalized
// from a single hardcoded channel to one channel per tracked table.
type triggerManager struct {
	mu       sync.Mutex
	db       Querier
	notifier Notifier
	tables   map[string]*TrackedTable
}

func newTriggerManager(db Querier, notifier Notifier) *triggerManager {
	return &triggerManager{db: db, notifier: notifier, tables: make(map[string]*TrackedTable)}
}

func triggerName(table string) string {
	return "_pgsub_" + sanitizeName(table)
}

func channelName(table string) string {
	return "pgsub_" + sanitizeName(table)
}

func sanitizeName(table string) string {
	var b strings.Builder
	for _, r := range table {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// attach increments the refcount for each table and installs its trigger
// the first time it's referenced. Installation happens once per table;
// every call still adds one to the refcount.
func (m *triggerManager) attach(ctx context.Context, tables []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, table := range tables {
		tt, ok := m.tables[table]
		if !ok {
			tt = &TrackedTable{Table: table, TriggerName: triggerName(table)}
			m.tables[table] = tt
		}
		if tt.Refcount == 0 {
			if err := m.install(ctx, table); err != nil {
				return wrapError(KindInternal, err, "install trigger for %s", table)
			}
			if err := m.notifier.Listen(channelName(table)); err != nil {
				return wrapError(KindInternal, err, "listen on channel for %s", table)
			}
		}
		tt.Refcount++
	}
	return nil
}

// detach decrements the refcount for each table and drops its trigger
// once the last referencing slot is gone.
func (m *triggerManager) detach(ctx context.Context, tables []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, table := range tables {
		tt, ok := m.tables[table]
		if !ok {
			continue
		}
		tt.Refcount--
		if tt.Refcount <= 0 {
			if err := m.drop(ctx, table); err != nil {
				return wrapError(KindInternal, err, "drop trigger for %s", table)
			}
			_ = m.notifier.Unlisten(channelName(table))
			delete(m.tables, table)
		}
	}
	return nil
}

func (m *triggerManager) install(ctx context.Context, table string) error {
	name := triggerName(table)
	channel := channelName(table)

	funcSQL := fmt.Sprintf(`
CREATE OR REPLACE FUNCTION %s() RETURNS TRIGGER AS $$
DECLARE
	payload JSON;
BEGIN
	IF TG_OP = 'DELETE' THEN
		payload = json_build_object('op', TG_OP, 'table', TG_TABLE_NAME, 'txid', txid_current(), 'old', row_to_json(OLD));
	ELSIF TG_OP = 'UPDATE' THEN
		payload = json_build_object('op', TG_OP, 'table', TG_TABLE_NAME, 'txid', txid_current(), 'old', row_to_json(OLD), 'new', row_to_json(NEW));
	ELSE
		payload = json_build_object('op', TG_OP, 'table', TG_TABLE_NAME, 'txid', txid_current(), 'new', row_to_json(NEW));
	END IF;
	PERFORM pg_notify('%s', payload::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;`, name, channel)

	if _, err := m.db.ExecContext(ctx, funcSQL); err != nil {
		return fmt.Errorf("create trigger function: %w", err)
	}

	triggerSQL := fmt.Sprintf(`
DROP TRIGGER IF EXISTS %s ON %s;
CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s
FOR EACH ROW EXECUTE FUNCTION %s();`, name, table, name, table, name)

	if _, err := m.db.ExecContext(ctx, triggerSQL); err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}
	return nil
}

func (m *triggerManager) drop(ctx context.Context, table string) error {
	name := triggerName(table)
	sql := fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s; DROP FUNCTION IF EXISTS %s();`, name, table, name)
	_, err := m.db.ExecContext(ctx, sql)
	return err
}

func (m *triggerManager) trackedTables() []TrackedTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TrackedTable, 0, len(m.tables))
	for _, tt := range m.tables {
		out = append(out, *tt)
	}
	return out
}

func (m *triggerManager) refcount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tt, ok := m.tables[table]; ok {
		return tt.Refcount
	}
	return 0
}
