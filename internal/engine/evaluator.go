package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/nnaka2992/pg-subscribe/internal/querykey"
)

// resultSet is a slot's last materialized result, keyed either by
// identity tuple (when identity_columns was supplied) or by row
// fingerprint (the multiset fallback, §4.5 and §9's "distinct"
// resolution). occurrences counts how many rows share a key so the
// multiset diff can emit matched +1/-1 pairs per occurrence rather than
// collapsing duplicates.
type resultSet struct {
	rows        map[string][]map[string]interface{}
	occurrences map[string]int
}

func newResultSet() resultSet {
	return resultSet{
		rows:        make(map[string][]map[string]interface{}),
		occurrences: make(map[string]int),
	}
}

// diffResult is the outcome of comparing two resultSets: deletes are
// listed before inserts, each ordered lexicographically by key, matching
// §4.5's tie-break rule.
type diffResult struct {
	deletes []map[string]interface{}
	inserts []map[string]interface{}
}

// rowKey returns the identity tuple's string form when identityColumns is
// non-empty, else the row's canonical-JSON fingerprint as text.
func rowKey(row map[string]interface{}, identityColumns []string) (string, error) {
	if len(identityColumns) == 0 {
		encoded, err := rowToCanonicalJSON(row)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("fp:%x", querykey.Fingerprint(encoded)), nil
	}
	key := ""
	for _, col := range identityColumns {
		key += fmt.Sprintf("%v\x1f", row[col])
	}
	return key, nil
}

func buildResultSet(rows []map[string]interface{}, identityColumns []string) (resultSet, error) {
	rs := newResultSet()
	for _, row := range rows {
		key, err := rowKey(row, identityColumns)
		if err != nil {
			return rs, err
		}
		rs.rows[key] = append(rs.rows[key], row)
		rs.occurrences[key]++
	}
	return rs, nil
}

// diff compares oldSet to newSet. With identity columns, a key present on
// both sides with differing non-identity columns yields a matched
// delete+insert; without them, it's pure multiset occurrence-count
// diffing per §9's distinct interpretation.
func diff(oldSet, newSet resultSet, identityColumns []string) diffResult {
	var result diffResult

	keys := make(map[string]bool)
	for k := range oldSet.occurrences {
		keys[k] = true
	}
	for k := range newSet.occurrences {
		keys[k] = true
	}
	sortedKeys := make([]string, 0, len(keys))
	for k := range keys {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Strings(sortedKeys)

	for _, key := range sortedKeys {
		oldCount := oldSet.occurrences[key]
		newCount := newSet.occurrences[key]

		if len(identityColumns) > 0 {
			if oldCount > 0 && newCount > 0 {
				oldRow := oldSet.rows[key][0]
				newRow := newSet.rows[key][0]
				if !rowsEqual(oldRow, newRow) {
					result.deletes = append(result.deletes, oldRow)
					result.inserts = append(result.inserts, newRow)
				}
				continue
			}
		}

		if newCount > oldCount {
			for _, row := range newSet.rows[key][oldCount:newCount] {
				result.inserts = append(result.inserts, row)
			}
		} else if oldCount > newCount {
			for _, row := range oldSet.rows[key][newCount:oldCount] {
				result.deletes = append(result.deletes, row)
			}
		}
	}

	return result
}

func rowsEqual(a, b map[string]interface{}) bool {
	aj, errA := rowToCanonicalJSON(a)
	bj, errB := rowToCanonicalJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

// evaluateSnapshot re-runs query inside a dedicated read-committed,
// read-only transaction and returns its decoded rows (§4.5 point 1).
// Rolling back on every path but a clean Commit means a failed scan never
// leaves a transaction open on the pool.
func evaluateSnapshot(ctx context.Context, db Querier, query string) ([]map[string]interface{}, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only snapshot: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("evaluate snapshot: %w", err)
	}
	defer rows.Close()

	decoded, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return decoded, tx.Commit()
}
