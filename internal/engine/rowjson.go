package engine

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// scanRows decodes every row of rs into an ordered slice of column-keyed
// maps, preserving column/alias names from the SELECT list exactly — the
// event JSON schema (§6) forbids synthetic names like col_1, which a
// generic database/sql scan already avoids since it reads rs.Columns()
// verbatim.
func scanRows(rs Rows) ([]map[string]interface{}, error) {
	cols, err := rs.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	types, err := rs.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}

	var rows []map[string]interface{}
	for rs.Next() {
		values := make([]interface{}, len(cols))
		scanTargets := make([]interface{}, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rs.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = convertValue(values[i], types[i])
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return rows, nil
}

// convertValue maps a driver value onto the JSON-friendly shape §6
// specifies: dates/times as ISO-8601 strings, everything else passed
// through so encoding/json renders ints as numbers, bools as bool, and
// []byte/string as JSON strings (UUID and JSON/JSONB columns already
// arrive as text from lib/pq and round-trip untouched).
func convertValue(v interface{}, colType *sql.ColumnType) interface{} {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case []byte:
		return decodeBytes(val, colType)
	default:
		return val
	}
}

func decodeBytes(b []byte, colType *sql.ColumnType) interface{} {
	typeName := ""
	if colType != nil {
		typeName = strings.ToUpper(colType.DatabaseTypeName())
	}
	switch typeName {
	case "JSON", "JSONB":
		var raw json.RawMessage = append([]byte(nil), b...)
		return raw
	default:
		return string(b)
	}
}

// rowToCanonicalJSON encodes a decoded row with sorted keys, so two rows
// with identical content always produce byte-identical JSON and therefore
// fingerprint identically under querykey.Fingerprint — required for the
// identity-less multiset diff in §4.5.
func rowToCanonicalJSON(row map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(row[k])
		if err != nil {
			return nil, err
		}
		b.Write(keyJSON)
		b.WriteByte(':')
		b.Write(valJSON)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// rowToEventJSON encodes a row for an EventRecord's Data field — same
// encoding as rowToCanonicalJSON, kept as a distinct name because the
// event payload's key order is not a correctness requirement the way the
// fingerprint's is, just a readability one.
func rowToEventJSON(row map[string]interface{}) (json.RawMessage, error) {
	b, err := rowToCanonicalJSON(row)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
