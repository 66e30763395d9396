package engine

import (
	"encoding/json"
	"testing"
)

func TestRowToEventJSONPreservesColumnNames(t *testing.T) {
	data, err := rowToEventJSON(map[string]interface{}{"id": int64(1), "name": "Alice"})
	if err != nil {
		t.Fatalf("rowToEventJSON: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["id"].(float64) != 1 {
		t.Errorf("id = %v, want 1", decoded["id"])
	}
	if decoded["name"] != "Alice" {
		t.Errorf("name = %v, want Alice", decoded["name"])
	}
	if _, synthetic := decoded["col_1"]; synthetic {
		t.Error("event JSON must not contain synthetic column names like col_1")
	}
}

func TestRowToEventJSONNullValue(t *testing.T) {
	data, err := rowToEventJSON(map[string]interface{}{"deleted_at": nil})
	if err != nil {
		t.Fatalf("rowToEventJSON: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := decoded["deleted_at"]; !ok || v != nil {
		t.Errorf("deleted_at = %v, want JSON null", v)
	}
}

func TestRowToCanonicalJSONIsKeyOrderIndependent(t *testing.T) {
	a, err := rowToCanonicalJSON(map[string]interface{}{"id": int64(1), "name": "Alice"})
	if err != nil {
		t.Fatalf("rowToCanonicalJSON: %v", err)
	}
	b, err := rowToCanonicalJSON(map[string]interface{}{"name": "Alice", "id": int64(1)})
	if err != nil {
		t.Fatalf("rowToCanonicalJSON: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("canonical encodings differ by key order: %s vs %s", a, b)
	}
}

func TestRowsEqualDetectsDifference(t *testing.T) {
	a := map[string]interface{}{"id": int64(1), "name": "Alice"}
	b := map[string]interface{}{"id": int64(1), "name": "Alice S"}
	if rowsEqual(a, b) {
		t.Error("rows with different name fields should not be equal")
	}
	if !rowsEqual(a, a) {
		t.Error("identical row should be equal to itself")
	}
}
