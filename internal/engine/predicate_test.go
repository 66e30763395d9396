package engine

import (
	"testing"

	"github.com/pganalyze/pg_query_go/v6"
)

func predicateFor(t *testing.T, sql string) *pg_query.Node {
	t.Helper()
	node, err := wherePredicate(sql)
	if err != nil {
		t.Fatalf("wherePredicate(%q): %v", sql, err)
	}
	return node
}

func TestEvalPredicateEquality(t *testing.T) {
	node := predicateFor(t, "SELECT * FROM users WHERE id = 2")

	matched, err := evalPredicate(node, map[string]interface{}{"id": int64(2)})
	if err != nil {
		t.Fatalf("evalPredicate: %v", err)
	}
	if !matched {
		t.Error("id=2 should match WHERE id = 2")
	}

	matched, err = evalPredicate(node, map[string]interface{}{"id": int64(1)})
	if err != nil {
		t.Fatalf("evalPredicate: %v", err)
	}
	if matched {
		t.Error("id=1 should not match WHERE id = 2")
	}
}

func TestEvalPredicateAnd(t *testing.T) {
	node := predicateFor(t, "SELECT * FROM users WHERE id = 1 AND name = 'Alice'")

	matched, err := evalPredicate(node, map[string]interface{}{"id": int64(1), "name": "Alice"})
	if err != nil {
		t.Fatalf("evalPredicate: %v", err)
	}
	if !matched {
		t.Error("AND clause should match when both sides hold")
	}

	matched, err = evalPredicate(node, map[string]interface{}{"id": int64(1), "name": "Bob"})
	if err != nil {
		t.Fatalf("evalPredicate: %v", err)
	}
	if matched {
		t.Error("AND clause should not match when one side fails")
	}
}

func TestEvalPredicateIsNull(t *testing.T) {
	node := predicateFor(t, "SELECT * FROM users WHERE deleted_at IS NULL")

	matched, err := evalPredicate(node, map[string]interface{}{"deleted_at": nil})
	if err != nil {
		t.Fatalf("evalPredicate: %v", err)
	}
	if !matched {
		t.Error("nil deleted_at should match IS NULL")
	}

	matched, err = evalPredicate(node, map[string]interface{}{"deleted_at": "2024-01-01"})
	if err != nil {
		t.Fatalf("evalPredicate: %v", err)
	}
	if matched {
		t.Error("non-nil deleted_at should not match IS NULL")
	}
}

func TestEvalPredicateNilClauseMatchesEverything(t *testing.T) {
	matched, err := evalPredicate(nil, map[string]interface{}{"id": "1"})
	if err != nil {
		t.Fatalf("evalPredicate(nil): %v", err)
	}
	if !matched {
		t.Error("a query with no WHERE clause should match every row")
	}
}
