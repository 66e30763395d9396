package analyzer

import "fmt"

// Strategy selects how the evaluator serves a subscription (§4.2, §4.5).
type Strategy int

const (
	// SnapshotDiff re-runs the whole query on every wake and diffs the
	// result set against the previous one. Always correct, always the
	// fallback.
	SnapshotDiff Strategy = iota
	// LivePredicate evaluates the query's WHERE clause directly against
	// the OLD/NEW row a trigger hands it, skipping a full re-evaluation.
	// Only available for a single-table SELECT with no join,
	// aggregation, GROUP BY, window, DISTINCT, or subquery.
	LivePredicate
)

func (s Strategy) String() string {
	switch s {
	case LivePredicate:
		return "LivePredicate"
	default:
		return "SnapshotDiff"
	}
}

// QueryFacts is the result of analyzing a subscribed query, mirroring the
// JSON object pg_subscribe_analyze_query() returns.
type QueryFacts struct {
	Valid            bool     `json:"valid"`
	Error            string   `json:"error,omitempty"`
	ReferencedTables []string `json:"referenced_tables"`
	HasJoin          bool     `json:"has_join"`
	HasAggregation   bool     `json:"has_aggregation"`
	HasGroupBy       bool     `json:"has_group_by"`
	HasWindow        bool     `json:"has_window"`
	HasSubquery      bool     `json:"has_subquery"`
	HasCTE           bool     `json:"has_cte"`
	HasDistinct      bool     `json:"has_distinct"`
	HasRecursiveCTE  bool     `json:"has_recursive_cte"`
	Complexity       int      `json:"complexity"`
	Strategy         Strategy `json:"strategy"`

	// NormalizedSQL and Hash are filled in by the caller (the CLI's
	// analyze command), not by Analyze itself — analysis only looks at
	// the AST.
	NormalizedSQL string `json:"normalized_query,omitempty"`
	Hash          uint64 `json:"query_hash,omitempty"`
}

// ErrorKind names the distinct, stable error categories §7 requires.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidQuery
	KindUnsupportedQuery
)

// Error is a typed analyzer error carrying a Kind for callers to switch
// on. Analyze does not return it: an invalid statement is reported
// through QueryFacts.Valid/Error with a nil Go error.
type Error struct {
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newInvalidQueryError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidQuery, msg: fmt.Sprintf(format, args...)}
}

func newUnsupportedQueryError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnsupportedQuery, msg: fmt.Sprintf(format, args...)}
}
