// Package analyzer inspects a subscription's SQL against the real
// PostgreSQL grammar and decides how the engine can serve it: which base
// tables it reads, what shape of query it is, and whether a cheap
// LivePredicate evaluation applies or the engine must fall back to a full
// SnapshotDiff on every wake.
package analyzer

import (
	"errors"

	"github.com/pganalyze/pg_query_go/v6"

	"github.com/nnaka2992/pg-subscribe/internal/parser"
)

var (
	ErrNotSingleStatement = errors.New("expected exactly one SQL statement")
	ErrNotSelect          = errors.New("only SELECT statements can be subscribed to")
)

var aggregateFuncNames = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"array_agg": true, "string_agg": true, "bool_and": true, "bool_or": true,
	"every": true, "variance": true, "var_pop": true, "var_samp": true,
	"stddev": true, "stddev_pop": true, "stddev_samp": true,
	"json_agg": true, "jsonb_agg": true, "xmlagg": true,
}

// Analyze parses sql, validates it is a single SELECT statement, and
// returns the QueryFacts the engine needs to register a subscription. A
// statement that isn't a single well-formed SELECT is reported through
// QueryFacts.Valid/Error rather than a Go error, matching
// pg_subscribe_analyze_query()'s JSON-in/JSON-out contract.
func Analyze(sql string) (*QueryFacts, error) {
	stmt, err := parser.ParseOne(sql)
	if err != nil {
		return &QueryFacts{Valid: false, Error: err.Error()}, nil
	}
	if len(stmt.AST.Stmts) != 1 {
		return &QueryFacts{Valid: false, Error: ErrNotSingleStatement.Error()}, nil
	}

	raw, ok := stmt.AST.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok || raw.SelectStmt == nil {
		return &QueryFacts{Valid: false, Error: ErrNotSelect.Error()}, nil
	}
	sel := raw.SelectStmt

	facts := newFacts()
	if sel.Op != pg_query.SetOperation_SETOP_NONE {
		// A top-level UNION/INTERSECT/EXCEPT never qualifies for
		// LivePredicate; walk both arms for the tables they touch.
		facts.HasSubquery = true
	}
	walkSelect(sel, facts)
	finalize(facts)
	return facts, nil
}

func newFacts() *QueryFacts {
	return &QueryFacts{Valid: true, ReferencedTables: []string{}}
}

func finalize(facts *QueryFacts) {
	facts.ReferencedTables = dedupeStrings(facts.ReferencedTables)
	facts.Complexity = computeComplexity(facts)
	facts.Strategy = chooseStrategy(facts)
}

func chooseStrategy(facts *QueryFacts) Strategy {
	if len(facts.ReferencedTables) == 1 &&
		!facts.HasJoin && !facts.HasAggregation && !facts.HasGroupBy &&
		!facts.HasWindow && !facts.HasDistinct && !facts.HasSubquery && !facts.HasCTE {
		return LivePredicate
	}
	return SnapshotDiff
}

func computeComplexity(facts *QueryFacts) int {
	score := len(facts.ReferencedTables)
	if facts.HasJoin {
		score += 2
	}
	if facts.HasAggregation {
		score += 3
	}
	if facts.HasGroupBy {
		score += 2
	}
	if facts.HasWindow {
		score += 3
	}
	if facts.HasSubquery {
		score += 4
	}
	if facts.HasCTE {
		score += 2
	}
	if facts.HasRecursiveCTE {
		score += 3
	}
	if facts.HasDistinct {
		score += 1
	}
	if score > 100 {
		score = 100
	}
	return score
}

// walkSelect populates facts from a single SelectStmt, recursing into set
// operation arms, joins, subqueries, and CTEs along the way.
func walkSelect(sel *pg_query.SelectStmt, facts *QueryFacts) {
	if sel == nil {
		return
	}

	if len(sel.DistinctClause) > 0 {
		facts.HasDistinct = true
	}
	if len(sel.GroupClause) > 0 {
		facts.HasGroupBy = true
	}
	if sel.HavingClause != nil {
		facts.HasAggregation = true
	}
	if len(sel.WindowClause) > 0 {
		facts.HasWindow = true
	}
	if sel.WithClause != nil {
		facts.HasCTE = true
		if sel.WithClause.Recursive {
			facts.HasRecursiveCTE = true
		}
		for _, cte := range sel.WithClause.Ctes {
			if cteNode, ok := cte.Node.(*pg_query.Node_CommonTableExpr); ok && cteNode.CommonTableExpr != nil {
				walkNode(cteNode.CommonTableExpr.Ctequery, facts)
			}
		}
	}

	if len(sel.FromClause) > 1 {
		facts.HasJoin = true
	}
	for _, from := range sel.FromClause {
		walkFrom(from, facts)
	}

	for _, target := range sel.TargetList {
		walkNode(target, facts)
	}
	if sel.WhereClause != nil {
		walkNode(sel.WhereClause, facts)
	}
	if sel.HavingClause != nil {
		walkNode(sel.HavingClause, facts)
	}

	facts.ReferencedTables = append(facts.ReferencedTables, extractTables(wrapSelect(sel))...)

	if sel.Larg != nil {
		walkSelect(sel.Larg, facts)
	}
	if sel.Rarg != nil {
		walkSelect(sel.Rarg, facts)
	}
}

func wrapSelect(sel *pg_query.SelectStmt) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: sel}}
}

func walkFrom(node *pg_query.Node, facts *QueryFacts) {
	if node == nil {
		return
	}
	if _, ok := node.Node.(*pg_query.Node_JoinExpr); ok {
		facts.HasJoin = true
	}
	walkNode(node, facts)
}

// walkNode descends through expressions looking for subqueries, window
// calls, and aggregate calls that extractTables doesn't itself care about.
func walkNode(node *pg_query.Node, facts *QueryFacts) {
	if node == nil {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_JoinExpr:
		if n.JoinExpr != nil {
			facts.HasJoin = true
			walkNode(n.JoinExpr.Larg, facts)
			walkNode(n.JoinExpr.Rarg, facts)
			walkNode(n.JoinExpr.Quals, facts)
		}
	case *pg_query.Node_RangeSubselect:
		facts.HasSubquery = true
		if n.RangeSubselect != nil {
			walkNode(n.RangeSubselect.Subquery, facts)
		}
	case *pg_query.Node_SubLink:
		facts.HasSubquery = true
		if n.SubLink != nil {
			walkNode(n.SubLink.Testexpr, facts)
			walkNode(n.SubLink.Subselect, facts)
		}
	case *pg_query.Node_SelectStmt:
		walkSelect(n.SelectStmt, facts)
	case *pg_query.Node_FuncCall:
		if n.FuncCall != nil {
			if n.FuncCall.Over != nil {
				facts.HasWindow = true
			}
			if n.FuncCall.AggStar || isAggregateCall(n.FuncCall) {
				facts.HasAggregation = true
			}
			for _, arg := range n.FuncCall.Args {
				walkNode(arg, facts)
			}
		}
	case *pg_query.Node_ResTarget:
		if n.ResTarget != nil {
			walkNode(n.ResTarget.Val, facts)
		}
	case *pg_query.Node_AExpr:
		if n.AExpr != nil {
			walkNode(n.AExpr.Lexpr, facts)
			walkNode(n.AExpr.Rexpr, facts)
		}
	case *pg_query.Node_BoolExpr:
		if n.BoolExpr != nil {
			for _, arg := range n.BoolExpr.Args {
				walkNode(arg, facts)
			}
		}
	case *pg_query.Node_List:
		if n.List != nil {
			for _, item := range n.List.Items {
				walkNode(item, facts)
			}
		}
	}
}

func isAggregateCall(fn *pg_query.FuncCall) bool {
	if fn == nil || fn.Over != nil {
		return false
	}
	for _, part := range fn.Funcname {
		if s, ok := part.Node.(*pg_query.Node_String_); ok && s.String_ != nil {
			if aggregateFuncNames[s.String_.Sval] {
				return true
			}
		}
	}
	return false
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
