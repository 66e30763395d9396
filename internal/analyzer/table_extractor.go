package analyzer

import (
	"github.com/pganalyze/pg_query_go/v6"
)

// extractTables walks a SELECT's AST and returns the transitive closure of
// base tables read from FROM/JOIN, WHERE subqueries, the target list, and
// CTEs. A CTE's own name is never returned as a base table: collectCTENames
// records it up front, and any RangeVar referencing it is skipped so only
// the CTE's own query contributes base tables.
func extractTables(node *pg_query.Node) []string {
	if node == nil {
		return nil
	}

	extractor := &tableExtractor{tables: make(map[string]bool), cteNames: make(map[string]bool)}
	extractor.collectCTENames(node)
	extractor.extractFromNode(node)

	result := make([]string, 0, len(extractor.tables))
	for table := range extractor.tables {
		result = append(result, table)
	}
	return result
}

// tableExtractor extracts base table names from a SELECT AST.
type tableExtractor struct {
	tables   map[string]bool
	cteNames map[string]bool
}

func (e *tableExtractor) collectCTENames(node *pg_query.Node) {
	if node == nil {
		return
	}
	stmt, ok := node.Node.(*pg_query.Node_SelectStmt)
	if !ok || stmt.SelectStmt == nil || stmt.SelectStmt.WithClause == nil {
		return
	}
	for _, cte := range stmt.SelectStmt.WithClause.Ctes {
		if cteNode, ok := cte.Node.(*pg_query.Node_CommonTableExpr); ok && cteNode.CommonTableExpr != nil {
			e.cteNames[cteNode.CommonTableExpr.Ctename] = true
			if cteNode.CommonTableExpr.Ctequery != nil {
				e.collectCTENames(cteNode.CommonTableExpr.Ctequery)
			}
		}
	}
}

func (e *tableExtractor) extractFromNode(node *pg_query.Node) {
	if node == nil {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		e.extractFromRangeVar(n.RangeVar)
	case *pg_query.Node_SelectStmt:
		e.extractFromSelectStmt(n.SelectStmt)
	case *pg_query.Node_JoinExpr:
		e.extractFromJoinExpr(n.JoinExpr)
	case *pg_query.Node_FromExpr:
		e.extractFromFromExpr(n.FromExpr)
	case *pg_query.Node_RangeSubselect:
		if n.RangeSubselect != nil {
			e.extractFromNode(n.RangeSubselect.Subquery)
		}
	case *pg_query.Node_SubLink:
		e.extractFromSubLink(n.SubLink)
	case *pg_query.Node_CommonTableExpr:
		e.extractFromCommonTableExpr(n.CommonTableExpr)
	case *pg_query.Node_ResTarget:
		if n.ResTarget != nil {
			e.extractFromNode(n.ResTarget.Val)
		}
	case *pg_query.Node_AExpr:
		if n.AExpr != nil {
			e.extractFromNode(n.AExpr.Lexpr)
			e.extractFromNode(n.AExpr.Rexpr)
		}
	case *pg_query.Node_BoolExpr:
		if n.BoolExpr != nil {
			for _, arg := range n.BoolExpr.Args {
				e.extractFromNode(arg)
			}
		}
	case *pg_query.Node_FuncCall:
		if n.FuncCall != nil {
			for _, arg := range n.FuncCall.Args {
				e.extractFromNode(arg)
			}
		}
	case *pg_query.Node_RawStmt:
		if n.RawStmt != nil {
			e.extractFromNode(n.RawStmt.Stmt)
		}
	case *pg_query.Node_List:
		e.extractFromList(n.List)
	}
}

func (e *tableExtractor) extractFromRangeVar(rv *pg_query.RangeVar) {
	if rv == nil {
		return
	}
	if rv.Schemaname == "" && e.cteNames[rv.Relname] {
		return
	}
	if tableName := getQualifiedTableName(rv); tableName != "" {
		e.tables[tableName] = true
	}
}

func (e *tableExtractor) extractFromSelectStmt(stmt *pg_query.SelectStmt) {
	if stmt == nil {
		return
	}

	for _, from := range stmt.FromClause {
		e.extractFromNode(from)
	}
	if stmt.WhereClause != nil {
		e.extractFromNode(stmt.WhereClause)
	}
	if stmt.WithClause != nil {
		for _, cte := range stmt.WithClause.Ctes {
			e.extractFromNode(cte)
		}
	}
	for _, target := range stmt.TargetList {
		e.extractFromNode(target)
	}
	if stmt.HavingClause != nil {
		e.extractFromNode(stmt.HavingClause)
	}
	if stmt.Larg != nil {
		e.extractFromSelectStmt(stmt.Larg)
	}
	if stmt.Rarg != nil {
		e.extractFromSelectStmt(stmt.Rarg)
	}
}

func (e *tableExtractor) extractFromJoinExpr(join *pg_query.JoinExpr) {
	if join == nil {
		return
	}
	e.extractFromNode(join.Larg)
	e.extractFromNode(join.Rarg)
	if join.Quals != nil {
		e.extractFromNode(join.Quals)
	}
}

func (e *tableExtractor) extractFromFromExpr(from *pg_query.FromExpr) {
	if from == nil {
		return
	}
	for _, item := range from.Fromlist {
		e.extractFromNode(item)
	}
	if from.Quals != nil {
		e.extractFromNode(from.Quals)
	}
}

func (e *tableExtractor) extractFromSubLink(sublink *pg_query.SubLink) {
	if sublink == nil {
		return
	}
	e.extractFromNode(sublink.Subselect)
}

func (e *tableExtractor) extractFromCommonTableExpr(cte *pg_query.CommonTableExpr) {
	if cte == nil {
		return
	}
	e.extractFromNode(cte.Ctequery)
}

func (e *tableExtractor) extractFromList(list *pg_query.List) {
	if list == nil {
		return
	}
	for _, item := range list.Items {
		e.extractFromNode(item)
	}
}

// getQualifiedTableName formats a RangeVar as "schema.table", quoting
// either part that needs it.
func getQualifiedTableName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return ""
	}
	return quoteQualifiedIdentifier(rv.Schemaname, rv.Relname)
}
