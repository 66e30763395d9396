package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pganalyze/pg_query_go/v6"

	"github.com/nnaka2992/pg-subscribe/internal/parser"
)

// wherePredicate parses sql and returns its single SELECT's WHERE clause,
// or nil if there is none. LivePredicate is only ever chosen for a
// single-table SELECT with no join/aggregation/subquery (§4.2); the WHERE
// clause itself is not restricted further, so it can still contain nodes
// (a function call, for example) that evalPredicate reports as errors.
func wherePredicate(sql string) (*pg_query.Node, error) {
	stmt, err := parser.ParseOne(sql)
	if err != nil {
		return nil, err
	}
	if len(stmt.AST.Stmts) != 1 {
		return nil, fmt.Errorf("predicate: expected one statement")
	}
	sel, ok := stmt.AST.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok || sel.SelectStmt == nil {
		return nil, fmt.Errorf("predicate: not a SELECT")
	}
	return sel.SelectStmt.WhereClause, nil
}

// evalPredicate evaluates a WHERE clause against a decoded row. It
// supports the subset of SQL expression syntax a LivePredicate-eligible
// query can contain: column/constant comparisons, AND/OR/NOT, IS [NOT]
// NULL, LIKE/ILIKE, and IN over a literal list. An unrecognized node
// returns an error rather than guessing; dispatch logs that error and
// skips the row, and no re-evaluation of the query follows.
func evalPredicate(node *pg_query.Node, row map[string]interface{}) (bool, error) {
	if node == nil {
		return true, nil
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_BoolExpr:
		return evalBoolExpr(n.BoolExpr, row)
	case *pg_query.Node_AExpr:
		return evalAExpr(n.AExpr, row)
	case *pg_query.Node_NullTest:
		return evalNullTest(n.NullTest, row)
	default:
		return false, fmt.Errorf("predicate: unsupported clause %T", node.Node)
	}
}

func evalBoolExpr(b *pg_query.BoolExpr, row map[string]interface{}) (bool, error) {
	if b == nil {
		return true, nil
	}
	switch b.Boolop {
	case pg_query.BoolExprType_AND_EXPR:
		for _, arg := range b.Args {
			ok, err := evalPredicate(arg, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case pg_query.BoolExprType_OR_EXPR:
		for _, arg := range b.Args {
			ok, err := evalPredicate(arg, row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case pg_query.BoolExprType_NOT_EXPR:
		if len(b.Args) != 1 {
			return false, fmt.Errorf("predicate: NOT with %d args", len(b.Args))
		}
		ok, err := evalPredicate(b.Args[0], row)
		return !ok, err
	default:
		return false, fmt.Errorf("predicate: unsupported boolean operator")
	}
}

func evalNullTest(nt *pg_query.NullTest, row map[string]interface{}) (bool, error) {
	if nt == nil {
		return true, nil
	}
	val, err := evalScalar(nt.Arg, row)
	if err != nil {
		return false, err
	}
	isNull := val == nil
	if nt.Nulltesttype == pg_query.NullTestType_IS_NULL {
		return isNull, nil
	}
	return !isNull, nil
}

func evalAExpr(a *pg_query.AExpr, row map[string]interface{}) (bool, error) {
	if a == nil {
		return true, nil
	}

	left, err := evalScalar(a.Lexpr, row)
	if err != nil {
		return false, err
	}

	switch a.Kind {
	case pg_query.A_Expr_Kind_AEXPR_IN:
		return evalIn(left, a.Rexpr, row)
	case pg_query.A_Expr_Kind_AEXPR_LIKE:
		right, err := evalScalar(a.Rexpr, row)
		if err != nil {
			return false, err
		}
		return evalLike(left, right, false)
	case pg_query.A_Expr_Kind_AEXPR_ILIKE:
		right, err := evalScalar(a.Rexpr, row)
		if err != nil {
			return false, err
		}
		return evalLike(left, right, true)
	}

	right, err := evalScalar(a.Rexpr, row)
	if err != nil {
		return false, err
	}
	op := operatorName(a.Name)
	return compare(left, right, op)
}

func operatorName(nameNodes []*pg_query.Node) string {
	for _, n := range nameNodes {
		if s, ok := n.Node.(*pg_query.Node_String_); ok && s.String_ != nil {
			return s.String_.Sval
		}
	}
	return ""
}

// evalScalar resolves a column reference or literal constant to a Go
// value comparable against a decoded row's values.
func evalScalar(node *pg_query.Node, row map[string]interface{}) (interface{}, error) {
	if node == nil {
		return nil, nil
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_ColumnRef:
		return evalColumnRef(n.ColumnRef, row)
	case *pg_query.Node_AConst:
		return evalAConst(n.AConst)
	case *pg_query.Node_TypeCast:
		if n.TypeCast != nil {
			return evalScalar(n.TypeCast.Arg, row)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("predicate: unsupported operand %T", node.Node)
	}
}

func evalColumnRef(ref *pg_query.ColumnRef, row map[string]interface{}) (interface{}, error) {
	if ref == nil || len(ref.Fields) == 0 {
		return nil, fmt.Errorf("predicate: empty column reference")
	}
	last := ref.Fields[len(ref.Fields)-1]
	s, ok := last.Node.(*pg_query.Node_String_)
	if !ok || s.String_ == nil {
		return nil, fmt.Errorf("predicate: unsupported column reference")
	}
	val, present := row[s.String_.Sval]
	if !present {
		return nil, fmt.Errorf("predicate: column %q not in row", s.String_.Sval)
	}
	return val, nil
}

func evalAConst(c *pg_query.A_Const) (interface{}, error) {
	if c == nil || c.Isnull {
		return nil, nil
	}
	switch v := c.Val.(type) {
	case *pg_query.A_Const_Ival:
		if v.Ival == nil {
			return nil, nil
		}
		return int64(v.Ival.Ival), nil
	case *pg_query.A_Const_Fval:
		if v.Fval == nil {
			return nil, nil
		}
		f, err := strconv.ParseFloat(v.Fval.Fval, 64)
		if err != nil {
			return nil, fmt.Errorf("predicate: bad float literal %q: %w", v.Fval.Fval, err)
		}
		return f, nil
	case *pg_query.A_Const_Boolval:
		if v.Boolval == nil {
			return nil, nil
		}
		return v.Boolval.Boolval, nil
	case *pg_query.A_Const_Sval:
		if v.Sval == nil {
			return nil, nil
		}
		return v.Sval.Sval, nil
	default:
		return nil, fmt.Errorf("predicate: unsupported constant type %T", c.Val)
	}
}

func evalIn(left interface{}, rexpr *pg_query.Node, row map[string]interface{}) (bool, error) {
	list, ok := rexpr.Node.(*pg_query.Node_List)
	if !ok || list.List == nil {
		return false, fmt.Errorf("predicate: IN without a literal list")
	}
	for _, item := range list.List.Items {
		val, err := evalScalar(item, row)
		if err != nil {
			return false, err
		}
		eq, err := compare(left, val, "=")
		if err != nil {
			return false, err
		}
		if eq {
			return true, nil
		}
	}
	return false, nil
}

func evalLike(left, right interface{}, caseInsensitive bool) (bool, error) {
	ls, ok := left.(string)
	if !ok {
		return false, nil
	}
	rs, ok := right.(string)
	if !ok {
		return false, nil
	}
	if caseInsensitive {
		ls = strings.ToLower(ls)
		rs = strings.ToLower(rs)
	}
	return globMatch([]rune(ls), []rune(rs)), nil
}

func globMatch(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		if globMatch(s, p[1:]) {
			return true
		}
		for i := range s {
			if globMatch(s[i+1:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return globMatch(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return globMatch(s[1:], p[1:])
	}
}

func compare(left, right interface{}, op string) (bool, error) {
	if left == nil || right == nil {
		switch op {
		case "=", "<", "<=", ">", ">=":
			return false, nil
		case "<>", "!=":
			return left != right, nil
		}
	}

	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		return compareFloat(lf, rf, op)
	}

	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return compareString(ls, rs, op)
	}

	lb, lok := left.(bool)
	rb, rok := right.(bool)
	if lok && rok {
		switch op {
		case "=":
			return lb == rb, nil
		case "<>", "!=":
			return lb != rb, nil
		}
	}

	return false, fmt.Errorf("predicate: cannot compare %T %s %T", left, op, right)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func compareFloat(l, r float64, op string) (bool, error) {
	switch op {
	case "=":
		return l == r, nil
	case "<>", "!=":
		return l != r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	default:
		return false, fmt.Errorf("predicate: unsupported operator %q", op)
	}
}

func compareString(l, r, op string) (bool, error) {
	switch op {
	case "=":
		return l == r, nil
	case "<>", "!=":
		return l != r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	default:
		return false, fmt.Errorf("predicate: unsupported operator %q", op)
	}
}
