// Package parser wraps the PostgreSQL SQL parser for the single statement
// a subscription is built from. Unlike a linter that walks a migration file
// full of DDL/DML statements, pg_subscribe only ever accepts one SELECT per
// subscribe() call, so parsing here is deliberately narrower than a general
// SQL-file parser: it still has to tolerate a trailing semicolon and stray
// whitespace/BOM the way a pasted-in query would, but it rejects anything
// that splits into more than one statement instead of trying to make sense
// of a batch.
package parser

import (
	"bytes"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

const bomSize = 3

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Statement is a single parsed SQL statement together with the exact text
// it was parsed from. Normalization and hashing do not use this text;
// they run on the caller's raw input.
type Statement struct {
	AST *pg_query.ParseResult
	SQL string
}

// ErrEmpty is returned when the input contains no statement at all.
var ErrEmpty = fmt.Errorf("no SQL statement provided")

// ErrMultipleStatements is returned when the input splits into more than
// one SQL statement; subscribe() accepts exactly one.
var ErrMultipleStatements = fmt.Errorf("expected a single SQL statement")

// ParseOne parses exactly one SQL statement out of sql, stripping a UTF-8
// BOM and a single trailing semicolon first. It is the entry point used by
// the analyzer and the engine's LivePredicate WHERE extraction, so it
// runs for the engine's Subscribe and the analyze CLI subcommand; the
// normalize and hash subcommands do not parse.
func ParseOne(sql string) (*Statement, error) {
	cleaned := cleanSQL(sql)
	if cleaned == "" {
		return nil, ErrEmpty
	}

	statements, err := pg_query.SplitWithScanner(cleaned, true)
	if err != nil {
		return nil, fmt.Errorf("split SQL: %w", err)
	}
	if len(statements) == 0 {
		return nil, ErrEmpty
	}
	if len(statements) > 1 {
		return nil, ErrMultipleStatements
	}

	stmtSQL := statements[0]
	ast, err := pg_query.Parse(stmtSQL)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return &Statement{AST: ast, SQL: stmtSQL}, nil
}

func cleanSQL(sql string) string {
	return string(stripBOM([]byte(sql)))
}

func stripBOM(content []byte) []byte {
	if len(content) >= bomSize && bytes.HasPrefix(content, utf8BOM) {
		return content[bomSize:]
	}
	return content
}
