package parser

import "testing"

func TestParseOne(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr error
	}{
		{
			name: "simple select",
			sql:  "SELECT * FROM users;",
		},
		{
			name: "trailing whitespace and no semicolon",
			sql:  "  SELECT id FROM users  ",
		},
		{
			name:    "empty input",
			sql:     "   ",
			wantErr: ErrEmpty,
		},
		{
			name:    "multiple statements",
			sql:     "SELECT 1; SELECT 2;",
			wantErr: ErrMultipleStatements,
		},
		{
			name:    "syntax error",
			sql:     "SELEKT * FROM users",
			wantErr: nil, // parse error, but not one of the sentinels
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := ParseOne(tt.sql)
			if tt.wantErr != nil {
				if err != tt.wantErr {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if tt.name == "syntax error" {
				if err == nil {
					t.Fatal("expected a parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if stmt.AST == nil || len(stmt.AST.Stmts) != 1 {
				t.Fatalf("expected exactly one parsed statement, got %+v", stmt)
			}
		})
	}
}

func TestStripBOM(t *testing.T) {
	withBOM := append([]byte{0xEF, 0xBB, 0xBF}, []byte("SELECT 1")...)
	got := stripBOM(withBOM)
	if string(got) != "SELECT 1" {
		t.Fatalf("expected BOM stripped, got %q", got)
	}
}
