package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/nnaka2992/pg-subscribe/internal/engine"
)

func TestDetermineExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid query", &engine.Error{Kind: engine.KindInvalidQuery}, 2},
		{"unsupported query", &engine.Error{Kind: engine.KindUnsupportedQuery}, 2},
		{"resource exhausted", &engine.Error{Kind: engine.KindResourceExhausted}, 3},
		{"cancelled", &engine.Error{Kind: engine.KindCancelled}, 4},
		{"internal", &engine.Error{Kind: engine.KindInternal}, 1},
		{"plain error", os.ErrClosed, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := determineExitCode(c.err); got != c.want {
				t.Errorf("determineExitCode(%v) = %d, want %d", c.err, got, c.want)
			}
		})
	}
}

func TestSQLInputFromArgs(t *testing.T) {
	fileFlag = ""
	cmd := &cobra.Command{Use: "test"}
	got, err := sqlInput(cmd, []string{"SELECT 1"})
	if err != nil {
		t.Fatalf("sqlInput: %v", err)
	}
	if got != "SELECT 1" {
		t.Errorf("sqlInput = %q, want %q", got, "SELECT 1")
	}
}

func TestSQLInputFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "query.sql")
	if err := os.WriteFile(path, []byte("SELECT * FROM t"), 0o644); err != nil {
		t.Fatalf("write temp query file: %v", err)
	}

	fileFlag = path
	defer func() { fileFlag = "" }()

	cmd := &cobra.Command{Use: "test"}
	got, err := sqlInput(cmd, nil)
	if err != nil {
		t.Fatalf("sqlInput: %v", err)
	}
	if got != "SELECT * FROM t" {
		t.Errorf("sqlInput = %q, want %q", got, "SELECT * FROM t")
	}
}

func TestBuildRootCommandWiresSubcommands(t *testing.T) {
	root := buildRootCommand()
	want := []string{"subscribe", "snapshot", "prepare", "cancel", "list", "stats", "analyze", "normalize", "hash", "serve"}
	for _, name := range want {
		if _, _, err := root.Find([]string{name}); err != nil {
			t.Errorf("root command missing subcommand %q: %v", name, err)
		}
	}
}
