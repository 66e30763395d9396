package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nnaka2992/pg-subscribe/internal/analyzer"
	"github.com/nnaka2992/pg-subscribe/internal/querykey"
)

// These three commands never open a database connection: they run the
// same AST analysis and normalization the engine runs before allocating
// a slot, so a caller can predict a query's strategy and dedup key
// offline.

func buildAnalyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [query]",
		Short: "Print the QueryFacts pg_subscribe would use to pick a strategy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := sqlInput(cmd, args)
			if err != nil {
				return err
			}
			facts, err := analyzer.Analyze(query)
			if err != nil {
				return err
			}
			facts.NormalizedSQL = querykey.Normalize(query)
			facts.Hash = querykey.Hash(facts.NormalizedSQL)
			return outputFacts(facts)
		},
	}
}

func buildNormalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [query]",
		Short: "Print a query's canonical normalized text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := sqlInput(cmd, args)
			if err != nil {
				return err
			}
			fmt.Println(querykey.Normalize(query))
			return nil
		},
	}
}

func buildHashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [query]",
		Short: "Print the 64-bit dedup hash of a query's normalized text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := sqlInput(cmd, args)
			if err != nil {
				return err
			}
			normalized := querykey.Normalize(query)
			fmt.Println(strconv.FormatUint(querykey.Hash(normalized), 10))
			return nil
		},
	}
}

func outputFacts(facts *analyzer.QueryFacts) error {
	switch outputFormat {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(facts)
	default:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(facts)
	}
}
