package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nnaka2992/pg-subscribe/internal/engine"
)

func buildPrepareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare [query]",
		Short: "Allocate a subscription slot without draining it, printing its id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := sqlInput(cmd, args)
			if err != nil {
				return err
			}
			e, _, cleanup, err := buildEngine(cmd, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			slotID, err := e.Prepare(cmd.Context(), query)
			if err != nil {
				return err
			}
			fmt.Println(slotID)
			return nil
		},
	}
}

func buildCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <slot_id>",
		Short: "Cancel an active subscription slot by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, cleanup, err := buildEngine(cmd, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			if !e.Cancel(args[0]) {
				return fmt.Errorf("slot %s not found", args[0])
			}
			fmt.Println("cancelled")
			return nil
		},
	}
}

func buildListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active subscription slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, cleanup, err := buildEngine(cmd, nil)
			if err != nil {
				return err
			}
			defer cleanup()
			return outputListActive(e.ListActive())
		},
	}
}

func buildStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print engine-wide counters (active slots, tracked tables, events, overflows)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, cleanup, err := buildEngine(cmd, nil)
			if err != nil {
				return err
			}
			defer cleanup()
			return outputStats(e.Stats())
		},
	}
}

func outputListActive(slots []engine.ActiveSlot) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(slots)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(slots)
	default:
		for _, s := range slots {
			fmt.Printf("%s\t%s\tevents_sent=%d\tbackend_pid=%d\tcreated_at=%s\n",
				s.SlotID, s.Query, s.EventsSent, s.BackendPID, s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	}
}

func outputStats(stats map[string]int64) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(stats)
	default:
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s: %d\n", k, stats[k])
		}
		return nil
	}
}
