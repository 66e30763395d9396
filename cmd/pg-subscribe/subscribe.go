package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/nnaka2992/pg-subscribe/internal/engine"
)

func buildSubscribeCommand() *cobra.Command {
	var identity []string
	cmd := &cobra.Command{
		Use:   "subscribe [query]",
		Short: "Stream +1/-1 diffs for a SELECT query as it changes, never exiting on its own",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, args, identity, false)
		},
	}
	cmd.Flags().StringSliceVar(&identity, "identity-columns", nil, "comma-separated identity columns for O(changed) update diffs")
	return cmd
}

func buildSnapshotCommand() *cobra.Command {
	var identity []string
	cmd := &cobra.Command{
		Use:   "snapshot [query]",
		Short: "Emit the query's current rows as +1 events and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, args, identity, true)
		},
	}
	cmd.Flags().StringSliceVar(&identity, "identity-columns", nil, "comma-separated identity columns")
	return cmd
}

// streamEvent is the JSON object emitted per line, one per EventRecord,
// matching §6's event schema.
type streamEvent struct {
	Timestamp  int64           `json:"mz_timestamp"`
	Diff       int32           `json:"mz_diff"`
	Progressed bool            `json:"mz_progressed"`
	Overflow   bool            `json:"overflow,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func runStream(cmd *cobra.Command, args []string, identity []string, snapshotOnly bool) error {
	query, err := sqlInput(cmd, args)
	if err != nil {
		return err
	}

	e, _, cleanup, err := buildEngine(cmd, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()

	var cursor *engine.Cursor
	if snapshotOnly {
		cursor, err = e.SubscribeSnapshot(ctx, query, identity)
	} else {
		cursor, err = e.Subscribe(ctx, query, identity)
	}
	if err != nil {
		return err
	}
	defer cursor.Close()

	enc := json.NewEncoder(os.Stdout)
	for {
		ev, err := cursor.Next(ctx)
		if err == engine.ErrSnapshotComplete {
			return nil
		}
		if err != nil {
			return err
		}
		out := streamEvent{
			Timestamp:  ev.LogicalTS,
			Diff:       ev.Diff,
			Progressed: ev.Progressed,
			Overflow:   ev.Kind == engine.EventOverflow,
			Data:       ev.Data,
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
}
