package config

import (
	"testing"

	"github.com/spf13/cobra"
)

func testCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.PersistentFlags().String("config", "", "config file path")
	Bind(cmd)
	return cmd
}

func TestLoadDefaults(t *testing.T) {
	cmd := testCmd()
	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HeartbeatInterval.Milliseconds() != defaultHeartbeatMS {
		t.Errorf("HeartbeatInterval = %v, want %dms", cfg.HeartbeatInterval, defaultHeartbeatMS)
	}
	if cfg.MaxSlots != defaultMaxSlots {
		t.Errorf("MaxSlots = %d, want %d", cfg.MaxSlots, defaultMaxSlots)
	}
	if cfg.MaxEventsPerSlot != defaultMaxEvents {
		t.Errorf("MaxEventsPerSlot = %d, want %d", cfg.MaxEventsPerSlot, defaultMaxEvents)
	}
	if cfg.MaxTrackedTables != defaultMaxTables {
		t.Errorf("MaxTrackedTables = %d, want %d", cfg.MaxTrackedTables, defaultMaxTables)
	}
	if cfg.DSN != defaultDSN {
		t.Errorf("DSN = %q, want %q", cfg.DSN, defaultDSN)
	}
}

func TestLoadFlagOverride(t *testing.T) {
	cmd := testCmd()
	if err := cmd.PersistentFlags().Set("heartbeat-interval-ms", "2000"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HeartbeatInterval.Milliseconds() != 2000 {
		t.Errorf("HeartbeatInterval = %v, want 2000ms", cfg.HeartbeatInterval)
	}
}

func TestLoadRejectsOutOfRangeHeartbeat(t *testing.T) {
	cmd := testCmd()
	if err := cmd.PersistentFlags().Set("heartbeat-interval-ms", "1"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if _, err := Load(cmd); err == nil {
		t.Fatal("expected validation error for heartbeat below minimum")
	}
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	for _, flag := range []string{"max-slots", "max-events-per-slot", "max-tracked-tables"} {
		cmd := testCmd()
		if err := cmd.PersistentFlags().Set(flag, "0"); err != nil {
			t.Fatalf("set flag %s: %v", flag, err)
		}
		if _, err := Load(cmd); err == nil {
			t.Errorf("expected validation error for %s=0", flag)
		}
	}
}
