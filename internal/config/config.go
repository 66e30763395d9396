// Package config loads pg_subscribe's per-backend configuration (§6,
// SPEC_FULL §4.9): the DSN the daemon dials PostgreSQL with, and the
// compile-time-ish limits (heartbeat cadence, slot/event/table caps)
// that bound engine.Config. Values are bound to cobra persistent flags
// and layered with environment variables and an optional config file
// through viper, the way the pack's manifests pull in viper alongside
// cobra for exactly this job.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	minHeartbeatMS = 50
	maxHeartbeatMS = 60000

	defaultHeartbeatMS  = 1000
	defaultMaxSlots     = 64
	defaultMaxEvents    = 32
	defaultMaxTables = 256
	defaultDSN       = "postgres://localhost:5432/postgres?sslmode=disable"
	envPrefix        = "PG_SUBSCRIBE"
)

// Config is the resolved, validated configuration for one invocation of
// the pg-subscribe CLI or daemon.
type Config struct {
	DSN               string
	HeartbeatInterval time.Duration
	MaxSlots          int
	MaxEventsPerSlot  int
	MaxTrackedTables  int
}

// Bind registers the flags config.Load reads, on cmd's persistent flag
// set so every subcommand in the tree inherits them.
func Bind(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("dsn", defaultDSN, "PostgreSQL connection string")
	flags.Int("heartbeat-interval-ms", defaultHeartbeatMS, "heartbeat cadence per slot, in milliseconds (50-60000)")
	flags.Int("max-slots", defaultMaxSlots, "maximum number of concurrent subscription slots")
	flags.Int("max-events-per-slot", defaultMaxEvents, "ring buffer capacity per slot")
	flags.Int("max-tracked-tables", defaultMaxTables, "maximum number of distinct tables with an installed trigger")
}

// Load resolves Config from cmd's bound flags, layered under environment
// variables (PG_SUBSCRIBE_DSN, PG_SUBSCRIBE_HEARTBEAT_INTERVAL_MS, ...)
// and, if present, a config file named by --config. Flags win over env,
// env wins over file, file wins over the flag defaults.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	cfg := Config{
		DSN:               v.GetString("dsn"),
		HeartbeatInterval: time.Duration(v.GetInt("heartbeat-interval-ms")) * time.Millisecond,
		MaxSlots:          v.GetInt("max-slots"),
		MaxEventsPerSlot:  v.GetInt("max-events-per-slot"),
		MaxTrackedTables:  v.GetInt("max-tracked-tables"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	ms := c.HeartbeatInterval.Milliseconds()
	if ms < minHeartbeatMS || ms > maxHeartbeatMS {
		return fmt.Errorf("heartbeat-interval-ms must be between %d and %d, got %d", minHeartbeatMS, maxHeartbeatMS, ms)
	}
	if c.MaxSlots < 1 {
		return fmt.Errorf("max-slots must be positive, got %d", c.MaxSlots)
	}
	if c.MaxEventsPerSlot < 1 {
		return fmt.Errorf("max-events-per-slot must be positive, got %d", c.MaxEventsPerSlot)
	}
	if c.MaxTrackedTables < 1 {
		return fmt.Errorf("max-tracked-tables must be positive, got %d", c.MaxTrackedTables)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn must not be empty")
	}
	return nil
}
