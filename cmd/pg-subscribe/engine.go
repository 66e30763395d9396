package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nnaka2992/pg-subscribe/internal/config"
	"github.com/nnaka2992/pg-subscribe/internal/engine"
)

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

// buildEngine resolves cmd's bound configuration, opens the PostgreSQL
// pool and a dedicated LISTEN/NOTIFY connection, and wires both into a
// fresh Engine. The returned cleanup func tears all three down in
// reverse order; callers defer it immediately.
func buildEngine(cmd *cobra.Command, registerer prometheus.Registerer) (*engine.Engine, config.Config, func(), error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, config.Config{}, nil, err
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, config.Config{}, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, config.Config{}, nil, fmt.Errorf("ping database: %w", err)
	}

	logger := newLogger()
	notifier := engine.NewPQNotifier(cfg.DSN, logger)

	econf := engine.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxSlots:          cfg.MaxSlots,
		MaxEventsPerSlot:  cfg.MaxEventsPerSlot,
		MaxTrackedTables:  cfg.MaxTrackedTables,
		BackendPID:        os.Getpid(),
	}
	e := engine.New(econf, engine.SQLQuerier{DB: db}, notifier, logger, registerer)

	cleanup := func() {
		e.Close()
		_ = notifier.Close()
		_ = db.Close()
	}
	return e, cfg, cleanup, nil
}
