package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func buildServeCommand() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run as a long-lived daemon exposing Prometheus metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, listenAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen-addr", ":9090", "address the /metrics HTTP endpoint listens on")
	return cmd
}

// runServe keeps an Engine alive with no subscribers of its own — its
// dispatch loop and trigger manager stay ready for whatever a control
// plane Prepares against it — until SIGINT/SIGTERM, exposing pg_subscribe's
// counters over /metrics the whole time.
func runServe(cmd *cobra.Command, listenAddr string) error {
	registry := prometheus.NewRegistry()

	_, _, cleanup, err := buildEngine(cmd, registry)
	if err != nil {
		return err
	}
	defer cleanup()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: listenAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	return nil
}
