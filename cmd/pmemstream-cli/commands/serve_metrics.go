package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/karczex-2nd/pmemstream/internal/logger"
	"github.com/karczex-2nd/pmemstream/pkg/metrics"
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve the Prometheus metrics registry over HTTP",
	Long: `Serve-metrics starts a standalone HTTP server exposing /metrics for
this process's metrics registry. It opens no stream, so the registry it
serves holds no stream metrics; metrics recorded by other processes are
not visible through it.`,
	RunE: runServeMetrics,
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	serverDone := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	logger.Info("metrics server listening", "addr", addr)
	fmt.Printf("serving metrics on %s/metrics. Press Ctrl+C to stop.\n", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutdown signal received, stopping metrics server")
		return server.Shutdown(ctx)
	case err := <-serverDone:
		return err
	}
}
