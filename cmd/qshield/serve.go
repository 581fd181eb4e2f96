package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/quantum-shield/internal/config"
	"github.com/danielpatrickdp/quantum-shield/internal/logging"
	"github.com/danielpatrickdp/quantum-shield/internal/transport"
)

// #region serve
func serveCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the qshield.v1.Shield gRPC API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", envOr("QSHIELD_METRICS_ADDR", "127.0.0.1:9471"), "Prometheus listen address (empty disables)")
	return cmd
}

func runServe(ctx context.Context, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging, os.Stderr)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := openShield(ctx, cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("open shield: %w", err)
	}
	defer s.Close()

	lis, err := net.Listen("tcp", cfg.Transport.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Transport.Addr, err)
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(transport.UnaryLogger(logger)))
	transport.RegisterShieldServer(srv, transport.NewServer(s.client, logger))

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(lis) }()
	logger.Info("qshield serving",
		"addr", lis.Addr().String(),
		"metrics", metricsAddr,
		"storage", cfg.Storage.Enabled,
		"database", string(cfg.Storage.Database),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		return fmt.Errorf("grpc serve: %w", err)
	}
	shutdown(srv, metricsSrv, logger)
	return nil
}

// shutdown drains in-flight calls for a few seconds, then forces the stop.
func shutdown(srv *grpc.Server, metricsSrv *http.Server, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("graceful stop timed out")
		srv.Stop()
	}
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(ctx)
	}
}

// #endregion serve
