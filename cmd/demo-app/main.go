package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pobradovic08/demo-app/internal/api"
	"github.com/pobradovic08/demo-app/internal/config"
	"github.com/pobradovic08/demo-app/internal/grpchealth"
	"github.com/pobradovic08/demo-app/internal/ratelimit"
	"github.com/pobradovic08/demo-app/internal/responder"
	"github.com/pobradovic08/demo-app/internal/tlsutil"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults are used when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := newLogger(os.Stdout, cfg.Log)
	if err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("demo-app exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch cfg.Format {
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "json", "":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h).With("service", responder.ServiceName), nil
}

func run(cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	resp := responder.NewDefault(responder.SystemClock, loc)

	slog.Info("starting demo-app", "timezone", loc.String())

	var metrics *api.Metrics
	if cfg.Metrics.Enabled {
		metrics = api.NewMetrics()
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		opts := ratelimit.Options{
			RequestsPerInterval: cfg.RateLimit.RequestsPerInterval,
			Interval:            cfg.RateLimit.Interval,
			CleanupInterval:     cfg.RateLimit.CleanupInterval,
			StaleAfter:          cfg.RateLimit.StaleAfter,
			TrustedProxies:      cfg.RateLimit.TrustedProxies,
		}
		if metrics != nil {
			opts.OnReject = metrics.IncRateLimitRejectionsTotal
		}
		limiter, err = ratelimit.New(opts)
		if err != nil {
			return fmt.Errorf("create rate limiter: %w", err)
		}
		defer limiter.Close()
	}

	deps := api.ServerDeps{
		Responder:      resp,
		Metrics:        metrics,
		RateLimiter:    limiter,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		ListenAddr:     cfg.HTTP.ListenAddr,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
	}

	var certLoader *tlsutil.CertificateLoader
	if cfg.TLS.Enabled() {
		certLoader, err = tlsutil.NewCertificateLoader(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		defer certLoader.Close()
		if metrics != nil {
			certLoader.OnReload(metrics.ObserveCertificateReload)
		}
		deps.CertLoader = certLoader

		if cfg.TLS.ClientCA != "" {
			deps.ClientCAs, err = tlsutil.LoadCAPool(cfg.TLS.ClientCA)
			if err != nil {
				return fmt.Errorf("load client CA: %w", err)
			}
		}
	}

	apiServer := api.NewServer(deps)

	var adminServer *api.AdminServer
	if cfg.Metrics.Enabled {
		adminServer, err = api.NewAdminServer(context.Background(), cfg.Metrics.ListenAddr, metrics)
		if err != nil {
			return fmt.Errorf("create admin server: %w", err)
		}
	}

	var healthServer *grpchealth.Server
	if cfg.GRPC.Enabled {
		healthServer = grpchealth.NewServer(grpchealth.ServerDeps{
			ListenAddr: cfg.GRPC.ListenAddr,
			Service:    responder.ServiceName,
			CertLoader: certLoader,
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 3)
	go func() { errCh <- apiServer.Start() }()
	if adminServer != nil {
		go func() { errCh <- adminServer.Start() }()
	}
	if healthServer != nil {
		go func() { errCh <- healthServer.Start() }()
	}

	slog.Info("demo-app running",
		"api_addr", cfg.HTTP.ListenAddr,
		"metrics_enabled", cfg.Metrics.Enabled,
		"grpc_enabled", cfg.GRPC.Enabled,
	)

	var runErr error
	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case runErr = <-errCh:
		slog.Error("server error, initiating shutdown", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	start := time.Now()

	// Fail health checks first so load balancers stop routing before listeners close.
	if healthServer != nil {
		healthServer.MarkNotServing()
	}

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown error", "error", err)
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown error", "error", err)
		}
	}
	if healthServer != nil {
		healthServer.Shutdown(shutdownCtx)
	}

	slog.Info("demo-app stopped", "shutdown_duration", time.Since(start), "uptime_seconds", apiServer.UptimeSeconds())
	return runErr
}
