package orchestrator

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const handlerShutdownTimeout = 5 * time.Second

// Main runs the gateway. It is exported for building the gateway with custom
// plugins.
func Main() {
	var configFiles arrayFlags
	flag.Var(&configFiles, "config", "Config file (can appear multiple times)")
	flag.Var(&configFiles, "conf", "deprecated, use -config instead")
	flag.Parse()

	log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, configFiles); err != nil {
		log.WithError(err).Fatal("orchestrator stopped")
	}
}

func run(ctx context.Context, configFiles []string) error {
	cfg, err := GetConfig(configFiles)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	go cfg.Watch()

	shutdown, err := InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		log.WithError(err).Error("telemetry is disabled")
		shutdown = func(context.Context) error { return nil }
	}
	defer func() {
		log.Info("flushing and shutting down telemetry")
		if err := shutdown(context.Background()); err != nil {
			log.WithError(err).Error("shutting down telemetry")
		}
	}()

	if err := cfg.Init(); err != nil {
		return fmt.Errorf("failed to configure: %w", err)
	}
	log.WithFields(log.Fields{
		"services":      len(cfg.Services),
		"fail-fast":     cfg.FailFast,
		"poll-interval": cfg.PollIntervalDuration.String(),
	}).Info("starting orchestrator")

	gtw := FromConfig(cfg)
	RegisterMetrics()

	go gtw.UpdateSchemas(ctx, cfg.PollIntervalDuration)

	handlers := []struct {
		name     string
		addr     string
		timeouts TimeoutConfig
		handler  http.Handler
	}{
		{"metrics", cfg.MetricAddress(), cfg.DefaultTimeouts, NewMetricsHandler()},
		{"private", cfg.PrivateAddress(), cfg.PrivateTimeouts, gtw.PrivateRouter()},
		{"public", cfg.GatewayAddress(), cfg.GatewayTimeouts, gtw.Router(cfg)},
	}

	// a failing handler stops the others
	group, groupCtx := errgroup.WithContext(ctx)
	for _, h := range handlers {
		h := h
		group.Go(func() error {
			return serveHandler(groupCtx, h.name, h.addr, h.timeouts, h.handler)
		})
	}
	return group.Wait()
}

// serveHandler serves handler on addr until ctx is done, then shuts the
// server down.
func serveHandler(ctx context.Context, name, addr string, timeouts TimeoutConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  timeouts.ReadTimeoutDuration,
		WriteTimeout: timeouts.WriteTimeoutDuration,
		IdleTimeout:  timeouts.IdleTimeoutDuration,
	}

	served := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Infof("serving %s handler", name)
		served <- srv.ListenAndServe()
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s handler terminated unexpectedly: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), handlerShutdownTimeout)
	defer cancel()

	log.Infof("shutting down %s handler", name)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down %s handler: %w", name, err)
	}
	log.Infof("shut down %s handler", name)
	return nil
}
