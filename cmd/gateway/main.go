package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paywall_gateway/internal/config"
	"paywall_gateway/internal/httpapi"
	"paywall_gateway/internal/utils"
)

// drainTimeout bounds how long in-flight requests, the audit flush and the
// charge queue drain may take together on shutdown.
const drainTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "paywall gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	utils.SetDefaultLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	logger := utils.NewLogger("gateway")

	mux, deps, err := httpapi.NewRouter(cfg)
	if err != nil {
		return err
	}

	// Streamed responses hold the connection for the whole answer, so the
	// write deadline matches the drain window.
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      drainTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Paywall gateway listening",
			"addr", server.Addr,
			"defaultEndpoint", cfg.Paywall.DefaultEndpoint,
			"redis", cfg.Redis.Address != "",
			"auditFile", cfg.AuditFile.Enabled,
			"auditArchive", cfg.AuditArchive.Enabled,
			"admin", cfg.AdminEnabled,
		)
		serveErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var listenErr error
	select {
	case sig := <-stop:
		logger.Info("Stopping paywall gateway", "signal", sig.String())
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			listenErr = fmt.Errorf("listen: %w", err)
		}
	}

	return errors.Join(listenErr, drain(server, deps, logger))
}

// drain stops accepting requests first so no decision is made after the
// audit sink closes, then flushes audit records and queued charges.
func drain(server *http.Server, deps *httpapi.Dependencies, logger *utils.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := deps.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain audit and charges: %w", err))
	}

	if len(errs) == 0 {
		logger.Info("Paywall gateway stopped cleanly")
	}
	return errors.Join(errs...)
}
