// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package main implements the orgs command. Given GitHub user or organization
// names it prints the merged, de-duplicated list of those organizations and of
// the organizations the users belong to. With --listen it serves the same
// lookups as a JSON HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/andrewkroh/orgs/internal/github"
	"github.com/andrewkroh/orgs/internal/handler"
	"github.com/andrewkroh/orgs/internal/orgs"
	"github.com/andrewkroh/orgs/internal/otelsetup"
)

// version is set at build time via -ldflags "-X main.version=v1.0.0".
var version = "dev"

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	cfg, err := parseConfig(args, os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	logger := otelsetup.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := newService(cfg, logger)

	if cfg.Listen == "" {
		if err := run(ctx, cfg, svc, os.Stdout); err != nil {
			slog.Error("resolution failed", slog.String("error", err.Error()))
			return 1
		}
		return 0
	}

	// Telemetry is only exported by the long-running server.
	otelShutdown, err := otelsetup.Setup(ctx, "orgs", version)
	if err != nil {
		slog.Error("failed to set up OpenTelemetry", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("OpenTelemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := serve(ctx, cfg, svc); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// newService wires the GitHub client and resolver from cfg.
func newService(cfg *Config, logger *slog.Logger) *orgs.Service {
	httpClient := &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	ghClient := github.NewHTTPClient(
		github.WithBaseURL(cfg.BaseURL),
		github.WithHTTPClient(httpClient),
		github.WithMaxPages(cfg.MaxPages),
		github.WithLogger(logger),
	)
	return orgs.New(ghClient, logger)
}

// run resolves cfg.Names (or the caller's organizations with cfg.Mine) and
// writes the result to w.
func run(ctx context.Context, cfg *Config, svc *orgs.Service, w io.Writer) error {
	opts := orgs.Options{Auth: cfg.Auth, Unsorted: cfg.Unsorted}

	var (
		recs []github.Record
		err  error
	)
	if cfg.Mine {
		recs, err = svc.ResolveAuthenticated(ctx, opts)
	} else {
		recs, err = svc.Resolve(ctx, cfg.Names, opts)
	}
	if err != nil {
		return err
	}

	switch cfg.Format {
	case formatJSON:
		if recs == nil {
			recs = []github.Record{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	default:
		for _, r := range recs {
			if _, err := fmt.Fprintln(w, r.Login); err != nil {
				return err
			}
		}
		return nil
	}
}

// serve runs the HTTP API until ctx is cancelled.
func serve(ctx context.Context, cfg *Config, svc *orgs.Service) error {
	h := handler.New(svc, cfg.Auth, slog.Default())
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			slog.String("listen", cfg.Listen),
			slog.String("base_url", cfg.BaseURL),
			slog.Int("max_pages", cfg.MaxPages),
			slog.String("version", version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}
