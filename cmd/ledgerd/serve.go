package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/pocketledger/internal/auth"
	"github.com/mmynk/pocketledger/internal/middleware"
	"github.com/mmynk/pocketledger/internal/service"
	"github.com/mmynk/pocketledger/internal/session"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ListenAddr string
	Token      string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the session and serve the control API",
		Long: `Start the session orchestrator and serve the Connect control API and
Prometheus metrics over HTTP/2 cleartext.

A provider token given with --token (or AUTH_TOKEN) starts the session
signed in as its subject; otherwise the device's guest identity is used.

Example:
  ledgerd serve --db ./data/ledger.db --listen :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ListenAddr, "listen", "", "address to listen on (overrides config)")
	cmd.Flags().StringVar(&opts.Token, "token", os.Getenv("AUTH_TOKEN"), "auth provider token to start signed in")
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.ListenAddr != "" {
		cfg.ListenAddr = opts.ListenAddr
	}
	logger := slog.Default()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	if cfg.Auth.Secret == "" {
		logger.Warn("AUTH_SECRET is not set; provider tokens will be rejected")
	}
	verifier := auth.NewJWTManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	state, creds := auth.SignedOut, auth.Credentials{}
	if opts.Token != "" {
		state, creds, err = auth.StateFor(verifier, opts.Token)
		if err != nil {
			logger.Warn("Ignoring startup token", "error", err)
		}
	}
	if err := a.session.Start(ctx, state, creds); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	svc := service.NewSessionService(a.session, a.ledger, logger)
	path, handler := service.NewSessionServiceHandler(svc, verifier, connect.WithInterceptors(
		middleware.OptionalAuth(verifier),
		middleware.LoggingInterceptor(logger, func() string { return a.session.Snapshot().Identity.ID }),
	))

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if a.session.Snapshot().State == session.Ready {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	server := &http.Server{
		Addr: cfg.ListenAddr,
		// Wrap with h2c for HTTP/2 without TLS (required for Connect streaming clients)
		Handler:           h2c.NewHandler(loggingMiddleware(logger, corsMiddleware(mux)), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Connect server starting", "address", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		updates, cancel := a.session.Subscribe()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case snap, ok := <-updates:
				if !ok {
					return nil
				}
				logger.Debug("Session changed", "state", snap.State, "identity", snap.Identity, "variant", snap.Variant)
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
