package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alecgard/costscope/internal/api"
	"github.com/alecgard/costscope/internal/auth"
	"github.com/alecgard/costscope/internal/azure"
	"github.com/alecgard/costscope/internal/config"
	"github.com/alecgard/costscope/internal/dashboard"
	"github.com/alecgard/costscope/internal/logging"
	"github.com/alecgard/costscope/internal/metrics"
	"github.com/alecgard/costscope/internal/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the costscope report server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newKeyCache builds the signing key cache for cfg. onRefresh may be nil.
func newKeyCache(cfg *config.Config, onRefresh func(error)) *auth.KeyCache {
	fetcher := &auth.JWKSFetcher{
		DiscoveryURL: cfg.Auth.DiscoveryURL,
		JWKSURL:      cfg.Auth.JWKSURL,
		Client:       &http.Client{Timeout: cfg.Auth.HTTPTimeout},
	}
	return auth.NewKeyCache(fetcher, onRefresh)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	m := metrics.New()

	keys := newKeyCache(cfg, m.ObserveKeyRefresh)
	validator := auth.NewValidator(keys, auth.ValidatorConfig{
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		Algorithms: cfg.Auth.Algorithms,
		Leeway:     cfg.Auth.ClockSkew,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Warm the key cache; a failure here is retried on the first request.
	if err := keys.Refresh(ctx); err != nil {
		slog.Warn("initial signing key fetch failed", "error", err)
	} else {
		slog.Info("signing keys loaded", "count", len(keys.Keys()))
	}

	clientOpts := []azure.ClientOption{
		azure.WithBaseURL(cfg.Azure.ManagementURL),
		azure.WithHTTPClient(&http.Client{Timeout: cfg.Azure.HTTPTimeout}),
		azure.WithMetrics(m),
	}
	if cfg.Azure.RequestsPerSecond > 0 {
		clientOpts = append(clientOpts, azure.WithRateLimit(cfg.Azure.RequestsPerSecond, cfg.Azure.Burst))
	}
	cloud := azure.NewClient(clientOpts...)

	reports := dashboard.NewService(cloud, dashboard.Options{
		BatchSize:         cfg.Batch.Size,
		RetryMax:          cfg.Batch.RetryMax,
		RetryInitialDelay: cfg.Batch.RetryInitialDelay,
		DefenderTopN:      cfg.Reports.DefenderTopN,
		TopN:              cfg.Reports.TopN,
		Metrics:           m,
	})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Default > 0 {
		limiter = ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)
	}

	router := api.NewRouter(api.RouterDeps{
		Reports:       reports,
		Authenticator: validator,
		Limiter:       limiter,
		Metrics:       m,
		CORSOrigins:   cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "issuer", cfg.Auth.Issuer)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
		slog.Info("shutting down")
	case err := <-errCh:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
