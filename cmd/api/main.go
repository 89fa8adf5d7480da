package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/toko-offers/internal/app"
	"github.com/noah-isme/toko-offers/internal/auth"
	"github.com/noah-isme/toko-offers/internal/config"
	"github.com/noah-isme/toko-offers/internal/health"
	"github.com/noah-isme/toko-offers/internal/obs"
	"github.com/noah-isme/toko-offers/internal/queue"
	"github.com/noah-isme/toko-offers/internal/resilience"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("component", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   "toko-offers-api",
		Environment:   cfg.AppEnv,
		Endpoint:      cfg.TracingEndpoint,
		Exporter:      cfg.TracingExporter,
		SamplingRatio: cfg.TracingSampling,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		}()
	}

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	if err := queue.RegisterMetrics(nil); err != nil {
		logger.Fatal().Err(err).Msg("register queue metrics")
	}
	if err := resilience.RegisterMetrics(nil); err != nil {
		logger.Fatal().Err(err).Msg("register breaker metrics")
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	limiter, err := deps.NewAPILimiter()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	var verifier *auth.Verifier
	if cfg.AuthJWTSecret != "" {
		verifier = &auth.Verifier{
			Secret:    []byte(cfg.AuthJWTSecret),
			Issuer:    cfg.AuthJWTIssuer,
			Audience:  cfg.AuthJWTAudience,
			ClockSkew: cfg.AuthClockSkew,
		}
	} else {
		logger.Warn().Msg("AUTH_JWT_SECRET not set, bearer tokens and admin routes are disabled")
	}

	handler := deps.Router(app.RouterOptions{
		Verifier:    verifier,
		APILimiter:  limiter,
		HTTPMetrics: obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, nil),
		Gatherer:    prometheus.DefaultGatherer,
		Tracing:     cfg.TracingExporter != "none",
	})

	// Fixture stores live in this process, so their notification tasks must
	// be consumed here too.
	workerDone := make(chan struct{})
	if cfg.CatalogSource == config.SourceFixture {
		go func() {
			defer close(workerDone)
			if err := deps.BackInStockWorker().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("embedded worker stopped")
			}
		}()
	} else {
		close(workerDone)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("catalog_source", cfg.CatalogSource).Str("strategy", cfg.Strategy).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server exited unexpectedly")
		}
		stop()
	case <-ctx.Done():
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	<-workerDone
	logger.Info().Msg("server stopped")
}
