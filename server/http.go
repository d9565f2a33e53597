package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"interview-orchestrator/config"
	"interview-orchestrator/constant"
	"interview-orchestrator/observability"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// RunHttp serves the API and runs the dispatcher and the reconciler until
// SIGINT or SIGTERM.
func RunHttp(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(SetupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger := zerolog.Ctx(ctx)

	logger.Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing := observability.InitOTel(ctx, otelConfig(cfg))
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	app, err := Build(ctx, cfg, Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error().Err(err).Msg("close app")
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(cfg.App.Name), requestLogger(*logger), corsMiddleware(cfg.Server.AllowOrigins))
	addHealth(r)
	app.Handler.Register(r)

	srv := &http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(app.Dispatcher.Run)
	g.Go(func() error {
		return app.Reconciler.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("env", cfg.App.Environment).Str("addr", srv.Addr).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		sctx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer scancel()
		cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info().Str("env", cfg.App.Environment).Msg("server shutdown")
	return err
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
}

func otelConfig(cfg *config.Config) observability.OtelConfig {
	return observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
		Version:     cfg.App.Version,
		Endpoint:    cfg.Otel.Endpoint,
		Insecure:    cfg.Otel.Insecure,
		SampleRatio: cfg.Otel.SampleRatio,
	}
}

// SetupLogger returns a context carrying the process logger.
func SetupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.App.Name).Logger()
	return logger.WithContext(context.Background())
}
