package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/logger"
	"github.com/isdmx/scriptbox/mcpserver"
	"github.com/isdmx/scriptbox/observability"
	"github.com/isdmx/scriptbox/sandbox"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP script execution server",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			newObservability,
			newScriptExecutor,
			mcpserver.New,
		),
		fx.Invoke(
			startMetricsServer,
			startTransport,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
	return nil
}

// newObservability builds the observability facade and ties exporter
// shutdown to the application lifecycle.
func newObservability(lc fx.Lifecycle, cfg *config.Config) (*observability.Observability, error) {
	obs, err := observability.New(&cfg.Observability)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			obs.Shutdown(ctx)
			return nil
		},
	})

	return obs, nil
}

// newScriptExecutor builds the sandbox executor from configuration and
// wraps it with whatever observability is enabled.
func newScriptExecutor(cfg *config.Config, log *zap.Logger, obs *observability.Observability) (sandbox.ScriptExecutor, error) {
	executor, err := sandbox.NewExecutor(log, &sandbox.Config{
		TimeoutSec:     cfg.Sandbox.TimeoutSec,
		AllowedModules: cfg.Sandbox.AllowedModules,
		MaxStackDepth:  cfg.Sandbox.MaxStackDepth,
		MaxOutputKB:    cfg.Sandbox.MaxOutputKB,
	})
	if err != nil {
		return nil, err
	}

	return obs.Instrument(executor), nil
}

// startMetricsServer exposes the Prometheus registry over HTTP when
// metrics collection is enabled.
func startMetricsServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, obs *observability.Observability) {
	if obs.Metrics == nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting metrics server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// startTransport starts the configured MCP transport.
func startTransport(cfg *config.Config, server *mcpserver.MCPServer) {
	switch cfg.Server.Transport {
	case "stdio":
		go func() {
			if err := server.ServeStdio(); err != nil {
				panic(err)
			}
		}()
	case "http":
		go func() {
			if err := server.ServeHTTP(); err != nil {
				panic(err)
			}
		}()
	default:
		panic("unsupported transport: " + cfg.Server.Transport)
	}
}
