package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleet_traffic/internal/config"
	"fleet_traffic/internal/repositories"
	"fleet_traffic/internal/services"
	"fleet_traffic/internal/web"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fleet loop and the HTTP/websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				cfg.Port = port
			}
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, closeSource, err := openLevelSource(ctx)
	if err != nil {
		return err
	}
	defer closeSource()

	opts := services.Options{Logger: logger}
	if cfg.Redis.Addr != "" {
		events := repositories.NewEventRepository(repositories.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
		}, logger)
		defer events.Close()
		if err := events.Ping(ctx); err != nil {
			logger.Warn("event history disabled: %v", err)
		} else {
			opts.History = events
			logger.Info("recording events to redis stream %s", cfg.Redis.Stream)
		}
	}

	svc, err := services.NewFleetService(ctx, source, cfg.LevelName, opts)
	if err != nil {
		return err
	}

	if cfg.WatchLevelFile && cfg.LevelSource == config.SourceFile {
		stopWatch, err := config.WatchLevelFile(cfg.LevelFile, config.DefaultDebounce, func() {
			svc.Reload(ctx)
		})
		if err != nil {
			return err
		}
		defer stopWatch()
		logger.Info("watching %s for changes", cfg.LevelFile)
	}

	srv := web.NewServer(svc, logger, cfg.CORSOrigins)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Handler(),
	}

	go func() {
		if err := svc.Run(ctx, cfg.TickInterval.Duration); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("fleet loop stopped: %v", err)
		}
	}()
	go srv.Broadcast(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting on port %d (tick %s)", cfg.Port, cfg.TickInterval.Duration)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("could not start server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exiting")
	return nil
}
