// Command identityd serves the identity engine over HTTP.
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

	"github.com/fundlift/identity"
	"github.com/fundlift/identity/audit"
	"github.com/fundlift/identity/envconf"
	"github.com/fundlift/identity/gate"
	"github.com/fundlift/identity/logging"
	"github.com/fundlift/identity/notify"
	"github.com/fundlift/identity/store/postgres"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	if err := run(logger); err != nil {
		logger.Error(context.Background(), "fatal", "error", err.Error())
		os.Exit(1)
	}
}

func run(logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := envconf.Load()
	if err != nil {
		return err
	}
	if settings.DatabaseDSN == "" {
		return errors.New("IDENTITY_DATABASE_DSN is required")
	}

	store, err := postgres.Open(ctx, settings.DatabaseDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
	defer redisClient.Close()

	engine, err := identity.New().
		WithConfig(settings.Config()).
		WithStore(store).
		WithRedis(redisClient).
		WithNotifier(notify.LogDispatcher{Logger: logger}).
		WithAuditSink(audit.NewWriterSink(os.Stdout)).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	g := gate.New()
	mux := http.NewServeMux()
	api := newAPI(engine, g, logger)
	api.register(mux)

	server := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           g.Middleware()(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "listening", "addr", settings.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
