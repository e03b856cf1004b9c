package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
	"github.com/vladislavdragonenkov/ordereditor/internal/health"
	"github.com/vladislavdragonenkov/ordereditor/internal/metrics"
	"github.com/vladislavdragonenkov/ordereditor/internal/service/httpapi"
	"github.com/vladislavdragonenkov/ordereditor/internal/session"
	"github.com/vladislavdragonenkov/ordereditor/internal/storage/seed"
	"github.com/vladislavdragonenkov/ordereditor/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает зависимости, HTTP API и очистку сессий; блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	if cfg.SeedFile != "" {
		if err := seedStore(ctx, deps, cfg.SeedFile, logger); err != nil {
			return err
		}
	}

	handler, registry := newServer(cfg, deps, metrics.NewSessionMetrics(), logger)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.HTTPAddr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go registry.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"addr":    lis.Addr().String(),
			"storage": cfg.StorageDriver,
			"version": version.Get().Version,
		}).Info("HTTP API слушает")
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(srv, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newServer собирает реестр сессий, health-проверки и корневой HTTP handler.
func newServer(cfg Config, deps *runtimeDependencies, sessionMetrics *metrics.SessionMetrics, logger *log.Entry) (http.Handler, *httpapi.Registry) {
	registry := httpapi.NewRegistry(
		httpapi.WithRegistryLogger(logger.WithField("component", "session-registry")),
		httpapi.WithRegistryMetrics(sessionMetrics),
		httpapi.WithIdleTTL(cfg.SessionIdleTTL),
		httpapi.WithSweepInterval(cfg.SessionSweepInterval),
	)

	sessionOptions := []session.Option{
		session.WithLogger(logger.WithField("component", "edit-session")),
		session.WithMetrics(sessionMetrics),
		session.WithTimeline(deps.timeline),
		session.WithHistoryLimit(cfg.HistoryLimit),
	}
	if deps.publisher != nil {
		sessionOptions = append(sessionOptions, session.WithPublisher(deps.publisher))
	}
	factory := func() *session.Session {
		return session.New(deps.store, sessionOptions...)
	}

	healthHandler := health.NewHandler(version.Get().Version)
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	if deps.kafkaChecker != nil {
		healthHandler.RegisterChecker("kafka", deps.kafkaChecker)
	}

	orders, _ := deps.store.(domain.OrderLister)
	api := httpapi.NewHandler(registry, factory, orders, deps.timeline, logger.WithField("layer", "http"))
	return httpapi.NewRouter(api, healthHandler, cfg.CORSOrigins), registry
}

func seedStore(ctx context.Context, deps *runtimeDependencies, path string, logger *log.Entry) error {
	orders, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	if _, err := seed.Apply(ctx, deps.store, orders, logger.WithField("component", "seed")); err != nil {
		return fmt.Errorf("failed to seed store: %w", err)
	}
	return nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// Seed загружает заказы из YAML в хранилище из cfg и возвращает счётчики.
func Seed(ctx context.Context, cfg Config, path string) (seed.Result, error) {
	logger := log.WithField("component", "seed")
	if err := cfg.Validate(); err != nil {
		return seed.Result{}, err
	}

	deps, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return seed.Result{}, err
	}
	defer deps.close(logger)

	orders, err := seed.LoadFile(path)
	if err != nil {
		return seed.Result{}, err
	}
	return seed.Apply(ctx, deps.store, orders, logger)
}
