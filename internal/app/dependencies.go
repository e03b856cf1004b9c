package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
	"github.com/vladislavdragonenkov/ordereditor/internal/health"
	"github.com/vladislavdragonenkov/ordereditor/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordereditor/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordereditor/internal/storage/postgres"
)

// runtimeDependencies содержит внешние зависимости процесса.
type runtimeDependencies struct {
	store    domain.OrderStore
	timeline domain.TimelineRepository
	// publisher == nil, если Kafka не настроена.
	publisher domain.EventPublisher
	producer  *kafka.Producer

	storageChecker health.Checker
	kafkaChecker   health.Checker

	closeFn func() error
}

// initRuntimeDependencies поднимает хранилище и (опционально) Kafka producer.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	if err != nil {
		// Kafka не обязательна: сессии работают и без публикации событий.
		logger.WithError(err).Warn("continuing without kafka")
	}
	if producer != nil {
		deps.producer = producer
		deps.publisher = producer
		deps.kafkaChecker = health.NewOptionalChecker("kafka", producer.Ping)
	}

	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory order store")
		return &runtimeDependencies{
			store:          memory.NewOrderStore(),
			timeline:       memory.NewTimelineRepository(),
			storageChecker: health.NewChecker("storage", func(context.Context) error { return nil }),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres_dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithMaxOpenConns(cfg.PostgresMaxOpenConns),
			postgres.WithLogger(logger.WithField("component", "postgres")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
			}
		}
		logger.Info("using postgres order store")
		return &runtimeDependencies{
			store:          postgres.NewOrderStore(store),
			timeline:       postgres.NewTimelineRepository(store),
			storageChecker: health.NewChecker("storage", store.Ping),
			closeFn:        store.Close,
		}, nil
	}

	return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
}

// close освобождает ресурсы в обратном порядке инициализации.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil {
		return
	}
	closeKafka(d.producer, logger)
	if d.closeFn != nil {
		if err := d.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}
}
