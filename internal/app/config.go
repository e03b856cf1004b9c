package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Поддерживаемые хранилища заказов.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// EnvPrefix: префикс переменных окружения (OMS_HTTP_ADDR и т.д.).
const EnvPrefix = "OMS"

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`

	StorageDriver        string `mapstructure:"storage_driver"`
	PostgresDSN          string `mapstructure:"postgres_dsn"`
	PostgresAutoMigrate  bool   `mapstructure:"postgres_auto_migrate"`
	PostgresMaxOpenConns int    `mapstructure:"postgres_max_open_conns"`

	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	HistoryLimit         int           `mapstructure:"history_limit"`
	SessionIdleTTL       time.Duration `mapstructure:"session_idle_ttl"`
	SessionSweepInterval time.Duration `mapstructure:"session_sweep_interval"`

	SeedFile    string   `mapstructure:"seed_file"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	LogLevel    string   `mapstructure:"log_level"`
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:             ":8080",
		StorageDriver:        StorageDriverMemory,
		PostgresAutoMigrate:  true,
		PostgresMaxOpenConns: 25,
		KafkaTopic:           "ordereditor.order.events",
		HistoryLimit:         50,
		SessionIdleTTL:       30 * time.Minute,
		SessionSweepInterval: time.Minute,
		LogLevel:             "info",
	}
}

// LoadConfig читает YAML-файл (если path не пустой) и переменные окружения OMS_*.
// Переменные окружения имеют приоритет над файлом.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)

	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres_dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("history_limit must be positive"))
	}
	if c.SessionIdleTTL <= 0 || c.SessionSweepInterval <= 0 {
		errs = append(errs, errors.New("session_idle_ttl and session_sweep_interval must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("http_addr", cfg.HTTPAddr)
	v.SetDefault("storage_driver", cfg.StorageDriver)
	v.SetDefault("postgres_dsn", cfg.PostgresDSN)
	v.SetDefault("postgres_auto_migrate", cfg.PostgresAutoMigrate)
	v.SetDefault("postgres_max_open_conns", cfg.PostgresMaxOpenConns)
	v.SetDefault("kafka_brokers", cfg.KafkaBrokers)
	v.SetDefault("kafka_topic", cfg.KafkaTopic)
	v.SetDefault("history_limit", cfg.HistoryLimit)
	v.SetDefault("session_idle_ttl", cfg.SessionIdleTTL)
	v.SetDefault("session_sweep_interval", cfg.SessionSweepInterval)
	v.SetDefault("seed_file", cfg.SeedFile)
	v.SetDefault("cors_origins", cfg.CORSOrigins)
	v.SetDefault("log_level", cfg.LogLevel)
}

// splitList нормализует списки из env ("a, b") и YAML.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
