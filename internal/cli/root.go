package cli

import (
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/ordereditor/internal/app"
)

// RootOptions хранит глобальные флаги всех команд.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand создаёт корневую команду order-editor.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "order-editor",
		Short:         "Сервис сессий редактирования заказов",
		Long:          "HTTP сервис, который открывает сессии редактирования заказов и сохраняет их с оптимистичной блокировкой.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "путь к YAML конфигурации (переменные OMS_* имеют приоритет)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "уровень логирования (перекрывает log_level из конфигурации)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig читает конфигурацию и настраивает логирование.
func (o *RootOptions) loadConfig() (app.Config, error) {
	cfg, err := app.LoadConfig(o.ConfigPath)
	if err != nil {
		return app.Config{}, err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if err := app.ConfigureLogging(cfg.LogLevel); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}
