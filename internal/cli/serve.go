package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/ordereditor/internal/app"
)

// NewServeCommand создаёт команду запуска HTTP сервиса.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		addr     string
		seedFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API сессий редактирования",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			if seedFile != "" {
				cfg.SeedFile = seedFile
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.WithFields(log.Fields{
				"http_addr": cfg.HTTPAddr,
				"storage":   cfg.StorageDriver,
			}).Info("запускаем order-editor")

			if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("order-editor остановлен")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "адрес HTTP сервера (перекрывает http_addr)")
	cmd.Flags().StringVar(&seedFile, "seed", "", "YAML с заказами для загрузки при старте")

	return cmd
}
