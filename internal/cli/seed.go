package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/ordereditor/internal/app"
)

// NewSeedCommand создаёт команду загрузки демонстрационных заказов.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Загрузить заказы из YAML в настроенное хранилище",
		Long: `Загружает заказы из YAML файла в хранилище из конфигурации.
Уже существующие заказы пропускаются, повторный запуск безопасен.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.SeedFile
			}
			if file == "" {
				return errors.New("seed file is required (--file or seed_file)")
			}

			res, err := app.Seed(cmd.Context(), cfg, file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created=%d skipped=%d\n", res.Created, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML файл с заказами")

	return cmd
}
