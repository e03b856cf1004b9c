package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordereditor/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.WithError(err).Error("order-editor завершился с ошибкой")
		os.Exit(1)
	}
}
