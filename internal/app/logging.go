package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging настраивает формат и уровень логирования.
func ConfigureLogging(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if level == "" {
		log.SetLevel(log.InfoLevel)
		return nil
	}

	parsed, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(parsed)
	return nil
}
