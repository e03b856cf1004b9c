// Package seed загружает заказы из YAML-фикстур в хранилище.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
)

// File: формат файла фикстур.
type File struct {
	Orders []domain.Order `yaml:"orders"`
}

// Result: итог применения фикстур.
type Result struct {
	Created int
	Skipped int
}

// Load разбирает фикстуры. Неизвестные ключи считаются ошибкой.
func Load(r io.Reader) ([]domain.Order, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Orders))
	for i := range file.Orders {
		order := &file.Orders[i]
		if order.ID == "" {
			return nil, fmt.Errorf("fixture #%d: %w", i, domain.ErrOrderIDRequired)
		}
		if _, dup := seen[order.ID]; dup {
			return nil, fmt.Errorf("fixture %s: duplicate order id", order.ID)
		}
		seen[order.ID] = struct{}{}

		for j := range order.Items {
			if order.Items[j].ID == "" {
				order.Items[j].ID = uuid.NewString()
			}
		}
		order.Recalculate()
	}
	return file.Orders, nil
}

// LoadFile читает фикстуры с диска.
func LoadFile(path string) ([]domain.Order, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures: %w", err)
	}
	defer f.Close()

	orders, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return orders, nil
}

// Apply создаёт заказы в хранилище. Уже существующие заказы пропускаются,
// поэтому повторный запуск безопасен.
func Apply(ctx context.Context, store domain.OrderStore, orders []domain.Order, logger *log.Entry) (Result, error) {
	if logger == nil {
		logger = log.WithField("component", "seed")
	}

	var res Result
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		created, err := store.Create(ctx, order)
		switch {
		case errors.Is(err, domain.ErrOrderAlreadyExists):
			res.Skipped++
			logger.WithField("order_id", order.ID).Debug("fixture order already exists")
			continue
		case err != nil:
			return res, fmt.Errorf("failed to create order %s: %w", order.ID, err)
		}

		res.Created++
		logger.WithFields(log.Fields{
			"order_id": created.ID,
			"version":  created.Version,
		}).Debug("fixture order created")
	}

	logger.WithFields(log.Fields{
		"created": res.Created,
		"skipped": res.Skipped,
	}).Info("fixtures applied")
	return res, nil
}
