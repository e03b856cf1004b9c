package domain

import (
	"context"
	"time"
)

// OrderStore описывает хранилище заказов с проверкой версии на стороне сервера.
type OrderStore interface {
	// Get возвращает заказ или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// Update применяет патч, если текущая версия равна expectedVersion.
	// Возвращает сохранённый заказ с новой версией или ErrOrderVersionConflict.
	Update(ctx context.Context, id string, patch OrderPatch, expectedVersion int64) (Order, error)
	// Transition переводит заказ в новый статус с той же проверкой версии.
	Transition(ctx context.Context, id string, transition StatusTransition, expectedVersion int64) (Order, error)
	// Delete удаляет заказ, если версия совпадает.
	Delete(ctx context.Context, id string, expectedVersion int64) error
	// Create сохраняет новый заказ (используется для сидов и тестов).
	Create(ctx context.Context, order Order) (Order, error)
}

// OrderLister отдаёт список заказов, например для выбора заказа перед открытием сессии.
type OrderLister interface {
	List(ctx context.Context) ([]Order, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// EventPublisher публикует события об изменении заказа наружу.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEventType: тип публикуемого события заказа.
type OrderEventType string

const (
	OrderEventSaved     OrderEventType = "order.saved"
	OrderEventFinalized OrderEventType = "order.finalized"
	OrderEventConflict  OrderEventType = "order.conflict"
)

// OrderEvent описывает изменение заказа, сделанное сессией редактирования.
type OrderEvent struct {
	Type       OrderEventType `json:"event_type"`
	OrderID    string         `json:"order_id"`
	Version    int64          `json:"version"`
	Status     OrderStatus    `json:"status"`
	Transition string         `json:"transition,omitempty"`
	// Patch: JSON Patch (RFC 6902) от исходного заказа к сохранённому.
	Patch      []byte    `json:"patch,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
