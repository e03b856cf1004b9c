package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
)

// orderStoreInMemory: in-memory реализация OrderStore с проверкой версии.
type orderStoreInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
	now   func() time.Time
}

// OrderStore: in-memory хранилище заказов для локальной разработки и тестов.
type OrderStore interface {
	domain.OrderStore
	// List возвращает все заказы, отсортированные по ID.
	domain.OrderLister
}

// NewOrderStore возвращает пустое in-memory хранилище.
func NewOrderStore() OrderStore {
	return &orderStoreInMemory{
		items: make(map[string]domain.Order),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderStoreInMemory) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	prepared, err := domain.PrepareNew(order, r.now())
	if err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[prepared.ID]; exists {
		return domain.Order{}, domain.ErrOrderAlreadyExists
	}
	// Храним копию, чтобы вызывающий код не мог изменить состояние хранилища.
	r.items[prepared.ID] = prepared.Clone()
	return prepared, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderStoreInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// List возвращает копии всех заказов.
func (r *orderStoreInMemory) List(_ context.Context) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		result = append(result, order.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Update применяет патч, проверяя версию (optimistic locking).
func (r *orderStoreInMemory) Update(_ context.Context, id string, patch domain.OrderPatch, expectedVersion int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.current(id, expectedVersion)
	if err != nil {
		return domain.Order{}, err
	}
	next, err := domain.ApplyUpdate(current, patch, r.now())
	if err != nil {
		return domain.Order{}, err
	}
	r.items[id] = next.Clone()
	return next, nil
}

// Transition меняет статус заказа с той же проверкой версии.
func (r *orderStoreInMemory) Transition(_ context.Context, id string, transition domain.StatusTransition, expectedVersion int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.current(id, expectedVersion)
	if err != nil {
		return domain.Order{}, err
	}
	next, err := domain.ApplyTransition(current, transition, r.now())
	if err != nil {
		return domain.Order{}, err
	}
	r.items[id] = next.Clone()
	return next, nil
}

// Delete удаляет заказ, если версия совпадает.
func (r *orderStoreInMemory) Delete(_ context.Context, id string, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.current(id, expectedVersion); err != nil {
		return err
	}
	delete(r.items, id)
	return nil
}

// current вызывается под блокировкой на запись.
func (r *orderStoreInMemory) current(id string, expectedVersion int64) (domain.Order, error) {
	current, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version != expectedVersion {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	return current, nil
}

var _ domain.OrderStore = (*orderStoreInMemory)(nil)
