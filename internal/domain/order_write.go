package domain

import (
	"fmt"
	"time"
)

// ApplyUpdate применяет патч так, как это делает хранилище при записи:
// проверяет статус и инварианты, пересчитывает итог и увеличивает версию.
// Исходный заказ не меняется.
func ApplyUpdate(current Order, patch OrderPatch, now time.Time) (Order, error) {
	if current.Status.IsFinal() {
		return Order{}, fmt.Errorf("%w: status %s", ErrOrderFinalized, current.Status)
	}

	next := current.Clone()
	if err := ApplyPatch(&next, patch); err != nil {
		return Order{}, err
	}
	if errs := next.ValidateInvariants(); len(errs) > 0 {
		return Order{}, errs
	}

	next.Recalculate()
	next.Version = current.Version + 1
	next.UpdatedAt = now.UTC()
	return next, nil
}

// ApplyTransition переводит заказ в новый статус и увеличивает версию.
func ApplyTransition(current Order, transition StatusTransition, now time.Time) (Order, error) {
	status, err := NextStatus(current.Status, transition)
	if err != nil {
		return Order{}, err
	}

	next := current.Clone()
	next.Status = status
	next.Version = current.Version + 1
	next.UpdatedAt = now.UTC()
	if status.IsFinal() {
		at := now.UTC()
		next.FinalizedAt = &at
	}
	return next, nil
}

// PrepareNew заполняет серверные поля нового заказа перед вставкой.
func PrepareNew(order Order, now time.Time) (Order, error) {
	if order.ID == "" {
		return Order{}, ErrOrderIDRequired
	}

	next := order.Clone()
	if next.Status == "" {
		next.Status = OrderStatusPending
	}
	if next.Version <= 0 {
		next.Version = 1
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now.UTC()
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = next.CreatedAt
	}
	next.Recalculate()
	return next, nil
}
