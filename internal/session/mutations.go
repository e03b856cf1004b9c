package session

import (
	"math"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
)

// Виды мутаций для метрик и логов.
const (
	mutationField          = "field"
	mutationFields         = "fields"
	mutationAddItem        = "add_item"
	mutationRemoveItem     = "remove_item"
	mutationItemQuantity   = "item_quantity"
	mutationDeliveryAddr   = "delivery_address"
	mutationPaymentDetails = "payment"
)

// mutate выполняет общий протокол мутации: снимок в историю, новая рабочая
// копия, пересчёт итогов, сброс ошибок затронутых полей.
// apply работает с копией; если он вернул false или ошибку, сессия не меняется.
func (s *Session) mutate(kind string, fields []string, apply func(next *domain.Order) (bool, error)) (bool, error) {
	if !s.loaded {
		return false, nil
	}

	next := s.working.Clone()
	changed, err := apply(&next)
	if err != nil || !changed {
		return false, err
	}
	next.Recalculate()

	s.history.Push(s.working)
	s.working = next
	s.dirty = true
	for _, field := range fields {
		delete(s.fieldErrors, field)
	}
	s.metrics.RecordMutation(kind)

	return true, nil
}

// UpdateField заменяет одно записываемое поле верхнего уровня.
func (s *Session) UpdateField(name string, value any) error {
	if !s.loaded {
		return ErrNotLoaded
	}

	_, err := s.mutate(mutationField, []string{name}, func(next *domain.Order) (bool, error) {
		before := next.Clone()
		if err := domain.SetField(next, name, value); err != nil {
			return false, err
		}
		return !domain.FieldEqual(&before, next, name), nil
	})
	if err != nil {
		if errs := domain.FieldErrors(err); len(errs) > 0 {
			s.attachFieldErrors(errs)
		}
		s.logger.WithError(err).WithField("field", name).Debug("field update rejected")
		return err
	}
	return nil
}

// UpdateFields применяет несколько полей одной мутацией: все или ничего.
// Ошибки приведения типов привязываются к полям.
func (s *Session) UpdateFields(values map[string]any) error {
	if !s.loaded {
		return ErrNotLoaded
	}
	if len(values) == 0 {
		return nil
	}

	patch := domain.OrderPatch(values)
	fields := patch.Keys()
	kind := mutationFields
	if len(values) == 1 {
		kind = mutationField
	}

	_, err := s.mutate(kind, fields, func(next *domain.Order) (bool, error) {
		before := next.Clone()
		if err := domain.ApplyPatch(next, patch); err != nil {
			return false, err
		}
		for _, field := range fields {
			if !domain.FieldEqual(&before, next, field) {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		if errs := domain.FieldErrors(err); len(errs) > 0 {
			s.attachFieldErrors(errs)
		}
		s.logger.WithError(err).WithField("fields", fields).Debug("field update rejected")
		return err
	}
	return nil
}

// AddLineItem добавляет товар в заказ. Если товар уже есть, увеличивает количество.
// qty < 1 трактуется как одна единица, сумма ограничена math.MaxInt32.
func (s *Session) AddLineItem(product domain.Product, qty int32) bool {
	if product.ID == "" {
		return false
	}
	if qty < 1 {
		qty = 1
	}

	ok, _ := s.mutate(mutationAddItem, []string{domain.FieldItems}, func(next *domain.Order) (bool, error) {
		if i := next.IndexOfProduct(product.ID); i >= 0 {
			merged := int64(next.Items[i].Qty) + int64(qty)
			if merged > math.MaxInt32 {
				merged = math.MaxInt32
			}
			if int32(merged) == next.Items[i].Qty {
				return false, nil
			}
			next.Items[i].Qty = int32(merged)
			return true, nil
		}
		next.Items = append(next.Items, domain.LineItem{
			ID:         uuid.NewString(),
			ProductID:  product.ID,
			Name:       product.Name,
			Qty:        qty,
			PriceMinor: product.PriceMinor,
		})
		return true, nil
	})
	return ok
}

// RemoveLineItem удаляет позицию по индексу.
func (s *Session) RemoveLineItem(index int) bool {
	ok, _ := s.mutate(mutationRemoveItem, []string{domain.FieldItems}, func(next *domain.Order) (bool, error) {
		if index < 0 || index >= len(next.Items) {
			return false, nil
		}
		next.Items = append(next.Items[:index], next.Items[index+1:]...)
		return true, nil
	})
	return ok
}

// UpdateLineItemQuantity меняет количество позиции; qty <= 0 удаляет её.
func (s *Session) UpdateLineItemQuantity(index int, qty int32) bool {
	if qty <= 0 {
		return s.RemoveLineItem(index)
	}
	ok, _ := s.mutate(mutationItemQuantity, []string{domain.FieldItems}, func(next *domain.Order) (bool, error) {
		if index < 0 || index >= len(next.Items) {
			return false, nil
		}
		if next.Items[index].Qty == qty {
			return false, nil
		}
		next.Items[index].Qty = qty
		return true, nil
	})
	return ok
}

// SetDeliveryAddress записывает строку адреса и ссылку на него; nil очищает оба поля.
func (s *Session) SetDeliveryAddress(addr *domain.Address) bool {
	fields := []string{domain.FieldDeliveryAddress, domain.FieldDeliveryAddressID}
	ok, _ := s.mutate(mutationDeliveryAddr, fields, func(next *domain.Order) (bool, error) {
		display, id := "", ""
		if addr != nil {
			display, id = addr.DisplayString(), addr.ID
		}
		if next.DeliveryAddress == display && next.DeliveryAddressID == id {
			return false, nil
		}
		next.DeliveryAddress = display
		next.DeliveryAddressID = id
		return true, nil
	})
	return ok
}

// MergePaymentDetails частично обновляет детали оплаты.
func (s *Session) MergePaymentDetails(patch domain.PaymentPatch) bool {
	if patch.Empty() {
		return false
	}
	ok, _ := s.mutate(mutationPaymentDetails, []string{domain.FieldPayment}, func(next *domain.Order) (bool, error) {
		merged := patch.Apply(next.Payment)
		if merged == next.Payment {
			return false, nil
		}
		next.Payment = merged
		return true, nil
	})
	return ok
}

// Undo откатывает рабочую копию к предыдущему снимку.
// Сессия остаётся грязной даже если вернулась к исходному состоянию.
func (s *Session) Undo() bool {
	if !s.loaded {
		return false
	}
	prev, ok := s.history.Undo(s.working)
	if !ok {
		return false
	}
	s.working = prev
	s.dirty = true
	s.metrics.RecordUndo()
	s.logger.WithFields(log.Fields{
		"order_id": s.working.ID,
		"cursor":   s.history.Cursor(),
	}).Debug("undo")
	return true
}

// Redo повторяет последнее отменённое действие.
func (s *Session) Redo() bool {
	if !s.loaded {
		return false
	}
	next, ok := s.history.Redo()
	if !ok {
		return false
	}
	s.working = next
	s.dirty = true
	s.metrics.RecordRedo()
	s.logger.WithFields(log.Fields{
		"order_id": s.working.ID,
		"cursor":   s.history.Cursor(),
	}).Debug("redo")
	return true
}
