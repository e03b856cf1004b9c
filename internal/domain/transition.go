package domain

import "fmt"

// StatusTransition: завершающее действие над заказом, минуя редактирование полей.
type StatusTransition string

const (
	// TransitionDeliver отмечает заказ выданным клиенту.
	TransitionDeliver StatusTransition = "deliver"
	// TransitionProcess полностью закрывает заказ.
	TransitionProcess StatusTransition = "process"
	// TransitionCancel отменяет заказ.
	TransitionCancel StatusTransition = "cancel"
)

// Target возвращает статус, в который ведёт переход.
func (t StatusTransition) Target() (OrderStatus, error) {
	switch t {
	case TransitionDeliver:
		return OrderStatusDelivered, nil
	case TransitionProcess:
		return OrderStatusProcessed, nil
	case TransitionCancel:
		return OrderStatusCanceled, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransition, string(t))
}

// NextStatus проверяет переход из текущего статуса и возвращает новый.
func NextStatus(current OrderStatus, t StatusTransition) (OrderStatus, error) {
	target, err := t.Target()
	if err != nil {
		return "", err
	}
	if current.IsFinal() {
		return "", fmt.Errorf("%w: status %s", ErrOrderFinalized, current)
	}
	if current == OrderStatusDelivered && t == TransitionDeliver {
		return "", fmt.Errorf("%w: order already delivered", ErrInvalidTransition)
	}
	return target, nil
}
