package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAlreadyExists: заказ с таким ID уже создан.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderFinalized: заказ в финальном статусе и не принимает изменений.
	ErrOrderFinalized = errors.New("order is finalized")
	// ErrInvalidTransition: неизвестный или недопустимый переход статуса.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrOrderIDRequired: пустой идентификатор заказа.
	ErrOrderIDRequired = errors.New("order id is required")
	// ErrUnknownField: поле не описано в схеме заказа.
	ErrUnknownField = errors.New("unknown order field")
	// ErrFieldReadOnly: поле ведёт сервер, клиент не может его менять.
	ErrFieldReadOnly = errors.New("order field is read-only")
	// ErrValidation: общий маркер ошибок валидации.
	ErrValidation = errors.New("validation failed")
)

// ValidationError: ошибка валидации, привязанная к конкретному полю.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ValidationErrors: набор ошибок валидации по нескольким полям.
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

// Unwrap раскрывает отдельные ошибки для errors.Is/As.
func (errs ValidationErrors) Unwrap() []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		out = append(out, err)
	}
	return out
}

// ByField группирует сообщения по первому нарушению на поле.
func (errs ValidationErrors) ByField() map[string]string {
	out := make(map[string]string, len(errs))
	for _, err := range errs {
		if _, exists := out[err.Field]; exists {
			continue
		}
		out[err.Field] = err.Message
	}
	return out
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет, что заказ отсутствует.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// FieldErrors извлекает ошибки валидации из err, если они там есть.
func FieldErrors(err error) ValidationErrors {
	var many ValidationErrors
	if errors.As(err, &many) {
		return many
	}
	var one *ValidationError
	if errors.As(err, &one) {
		return ValidationErrors{one}
	}
	return nil
}
