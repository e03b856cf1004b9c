package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
)

// SaveState: состояние координатора сохранения.
type SaveState string

const (
	SaveStateIdle     SaveState = "idle"
	SaveStateSaving   SaveState = "saving"
	SaveStateSaved    SaveState = "saved"
	SaveStateConflict SaveState = "conflict"
	SaveStateFailed   SaveState = "failed"
)

// Outcome: исход операции сессии, обращающейся к хранилищу.
type Outcome string

const (
	OutcomeNoop      Outcome = "noop"
	OutcomeLoaded    Outcome = "loaded"
	OutcomeSaved     Outcome = "saved"
	OutcomeFinalized Outcome = "finalized"
	OutcomeConflict  Outcome = "conflict"
	OutcomeFailed    Outcome = "failed"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeRejected  Outcome = "rejected"
)

// Result описывает исход Load, Save, Finalize, Reload и Rebase.
type Result struct {
	Outcome Outcome
	// Order: запись сервера после успешной операции.
	Order domain.Order
	Err   error
}

// Success сообщает, что операция завершилась без ошибки.
func (r Result) Success() bool {
	switch r.Outcome {
	case OutcomeNoop, OutcomeLoaded, OutcomeSaved, OutcomeFinalized:
		return true
	}
	return false
}

// ConflictError: запись на сервере изменилась с момента загрузки.
type ConflictError struct {
	OrderID         string
	ExpectedVersion int64
	Err             error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s was modified concurrently (expected version %d)", e.OrderID, e.ExpectedVersion)
}

// Unwrap делает ConflictError совместимым с domain.ErrOrderVersionConflict.
func (e *ConflictError) Unwrap() error {
	if e.Err == nil {
		return domain.ErrOrderVersionConflict
	}
	return e.Err
}

// Save отправляет записываемые поля рабочей копии с версией исходного заказа.
//
// При конфликте версий рабочая копия и история не меняются: пользователь сам
// решает, перезагрузить заказ (Reload) или переприменить правки (Rebase).
func (s *Session) Save(ctx context.Context) Result {
	if !s.loaded {
		return Result{Outcome: OutcomeRejected, Err: ErrNotLoaded}
	}
	if s.state == SaveStateSaving {
		return Result{Outcome: OutcomeRejected, Err: ErrSaveInProgress}
	}
	s.lastErr = nil
	if !s.dirty {
		return Result{Outcome: OutcomeNoop, Order: s.original.Clone()}
	}

	if errs := s.Validate(); len(errs) > 0 {
		s.state = SaveStateFailed
		s.lastErr = errs
		s.metrics.RecordSave(string(OutcomeFailed), 0)
		return Result{Outcome: OutcomeFailed, Err: errs}
	}

	s.state = SaveStateSaving
	started := time.Now()
	expected := s.original.Version
	logger := s.logger.WithFields(log.Fields{
		"order_id":         s.original.ID,
		"expected_version": expected,
	})

	diff, diffErr := diffOrders(s.original, s.working)
	if diffErr != nil {
		logger.WithError(diffErr).Warn("failed to compute order diff")
	}

	saved, err := s.store.Update(ctx, s.original.ID, domain.BuildPatch(s.working), expected)
	if err != nil {
		res := s.storeFailure(ctx, logger, expected, "", err)
		s.metrics.RecordSave(string(res.Outcome), time.Since(started))
		return res
	}

	s.adopt(saved)
	s.state = SaveStateSaved
	s.metrics.RecordSave(string(OutcomeSaved), time.Since(started))
	logger.WithField("version", saved.Version).Info("order saved")

	patch := marshalPatch(logger, diff)
	s.recordTimeline(ctx, saved, string(domain.OrderEventSaved), "", patch)
	s.publish(ctx, domain.OrderEvent{
		Type:    domain.OrderEventSaved,
		OrderID: saved.ID,
		Version: saved.Version,
		Status:  saved.Status,
		Patch:   patch,
	})

	return Result{Outcome: OutcomeSaved, Order: saved.Clone()}
}

// Finalize выполняет переход статуса заказа (выдача, закрытие, отмена).
// Несохранённые правки при успехе отбрасываются: сервер меняет только статус.
func (s *Session) Finalize(ctx context.Context, transition domain.StatusTransition) Result {
	if !s.loaded {
		return Result{Outcome: OutcomeRejected, Err: ErrNotLoaded}
	}
	if s.state == SaveStateSaving {
		return Result{Outcome: OutcomeRejected, Err: ErrSaveInProgress}
	}

	s.lastErr = nil
	logger := s.logger.WithFields(log.Fields{
		"order_id":         s.original.ID,
		"expected_version": s.original.Version,
		"transition":       transition,
	})

	if _, err := domain.NextStatus(s.original.Status, transition); err != nil {
		s.lastErr = err
		s.metrics.RecordFinalize(string(transition), string(OutcomeRejected), 0)
		logger.WithError(err).Info("status transition rejected")
		return Result{Outcome: OutcomeRejected, Err: err}
	}

	s.state = SaveStateSaving
	started := time.Now()
	expected := s.original.Version

	updated, err := s.store.Transition(ctx, s.original.ID, transition, expected)
	if err != nil {
		res := s.storeFailure(ctx, logger, expected, string(transition), err)
		s.metrics.RecordFinalize(string(transition), string(res.Outcome), time.Since(started))
		return res
	}

	if s.dirty {
		logger.WithField("changed_fields", s.ChangedFields()).Warn("discarding unsaved edits on finalize")
	}
	s.adopt(updated)
	s.state = SaveStateSaved
	s.metrics.RecordFinalize(string(transition), string(OutcomeFinalized), time.Since(started))
	logger.WithFields(log.Fields{
		"version": updated.Version,
		"status":  updated.Status,
	}).Info("order finalized")

	s.recordTimeline(ctx, updated, string(domain.OrderEventFinalized), string(transition), nil)
	s.publish(ctx, domain.OrderEvent{
		Type:       domain.OrderEventFinalized,
		OrderID:    updated.ID,
		Version:    updated.Version,
		Status:     updated.Status,
		Transition: string(transition),
	})

	return Result{Outcome: OutcomeFinalized, Order: updated.Clone()}
}

// Reload отбрасывает локальные правки и загружает актуальную запись.
func (s *Session) Reload(ctx context.Context) Result {
	if !s.loaded {
		return Result{Outcome: OutcomeRejected, Err: ErrNotLoaded}
	}
	return s.Load(ctx, s.original.ID)
}

// Rebase загружает актуальную запись и переприменяет поверх неё изменённые поля.
// Поля, которые изменились и локально, и на сервере, берутся из локальной копии.
func (s *Session) Rebase(ctx context.Context) Result {
	if !s.loaded {
		return Result{Outcome: OutcomeRejected, Err: ErrNotLoaded}
	}
	if s.state == SaveStateSaving {
		return Result{Outcome: OutcomeRejected, Err: ErrSaveInProgress}
	}

	pending := make(domain.OrderPatch)
	for _, name := range s.ChangedFields() {
		if !domain.IsWritableField(name) {
			continue
		}
		value, _ := domain.GetField(&s.working, name)
		pending[name] = value
	}

	res := s.Load(ctx, s.original.ID)
	if !res.Success() || len(pending) == 0 {
		return res
	}

	if err := s.UpdateFields(pending); err != nil {
		s.lastErr = err
		s.logger.WithError(err).WithField("order_id", s.original.ID).Warn("failed to reapply edits after reload")
		return Result{Outcome: OutcomeFailed, Order: res.Order, Err: err}
	}
	s.logger.WithFields(log.Fields{
		"order_id": s.original.ID,
		"version":  s.original.Version,
		"fields":   pending.Keys(),
	}).Info("local edits rebased onto server record")

	return res
}

// storeFailure разбирает ошибку хранилища. Рабочая копия не трогается.
func (s *Session) storeFailure(ctx context.Context, logger *log.Entry, expected int64, transition string, err error) Result {
	if domain.IsVersionConflict(err) {
		conflict := &ConflictError{OrderID: s.original.ID, ExpectedVersion: expected, Err: err}
		s.state = SaveStateConflict
		s.lastErr = conflict
		logger.WithError(err).Warn("order version conflict")
		s.publish(ctx, domain.OrderEvent{
			Type:       domain.OrderEventConflict,
			OrderID:    s.original.ID,
			Version:    expected,
			Status:     s.original.Status,
			Transition: transition,
		})
		return Result{Outcome: OutcomeConflict, Err: conflict}
	}

	s.state = SaveStateFailed
	s.lastErr = err
	if errs := domain.FieldErrors(err); len(errs) > 0 {
		s.attachFieldErrors(errs)
		logger.WithError(err).Info("order rejected by store validation")
	} else if domain.IsNotFound(err) {
		logger.WithError(err).Warn("order disappeared from store")
		return Result{Outcome: OutcomeNotFound, Err: err}
	} else {
		logger.WithError(err).Error("failed to write order")
	}
	return Result{Outcome: OutcomeFailed, Err: err}
}

func (s *Session) recordTimeline(ctx context.Context, order domain.Order, eventType, reason string, changes []byte) {
	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		ID:       uuid.NewString(),
		OrderID:  order.ID,
		Type:     eventType,
		Version:  order.Version,
		Reason:   reason,
		Changes:  changes,
		Occurred: s.now(),
	}
	if err := s.timeline.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to append timeline event")
	}
}

func (s *Session) publish(ctx context.Context, event domain.OrderEvent) {
	if s.publisher == nil {
		return
	}
	event.OccurredAt = s.now()
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":   event.OrderID,
			"event_type": event.Type,
		}).Warn("failed to publish order event")
	}
}

func marshalPatch(logger *log.Entry, patch jsondiff.Patch) []byte {
	if len(patch) == 0 {
		return nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		logger.WithError(err).Warn("failed to encode order diff")
		return nil
	}
	return raw
}

// IsConflict сообщает, что результат или ошибка означают конфликт версий.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict) || domain.IsVersionConflict(err)
}
