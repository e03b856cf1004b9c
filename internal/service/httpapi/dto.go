package httpapi

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
	"github.com/vladislavdragonenkov/ordereditor/internal/session"
)

type sessionView struct {
	SessionID       string            `json:"session_id"`
	OrderID         string            `json:"order_id"`
	OriginalVersion int64             `json:"original_version"`
	Working         domain.Order      `json:"working"`
	Dirty           bool              `json:"dirty"`
	DirtyFields     []string          `json:"dirty_fields"`
	CanUndo         bool              `json:"can_undo"`
	CanRedo         bool              `json:"can_redo"`
	HistoryLen      int               `json:"history_len"`
	State           session.SaveState `json:"state"`
	FieldErrors     map[string]string `json:"field_errors,omitempty"`
	Error           string            `json:"error,omitempty"`
}

func newSessionView(s *session.Session) sessionView {
	view := sessionView{
		SessionID:       s.ID(),
		OrderID:         s.OrderID(),
		OriginalVersion: s.Original().Version,
		Working:         s.Working(),
		Dirty:           s.IsDirty(),
		DirtyFields:     s.ChangedFields(),
		CanUndo:         s.CanUndo(),
		CanRedo:         s.CanRedo(),
		HistoryLen:      s.HistoryLen(),
		State:           s.State(),
	}
	if errs := s.FieldErrors(); len(errs) > 0 {
		view.FieldErrors = errs
	}
	if err := s.LastError(); err != nil {
		view.Error = err.Error()
	}
	return view
}

type mutationResponse struct {
	Applied bool        `json:"applied"`
	Session sessionView `json:"session"`
}

type resultResponse struct {
	Outcome     session.Outcome   `json:"outcome"`
	Error       string            `json:"error,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	Session     *sessionView      `json:"session,omitempty"`
}

type errorResponse struct {
	Error       string            `json:"error"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

type timelineEventView struct {
	ID       string          `json:"id"`
	OrderID  string          `json:"order_id"`
	Type     string          `json:"type"`
	Version  int64           `json:"version"`
	Reason   string          `json:"reason,omitempty"`
	Changes  json.RawMessage `json:"changes,omitempty"`
	Occurred time.Time       `json:"occurred_at"`
}

func newTimelineEventView(event domain.TimelineEvent) timelineEventView {
	view := timelineEventView{
		ID:       event.ID,
		OrderID:  event.OrderID,
		Type:     event.Type,
		Version:  event.Version,
		Reason:   event.Reason,
		Occurred: event.Occurred,
	}
	if json.Valid(event.Changes) {
		view.Changes = json.RawMessage(event.Changes)
	}
	return view
}

type orderSummaryView struct {
	ID         string             `json:"id"`
	Version    int64              `json:"version"`
	ClientName string             `json:"client_name"`
	Type       domain.OrderType   `json:"order_type"`
	Status     domain.OrderStatus `json:"status"`
	TotalMinor int64              `json:"total_minor"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func newOrderSummaryView(order domain.Order) orderSummaryView {
	return orderSummaryView{
		ID:         order.ID,
		Version:    order.Version,
		ClientName: order.ClientName,
		Type:       order.Type,
		Status:     order.Status,
		TotalMinor: order.TotalMinor,
		UpdatedAt:  order.UpdatedAt,
	}
}

type fieldsResponse struct {
	Fields   []string `json:"fields"`
	Writable []string `json:"writable"`
}
