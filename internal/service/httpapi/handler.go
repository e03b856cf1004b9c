// Package httpapi отдает сессии редактирования заказов по HTTP.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
	"github.com/vladislavdragonenkov/ordereditor/internal/session"
)

const maxBodyBytes = 1 << 20

// SessionFactory создает новую незагруженную сессию.
type SessionFactory func() *session.Session

// Handler обслуживает /api/v1.
type Handler struct {
	registry   *Registry
	newSession SessionFactory
	orders     domain.OrderLister
	timeline   domain.TimelineRepository
	logger     *log.Entry
}

// NewHandler создает обработчик API. orders и timeline могут быть nil.
func NewHandler(registry *Registry, factory SessionFactory, orders domain.OrderLister, timeline domain.TimelineRepository, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{
		registry:   registry,
		newSession: factory,
		orders:     orders,
		timeline:   timeline,
		logger:     logger,
	}
}

// Register подключает маршруты к router.
func (h *Handler) Register(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/sessions", h.openSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sid}", h.withSession(h.getSession)).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{sid}", h.closeSession).Methods(http.MethodDelete)

	api.HandleFunc("/sessions/{sid}/fields", h.withSession(h.updateFields)).Methods(http.MethodPatch)
	api.HandleFunc("/sessions/{sid}/items", h.withSession(h.addItem)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sid}/items/{index:[0-9]+}", h.withSession(h.removeItem)).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{sid}/items/{index:[0-9]+}/quantity", h.withSession(h.updateItemQuantity)).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{sid}/delivery-address", h.withSession(h.setDeliveryAddress)).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{sid}/payment", h.withSession(h.mergePayment)).Methods(http.MethodPatch)
	api.HandleFunc("/sessions/{sid}/undo", h.withSession(h.undo)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sid}/redo", h.withSession(h.redo)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sid}/changes", h.withSession(h.changes)).Methods(http.MethodGet)

	api.HandleFunc("/sessions/{sid}/save", h.withSession(h.save)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sid}/reset", h.withSession(h.reset)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sid}/reload", h.withSession(h.reload)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sid}/rebase", h.withSession(h.rebase)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sid}/finalize", h.withSession(h.finalize)).Methods(http.MethodPost)

	api.HandleFunc("/orders", h.listOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/timeline", h.orderTimeline).Methods(http.MethodGet)
	api.HandleFunc("/fields", h.fields).Methods(http.MethodGet)
}

type sessionHandlerFunc func(w http.ResponseWriter, r *http.Request, s *session.Session)

// withSession захватывает сессию на время запроса; параллельный запрос получает 409.
func (h *Handler) withSession(next sessionHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := mux.Vars(r)["sid"]
		s, release, err := h.registry.Acquire(sid)
		if err != nil {
			h.writeRegistryError(w, err)
			return
		}
		defer release()

		next(w, r, s)
	}
}

type openSessionRequest struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s := h.newSession()
	res := s.Load(r.Context(), req.OrderID)
	if !res.Success() {
		h.writeResult(w, s, res)
		return
	}

	h.registry.Add(s)
	h.logger.WithFields(log.Fields{
		"session_id": s.ID(),
		"order_id":   s.OrderID(),
	}).Info("edit session opened")
	writeJSON(w, http.StatusCreated, newSessionView(s))
}

func (h *Handler) getSession(w http.ResponseWriter, _ *http.Request, s *session.Session) {
	writeJSON(w, http.StatusOK, newSessionView(s))
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Close(mux.Vars(r)["sid"]); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateFields(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var values map[string]any
	if err := decodeJSON(r, &values); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.UpdateFields(values); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownField), errors.Is(err, domain.ErrFieldReadOnly):
			writeError(w, http.StatusBadRequest, err)
		case len(domain.FieldErrors(err)) > 0:
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error:       err.Error(),
				FieldErrors: s.FieldErrors(),
			})
		default:
			writeError(w, http.StatusConflict, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(s))
}

type addItemRequest struct {
	Product domain.Product `json:"product"`
	Qty     int32          `json:"qty"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Product.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("product id is required"))
		return
	}

	writeMutation(w, s, s.AddLineItem(req.Product, req.Qty))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request, s *session.Session) {
	index, ok := itemIndex(w, r, s)
	if !ok {
		return
	}
	writeMutation(w, s, s.RemoveLineItem(index))
}

type quantityRequest struct {
	Qty int32 `json:"qty"`
}

func (h *Handler) updateItemQuantity(w http.ResponseWriter, r *http.Request, s *session.Session) {
	index, ok := itemIndex(w, r, s)
	if !ok {
		return
	}
	var req quantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeMutation(w, s, s.UpdateLineItemQuantity(index, req.Qty))
}

func (h *Handler) setDeliveryAddress(w http.ResponseWriter, r *http.Request, s *session.Session) {
	// null в теле очищает адрес.
	var addr *domain.Address
	if err := decodeJSON(r, &addr); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeMutation(w, s, s.SetDeliveryAddress(addr))
}

func (h *Handler) mergePayment(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var patch domain.PaymentPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeMutation(w, s, s.MergePaymentDetails(patch))
}

func (h *Handler) undo(w http.ResponseWriter, _ *http.Request, s *session.Session) {
	writeMutation(w, s, s.Undo())
}

func (h *Handler) redo(w http.ResponseWriter, _ *http.Request, s *session.Session) {
	writeMutation(w, s, s.Redo())
}

type changesResponse struct {
	Fields  []string                  `json:"fields"`
	Changes map[string]session.Change `json:"changes"`
}

func (h *Handler) changes(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if r.URL.Query().Get("format") == "patch" {
		patch, err := s.Patch()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if patch == nil {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		writeJSON(w, http.StatusOK, patch)
		return
	}

	writeJSON(w, http.StatusOK, changesResponse{
		Fields:  s.ChangedFields(),
		Changes: s.Changes(),
	})
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, s *session.Session) {
	h.writeResult(w, s, s.Save(r.Context()))
}

func (h *Handler) reset(w http.ResponseWriter, _ *http.Request, s *session.Session) {
	s.Reset()
	writeJSON(w, http.StatusOK, newSessionView(s))
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request, s *session.Session) {
	h.writeResult(w, s, s.Reload(r.Context()))
}

func (h *Handler) rebase(w http.ResponseWriter, r *http.Request, s *session.Session) {
	h.writeResult(w, s, s.Rebase(r.Context()))
}

type finalizeRequest struct {
	Transition domain.StatusTransition `json:"transition"`
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req finalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeResult(w, s, s.Finalize(r.Context(), req.Transition))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeError(w, http.StatusNotImplemented, errors.New("order listing is not supported by the store"))
		return
	}

	orders, err := h.orders.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Warn("failed to list orders")
		writeError(w, http.StatusBadGateway, err)
		return
	}

	out := make([]orderSummaryView, 0, len(orders))
	for _, order := range orders {
		out = append(out, newOrderSummaryView(order))
	}
	writeJSON(w, http.StatusOK, out)
}

// fields описывает схему полей для клиентских форм.
func (h *Handler) fields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, fieldsResponse{
		Fields:   domain.Fields(),
		Writable: domain.WritableFields(),
	})
}

func (h *Handler) orderTimeline(w http.ResponseWriter, r *http.Request) {
	if h.timeline == nil {
		writeJSON(w, http.StatusOK, []timelineEventView{})
		return
	}

	events, err := h.timeline.List(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.logger.WithError(err).Warn("failed to list timeline")
		writeError(w, http.StatusBadGateway, err)
		return
	}

	out := make([]timelineEventView, 0, len(events))
	for _, event := range events {
		out = append(out, newTimelineEventView(event))
	}
	writeJSON(w, http.StatusOK, out)
}

// writeResult переводит исход операции сессии в HTTP-статус.
func (h *Handler) writeResult(w http.ResponseWriter, s *session.Session, res session.Result) {
	resp := resultResponse{Outcome: res.Outcome}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	if s.Loaded() {
		view := newSessionView(s)
		resp.Session = &view
		resp.FieldErrors = view.FieldErrors
	}

	status := resultStatus(res)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(res.Err).WithField("outcome", res.Outcome).Warn("session operation failed")
	}
	writeJSON(w, status, resp)
}

func resultStatus(res session.Result) int {
	switch res.Outcome {
	case session.OutcomeNoop, session.OutcomeLoaded, session.OutcomeSaved, session.OutcomeFinalized:
		return http.StatusOK
	case session.OutcomeConflict:
		return http.StatusConflict
	case session.OutcomeNotFound:
		return http.StatusNotFound
	case session.OutcomeRejected:
		if errors.Is(res.Err, session.ErrSaveInProgress) || errors.Is(res.Err, session.ErrNotLoaded) {
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	}

	switch {
	case errors.Is(res.Err, domain.ErrOrderIDRequired):
		return http.StatusBadRequest
	case len(domain.FieldErrors(res.Err)) > 0,
		errors.Is(res.Err, domain.ErrOrderFinalized),
		errors.Is(res.Err, domain.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func (h *Handler) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrSessionBusy):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func itemIndex(w http.ResponseWriter, r *http.Request, s *session.Session) (int, bool) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid item index: %w", err))
		return 0, false
	}
	if index >= len(s.Working().Items) {
		writeError(w, http.StatusNotFound, fmt.Errorf("item %d not found", index))
		return 0, false
	}
	return index, true
}

// decodeJSON читает тело запроса; числа остаются json.Number для точного приведения сумм.
func decodeJSON(r *http.Request, dst any) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(nil, r.Body, maxBodyBytes)); err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if buf.Len() == 0 {
		return errors.New("request body is required")
	}

	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeMutation(w http.ResponseWriter, s *session.Session, applied bool) {
	writeJSON(w, http.StatusOK, mutationResponse{Applied: applied, Session: newSessionView(s)})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
