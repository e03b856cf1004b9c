package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
	"github.com/vladislavdragonenkov/ordereditor/internal/health"
	"github.com/vladislavdragonenkov/ordereditor/internal/session"
	"github.com/vladislavdragonenkov/ordereditor/internal/storage/memory"
)

type testAPI struct {
	store    memory.OrderStore
	registry *Registry
	router   http.Handler
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func newTestAPI(t *testing.T, origins ...string) *testAPI {
	t.Helper()

	store := memory.NewOrderStore()
	_, err := store.Create(context.Background(), domain.Order{
		ID:         "order-1",
		Version:    5,
		ClientName: "Awa",
		Type:       domain.OrderTypeOnSite,
		Items: []domain.LineItem{
			{ID: "item-1", ProductID: "prod-burger", Name: "Burger", Qty: 1, PriceMinor: 1000},
		},
	})
	require.NoError(t, err)

	logger := quietLogger()
	timeline := memory.NewTimelineRepository()
	registry := NewRegistry(WithRegistryLogger(logger))
	factory := func() *session.Session {
		return session.New(store, session.WithLogger(logger), session.WithTimeline(timeline))
	}
	handler := NewHandler(registry, factory, store, timeline, logger)

	return &testAPI{
		store:    store,
		registry: registry,
		router:   NewRouter(handler, health.NewHandler("test"), origins),
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch typed := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(typed)
	default:
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) open(t *testing.T) sessionView {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"order_id": "order-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[sessionView](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func sessionPath(sid, suffix string) string {
	return "/api/v1/sessions/" + sid + suffix
}

func TestOpenSession(t *testing.T) {
	api := newTestAPI(t)

	view := api.open(t)
	require.NotEmpty(t, view.SessionID)
	require.Equal(t, "order-1", view.OrderID)
	require.EqualValues(t, 5, view.OriginalVersion)
	require.False(t, view.Dirty)
	require.Equal(t, session.SaveStateIdle, view.State)
	require.Equal(t, 1, api.registry.Len())

	rec := api.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"order_id": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, session.OutcomeNotFound, decode[resultResponse](t, rec).Outcome)

	rec = api.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"order_id": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, 1, api.registry.Len(), "failed loads must not register sessions")
}

func TestEditAndSave(t *testing.T) {
	api := newTestAPI(t)
	sid := api.open(t).SessionID

	rec := api.do(t, http.MethodPost, sessionPath(sid, "/items"), map[string]any{
		"product": map[string]any{"id": "prod-burger", "name": "Burger", "price_minor": 1000},
		"qty":     2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	mutation := decode[mutationResponse](t, rec)
	require.True(t, mutation.Applied)
	require.Len(t, mutation.Session.Working.Items, 1)
	require.EqualValues(t, 3, mutation.Session.Working.Items[0].Qty)
	require.EqualValues(t, 3000, mutation.Session.Working.TotalMinor)
	require.Equal(t, []string{domain.FieldItems, domain.FieldTotal}, mutation.Session.DirtyFields)

	rec = api.do(t, http.MethodGet, sessionPath(sid, "/changes"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	changes := decode[changesResponse](t, rec)
	require.Contains(t, changes.Changes, domain.FieldItems)

	rec = api.do(t, http.MethodGet, sessionPath(sid, "/changes?format=patch"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "/items/0/qty")

	rec = api.do(t, http.MethodPost, sessionPath(sid, "/save"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[resultResponse](t, rec)
	require.Equal(t, session.OutcomeSaved, saved.Outcome)
	require.NotNil(t, saved.Session)
	require.EqualValues(t, 6, saved.Session.OriginalVersion)
	require.False(t, saved.Session.Dirty)
	require.Zero(t, saved.Session.HistoryLen)

	rec = api.do(t, http.MethodPost, sessionPath(sid, "/save"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, session.OutcomeNoop, decode[resultResponse](t, rec).Outcome)

	rec = api.do(t, http.MethodGet, "/api/v1/orders/order-1/timeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]timelineEventView](t, rec)
	require.Len(t, events, 1)
	require.Equal(t, string(domain.OrderEventSaved), events[0].Type)
	require.EqualValues(t, 6, events[0].Version)
	require.NotEmpty(t, events[0].Changes)
}

func TestConcurrentSessions_ConflictAndRebase(t *testing.T) {
	api := newTestAPI(t)
	a := api.open(t).SessionID
	b := api.open(t).SessionID

	rec := api.do(t, http.MethodPatch, sessionPath(a, "/fields"), map[string]any{"notes": "no onions"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = api.do(t, http.MethodPost, sessionPath(a, "/save"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPatch, sessionPath(b, "/fields"), map[string]any{"client_name": "Bintou"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = api.do(t, http.MethodPost, sessionPath(b, "/save"), nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	conflict := decode[resultResponse](t, rec)
	require.Equal(t, session.OutcomeConflict, conflict.Outcome)
	require.NotNil(t, conflict.Session)
	require.True(t, conflict.Session.Dirty)
	require.Equal(t, "Bintou", conflict.Session.Working.ClientName)
	require.Equal(t, session.SaveStateConflict, conflict.Session.State)

	rec = api.do(t, http.MethodPost, sessionPath(b, "/rebase"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rebased := decode[resultResponse](t, rec)
	require.Equal(t, "Bintou", rebased.Session.Working.ClientName)
	require.Equal(t, "no onions", rebased.Session.Working.Notes)
	require.EqualValues(t, 6, rebased.Session.OriginalVersion)

	rec = api.do(t, http.MethodPost, sessionPath(b, "/save"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := api.store.Get(context.Background(), "order-1")
	require.NoError(t, err)
	require.EqualValues(t, 7, stored.Version)
	require.Equal(t, "Bintou", stored.ClientName)
	require.Equal(t, "no onions", stored.Notes)
}

func TestUpdateFields_Errors(t *testing.T) {
	api := newTestAPI(t)
	sid := api.open(t).SessionID

	rec := api.do(t, http.MethodPatch, sessionPath(sid, "/fields"), map[string]any{"colour": "red"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPatch, sessionPath(sid, "/fields"), map[string]any{"version": 9})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPatch, sessionPath(sid, "/fields"), `{"discount_minor": "a lot"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, decode[errorResponse](t, rec).FieldErrors, domain.FieldDiscount)

	rec = api.do(t, http.MethodPatch, sessionPath(sid, "/fields"), `{"delivery_fee_minor": 300}`)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[sessionView](t, rec)
	require.EqualValues(t, 1300, view.Working.TotalMinor)
	require.Contains(t, view.FieldErrors, domain.FieldDiscount, "error stays until the field is edited")

	rec = api.do(t, http.MethodPatch, sessionPath(sid, "/fields"), `{"discount_minor": 100}`)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[sessionView](t, rec)
	require.EqualValues(t, 1200, view.Working.TotalMinor)
	require.Empty(t, view.FieldErrors)

	rec = api.do(t, http.MethodPatch, sessionPath(sid, "/fields"), `{"notes":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSave_LocalValidationFailure(t *testing.T) {
	api := newTestAPI(t)
	sid := api.open(t).SessionID

	rec := api.do(t, http.MethodPatch, sessionPath(sid, "/fields"), map[string]any{"order_type": "delivery"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, sessionPath(sid, "/save"), nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	failed := decode[resultResponse](t, rec)
	require.Equal(t, session.OutcomeFailed, failed.Outcome)
	require.Contains(t, failed.FieldErrors, domain.FieldDeliveryAddress)

	rec = api.do(t, http.MethodPut, sessionPath(sid, "/delivery-address"), map[string]any{
		"id": "addr-12", "street": "Rue 12", "city": "Abidjan",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Rue 12, Abidjan", decode[mutationResponse](t, rec).Session.Working.DeliveryAddress)

	rec = api.do(t, http.MethodPost, sessionPath(sid, "/save"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPut, sessionPath(sid, "/delivery-address"), "null")
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := decode[mutationResponse](t, rec).Session.Working
	require.Empty(t, cleared.DeliveryAddress)
	require.Empty(t, cleared.DeliveryAddressID)
}

func TestItemsPaymentAndHistory(t *testing.T) {
	api := newTestAPI(t)
	sid := api.open(t).SessionID

	rec := api.do(t, http.MethodPost, sessionPath(sid, "/items"), map[string]any{
		"product": map[string]any{"id": "prod-fries", "name": "Fries", "price_minor": 250},
		"qty":     2,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[mutationResponse](t, rec).Session.Working.Items, 2)

	rec = api.do(t, http.MethodPost, sessionPath(sid, "/items"), map[string]any{"qty": 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPut, sessionPath(sid, "/items/1/quantity"), map[string]any{"qty": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[mutationResponse](t, rec).Session.Working.Items, 1)

	rec = api.do(t, http.MethodDelete, sessionPath(sid, "/items/5"), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPatch, sessionPath(sid, "/payment"), map[string]any{"cash_minor": 500})
	require.Equal(t, http.StatusOK, rec.Code)
	paid := decode[mutationResponse](t, rec)
	require.True(t, paid.Applied)
	require.EqualValues(t, 500, paid.Session.Working.Payment.CashMinor)

	rec = api.do(t, http.MethodPost, sessionPath(sid, "/undo"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	undone := decode[mutationResponse](t, rec)
	require.True(t, undone.Applied)
	require.Zero(t, undone.Session.Working.Payment.CashMinor)
	require.True(t, undone.Session.CanRedo)

	rec = api.do(t, http.MethodPost, sessionPath(sid, "/redo"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 500, decode[mutationResponse](t, rec).Session.Working.Payment.CashMinor)

	rec = api.do(t, http.MethodPost, sessionPath(sid, "/reset"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[sessionView](t, rec)
	require.False(t, reset.Dirty)
	require.Empty(t, reset.DirtyFields)
	require.False(t, reset.CanUndo)
}

func TestFinalize(t *testing.T) {
	api := newTestAPI(t)
	sid := api.open(t).SessionID

	rec := api.do(t, http.MethodPost, sessionPath(sid, "/finalize"), map[string]string{"transition": "cancel"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[resultResponse](t, rec)
	require.Equal(t, session.OutcomeFinalized, res.Outcome)
	require.Equal(t, domain.OrderStatusCanceled, res.Session.Working.Status)

	rec = api.do(t, http.MethodPost, sessionPath(sid, "/finalize"), map[string]string{"transition": "process"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, session.OutcomeRejected, decode[resultResponse](t, rec).Outcome)

	rec = api.do(t, http.MethodGet, "/api/v1/orders/order-1/timeline", nil)
	events := decode[[]timelineEventView](t, rec)
	require.Len(t, events, 1)
	require.Equal(t, "cancel", events[0].Reason)
}

func TestSessionBusyAndClose(t *testing.T) {
	api := newTestAPI(t)
	sid := api.open(t).SessionID

	_, release, err := api.registry.Acquire(sid)
	require.NoError(t, err)

	rec := api.do(t, http.MethodGet, sessionPath(sid, ""), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = api.do(t, http.MethodDelete, sessionPath(sid, ""), nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	release()

	rec = api.do(t, http.MethodGet, sessionPath(sid, ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodDelete, sessionPath(sid, ""), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, sessionPath(sid, ""), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Zero(t, api.registry.Len())
}

func TestRouter_ProbesAndCORS(t *testing.T) {
	api := newTestAPI(t, "http://localhost:3000")

	for _, path := range []string{"/livez", "/readyz", "/healthz", "/metrics"} {
		rec := api.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions/abc/fields", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestResultStatus(t *testing.T) {
	tests := []struct {
		name string
		res  session.Result
		want int
	}{
		{name: "saved", res: session.Result{Outcome: session.OutcomeSaved}, want: http.StatusOK},
		{name: "noop", res: session.Result{Outcome: session.OutcomeNoop}, want: http.StatusOK},
		{name: "conflict", res: session.Result{Outcome: session.OutcomeConflict}, want: http.StatusConflict},
		{name: "busy", res: session.Result{Outcome: session.OutcomeRejected, Err: session.ErrSaveInProgress}, want: http.StatusConflict},
		{name: "bad transition", res: session.Result{Outcome: session.OutcomeRejected, Err: domain.ErrInvalidTransition}, want: http.StatusUnprocessableEntity},
		{
			name: "validation",
			res:  session.Result{Outcome: session.OutcomeFailed, Err: domain.ValidationErrors{{Field: "notes", Message: "x"}}},
			want: http.StatusUnprocessableEntity,
		},
		{name: "transport", res: session.Result{Outcome: session.OutcomeFailed, Err: context.DeadlineExceeded}, want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, resultStatus(tt.res))
		})
	}
}

func TestListOrdersAndFields(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	orders := decode[[]orderSummaryView](t, rec)
	require.Len(t, orders, 1)
	require.Equal(t, "order-1", orders[0].ID)
	require.EqualValues(t, 5, orders[0].Version)
	require.EqualValues(t, 1000, orders[0].TotalMinor)

	rec = api.do(t, http.MethodGet, "/api/v1/fields", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fields := decode[fieldsResponse](t, rec)
	require.Contains(t, fields.Writable, domain.FieldNotes)
	require.NotContains(t, fields.Writable, domain.FieldVersion)
	require.Contains(t, fields.Fields, domain.FieldVersion)
}

func TestListOrders_WithoutLister(t *testing.T) {
	handler := NewHandler(NewRegistry(WithRegistryLogger(quietLogger())), nil, nil, nil, quietLogger())
	router := NewRouter(handler, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
