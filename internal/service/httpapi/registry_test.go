package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
	"github.com/vladislavdragonenkov/ordereditor/internal/metrics"
	"github.com/vladislavdragonenkov/ordereditor/internal/session"
	"github.com/vladislavdragonenkov/ordereditor/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func loadedSession(t *testing.T) *session.Session {
	t.Helper()

	store := memory.NewOrderStore()
	_, err := store.Create(context.Background(), domain.Order{
		ID:         "order-1",
		ClientName: "Awa",
		Type:       domain.OrderTypeTakeaway,
		Items:      []domain.LineItem{{ID: "i1", ProductID: "p1", Qty: 1, PriceMinor: 100}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	s := session.New(store, session.WithLogger(quietLogger()))
	if res := s.Load(context.Background(), "order-1"); res.Outcome != session.OutcomeLoaded {
		t.Fatalf("load: %v", res.Err)
	}
	return s
}

func TestRegistry_AcquireIsExclusive(t *testing.T) {
	registry := NewRegistry(WithRegistryLogger(quietLogger()))
	s := loadedSession(t)
	registry.Add(s)

	got, release, err := registry.Acquire(s.ID())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got != s {
		t.Fatal("registry returned a different session")
	}

	if _, _, err := registry.Acquire(s.ID()); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}

	release()

	_, release, err = registry.Acquire(s.ID())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release()

	if _, _, err := registry.Acquire("unknown"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistry_SweepEvictsIdleSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := prometheus.NewRegistry()
	registry := NewRegistry(
		WithRegistryLogger(quietLogger()),
		WithRegistryMetrics(metrics.NewSessionMetricsWithRegisterer(reg)),
		WithIdleTTL(10*time.Minute),
		WithRegistryClock(clock.Now),
	)

	idle := loadedSession(t)
	busy := loadedSession(t)
	fresh := loadedSession(t)
	registry.Add(idle)
	registry.Add(busy)

	clock.now = clock.now.Add(9 * time.Minute)
	registry.Add(fresh)

	_, release, err := registry.Acquire(busy.ID())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	clock.now = clock.now.Add(2 * time.Minute)
	if evicted := registry.Sweep(); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if idle.Loaded() {
		t.Fatal("evicted session must be cleared")
	}
	if registry.Len() != 2 {
		t.Fatalf("expected 2 sessions left, got %d", registry.Len())
	}

	// release обновляет lastUsed, поэтому занятая сессия снова свежая.
	release()
	if evicted := registry.Sweep(); evicted != 0 {
		t.Fatalf("expected no evictions right after use, got %d", evicted)
	}

	clock.now = clock.now.Add(time.Hour)
	if evicted := registry.Sweep(); evicted != 2 {
		t.Fatalf("expected 2 evictions, got %d", evicted)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
}

func TestRegistry_Close(t *testing.T) {
	registry := NewRegistry(WithRegistryLogger(quietLogger()))
	s := loadedSession(t)
	registry.Add(s)

	if err := registry.Close(s.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.Loaded() {
		t.Fatal("closed session must be cleared")
	}
	if err := registry.Close(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second close, got %v", err)
	}
}

func TestRegistry_RunStopsOnCancel(t *testing.T) {
	registry := NewRegistry(
		WithRegistryLogger(quietLogger()),
		WithSweepInterval(time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		registry.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry.Run did not stop after cancel")
	}
}
