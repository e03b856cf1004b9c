package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
)

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewTimelineRepository(store)
	ctx := context.Background()

	base := time.Now().UTC().Round(time.Microsecond)
	if err := repo.Append(ctx, domain.TimelineEvent{
		OrderID:  "order-1",
		Type:     string(domain.OrderEventFinalized),
		Version:  3,
		Reason:   "process",
		Occurred: base.Add(time.Second),
	}); err != nil {
		t.Fatalf("append finalized: %v", err)
	}
	if err := repo.Append(ctx, domain.TimelineEvent{
		OrderID:  "order-1",
		Type:     string(domain.OrderEventSaved),
		Version:  2,
		Changes:  []byte(`[{"op":"replace","path":"/notes","value":"x"}]`),
		Occurred: base,
	}); err != nil {
		t.Fatalf("append saved: %v", err)
	}

	events, err := repo.List(ctx, "order-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != string(domain.OrderEventSaved) || events[1].Reason != "process" {
		t.Fatalf("unexpected order of events: %+v", events)
	}
	if events[0].ID == "" || len(events[0].Changes) == 0 {
		t.Fatalf("expected generated id and stored changes, got %+v", events[0])
	}
	if events[1].Changes != nil {
		t.Fatalf("expected nil changes for finalize event, got %s", events[1].Changes)
	}
}
