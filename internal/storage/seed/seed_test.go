package seed

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
	"github.com/vladislavdragonenkov/ordereditor/internal/storage/memory"
)

const fixtures = `
orders:
  - id: order-1
    client_name: Awa
    order_type: on_site
    items:
      - product_id: burger
        name: Burger
        qty: 2
        price_minor: 1000
  - id: order-2
    client_name: Moussa
    order_type: delivery
    delivery_address: Rue 12
    delivery_address_id: addr-12
    delivery_fee_minor: 500
    scheduled_at: 2026-03-01T19:30:00Z
    items:
      - id: fixed-id
        product_id: fish
        qty: 1
        price_minor: 1500
`

func TestLoad(t *testing.T) {
	orders, err := Load(strings.NewReader(fixtures))
	require.NoError(t, err)
	require.Len(t, orders, 2)

	require.Equal(t, domain.OrderTypeOnSite, orders[0].Type)
	require.NotEmpty(t, orders[0].Items[0].ID)
	require.EqualValues(t, 2000, orders[0].TotalMinor)

	require.Equal(t, "fixed-id", orders[1].Items[0].ID)
	require.NotNil(t, orders[1].ScheduledAt)
	require.EqualValues(t, 2000, orders[1].TotalMinor)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing id", yaml: "orders:\n  - client_name: Awa\n"},
		{name: "duplicate id", yaml: "orders:\n  - id: a\n  - id: a\n"},
		{name: "unknown key", yaml: "orders:\n  - id: a\n    colour: red\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoad_Empty(t *testing.T) {
	orders, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestApply_IsRepeatable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()

	orders, err := Load(strings.NewReader(fixtures))
	require.NoError(t, err)

	res, err := Apply(ctx, store, orders, nil)
	require.NoError(t, err)
	require.Equal(t, Result{Created: 2}, res)

	res, err = Apply(ctx, store, orders, nil)
	require.NoError(t, err)
	require.Equal(t, Result{Skipped: 2}, res)

	stored, err := store.Get(ctx, "order-2")
	require.NoError(t, err)
	require.EqualValues(t, 1, stored.Version)
	require.Equal(t, domain.OrderStatusPending, stored.Status)
}

func TestApply_InvalidOrderFails(t *testing.T) {
	orders := []domain.Order{{ClientName: "no id"}}

	_, err := Apply(context.Background(), memory.NewOrderStore(), orders, nil)
	require.ErrorIs(t, err, domain.ErrOrderIDRequired)
}

func TestLoadFile_SampleFixtures(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "..", "config", "seed.yaml")

	orders, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, orders, 3)

	for _, order := range orders {
		require.Empty(t, order.ValidateInvariants(), "fixture %s must be valid", order.ID)
	}
}
