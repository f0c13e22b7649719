package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ams/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:          "order-1",
		Number:      "ORD-20250310-000001",
		UserID:      "user-1",
		Status:      domain.OrderStatusPending,
		AmountMinor: 10000,
		Items: []domain.OrderItem{
			{
				ID:          "item-1",
				OrderID:     "order-1",
				ProductID:   "prod-1",
				StockUnitID: "unit-1",
				ProductName: "WoW account 60 lvl",
				Category:    "wow",
				Server:      "Gordunni",
				PriceMinor:  10000,
				CreatedAt:   now,
			},
		},
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidate_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.Validate(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no user",
			mut: func(o *domain.Order) {
				o.UserID = ""
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
			},
		},
		{
			name: "amount mismatch",
			mut: func(o *domain.Order) {
				o.AmountMinor = 9999
			},
		},
		{
			name: "negative item price",
			mut: func(o *domain.Order) {
				o.Items[0].PriceMinor = -1
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			if errs := order.Validate(); len(errs) == 0 {
				t.Fatal("expected validation errors, got none")
			}
		})
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from    domain.OrderStatus
		to      domain.OrderStatus
		allowed bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusProcessing, true},
		{domain.OrderStatusPending, domain.OrderStatusCompleted, false},
		{domain.OrderStatusPending, domain.OrderStatusFailed, true},
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusProcessing, domain.OrderStatusCompleted, true},
		{domain.OrderStatusProcessing, domain.OrderStatusFailed, true},
		{domain.OrderStatusProcessing, domain.OrderStatusCancelled, true},
		{domain.OrderStatusProcessing, domain.OrderStatusPending, false},
		{domain.OrderStatusCompleted, domain.OrderStatusCancelled, false},
		{domain.OrderStatusFailed, domain.OrderStatusPending, false},
		{domain.OrderStatusCancelled, domain.OrderStatusProcessing, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []domain.OrderStatus{
		domain.OrderStatusCompleted,
		domain.OrderStatusFailed,
		domain.OrderStatusCancelled,
	}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	active := []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusProcessing,
	}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestOrderStockUnitIDs(t *testing.T) {
	order := makeOrder()
	order.Items = append(order.Items, domain.OrderItem{
		ID:          "item-2",
		StockUnitID: "unit-2",
	})
	order.AmountMinor = 10000

	ids := order.StockUnitIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 stock unit ids, got %d", len(ids))
	}
	if ids[0] != "unit-1" || ids[1] != "unit-2" {
		t.Errorf("unexpected ids: %v", ids)
	}
}
