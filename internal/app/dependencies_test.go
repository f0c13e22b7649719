package app

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ams/internal/domain"
)

func TestNewDependencies(t *testing.T) {
	logger := log.WithField("test", "dependencies")
	deps, err := NewDependencies(context.Background(), "", logger)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}

	if deps.Products == nil {
		t.Error("Products should not be nil")
	}

	if deps.Units == nil {
		t.Error("Units should not be nil")
	}

	if deps.Orders == nil {
		t.Error("Orders should not be nil")
	}

	if deps.Payments == nil {
		t.Error("Payments should not be nil")
	}

	if deps.Outbox == nil {
		t.Error("Outbox should not be nil")
	}

	if deps.Timeline == nil {
		t.Error("Timeline should not be nil")
	}

	if deps.Catalog == nil {
		t.Error("Catalog should not be nil")
	}

	if deps.Engine == nil {
		t.Error("Engine should not be nil")
	}

	if deps.Coordinator == nil {
		t.Error("Coordinator should not be nil")
	}

	if deps.Machine == nil {
		t.Error("Machine should not be nil")
	}

	if deps.Gateway == nil {
		t.Error("Gateway should not be nil")
	}

	if deps.Store != nil {
		t.Error("Store should be nil for in-memory mode")
	}

	if deps.Logger == nil {
		t.Error("Logger should not be nil")
	}
}

func TestNewDependencies_WithNilLogger(t *testing.T) {
	deps, err := NewDependencies(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}

	if deps.Logger == nil {
		t.Error("Logger should be initialized even when nil is passed")
	}
}

func TestNewDependencies_IndependentInstances(t *testing.T) {
	deps1, err := NewDependencies(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}
	deps2, err := NewDependencies(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}

	// Каждый вызов должен создавать новые экземпляры
	if deps1 == deps2 {
		t.Error("NewDependencies should create independent instances")
	}

	if deps1.Orders == deps2.Orders {
		t.Error("Orders instances should be independent")
	}
}

func TestNewDependencies_WiringWorks(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:         "prod-1",
		Name:       "WoW account 60 lvl",
		Category:   "wow",
		Server:     "Gordunni",
		PriceMinor: 150000,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := deps.Products.Create(ctx, product); err != nil {
		t.Fatalf("Products.Create failed: %v", err)
	}
	if err := deps.Units.Create(ctx, domain.StockUnit{
		ID:          "unit-1",
		ProductID:   product.ID,
		Credentials: "login:pass",
		CreatedAt:   now,
	}); err != nil {
		t.Fatalf("Units.Create failed: %v", err)
	}

	created, err := deps.Coordinator.CreateOrder(ctx, "user-1", map[string]int{product.ID: 1})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	if created.AmountMinor != product.PriceMinor {
		t.Errorf("expected amount %d, got %d", product.PriceMinor, created.AmountMinor)
	}

	pay, err := deps.Machine.CreatePayment(ctx, created.ID, domain.PaymentMethodQR, 0)
	if err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}
	if pay.AmountMinor != created.AmountMinor {
		t.Errorf("expected payment amount %d, got %d", created.AmountMinor, pay.AmountMinor)
	}
}

func TestDependencies_CloseWithoutStore(t *testing.T) {
	deps, err := NewDependencies(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}

	if err := deps.Close(); err != nil {
		t.Errorf("Close should not fail for in-memory mode: %v", err)
	}
}
