package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ams/internal/domain"
)

func createOrderForIntegrationTest(t *testing.T, store *Store, userID string) domain.Order {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	order := domain.Order{
		ID:          uuid.NewString(),
		Number:      "ORD-" + now.Format("20060102") + "-" + uuid.NewString()[:6],
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		AmountMinor: 10000,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := NewOrderRepository(store).Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestPaymentRepository_OneToOne_Integration(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	order := createOrderForIntegrationTest(t, store, "user-1")

	ctx := context.Background()
	repo := NewPaymentRepository(store)
	now := time.Now().UTC()

	payment := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		Method:      domain.PaymentMethodQR,
		Status:      domain.PaymentStatusPending,
		AmountMinor: order.AmountMinor,
		Reference:   "PAY-20250310-000001",
		ExpiresAt:   now.Add(15 * time.Minute),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(ctx, payment); err != nil {
		t.Fatalf("Create: %v", err)
	}

	duplicate := payment
	duplicate.ID = uuid.NewString()
	if err := repo.Create(ctx, duplicate); !errors.Is(err, domain.ErrPaymentExists) {
		t.Fatalf("expected ErrPaymentExists, got %v", err)
	}

	byOrder, err := repo.GetByOrderID(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetByOrderID: %v", err)
	}
	if byOrder.ID != payment.ID {
		t.Fatalf("expected payment %s, got %s", payment.ID, byOrder.ID)
	}

	byRef, err := repo.FindByReference(ctx, payment.Reference)
	if err != nil {
		t.Fatalf("FindByReference: %v", err)
	}
	if byRef.ID != payment.ID {
		t.Fatalf("expected payment %s by reference, got %s", payment.ID, byRef.ID)
	}

	if _, err := repo.FindByExternalID(ctx, ""); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound for empty external id, got %v", err)
	}
}

func TestPaymentRepository_OptimisticLocking_Integration(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	order := createOrderForIntegrationTest(t, store, "user-1")

	ctx := context.Background()
	repo := NewPaymentRepository(store)
	now := time.Now().UTC()

	payment := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		Method:      domain.PaymentMethodCard,
		Status:      domain.PaymentStatusPending,
		AmountMinor: order.AmountMinor,
		ExpiresAt:   now.Add(15 * time.Minute),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(ctx, payment); err != nil {
		t.Fatalf("Create: %v", err)
	}

	payment.Status = domain.PaymentStatusProcessing
	payment.UpdatedAt = now
	if err := repo.Save(ctx, payment); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Сохранение со старой версией отклоняется.
	if err := repo.Save(ctx, payment); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	fresh, err := repo.Get(ctx, payment.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fresh.Version != payment.Version+1 {
		t.Fatalf("expected version %d, got %d", payment.Version+1, fresh.Version)
	}
	if fresh.Status != domain.PaymentStatusProcessing {
		t.Fatalf("expected processing, got %s", fresh.Status)
	}
}

func TestPaymentRepository_ListExpired_Integration(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	first := createOrderForIntegrationTest(t, store, "user-1")
	second := createOrderForIntegrationTest(t, store, "user-2")

	ctx := context.Background()
	repo := NewPaymentRepository(store)
	now := time.Now().UTC()

	expired := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     first.ID,
		Method:      domain.PaymentMethodQR,
		Status:      domain.PaymentStatusPending,
		AmountMinor: 10000,
		ExpiresAt:   now.Add(-time.Minute),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	alive := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     second.ID,
		Method:      domain.PaymentMethodQR,
		Status:      domain.PaymentStatusPending,
		AmountMinor: 10000,
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(ctx, expired); err != nil {
		t.Fatalf("Create expired: %v", err)
	}
	if err := repo.Create(ctx, alive); err != nil {
		t.Fatalf("Create alive: %v", err)
	}

	payments, err := repo.ListExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("expected 1 expired payment, got %d", len(payments))
	}
	if payments[0].ID != expired.ID {
		t.Fatalf("expected %s, got %s", expired.ID, payments[0].ID)
	}
}
