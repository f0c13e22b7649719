package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ams/internal/domain"
)

// paymentRepositoryInMemory — in-memory реализация PaymentRepository.
// Уникальность платежа на заказ обеспечивается индексом byOrder.
type paymentRepositoryInMemory struct {
	mu      sync.RWMutex
	items   map[string]domain.Payment
	byOrder map[string]string
}

// NewPaymentRepository возвращает in-memory репозиторий платежей.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		items:   make(map[string]domain.Payment),
		byOrder: make(map[string]string),
	}
}

// Create сохраняет платёж; второй платёж на заказ отклоняется.
func (r *paymentRepositoryInMemory) Create(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[payment.ID]; exists {
		return domain.ErrVersionConflict
	}
	if _, exists := r.byOrder[payment.OrderID]; exists {
		return domain.ErrPaymentExists
	}
	r.items[payment.ID] = payment
	r.byOrder[payment.OrderID] = payment.ID
	return nil
}

// Get возвращает платёж или ErrPaymentNotFound.
func (r *paymentRepositoryInMemory) Get(_ context.Context, id string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

// GetByOrderID возвращает платёж заказа или ErrPaymentNotFound.
func (r *paymentRepositoryInMemory) GetByOrderID(_ context.Context, orderID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOrder[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.items[id], nil
}

// FindByExternalID ищет платёж по идентификатору транзакции шлюза.
func (r *paymentRepositoryInMemory) FindByExternalID(_ context.Context, externalID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if externalID == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	for _, payment := range r.items {
		if payment.ExternalID == externalID {
			return payment, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

// FindByReference ищет платёж по платёжному номеру.
func (r *paymentRepositoryInMemory) FindByReference(_ context.Context, reference string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reference == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	for _, payment := range r.items {
		if payment.Reference == reference {
			return payment, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

// Save перезаписывает платёж, проверяя версию (optimistic locking).
func (r *paymentRepositoryInMemory) Save(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if current.Version != payment.Version {
		return domain.ErrVersionConflict
	}
	payment.Version++
	r.items[payment.ID] = payment
	return nil
}

// ListExpired возвращает pending/processing платежи с истёкшим сроком,
// старые первыми.
func (r *paymentRepositoryInMemory) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Payment, 0)
	for _, payment := range r.items {
		if payment.Status != domain.PaymentStatusPending && payment.Status != domain.PaymentStatusProcessing {
			continue
		}
		if !payment.Expired(now) {
			continue
		}
		result = append(result, payment)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiresAt.Equal(result[j].ExpiresAt) {
			return result[i].ExpiresAt.Before(result[j].ExpiresAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
