package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ams/internal/domain"
)

// stockUnitRepositoryInMemory — in-memory реализация StockUnitRepository.
// Критическая секция резервирования обеспечивается единым мьютексом: два
// конкурентных ReserveAvailable никогда не видят друг друга на полпути.
type stockUnitRepositoryInMemory struct {
	mu    sync.Mutex
	items map[string]domain.StockUnit
}

// NewStockUnitRepository возвращает in-memory репозиторий для локальной
// разработки и тестов.
func NewStockUnitRepository() domain.StockUnitRepository {
	return &stockUnitRepositoryInMemory{
		items: make(map[string]domain.StockUnit),
	}
}

// Create сохраняет новую единицу товара, если ID ещё не занят.
func (r *stockUnitRepositoryInMemory) Create(_ context.Context, unit domain.StockUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[unit.ID]; exists {
		return domain.ErrVersionConflict
	}
	r.items[unit.ID] = unit
	return nil
}

// Get возвращает единицу или ErrStockUnitNotFound.
func (r *stockUnitRepositoryInMemory) Get(_ context.Context, id string) (domain.StockUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.items[id]
	if !ok {
		return domain.StockUnit{}, domain.ErrStockUnitNotFound
	}
	return unit, nil
}

// CountAvailable возвращает советующее число доступных единиц товара.
func (r *stockUnitRepositoryInMemory) CountAvailable(_ context.Context, productID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, unit := range r.items {
		if unit.ProductID == productID && unit.Available(now) {
			count++
		}
	}
	return count, nil
}

// ReserveAvailable атомарно резервирует qty доступных единиц либо ни одной.
// Порядок выбора детерминирован: created_at ASC, id ASC.
func (r *stockUnitRepositoryInMemory) ReserveAvailable(_ context.Context, productID string, qty int, until, now time.Time) ([]domain.StockUnit, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]domain.StockUnit, 0, qty)
	for _, unit := range r.items {
		if unit.ProductID == productID && unit.Available(now) {
			candidates = append(candidates, unit)
		}
	}

	if len(candidates) < qty {
		return nil, domain.ErrOutOfStock
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	reserved := make([]domain.StockUnit, 0, qty)
	deadline := until.UTC()
	for _, unit := range candidates[:qty] {
		unit.ReservedUntil = &deadline
		unit.UpdatedAt = now
		r.items[unit.ID] = unit
		reserved = append(reserved, unit)
	}

	return reserved, nil
}

// Release снимает резерв с непроданных единиц; идемпотентна.
func (r *stockUnitRepositoryInMemory) Release(_ context.Context, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	now := time.Now().UTC()
	for _, id := range ids {
		unit, ok := r.items[id]
		if !ok || unit.Sold || unit.ReservedUntil == nil {
			continue
		}
		unit.ReservedUntil = nil
		unit.UpdatedAt = now
		r.items[id] = unit
		released++
	}
	return released, nil
}

// MarkSold переводит единицу в sold; повторная продажа запрещена.
func (r *stockUnitRepositoryInMemory) MarkSold(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.items[id]
	if !ok {
		return domain.ErrStockUnitNotFound
	}
	if unit.Sold {
		return domain.ErrStockUnitSold
	}

	soldAt := at.UTC()
	unit.Sold = true
	unit.SoldAt = &soldAt
	unit.ReservedUntil = nil
	unit.UpdatedAt = soldAt
	r.items[id] = unit
	return nil
}

// ReleaseExpired снимает резерв со всех непроданных единиц с истёкшим сроком.
func (r *stockUnitRepositoryInMemory) ReleaseExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for id, unit := range r.items {
		if unit.Sold || unit.ReservedUntil == nil || !unit.ReservedUntil.Before(now) {
			continue
		}
		unit.ReservedUntil = nil
		unit.UpdatedAt = now
		r.items[id] = unit
		released++
	}
	return released, nil
}

// Delete удаляет единицу; проданные и зарезервированные защищены.
func (r *stockUnitRepositoryInMemory) Delete(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.items[id]
	if !ok {
		return domain.ErrStockUnitNotFound
	}
	if unit.Sold {
		return domain.ErrStockUnitSold
	}
	if unit.ReservedUntil != nil && !unit.ReservedUntil.Before(now) {
		return domain.ErrStockReservationFailed
	}
	delete(r.items, id)
	return nil
}

var _ domain.StockUnitRepository = (*stockUnitRepositoryInMemory)(nil)
