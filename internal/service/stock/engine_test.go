package stock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ams/internal/domain"
	"github.com/vladislavdragonenkov/ams/internal/storage/memory"
)

func newEngineFixture(t *testing.T) (*Engine, domain.StockUnitRepository, *domain.FixedClock) {
	t.Helper()

	clock := domain.NewFixedClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	units := memory.NewStockUnitRepository()
	engine := NewEngineWithoutMetrics(units, clock, nil)
	return engine, units, clock
}

func seedUnits(t *testing.T, units domain.StockUnitRepository, productID string, count int, base time.Time) []string {
	t.Helper()

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("%s-unit-%03d", productID, i)
		err := units.Create(context.Background(), domain.StockUnit{
			ID:          id,
			ProductID:   productID,
			Credentials: "login:pass",
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("seed unit %s: %v", id, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestReserveAllOrNothing(t *testing.T) {
	engine, units, clock := newEngineFixture(t)
	seedUnits(t, units, "prod-1", 3, clock.Now().Add(-time.Hour))

	reserved, err := engine.Reserve(context.Background(), "prod-1", 2, 10*time.Minute)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if len(reserved) != 2 {
		t.Fatalf("expected 2 reserved units, got %d", len(reserved))
	}

	// Остался один: запрос на два должен быть отклонён целиком.
	if _, err := engine.Reserve(context.Background(), "prod-1", 2, 10*time.Minute); err != domain.ErrOutOfStock {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}

	left, err := engine.AvailableCount(context.Background(), "prod-1")
	if err != nil {
		t.Fatalf("AvailableCount failed: %v", err)
	}
	if left != 1 {
		t.Fatalf("expected 1 available unit after rejected reservation, got %d", left)
	}
}

func TestReserveDeterministicOrder(t *testing.T) {
	engine, units, clock := newEngineFixture(t)
	ids := seedUnits(t, units, "prod-1", 3, clock.Now().Add(-time.Hour))

	reserved, err := engine.Reserve(context.Background(), "prod-1", 2, 10*time.Minute)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	// Старейшие единицы выбираются первыми.
	if reserved[0].ID != ids[0] || reserved[1].ID != ids[1] {
		t.Errorf("expected oldest units %v, got %s, %s", ids[:2], reserved[0].ID, reserved[1].ID)
	}
}

func TestReserveInvalidQuantity(t *testing.T) {
	engine, _, _ := newEngineFixture(t)

	if _, err := engine.Reserve(context.Background(), "prod-1", 0, time.Minute); err != domain.ErrInvalidQuantity {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := engine.Reserve(context.Background(), "prod-1", -1, time.Minute); err != domain.ErrInvalidQuantity {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestReserveConcurrentNoOversell(t *testing.T) {
	engine, units, clock := newEngineFixture(t)
	seedUnits(t, units, "prod-1", 5, clock.Now().Add(-time.Hour))

	const workers = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := make(map[string]int)
	successes := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reserved, err := engine.Reserve(context.Background(), "prod-1", 1, 10*time.Minute)
			if err != nil {
				return
			}
			mu.Lock()
			successes++
			for _, unit := range reserved {
				taken[unit.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if successes != 5 {
		t.Fatalf("expected exactly 5 successful reservations, got %d", successes)
	}
	for id, count := range taken {
		if count != 1 {
			t.Errorf("unit %s reserved %d times", id, count)
		}
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	engine, units, clock := newEngineFixture(t)
	seedUnits(t, units, "prod-1", 2, clock.Now().Add(-time.Hour))

	reserved, err := engine.Reserve(context.Background(), "prod-1", 2, 10*time.Minute)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	ids := []string{reserved[0].ID, reserved[1].ID, "missing-unit"}
	released, err := engine.Release(context.Background(), ids)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released != 2 {
		t.Fatalf("expected 2 released units, got %d", released)
	}

	// Повторный вызов ничего не делает.
	released, err = engine.Release(context.Background(), ids)
	if err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected 0 released units on repeat, got %d", released)
	}
}

func TestMarkSoldTerminal(t *testing.T) {
	engine, units, clock := newEngineFixture(t)
	ids := seedUnits(t, units, "prod-1", 1, clock.Now().Add(-time.Hour))

	if err := engine.MarkSold(context.Background(), ids[0]); err != nil {
		t.Fatalf("MarkSold failed: %v", err)
	}

	if err := engine.MarkSold(context.Background(), ids[0]); err != domain.ErrStockUnitSold {
		t.Fatalf("expected ErrStockUnitSold on repeat, got %v", err)
	}

	if err := engine.MarkSold(context.Background(), "missing-unit"); err != domain.ErrStockUnitNotFound {
		t.Fatalf("expected ErrStockUnitNotFound, got %v", err)
	}

	unit, err := units.Get(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !unit.Sold || unit.SoldAt == nil || unit.ReservedUntil != nil {
		t.Errorf("sold unit must have sold=true, sold_at set and no reservation: %+v", unit)
	}
}

func TestCleanupExpiredReservations(t *testing.T) {
	engine, units, clock := newEngineFixture(t)
	seedUnits(t, units, "prod-1", 3, clock.Now().Add(-time.Hour))

	reserved, err := engine.Reserve(context.Background(), "prod-1", 2, 10*time.Minute)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	// Одна из зарезервированных единиц продана: её cleanup не трогает.
	if err := engine.MarkSold(context.Background(), reserved[0].ID); err != nil {
		t.Fatalf("MarkSold failed: %v", err)
	}

	// До дедлайна резервы живы.
	released, err := engine.CleanupExpiredReservations(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpiredReservations failed: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected 0 released before deadline, got %d", released)
	}

	clock.Advance(11 * time.Minute)

	released, err = engine.CleanupExpiredReservations(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpiredReservations failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released after deadline, got %d", released)
	}

	count, err := engine.AvailableCount(context.Background(), "prod-1")
	if err != nil {
		t.Fatalf("AvailableCount failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 available units after cleanup, got %d", count)
	}
}

func TestReserveAfterExpiryWithoutCleanup(t *testing.T) {
	engine, units, clock := newEngineFixture(t)
	seedUnits(t, units, "prod-1", 1, clock.Now().Add(-time.Hour))

	if _, err := engine.Reserve(context.Background(), "prod-1", 1, 10*time.Minute); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	// Сразу после резерва единица занята.
	if _, err := engine.Reserve(context.Background(), "prod-1", 1, 10*time.Minute); err != domain.ErrOutOfStock {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}

	// После истечения дедлайна единица доступна даже без прохода sweeper'а.
	clock.Advance(11 * time.Minute)
	if _, err := engine.Reserve(context.Background(), "prod-1", 1, 10*time.Minute); err != nil {
		t.Fatalf("expected reservation after expiry, got %v", err)
	}
}
