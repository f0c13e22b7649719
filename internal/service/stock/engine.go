package stock

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ams/internal/domain"
	"github.com/vladislavdragonenkov/ams/internal/metrics"
)

const (
	// DefaultHoldDuration используется, если вызывающий передал
	// неположительную длительность резерва.
	DefaultHoldDuration = 15 * time.Minute
)

// Engine — движок резервирования стока. Выдаёт time-boxed удержания единиц
// товара, снимает их и конвертирует в продажи. Сам движок не содержит
// блокировок: атомарность критической секции обеспечивает репозиторий.
type Engine struct {
	units   domain.StockUnitRepository
	clock   domain.Clock
	logger  *log.Entry
	metrics *metrics.LifecycleMetrics
}

// NewEngine создаёт рабочий экземпляр движка резервирования.
func NewEngine(units domain.StockUnitRepository, clock domain.Clock, logger *log.Entry) *Engine {
	if logger == nil {
		logger = log.New().WithField("component", "stock-engine")
	}
	if clock == nil {
		clock = domain.NewRealClock()
	}
	return &Engine{
		units:   units,
		clock:   clock,
		logger:  logger,
		metrics: metrics.NewLifecycleMetrics(),
	}
}

// NewEngineWithoutMetrics создаёт движок без метрик (для тестов).
func NewEngineWithoutMetrics(units domain.StockUnitRepository, clock domain.Clock, logger *log.Entry) *Engine {
	engine := NewEngine(units, clock, logger)
	engine.metrics = nil
	return engine
}

// Reserve атомарно резервирует qty доступных единиц товара на duration.
// Либо резервируются все qty единиц, либо ни одной (ErrOutOfStock).
func (e *Engine) Reserve(ctx context.Context, productID string, qty int, duration time.Duration) ([]domain.StockUnit, error) {
	if duration <= 0 {
		duration = DefaultHoldDuration
	}
	return e.ReserveUntil(ctx, productID, qty, e.clock.Now().Add(duration))
}

// ReserveUntil — как Reserve, но с явным дедлайном вместо длительности.
func (e *Engine) ReserveUntil(ctx context.Context, productID string, qty int, deadline time.Time) ([]domain.StockUnit, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	start := e.clock.Now()
	units, err := e.units.ReserveAvailable(ctx, productID, qty, deadline, start)
	if e.metrics != nil {
		e.metrics.RecordReserveDuration(time.Since(start))
	}
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"product_id": productID,
			"qty":        qty,
		}).Warn("stock reservation rejected")
		if e.metrics != nil {
			e.metrics.RecordOutOfStock()
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordReservation(len(units))
	}
	e.logger.WithFields(log.Fields{
		"product_id": productID,
		"qty":        qty,
		"until":      deadline.UTC().Format(time.RFC3339),
	}).Debug("stock reserved")

	return units, nil
}

// Release снимает резерв с указанных единиц независимо от того, кто их
// удерживал. Идемпотентна: свободные и несуществующие единицы пропускаются.
func (e *Engine) Release(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	released, err := e.units.Release(ctx, ids)
	if err != nil {
		return 0, err
	}
	if e.metrics != nil && released > 0 {
		e.metrics.RecordRelease(released)
	}
	return released, nil
}

// MarkSold переводит единицу в sold, проставляя soldAt и снимая резерв.
// Уже проданная единица даёт ErrStockUnitSold.
func (e *Engine) MarkSold(ctx context.Context, id string) error {
	if err := e.units.MarkSold(ctx, id, e.clock.Now()); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordUnitSold()
	}
	return nil
}

// CleanupExpiredReservations снимает резерв со всех единиц с истёкшим
// дедлайном. Единственный компенсирующий механизм для резервов, которые
// никто явно не освободил (например, упавший клиент).
func (e *Engine) CleanupExpiredReservations(ctx context.Context) (int, error) {
	released, err := e.units.ReleaseExpired(ctx, e.clock.Now())
	if err != nil {
		return 0, err
	}
	if released > 0 {
		if e.metrics != nil {
			e.metrics.RecordRelease(released)
		}
		e.logger.WithField("released", released).Info("expired stock reservations cleaned up")
	}
	return released, nil
}

// AvailableCount возвращает советующее число доступных единиц товара.
// Используется для pre-check'ов и отображения; решения об аллокации
// принимает только Reserve/ReserveUntil.
func (e *Engine) AvailableCount(ctx context.Context, productID string) (int, error) {
	return e.units.CountAvailable(ctx, productID, e.clock.Now())
}
