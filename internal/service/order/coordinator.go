package order

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ams/internal/domain"
	"github.com/vladislavdragonenkov/ams/internal/metrics"
	"github.com/vladislavdragonenkov/ams/internal/service/stock"
)

const (
	// DefaultHoldDuration — срок резерва стока под неоплаченный заказ.
	DefaultHoldDuration = 15 * time.Minute

	statusSaveMaxRetries = 3
	statusSaveBaseDelay  = 10 * time.Millisecond
)

// Coordinator управляет жизненным циклом заказа: валидация, расчёт суммы,
// привязка стока, машина статусов. Стоком он управляет только через движок
// резервирования; репозиторий единиц используется исключительно для чтения
// учётных данных.
type Coordinator struct {
	orders   domain.OrderRepository
	units    domain.StockUnitRepository
	engine   *stock.Engine
	catalog  domain.CatalogService
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	clock    domain.Clock
	logger   *log.Entry
	metrics  *metrics.LifecycleMetrics

	holdDuration time.Duration
}

// NewCoordinator создаёт рабочий экземпляр координатора заказов.
func NewCoordinator(
	orders domain.OrderRepository,
	units domain.StockUnitRepository,
	engine *stock.Engine,
	catalog domain.CatalogService,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	clock domain.Clock,
	logger *log.Entry,
) *Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "order-coordinator")
	}
	if clock == nil {
		clock = domain.NewRealClock()
	}
	return &Coordinator{
		orders:       orders,
		units:        units,
		engine:       engine,
		catalog:      catalog,
		outbox:       outbox,
		timeline:     timeline,
		clock:        clock,
		logger:       logger,
		metrics:      metrics.NewLifecycleMetrics(),
		holdDuration: DefaultHoldDuration,
	}
}

// NewCoordinatorWithoutMetrics создаёт координатор без метрик (для тестов).
func NewCoordinatorWithoutMetrics(
	orders domain.OrderRepository,
	units domain.StockUnitRepository,
	engine *stock.Engine,
	catalog domain.CatalogService,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	clock domain.Clock,
	logger *log.Entry,
) *Coordinator {
	c := NewCoordinator(orders, units, engine, catalog, outbox, timeline, clock, logger)
	c.metrics = nil
	return c
}

// SetHoldDuration настраивает срок резерва стока под заказ.
func (c *Coordinator) SetHoldDuration(d time.Duration) {
	if d > 0 {
		c.holdDuration = d
	}
}

// CreateOrder валидирует запрос, считает сумму по текущим ценам каталога,
// резервирует сток по каждой позиции и собирает агрегат заказа.
// Всё или ничего: сбой резервирования на любой позиции снимает резерв со
// всех единиц, взятых этим же вызовом, и заказ не сохраняется.
func (c *Coordinator) CreateOrder(ctx context.Context, userID string, lines map[string]int) (domain.Order, error) {
	start := c.clock.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordCreateOrderDuration(time.Since(start))
		}
	}()

	if userID == "" {
		return domain.Order{}, domain.ErrUnauthorized
	}
	if len(lines) == 0 {
		return domain.Order{}, domain.ErrInvalidQuantity
	}

	// Детерминированный порядок обхода позиций: по product_id.
	productIDs := make([]string, 0, len(lines))
	for productID, qty := range lines {
		if qty <= 0 {
			return domain.Order{}, domain.ErrInvalidQuantity
		}
		productIDs = append(productIDs, productID)
	}
	sort.Strings(productIDs)

	// Дешёвый pre-check по каталогу и советующим счётчикам стока.
	// Авторитетная проверка — атомарная аллокация ниже.
	products := make(map[string]domain.Product, len(productIDs))
	var amountMinor int64
	for _, productID := range productIDs {
		product, err := c.catalog.GetProduct(ctx, productID)
		if err != nil {
			return domain.Order{}, err
		}
		if !product.Active {
			return domain.Order{}, domain.ErrProductInactive
		}
		available, err := c.engine.AvailableCount(ctx, productID)
		if err != nil {
			return domain.Order{}, err
		}
		if available < lines[productID] {
			return domain.Order{}, domain.ErrOutOfStock
		}
		products[productID] = product
		amountMinor += product.PriceMinor * int64(lines[productID])
	}

	now := c.clock.Now()
	orderID := uuid.NewString()

	// Резервируем по позициям; любая неудача откатывает уже взятые резервы.
	reservedIDs := make([]string, 0)
	items := make([]domain.OrderItem, 0)
	for _, productID := range productIDs {
		units, err := c.engine.Reserve(ctx, productID, lines[productID], c.holdDuration)
		if err != nil {
			c.rollbackReservations(ctx, reservedIDs)
			c.logger.WithError(err).WithFields(log.Fields{
				"user_id":    userID,
				"product_id": productID,
			}).Warn("order creation aborted: reservation failed")
			return domain.Order{}, err
		}

		product := products[productID]
		for _, unit := range units {
			reservedIDs = append(reservedIDs, unit.ID)
			items = append(items, domain.OrderItem{
				ID:          uuid.NewString(),
				OrderID:     orderID,
				ProductID:   product.ID,
				StockUnitID: unit.ID,
				ProductName: product.Name,
				Category:    product.Category,
				Server:      product.Server,
				PriceMinor:  product.PriceMinor,
				CreatedAt:   now,
			})
		}

		c.warnLowStock(ctx, product)
	}

	order := domain.Order{
		ID:          orderID,
		Number:      newOrderNumber(now),
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		AmountMinor: amountMinor,
		Items:       items,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if errs := order.Validate(); len(errs) > 0 {
		c.rollbackReservations(ctx, reservedIDs)
		return domain.Order{}, errs[0]
	}

	if err := c.orders.Create(ctx, order); err != nil {
		c.rollbackReservations(ctx, reservedIDs)
		c.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist order")
		return domain.Order{}, err
	}

	if c.metrics != nil {
		c.metrics.RecordOrderCreated()
	}
	c.emitEvent(&order, "OrderCreated", map[string]interface{}{
		"user_id":      order.UserID,
		"number":       order.Number,
		"amount_minor": order.AmountMinor,
		"items_count":  len(order.Items),
	})

	return order, nil
}

// MarkAsProcessing переводит заказ pending → processing.
func (c *Coordinator) MarkAsProcessing(ctx context.Context, orderID string) error {
	return c.transition(ctx, orderID, domain.OrderStatusProcessing, "")
}

// MarkAsCompleted завершает заказ и продаёт каждую привязанную единицу товара.
func (c *Coordinator) MarkAsCompleted(ctx context.Context, orderID string) error {
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.Status.CanTransition(domain.OrderStatusCompleted) {
		return domain.ErrInvalidOrderStatus
	}

	for _, item := range order.Items {
		if err := c.engine.MarkSold(ctx, item.StockUnitID); err != nil {
			// Продажа стока не удалась: заказ остаётся в текущем статусе,
			// ошибка уходит вызывающему для reconcile.
			c.logger.WithError(err).WithFields(log.Fields{
				"order_id":      orderID,
				"stock_unit_id": item.StockUnitID,
			}).Error("failed to mark stock unit sold")
			return err
		}
	}

	if err := c.saveStatus(ctx, &order, domain.OrderStatusCompleted); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordOrderCompleted()
	}
	c.emitEvent(&order, "OrderCompleted", map[string]interface{}{
		"user_id":      order.UserID,
		"amount_minor": order.AmountMinor,
	})
	return nil
}

// MarkAsFailed переводит заказ в failed и снимает резерв с непроданных единиц.
func (c *Coordinator) MarkAsFailed(ctx context.Context, orderID, reason string) error {
	if err := c.transition(ctx, orderID, domain.OrderStatusFailed, reason); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordOrderFailed()
	}
	return nil
}

// CancelOrder отменяет заказ от имени пользователя; чужой заказ отменить нельзя.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID, userID, reason string) error {
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return domain.ErrUnauthorized
	}
	if err := c.transition(ctx, orderID, domain.OrderStatusCancelled, reason); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordOrderCancelled()
	}
	return nil
}

// Cancel отменяет заказ без проверки владельца (административный путь
// и пропагация со стороны платежа).
func (c *Coordinator) Cancel(ctx context.Context, orderID, reason string) error {
	if err := c.transition(ctx, orderID, domain.OrderStatusCancelled, reason); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordOrderCancelled()
	}
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return c.orders.Get(ctx, orderID)
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (c *Coordinator) ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return c.orders.ListByUser(ctx, userID, limit)
}

// GetOrderDownloadInfo возвращает учётные данные всех единиц завершённого
// заказа, сгруппированные по названию товара. Доступно только владельцу.
func (c *Coordinator) GetOrderDownloadInfo(ctx context.Context, orderID, userID string) (map[string][]string, error) {
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrUnauthorized
	}
	if order.Status != domain.OrderStatusCompleted {
		return nil, domain.ErrInvalidOrderStatus
	}

	info := make(map[string][]string, len(order.Items))
	for _, item := range order.Items {
		unit, err := c.units.Get(ctx, item.StockUnitID)
		if err != nil {
			return nil, err
		}
		info[item.ProductName] = append(info[item.ProductName], unit.Credentials)
	}
	return info, nil
}

// transition выполняет переход в терминальный failed/cancelled: сначала
// проверка таблицы переходов, затем снятие резерва с непроданных единиц,
// затем сохранение статуса.
func (c *Coordinator) transition(ctx context.Context, orderID string, to domain.OrderStatus, reason string) error {
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.Status.CanTransition(to) {
		return domain.ErrInvalidOrderStatus
	}

	if to == domain.OrderStatusFailed || to == domain.OrderStatusCancelled {
		if _, err := c.engine.Release(ctx, order.StockUnitIDs()); err != nil {
			c.logger.WithError(err).WithField("order_id", orderID).Warn("failed to release order stock")
		}
	}

	if err := c.saveStatus(ctx, &order, to); err != nil {
		return err
	}

	eventType := "OrderStatusChanged"
	switch to {
	case domain.OrderStatusFailed:
		eventType = "OrderFailed"
	case domain.OrderStatusCancelled:
		eventType = "OrderCancelled"
	}
	payload := map[string]interface{}{"status": string(to)}
	if reason != "" {
		payload["reason"] = reason
	}
	c.emitEvent(&order, eventType, payload)
	return nil
}

// saveStatus меняет статус заказа с retry на конфликт версий.
func (c *Coordinator) saveStatus(ctx context.Context, order *domain.Order, to domain.OrderStatus) error {
	for attempt := 0; attempt < statusSaveMaxRetries; attempt++ {
		if !order.Status.CanTransition(to) {
			return domain.ErrInvalidOrderStatus
		}

		order.Status = to
		order.UpdatedAt = c.clock.Now()
		prevVersion := order.Version

		err := c.orders.Save(ctx, *order)
		if err == nil {
			order.Version = prevVersion + 1
			c.appendTimeline(order.ID, "OrderStatusChanged", string(to))
			return nil
		}

		if domain.IsVersionConflict(err) && attempt < statusSaveMaxRetries-1 {
			fresh, loadErr := c.orders.Get(ctx, order.ID)
			if loadErr != nil {
				return loadErr
			}
			*order = fresh
			time.Sleep(statusSaveBaseDelay * time.Duration(1<<uint(attempt)))
			continue
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"status":   to,
		}).Error("failed to persist order status")
		return err
	}

	return domain.ErrVersionConflict
}

func (c *Coordinator) rollbackReservations(ctx context.Context, unitIDs []string) {
	if len(unitIDs) == 0 {
		return
	}
	if _, err := c.engine.Release(ctx, unitIDs); err != nil {
		c.logger.WithError(err).WithField("units", len(unitIDs)).Error("failed to roll back reservations")
	}
}

// warnLowStock пишет предупреждение и событие, когда доступный остаток
// товара опустился до настроенного порога. Только информирование.
func (c *Coordinator) warnLowStock(ctx context.Context, product domain.Product) {
	if product.LowStockThreshold <= 0 {
		return
	}
	available, err := c.engine.AvailableCount(ctx, product.ID)
	if err != nil || available > product.LowStockThreshold {
		return
	}
	c.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"available":  available,
		"threshold":  product.LowStockThreshold,
	}).Warn("product stock is low")

	if c.outbox == nil {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"product_id": product.ID,
		"available":  available,
		"threshold":  product.LowStockThreshold,
	})
	if err != nil {
		return
	}
	if _, err := c.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "product",
		AggregateID:   product.ID,
		EventType:     "ProductLowStock",
		Payload:       data,
	}); err != nil {
		c.logger.WithError(err).WithField("product_id", product.ID).Warn("enqueue low stock event failed")
	}
}

func (c *Coordinator) emitEvent(order *domain.Order, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	payload["ts"] = c.clock.Now().Format(time.RFC3339Nano)

	if c.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("marshal event failed")
			return
		}
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := c.outbox.Enqueue(msg); err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("enqueue event failed")
		} else if c.metrics != nil {
			c.metrics.RecordOutboxEvent()
		}
	}

	var reason string
	if r, ok := payload["reason"].(string); ok {
		reason = r
	}
	c.appendTimeline(order.ID, eventType, reason)
}

func (c *Coordinator) appendTimeline(orderID, eventType, reason string) {
	if c.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: c.clock.Now(),
	}
	if err := c.timeline.Append(event); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Warn("append timeline event failed")
	} else if c.metrics != nil {
		c.metrics.RecordTimelineEvent()
	}
}
