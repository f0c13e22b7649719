package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, сток зарезервирован, оплата не начата.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — создан платёж, ждём подтверждения оплаты.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusCompleted — оплата подтверждена, единицы товара проданы.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusFailed — оплата не прошла или истекла; резерв снят.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusCancelled — заказ отменён до завершения; резерв снят.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderTransitions — единственная таблица допустимых переходов статуса заказа.
// Completed достижим только из processing; терминальные статусы
// (completed, failed, cancelled) не имеют исходящих рёбер.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled},
}

// CanTransition проверяет допустимость перехода по таблице orderTransitions.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal сообщает, является ли статус терминальным.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// OrderItem — позиция заказа: снимок товара на момент покупки плюс ссылка
// на конкретную единицу товара. Снимок нужен, чтобы последующие правки
// каталога не меняли исторические заказы.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	StockUnitID string
	ProductName string
	Category    string
	Server      string
	PriceMinor  int64
	CreatedAt   time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID     string
	Number string
	UserID string
	Status OrderStatus
	// AmountMinor — сумма заказа в минимальных денежных единицах.
	AmountMinor int64
	Notes       string
	Items       []OrderItem
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет базовые инварианты заказа.
func (o *Order) Validate() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUnauthorized)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrInvalidQuantity)
	}

	// Сумма заказа обязана совпадать с суммой позиций.
	var calc int64
	for _, item := range o.Items {
		if item.PriceMinor < 0 {
			errs = append(errs, ErrInvalidPaymentAmount)
		}
		calc += item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrInvalidPaymentAmount)
	}

	return errs
}

// StockUnitIDs возвращает идентификаторы всех привязанных единиц товара.
func (o *Order) StockUnitIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.StockUnitID)
	}
	return ids
}
