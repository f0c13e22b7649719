package domain

import "errors"

var (
	// ErrOutOfStock — доступных единиц товара меньше, чем запрошено.
	ErrOutOfStock = errors.New("insufficient available stock")
	// ErrStockReservationFailed — выбранную единицу не удалось зарезервировать (проигран гонке).
	ErrStockReservationFailed = errors.New("stock reservation failed")
	// ErrStockUnitSold — единица уже продана и не может менять состояние.
	ErrStockUnitSold = errors.New("stock unit is already sold")
	// ErrStockUnitNotFound возвращается, если единица товара не найдена.
	ErrStockUnitNotFound = errors.New("stock unit not found")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductInactive — товар снят с продажи.
	ErrProductInactive = errors.New("product is not active")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidOrderStatus — попытка недопустимого перехода статуса заказа.
	ErrInvalidOrderStatus = errors.New("invalid order status transition")
	// ErrInvalidQuantity — количество в позиции заказа должно быть > 0.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrUnauthorized — заказ принадлежит другому пользователю.
	ErrUnauthorized = errors.New("order belongs to another user")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentExists — на заказ уже создан платёж (связь один-к-одному).
	ErrPaymentExists = errors.New("payment already exists for order")
	// ErrInvalidPaymentStatus — попытка недопустимого перехода статуса платежа.
	ErrInvalidPaymentStatus = errors.New("invalid payment status transition")
	// ErrInvalidPaymentAmount — сумма платежа должна быть положительной.
	ErrInvalidPaymentAmount = errors.New("payment amount must be positive")
	// ErrUnsupportedPaymentMethod — метод оплаты не поддерживается.
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	// ErrRefundExceedsBalance — возврат превышает остаток оплаченной суммы.
	ErrRefundExceedsBalance = errors.New("refund exceeds refundable balance")
	// ErrPaymentGateway — ошибка внешнего платёжного шлюза; можно повторить с backoff.
	ErrPaymentGateway = errors.New("payment gateway error")
	// ErrPaymentTimeout — шлюз не ответил вовремя.
	ErrPaymentTimeout = errors.New("payment gateway timeout")
	// ErrWebhookProcessing — webhook с неизвестным или некорректным статусом.
	ErrWebhookProcessing = errors.New("webhook processing error")
	// ErrOrderFinalizeFailed — платёж завершён, но финализация заказа не удалась;
	// требуется reconcile оператором.
	ErrOrderFinalizeFailed = errors.New("order finalization failed after payment completion")
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении (optimistic locking).
	ErrVersionConflict = errors.New("version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxNotFound — outbox-запись не найдена.
	ErrOutboxNotFound = errors.New("outbox record not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsRetryable сообщает, имеет ли смысл повторять операцию после этой ошибки.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPaymentGateway) ||
		errors.Is(err, ErrPaymentTimeout) ||
		errors.Is(err, ErrStockReservationFailed) ||
		errors.Is(err, ErrVersionConflict)
}
