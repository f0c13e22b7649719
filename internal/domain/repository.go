package domain

import (
	"context"
	"time"
)

// StockUnitRepository описывает требования к хранилищу единиц товара.
// Вся атомарность резервирования живёт здесь: ReserveAvailable обязан
// выполняться так, чтобы два конкурентных вызова не получили пересекающиеся
// единицы (мьютекс в памяти, SELECT ... FOR UPDATE в PostgreSQL).
type StockUnitRepository interface {
	// Create сохраняет новую единицу товара (поступление на склад).
	Create(ctx context.Context, unit StockUnit) error
	// Get возвращает единицу или ErrStockUnitNotFound.
	Get(ctx context.Context, id string) (StockUnit, error)
	// CountAvailable возвращает число доступных единиц товара на момент now.
	// Значение советующее: решения об аллокации принимает только ReserveAvailable.
	CountAvailable(ctx context.Context, productID string, now time.Time) (int, error)
	// ReserveAvailable атомарно выбирает qty доступных единиц товара
	// (created_at ASC, id ASC) и проставляет каждой reserved_until = until.
	// Либо резервируются все qty единиц, либо ни одной (ErrOutOfStock).
	ReserveAvailable(ctx context.Context, productID string, qty int, until, now time.Time) ([]StockUnit, error)
	// Release снимает резерв с непроданных единиц. Идемпотентна: уже
	// свободные единицы пропускаются без ошибки. Возвращает число затронутых.
	Release(ctx context.Context, ids []string) (int, error)
	// MarkSold переводит единицу в sold, проставляя soldAt и снимая резерв.
	// Для уже проданной единицы возвращает ErrStockUnitSold.
	MarkSold(ctx context.Context, id string, at time.Time) error
	// ReleaseExpired снимает резерв со всех непроданных единиц, у которых
	// reserved_until < now. Возвращает число затронутых.
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
	// Delete удаляет единицу. Запрещено для проданных и зарезервированных
	// единиц (ErrStockUnitSold / ErrStockReservationFailed соответственно).
	Delete(ctx context.Context, id string, now time.Time) error
}

// ProductRepository описывает требования к хранилищу каталога.
type ProductRepository interface {
	Create(ctx context.Context, product Product) error
	Get(ctx context.Context, id string) (Product, error)
	// UpdateLowStockThreshold — единственная мутация товара, доступная ядру.
	UpdateLowStockThreshold(ctx context.Context, id string, threshold int) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// PaymentRepository описывает требования к хранилищу платежей.
type PaymentRepository interface {
	// Create сохраняет платёж; второй платёж на тот же заказ отклоняется
	// с ErrPaymentExists.
	Create(ctx context.Context, payment Payment) error
	Get(ctx context.Context, id string) (Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (Payment, error)
	// FindByExternalID ищет платёж по идентификатору транзакции шлюза.
	FindByExternalID(ctx context.Context, externalID string) (Payment, error)
	// FindByReference ищет платёж по нашему платёжному номеру.
	FindByReference(ctx context.Context, reference string) (Payment, error)
	// Save применяет обновления с учётом optimistic locking.
	Save(ctx context.Context, payment Payment) error
	// ListExpired возвращает pending/processing платежи с истёкшим сроком.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Payment, error)
}
