package domain

import (
	"context"
	"time"
)

// CatalogService — взаимодействие ядра с каталогом товаров.
// Ядро использует его для расчёта суммы заказа и снимков позиций.
type CatalogService interface {
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, id string) (Product, error)
}

// GatewayArtifact — артефакты, выданные платёжным шлюзом при создании платежа.
type GatewayArtifact struct {
	// Reference — платёжный номер, по которому шлюз свяжет webhook с платежом.
	Reference string
	// QRPayload показывается покупателю для оплаты.
	QRPayload string
}

// PaymentGateway — внешний платёжный шлюз (в этом репозитории симулируется).
type PaymentGateway interface {
	// CreateArtifact регистрирует платёж у шлюза и возвращает QR/reference.
	CreateArtifact(ctx context.Context, paymentID string, amountMinor int64, expiresAt time.Time) (GatewayArtifact, error)
	// CheckStatus — опциональный синхронный запрос статуса по external id.
	CheckStatus(ctx context.Context, externalID string) (PaymentStatus, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа
// (включая события его платежа).
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
