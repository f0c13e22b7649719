package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ams/internal/domain"
)

// SimulatedGateway — детерминированная замена внешнего платёжного шлюза.
// Выдаёт reference и QR-нагрузку по данным платежа и помнит выданные
// артефакты для ответов на CheckStatus.
type SimulatedGateway struct {
	mu       sync.Mutex
	clock    domain.Clock
	logger   *log.Entry
	seq      int64
	statuses map[string]domain.PaymentStatus
}

var _ domain.PaymentGateway = (*SimulatedGateway)(nil)

// NewSimulatedGateway создаёт симулятор шлюза.
func NewSimulatedGateway(clock domain.Clock, logger *log.Entry) *SimulatedGateway {
	if logger == nil {
		logger = log.New().WithField("component", "simulated-gateway")
	}
	if clock == nil {
		clock = domain.NewRealClock()
	}
	return &SimulatedGateway{
		clock:    clock,
		logger:   logger,
		statuses: make(map[string]domain.PaymentStatus),
	}
}

// CreateArtifact регистрирует платёж и возвращает reference и QR-нагрузку.
// Reference детерминированно строится из даты и порядкового номера.
func (g *SimulatedGateway) CreateArtifact(ctx context.Context, paymentID string, amountMinor int64, expiresAt time.Time) (domain.GatewayArtifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.GatewayArtifact{}, err
	}
	if paymentID == "" || amountMinor <= 0 {
		return domain.GatewayArtifact{}, domain.ErrInvalidPaymentAmount
	}

	g.mu.Lock()
	g.seq++
	reference := fmt.Sprintf("PAY-%s-%06d", g.clock.Now().Format("20060102"), g.seq)
	g.statuses[reference] = domain.PaymentStatusPending
	g.mu.Unlock()

	qr := strings.Join([]string{
		"ams://pay",
		"ref=" + reference,
		fmt.Sprintf("amount=%d", amountMinor),
		"expires=" + expiresAt.UTC().Format(time.RFC3339),
	}, "&")

	g.logger.WithFields(log.Fields{
		"payment_id": paymentID,
		"reference":  reference,
	}).Debug("payment registered with gateway")

	return domain.GatewayArtifact{Reference: reference, QRPayload: qr}, nil
}

// CheckStatus возвращает последний известный шлюзу статус платежа.
func (g *SimulatedGateway) CheckStatus(ctx context.Context, externalID string) (domain.PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.statuses[externalID]
	if !ok {
		return "", domain.ErrPaymentNotFound
	}
	return status, nil
}

// SetStatus подменяет статус платежа на стороне симулятора (для тестов
// и ручных сценариев).
func (g *SimulatedGateway) SetStatus(externalID string, status domain.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[externalID] = status
}
