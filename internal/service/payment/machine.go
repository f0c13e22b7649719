package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ams/internal/domain"
	"github.com/vladislavdragonenkov/ams/internal/metrics"
)

const (
	// DefaultExpirationMinutes — срок жизни неоплаченного платежа.
	DefaultExpirationMinutes = 15

	statusSaveMaxRetries = 3
	statusSaveBaseDelay  = 10 * time.Millisecond

	expiredPaymentsBatch = 100
)

// OrderService — часть координатора заказов, нужная платёжной машине
// для пропагации статусов.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	MarkAsProcessing(ctx context.Context, orderID string) error
	MarkAsCompleted(ctx context.Context, orderID string) error
	MarkAsFailed(ctx context.Context, orderID, reason string) error
	Cancel(ctx context.Context, orderID, reason string) error
}

// Machine реализует машину состояний платежа и сверку webhook-уведомлений
// шлюза с внутренним статусом.
type Machine struct {
	payments domain.PaymentRepository
	orders   OrderService
	gateway  domain.PaymentGateway
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	clock    domain.Clock
	logger   *log.Entry
	metrics  *metrics.LifecycleMetrics
}

// NewMachine создаёт рабочую платёжную машину.
func NewMachine(
	payments domain.PaymentRepository,
	orders OrderService,
	gateway domain.PaymentGateway,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	clock domain.Clock,
	logger *log.Entry,
) *Machine {
	if logger == nil {
		logger = log.New().WithField("component", "payment-machine")
	}
	if clock == nil {
		clock = domain.NewRealClock()
	}
	return &Machine{
		payments: payments,
		orders:   orders,
		gateway:  gateway,
		outbox:   outbox,
		timeline: timeline,
		clock:    clock,
		logger:   logger,
		metrics:  metrics.NewLifecycleMetrics(),
	}
}

// NewMachineWithoutMetrics создаёт машину без метрик (для тестов).
func NewMachineWithoutMetrics(
	payments domain.PaymentRepository,
	orders OrderService,
	gateway domain.PaymentGateway,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	clock domain.Clock,
	logger *log.Entry,
) *Machine {
	m := NewMachine(payments, orders, gateway, outbox, timeline, clock, logger)
	m.metrics = nil
	return m
}

// CreatePayment создаёт платёж под заказ. Сумма копируется из заказа,
// QR и reference выдаёт шлюз. Второй платёж на заказ отклоняется.
func (m *Machine) CreatePayment(ctx context.Context, orderID string, method domain.PaymentMethod, expirationMinutes int) (domain.Payment, error) {
	if !method.Supported() {
		return domain.Payment{}, domain.ErrUnsupportedPaymentMethod
	}
	if expirationMinutes <= 0 {
		expirationMinutes = DefaultExpirationMinutes
	}

	order, err := m.orders.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Payment{}, err
	}
	if order.Status.Terminal() {
		return domain.Payment{}, domain.ErrInvalidOrderStatus
	}
	if order.AmountMinor <= 0 {
		return domain.Payment{}, domain.ErrInvalidPaymentAmount
	}

	if _, err := m.payments.GetByOrderID(ctx, orderID); err == nil {
		return domain.Payment{}, domain.ErrPaymentExists
	} else if !errors.Is(err, domain.ErrPaymentNotFound) {
		return domain.Payment{}, err
	}

	now := m.clock.Now()
	payment := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Method:      method,
		Status:      domain.PaymentStatusPending,
		AmountMinor: order.AmountMinor,
		ExpiresAt:   now.Add(time.Duration(expirationMinutes) * time.Minute),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	artifact, err := m.gateway.CreateArtifact(ctx, payment.ID, payment.AmountMinor, payment.ExpiresAt)
	if err != nil {
		m.logger.WithError(err).WithField("order_id", orderID).Error("gateway rejected payment registration")
		return domain.Payment{}, fmt.Errorf("%w: %v", domain.ErrPaymentGateway, err)
	}
	payment.Reference = artifact.Reference
	payment.QRPayload = artifact.QRPayload

	if errs := payment.Validate(); len(errs) > 0 {
		return domain.Payment{}, errs[0]
	}

	if err := m.payments.Create(ctx, payment); err != nil {
		return domain.Payment{}, err
	}

	// Заказ из pending двигается в processing; из processing остаётся на месте.
	if order.Status == domain.OrderStatusPending {
		if err := m.orders.MarkAsProcessing(ctx, orderID); err != nil {
			m.logger.WithError(err).WithField("order_id", orderID).Warn("failed to advance order to processing")
		}
	}

	if m.metrics != nil {
		m.metrics.RecordPaymentCreated()
	}
	m.emitEvent(&payment, "PaymentCreated", map[string]interface{}{
		"method":       string(payment.Method),
		"amount_minor": payment.AmountMinor,
		"reference":    payment.Reference,
		"expires_at":   payment.ExpiresAt.Format(time.RFC3339),
	})

	return payment, nil
}

// GetPayment возвращает платёж по идентификатору.
func (m *Machine) GetPayment(ctx context.Context, paymentID string) (domain.Payment, error) {
	return m.payments.Get(ctx, paymentID)
}

// GetPaymentByOrderID возвращает платёж заказа.
func (m *Machine) GetPaymentByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	return m.payments.GetByOrderID(ctx, orderID)
}

// MarkAsProcessing фиксирует начало обработки на стороне шлюза.
func (m *Machine) MarkAsProcessing(ctx context.Context, paymentID, gatewayResponse string) error {
	payment, err := m.payments.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.Status == domain.PaymentStatusProcessing {
		return nil
	}
	if !payment.Status.CanTransition(domain.PaymentStatusProcessing) {
		return domain.ErrInvalidPaymentStatus
	}

	payment.GatewayResponse = gatewayResponse
	return m.saveStatus(ctx, &payment, domain.PaymentStatusProcessing)
}

// MarkAsCompleted подтверждает оплату. Сначала фиксируется платёж, затем
// завершается заказ; сбой завершения заказа не откатывает платёж и
// возвращается как ErrOrderFinalizeFailed для последующей сверки.
func (m *Machine) MarkAsCompleted(ctx context.Context, paymentID, transactionID, gatewayResponse string) error {
	payment, err := m.payments.Get(ctx, paymentID)
	if err != nil {
		return err
	}

	// Completed достижим только из processing: прямое подтверждение
	// pending-платежа сначала проводится через processing.
	if payment.Status == domain.PaymentStatusPending {
		if err := m.saveStatus(ctx, &payment, domain.PaymentStatusProcessing); err != nil {
			return err
		}
	}
	if !payment.Status.CanTransition(domain.PaymentStatusCompleted) {
		return domain.ErrInvalidPaymentStatus
	}

	now := m.clock.Now()
	payment.ExternalID = transactionID
	payment.GatewayResponse = gatewayResponse
	payment.PaidAt = &now

	if err := m.saveStatus(ctx, &payment, domain.PaymentStatusCompleted); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordPaymentCompleted()
	}
	m.emitEvent(&payment, "PaymentCompleted", map[string]interface{}{
		"transaction_id": transactionID,
		"amount_minor":   payment.AmountMinor,
	})

	if err := m.orders.MarkAsCompleted(ctx, payment.OrderID); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"payment_id": payment.ID,
			"order_id":   payment.OrderID,
		}).Error("payment completed but order finalization failed")
		return fmt.Errorf("%w: %v", domain.ErrOrderFinalizeFailed, err)
	}
	return nil
}

// MarkAsFailed переводит платёж в failed и best-effort роняет заказ.
func (m *Machine) MarkAsFailed(ctx context.Context, paymentID, reason string) error {
	payment, err := m.payments.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.Status == domain.PaymentStatusFailed {
		return nil
	}
	if !payment.Status.CanTransition(domain.PaymentStatusFailed) {
		return domain.ErrInvalidPaymentStatus
	}

	payment.FailureReason = reason
	if err := m.saveStatus(ctx, &payment, domain.PaymentStatusFailed); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordPaymentFailed()
	}
	m.emitEvent(&payment, "PaymentFailed", map[string]interface{}{"reason": reason})

	if err := m.orders.MarkAsFailed(ctx, payment.OrderID, reason); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"payment_id": payment.ID,
			"order_id":   payment.OrderID,
		}).Warn("failed to propagate payment failure to order")
	}
	return nil
}

// CancelPayment отменяет неподтверждённый платёж и best-effort отменяет заказ.
func (m *Machine) CancelPayment(ctx context.Context, paymentID, reason string) error {
	payment, err := m.payments.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.Status == domain.PaymentStatusCancelled {
		return nil
	}
	if !payment.Status.CanTransition(domain.PaymentStatusCancelled) {
		return domain.ErrInvalidPaymentStatus
	}

	payment.FailureReason = reason
	if err := m.saveStatus(ctx, &payment, domain.PaymentStatusCancelled); err != nil {
		return err
	}
	m.emitEvent(&payment, "PaymentCancelled", map[string]interface{}{"reason": reason})

	if err := m.orders.Cancel(ctx, payment.OrderID, reason); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"payment_id": payment.ID,
			"order_id":   payment.OrderID,
		}).Warn("failed to propagate payment cancellation to order")
	}
	return nil
}

// ProcessRefund возвращает средства по завершённому платежу. Сумма возврата
// накапливается и не может превысить сумму платежа; статус заказа возврат
// не меняет.
func (m *Machine) ProcessRefund(ctx context.Context, paymentID string, amountMinor int64, reason string) error {
	if amountMinor <= 0 {
		return domain.ErrInvalidPaymentAmount
	}

	payment, err := m.payments.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	switch payment.Status {
	case domain.PaymentStatusCompleted, domain.PaymentStatusRefunded:
	default:
		return domain.ErrInvalidPaymentStatus
	}
	if amountMinor > payment.RefundableMinor() {
		return domain.ErrRefundExceedsBalance
	}

	payment.RefundedMinor += amountMinor
	payment.FailureReason = reason

	// Статус меняется один раз при первом возврате; частичные доливы
	// сохраняются без перехода.
	if payment.Status == domain.PaymentStatusCompleted {
		if err := m.saveStatus(ctx, &payment, domain.PaymentStatusRefunded); err != nil {
			return err
		}
	} else {
		payment.UpdatedAt = m.clock.Now()
		if err := m.payments.Save(ctx, payment); err != nil {
			return err
		}
	}

	if m.metrics != nil {
		m.metrics.RecordPaymentRefunded()
	}
	m.emitEvent(&payment, "PaymentRefunded", map[string]interface{}{
		"amount_minor":   amountMinor,
		"refunded_minor": payment.RefundedMinor,
		"reason":         reason,
	})
	return nil
}

// ProcessWebhook сверяет уведомление шлюза с платежом. Платёж ищется сначала
// по идентификатору транзакции, затем по платёжному номеру (reference).
func (m *Machine) ProcessWebhook(ctx context.Context, externalID, statusToken, gatewayResponse string) error {
	if externalID == "" {
		return fmt.Errorf("%w: empty external id", domain.ErrWebhookProcessing)
	}

	payment, err := m.payments.FindByExternalID(ctx, externalID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		payment, err = m.payments.FindByReference(ctx, externalID)
	}
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordWebhookError()
		}
		m.logger.WithError(err).WithField("external_id", externalID).Warn("webhook for unknown payment")
		return fmt.Errorf("%w: %v", domain.ErrWebhookProcessing, err)
	}

	switch strings.ToUpper(strings.TrimSpace(statusToken)) {
	case "COMPLETED", "SUCCESS", "PAID":
		// Повторная доставка webhook по уже подтверждённой транзакции
		// поглощается без изменений состояния.
		if payment.Status == domain.PaymentStatusCompleted && payment.ExternalID == externalID {
			return nil
		}
		return m.MarkAsCompleted(ctx, payment.ID, externalID, gatewayResponse)
	case "FAILED", "FAILURE", "ERROR":
		return m.MarkAsFailed(ctx, payment.ID, "gateway reported failure")
	case "CANCELLED", "CANCELED":
		return m.CancelPayment(ctx, payment.ID, "cancelled by gateway")
	case "PROCESSING", "PENDING":
		return m.MarkAsProcessing(ctx, payment.ID, gatewayResponse)
	default:
		if m.metrics != nil {
			m.metrics.RecordWebhookError()
		}
		m.logger.WithFields(log.Fields{
			"payment_id": payment.ID,
			"token":      statusToken,
		}).Warn("webhook with unknown status token")
		return fmt.Errorf("%w: unknown status token %q", domain.ErrWebhookProcessing, statusToken)
	}
}

// ProcessExpiredPayments переводит все просроченные pending/processing платежи
// в failed, выбирая их партиями до полного опустошения. Возвращает число
// обработанных платежей.
func (m *Machine) ProcessExpiredPayments(ctx context.Context) (int, error) {
	now := m.clock.Now()

	processed := 0
	for {
		expired, err := m.payments.ListExpired(ctx, now, expiredPaymentsBatch)
		if err != nil {
			return processed, err
		}
		if len(expired) == 0 {
			break
		}

		failed := 0
		for _, payment := range expired {
			if err := ctx.Err(); err != nil {
				return processed, err
			}
			if err := m.MarkAsFailed(ctx, payment.ID, "payment expired"); err != nil {
				m.logger.WithError(err).WithField("payment_id", payment.ID).Warn("failed to expire payment")
				failed++
				continue
			}
			processed++
		}

		// Незакрытый платёж вернётся в следующей выборке; партия без
		// единого успеха обрывает цикл, иначе он не сойдётся.
		if failed == len(expired) {
			break
		}
		if len(expired) < expiredPaymentsBatch {
			break
		}
	}

	if processed > 0 {
		m.logger.WithField("count", processed).Info("expired payments processed")
	}
	return processed, nil
}

// saveStatus меняет статус платежа с retry на конфликт версий.
func (m *Machine) saveStatus(ctx context.Context, payment *domain.Payment, to domain.PaymentStatus) error {
	for attempt := 0; attempt < statusSaveMaxRetries; attempt++ {
		if !payment.Status.CanTransition(to) {
			return domain.ErrInvalidPaymentStatus
		}

		payment.Status = to
		payment.UpdatedAt = m.clock.Now()
		prevVersion := payment.Version

		err := m.payments.Save(ctx, *payment)
		if err == nil {
			payment.Version = prevVersion + 1
			return nil
		}

		if domain.IsVersionConflict(err) && attempt < statusSaveMaxRetries-1 {
			fresh, loadErr := m.payments.Get(ctx, payment.ID)
			if loadErr != nil {
				return loadErr
			}
			refunded := payment.RefundedMinor
			external := payment.ExternalID
			response := payment.GatewayResponse
			failure := payment.FailureReason
			paidAt := payment.PaidAt

			*payment = fresh
			payment.RefundedMinor = refunded
			payment.ExternalID = external
			payment.GatewayResponse = response
			payment.FailureReason = failure
			payment.PaidAt = paidAt

			time.Sleep(statusSaveBaseDelay * time.Duration(1<<uint(attempt)))
			continue
		}

		m.logger.WithError(err).WithFields(log.Fields{
			"payment_id": payment.ID,
			"status":     to,
		}).Error("failed to persist payment status")
		return err
	}

	return domain.ErrVersionConflict
}

func (m *Machine) emitEvent(payment *domain.Payment, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["payment_id"] = payment.ID
	payload["order_id"] = payment.OrderID
	payload["ts"] = m.clock.Now().Format(time.RFC3339Nano)

	if m.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"payment_id": payment.ID,
				"event":      eventType,
			}).Error("marshal event failed")
			return
		}
		msg := domain.OutboxMessage{
			AggregateType: "payment",
			AggregateID:   payment.ID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := m.outbox.Enqueue(msg); err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"payment_id": payment.ID,
				"event":      eventType,
			}).Error("enqueue event failed")
		} else if m.metrics != nil {
			m.metrics.RecordOutboxEvent()
		}
	}

	if m.timeline == nil {
		return
	}
	var reason string
	if r, ok := payload["reason"].(string); ok {
		reason = r
	}
	event := domain.TimelineEvent{
		OrderID:  payment.OrderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: m.clock.Now(),
	}
	if err := m.timeline.Append(event); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"payment_id": payment.ID,
			"event":      eventType,
		}).Warn("append timeline event failed")
	} else if m.metrics != nil {
		m.metrics.RecordTimelineEvent()
	}
}
