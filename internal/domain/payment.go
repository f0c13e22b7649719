package domain

import "time"

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж создан, QR выдан, подтверждения нет.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing — шлюз сообщил о начале обработки.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusCompleted — деньги получены; допускает только возврат.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed — шлюз отклонил платёж или истёк срок оплаты.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCancelled — платёж отменён до подтверждения.
	PaymentStatusCancelled PaymentStatus = "cancelled"
	// PaymentStatusRefunded — средства возвращены полностью или частично.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// paymentTransitions — единственная таблица допустимых переходов статуса платежа.
// Completed достижим только из processing и не терминален: из него возможен
// переход в refunded.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusCompleted:  {PaymentStatusRefunded},
}

// CanTransition проверяет допустимость перехода по таблице paymentTransitions.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal сообщает, что из статуса нет исходящих переходов.
func (s PaymentStatus) Terminal() bool {
	return len(paymentTransitions[s]) == 0
}

// PaymentMethod — поддерживаемые способы оплаты.
type PaymentMethod string

const (
	PaymentMethodQR   PaymentMethod = "qr"
	PaymentMethodCard PaymentMethod = "card"
)

// Supported проверяет, что метод оплаты известен системе.
func (m PaymentMethod) Supported() bool {
	switch m {
	case PaymentMethodQR, PaymentMethodCard:
		return true
	default:
		return false
	}
}

// Payment — платёж, связанный с заказом один-к-одному.
type Payment struct {
	ID      string
	OrderID string
	Method  PaymentMethod
	Status  PaymentStatus
	// AmountMinor копируется из суммы заказа при создании.
	AmountMinor int64
	// RefundedMinor не может превышать AmountMinor.
	RefundedMinor int64
	// ExternalID — идентификатор транзакции на стороне шлюза.
	ExternalID string
	// Reference — наш номер платежа, передаётся шлюзу и печатается в QR.
	Reference string
	// QRPayload — артефакт шлюза для отображения покупателю.
	QRPayload string
	// GatewayResponse — сырой диагностический ответ шлюза.
	GatewayResponse string
	FailureReason   string
	ExpiresAt       time.Time
	PaidAt          *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RefundableMinor возвращает остаток, доступный к возврату.
func (p *Payment) RefundableMinor() int64 {
	return p.AmountMinor - p.RefundedMinor
}

// Expired проверяет, истёк ли срок оплаты на момент now.
func (p *Payment) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now)
}

// Validate проверяет корректность полей платежа.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderNotFound)
	}
	if !p.Method.Supported() {
		errs = append(errs, ErrUnsupportedPaymentMethod)
	}
	if p.AmountMinor <= 0 {
		errs = append(errs, ErrInvalidPaymentAmount)
	}
	if p.RefundedMinor < 0 || p.RefundedMinor > p.AmountMinor {
		errs = append(errs, ErrRefundExceedsBalance)
	}

	return errs
}
