package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ams/internal/domain"
)

const paymentColumns = `
	id, order_id, method, status, amount_minor, refunded_minor,
	external_id, reference, qr_payload, gateway_response, failure_reason,
	expires_at, paid_at, version, created_at, updated_at
`

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

func (r *paymentRepository) Create(ctx context.Context, payment domain.Payment) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(opCtx, `
		INSERT INTO payments (
			id, order_id, method, status, amount_minor, refunded_minor,
			external_id, reference, qr_payload, gateway_response, failure_reason,
			expires_at, paid_at, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		payment.ID, payment.OrderID, string(payment.Method), string(payment.Status),
		payment.AmountMinor, payment.RefundedMinor,
		payment.ExternalID, payment.Reference, payment.QRPayload,
		payment.GatewayResponse, payment.FailureReason,
		nullableTime(payment.ExpiresAt), payment.PaidAt,
		payment.Version, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		// Уникальный индекс по order_id гарантирует один платёж на заказ.
		if isUniqueViolation(err) {
			return domain.ErrPaymentExists
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (domain.Payment, error) {
	return r.getBy(ctx, `WHERE id = $1`, id)
}

func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.getBy(ctx, `WHERE order_id = $1`, orderID)
}

func (r *paymentRepository) FindByExternalID(ctx context.Context, externalID string) (domain.Payment, error) {
	if externalID == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.getBy(ctx, `WHERE external_id = $1`, externalID)
}

func (r *paymentRepository) FindByReference(ctx context.Context, reference string) (domain.Payment, error) {
	if reference == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.getBy(ctx, `WHERE reference = $1`, reference)
}

func (r *paymentRepository) Save(ctx context.Context, payment domain.Payment) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(opCtx, `
		UPDATE payments
		SET status = $1,
		    refunded_minor = $2,
		    external_id = $3,
		    gateway_response = $4,
		    failure_reason = $5,
		    paid_at = $6,
		    version = version + 1,
		    updated_at = $7
		WHERE id = $8
		  AND version = $9
	`,
		string(payment.Status),
		payment.RefundedMinor,
		payment.ExternalID,
		payment.GatewayResponse,
		payment.FailureReason,
		payment.PaidAt,
		payment.UpdatedAt,
		payment.ID,
		payment.Version,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.paymentExists(opCtx, payment.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrPaymentNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func (r *paymentRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(opCtx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status IN ('pending', 'processing')
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		ORDER BY expires_at ASC, id ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, limit)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired payments: %w", err)
	}

	return payments, nil
}

func (r *paymentRepository) getBy(ctx context.Context, where string, arg string) (domain.Payment, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(opCtx, `SELECT `+paymentColumns+` FROM payments `+where, arg)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, err
	}
	return payment, nil
}

func (r *paymentRepository) paymentExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM payments WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check payment exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		payment   domain.Payment
		method    string
		status    string
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&payment.ID, &payment.OrderID, &method, &status,
		&payment.AmountMinor, &payment.RefundedMinor,
		&payment.ExternalID, &payment.Reference, &payment.QRPayload,
		&payment.GatewayResponse, &payment.FailureReason,
		&expiresAt, &payment.PaidAt,
		&payment.Version, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, err
		}
		return domain.Payment{}, fmt.Errorf("scan payment: %w", err)
	}
	payment.Method = domain.PaymentMethod(method)
	payment.Status = domain.PaymentStatus(status)
	if expiresAt.Valid {
		payment.ExpiresAt = expiresAt.Time
	}
	return payment, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
