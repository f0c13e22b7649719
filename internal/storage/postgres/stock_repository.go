package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ams/internal/domain"
)

const opTimeout = 5 * time.Second

// Доступность единицы везде проверяется одним предикатом: не продана
// и резерв отсутствует либо истёк.
type stockUnitRepository struct {
	db *sql.DB
}

// NewStockUnitRepository создаёт PostgreSQL-реализацию StockUnitRepository.
func NewStockUnitRepository(store *Store) domain.StockUnitRepository {
	return &stockUnitRepository{db: store.DB()}
}

func (r *stockUnitRepository) Create(ctx context.Context, unit domain.StockUnit) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(opCtx, `
		INSERT INTO stock_units (
			id, product_id, credentials, notes, sold, sold_at, reserved_until, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		unit.ID, unit.ProductID, unit.Credentials, unit.Notes,
		unit.Sold, unit.SoldAt, unit.ReservedUntil, unit.CreatedAt, unit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock unit: %w", err)
	}
	return nil
}

func (r *stockUnitRepository) Get(ctx context.Context, id string) (domain.StockUnit, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var unit domain.StockUnit
	err := r.db.QueryRowContext(opCtx, `
		SELECT id, product_id, credentials, notes, sold, sold_at, reserved_until, created_at, updated_at
		FROM stock_units
		WHERE id = $1
	`, id).Scan(
		&unit.ID, &unit.ProductID, &unit.Credentials, &unit.Notes,
		&unit.Sold, &unit.SoldAt, &unit.ReservedUntil, &unit.CreatedAt, &unit.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockUnit{}, domain.ErrStockUnitNotFound
		}
		return domain.StockUnit{}, fmt.Errorf("select stock unit: %w", err)
	}
	return unit, nil
}

func (r *stockUnitRepository) CountAvailable(ctx context.Context, productID string, now time.Time) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(opCtx, `
		SELECT COUNT(*)
		FROM stock_units
		WHERE product_id = $1
		  AND sold = FALSE
		  AND (reserved_until IS NULL OR reserved_until < $2)
	`, productID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count available stock units: %w", err)
	}
	return count, nil
}

// ReserveAvailable атомарно забирает qty доступных единиц товара.
// Кандидаты блокируются через SELECT ... FOR UPDATE SKIP LOCKED, поэтому
// конкурентные вызовы не пересекаются по единицам; нехватка в рамках
// транзакции означает откат без частичного резерва.
func (r *stockUnitRepository) ReserveAvailable(ctx context.Context, productID string, qty int, until, now time.Time) ([]domain.StockUnit, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reserve tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(opCtx, `
		SELECT id, product_id, credentials, notes, sold, sold_at, reserved_until, created_at, updated_at
		FROM stock_units
		WHERE product_id = $1
		  AND sold = FALSE
		  AND (reserved_until IS NULL OR reserved_until < $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, productID, now, qty)
	if err != nil {
		return nil, fmt.Errorf("select available stock units: %w", err)
	}

	units := make([]domain.StockUnit, 0, qty)
	for rows.Next() {
		var unit domain.StockUnit
		if err = rows.Scan(
			&unit.ID, &unit.ProductID, &unit.Credentials, &unit.Notes,
			&unit.Sold, &unit.SoldAt, &unit.ReservedUntil, &unit.CreatedAt, &unit.UpdatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stock unit: %w", err)
		}
		units = append(units, unit)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate stock units: %w", err)
	}
	rows.Close()

	if len(units) < qty {
		err = domain.ErrOutOfStock
		return nil, err
	}

	for i := range units {
		if _, err = tx.ExecContext(opCtx, `
			UPDATE stock_units
			SET reserved_until = $2,
			    updated_at = $3
			WHERE id = $1
		`, units[i].ID, until, now); err != nil {
			return nil, fmt.Errorf("reserve stock unit %s: %w", units[i].ID, err)
		}
		reservedUntil := until
		units[i].ReservedUntil = &reservedUntil
		units[i].UpdatedAt = now
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reserve tx: %w", err)
	}

	return units, nil
}

func (r *stockUnitRepository) Release(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Проданные и уже свободные единицы пропускаются.
	res, err := r.db.ExecContext(opCtx, `
		UPDATE stock_units
		SET reserved_until = NULL,
		    updated_at = NOW()
		WHERE id = ANY($1)
		  AND sold = FALSE
		  AND reserved_until IS NOT NULL
	`, ids)
	if err != nil {
		return 0, fmt.Errorf("release stock units: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for release: %w", err)
	}
	return int(affected), nil
}

func (r *stockUnitRepository) MarkSold(ctx context.Context, id string, at time.Time) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(opCtx, `
		UPDATE stock_units
		SET sold = TRUE,
		    sold_at = $2,
		    reserved_until = NULL,
		    updated_at = $2
		WHERE id = $1
		  AND sold = FALSE
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark stock unit sold: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for mark sold: %w", err)
	}
	if affected == 0 {
		var sold bool
		scanErr := r.db.QueryRowContext(opCtx, `SELECT sold FROM stock_units WHERE id = $1`, id).Scan(&sold)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return domain.ErrStockUnitNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("check stock unit state: %w", scanErr)
		}
		if sold {
			return domain.ErrStockUnitSold
		}
		return domain.ErrStockReservationFailed
	}
	return nil
}

func (r *stockUnitRepository) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(opCtx, `
		UPDATE stock_units
		SET reserved_until = NULL,
		    updated_at = $1
		WHERE sold = FALSE
		  AND reserved_until IS NOT NULL
		  AND reserved_until < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("release expired reservations: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for release expired: %w", err)
	}
	return int(affected), nil
}

func (r *stockUnitRepository) Delete(ctx context.Context, id string, now time.Time) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(opCtx, `
		DELETE FROM stock_units
		WHERE id = $1
		  AND sold = FALSE
		  AND (reserved_until IS NULL OR reserved_until < $2)
	`, id, now)
	if err != nil {
		return fmt.Errorf("delete stock unit: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for delete: %w", err)
	}
	if affected == 0 {
		var (
			sold          bool
			reservedUntil sql.NullTime
		)
		scanErr := r.db.QueryRowContext(opCtx, `
			SELECT sold, reserved_until FROM stock_units WHERE id = $1
		`, id).Scan(&sold, &reservedUntil)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return domain.ErrStockUnitNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("check stock unit state: %w", scanErr)
		}
		if sold {
			return domain.ErrStockUnitSold
		}
		return domain.ErrStockReservationFailed
	}
	return nil
}

var _ domain.StockUnitRepository = (*stockUnitRepository)(nil)
