package domain

import "time"

// StockUnitState — вычисляемое состояние единицы товара.
type StockUnitState string

const (
	// StockUnitAvailable — единица свободна и может быть зарезервирована.
	StockUnitAvailable StockUnitState = "available"
	// StockUnitReserved — единица удержана до ReservedUntil.
	StockUnitReserved StockUnitState = "reserved"
	// StockUnitSold — единица продана; состояние терминальное.
	StockUnitSold StockUnitState = "sold"
)

// StockUnit — одна неделимая единица товара с уникальными учётными данными
// (например, логин/пароль игрового аккаунта).
type StockUnit struct {
	ID        string
	ProductID string
	// Credentials — непрозрачный payload, который получает покупатель
	// после завершения заказа.
	Credentials string
	Notes       string
	Sold        bool
	SoldAt      *time.Time
	// ReservedUntil — мягкий lease: по истечении срок резерв снимается sweeper'ом.
	ReservedUntil *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Available проверяет доступность единицы на момент now.
// Группировка предиката зафиксирована: sold = false AND
// (reserved_until IS NULL OR reserved_until < now).
func (u *StockUnit) Available(now time.Time) bool {
	if u.Sold {
		return false
	}
	return u.ReservedUntil == nil || u.ReservedUntil.Before(now)
}

// State возвращает состояние единицы на момент now.
func (u *StockUnit) State(now time.Time) StockUnitState {
	switch {
	case u.Sold:
		return StockUnitSold
	case u.ReservedUntil != nil && !u.ReservedUntil.Before(now):
		return StockUnitReserved
	default:
		return StockUnitAvailable
	}
}

// Validate проверяет корректность ключевых полей единицы товара.
func (u *StockUnit) Validate() []error {
	var errs []error

	if u.ProductID == "" {
		errs = append(errs, ErrProductNotFound)
	}
	if u.Credentials == "" {
		errs = append(errs, ErrStockUnitNotFound)
	}

	return errs
}

// Product — запись каталога, владеющая единицами товара.
type Product struct {
	ID       string
	Name     string
	Category string
	// Server — игровой сервер/регион, к которому привязаны аккаунты товара.
	Server     string
	PriceMinor int64
	Active     bool
	// LowStockThreshold используется только для предупреждений, не для корректности.
	LowStockThreshold int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
