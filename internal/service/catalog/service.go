package catalog

import (
	"context"

	"github.com/vladislavdragonenkov/ams/internal/domain"
)

// Service — реализация CatalogService поверх репозитория каталога.
// Управление деревом категорий и карточками товаров живёт вне ядра;
// здесь только то, что нужно ядру: чтение цены/активности и порог стока.
type Service struct {
	products domain.ProductRepository
}

// NewService создаёт каталог поверх репозитория товаров.
func NewService(products domain.ProductRepository) *Service {
	return &Service{products: products}
}

// GetProduct возвращает товар или ErrProductNotFound.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.products.Get(ctx, id)
}

// SetLowStockThreshold настраивает порог предупреждения о низком стоке.
func (s *Service) SetLowStockThreshold(ctx context.Context, id string, threshold int) error {
	if threshold < 0 {
		threshold = 0
	}
	return s.products.UpdateLowStockThreshold(ctx, id, threshold)
}

var _ domain.CatalogService = (*Service)(nil)
