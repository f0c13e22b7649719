package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ams/internal/domain"
	"github.com/vladislavdragonenkov/ams/internal/service/catalog"
	"github.com/vladislavdragonenkov/ams/internal/service/order"
	"github.com/vladislavdragonenkov/ams/internal/service/payment"
	"github.com/vladislavdragonenkov/ams/internal/service/stock"
	"github.com/vladislavdragonenkov/ams/internal/storage/memory"
	"github.com/vladislavdragonenkov/ams/internal/storage/postgres"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Products domain.ProductRepository
	Units    domain.StockUnitRepository
	Orders   domain.OrderRepository
	Payments domain.PaymentRepository
	Outbox   domain.OutboxRepository
	Timeline domain.TimelineRepository

	Catalog     *catalog.Service
	Engine      *stock.Engine
	Coordinator *order.Coordinator
	Machine     *payment.Machine
	Gateway     *payment.SimulatedGateway

	Store  *postgres.Store
	Clock  domain.Clock
	Logger *log.Entry
}

// NewDependencies создаёт и инициализирует все зависимости приложения.
// При пустом dsn используется in-memory хранилище, иначе PostgreSQL
// (схема мигрируется при старте).
func NewDependencies(ctx context.Context, dsn string, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Clock:  domain.NewRealClock(),
		Logger: logger,
	}

	if dsn == "" {
		logger.Info("postgres dsn is empty, using in-memory storage")
		deps.Products = memory.NewProductRepository()
		deps.Units = memory.NewStockUnitRepository()
		deps.Orders = memory.NewOrderRepository()
		deps.Payments = memory.NewPaymentRepository()
		deps.Outbox = memory.NewOutboxRepository()
		deps.Timeline = memory.NewTimelineRepository()
	} else {
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
		logger.Info("postgres storage initialized")

		deps.Store = store
		deps.Products = postgres.NewProductRepository(store)
		deps.Units = postgres.NewStockUnitRepository(store)
		deps.Orders = postgres.NewOrderRepository(store)
		deps.Payments = postgres.NewPaymentRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		deps.Timeline = postgres.NewTimelineRepository(store)
	}

	deps.Catalog = catalog.NewService(deps.Products)
	deps.Engine = stock.NewEngine(deps.Units, deps.Clock, logger.WithField("component", "stock-engine"))
	deps.Coordinator = order.NewCoordinator(
		deps.Orders,
		deps.Units,
		deps.Engine,
		deps.Catalog,
		deps.Outbox,
		deps.Timeline,
		deps.Clock,
		logger.WithField("component", "order-coordinator"),
	)
	deps.Gateway = payment.NewSimulatedGateway(deps.Clock, logger.WithField("component", "payment-gateway"))
	deps.Machine = payment.NewMachine(
		deps.Payments,
		deps.Coordinator,
		deps.Gateway,
		deps.Outbox,
		deps.Timeline,
		deps.Clock,
		logger.WithField("component", "payment-machine"),
	)

	return deps, nil
}

// Close освобождает ресурсы зависимостей.
func (d *Dependencies) Close() error {
	if d.Store != nil {
		return d.Store.Close()
	}
	return nil
}
