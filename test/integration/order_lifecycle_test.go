package integration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/ams/internal/domain"
	"github.com/vladislavdragonenkov/ams/internal/service/catalog"
	"github.com/vladislavdragonenkov/ams/internal/service/order"
	"github.com/vladislavdragonenkov/ams/internal/service/payment"
	"github.com/vladislavdragonenkov/ams/internal/service/stock"
	"github.com/vladislavdragonenkov/ams/internal/service/sweeper"
	"github.com/vladislavdragonenkov/ams/internal/storage/memory"
)

// OrderLifecycleTestSuite тестирует полный жизненный цикл покупки:
// заказ, платёж, webhook шлюза, выдача учётных данных, возвраты
// и уборка просроченных резервов.
type OrderLifecycleTestSuite struct {
	suite.Suite
	clock       *domain.FixedClock
	products    domain.ProductRepository
	units       domain.StockUnitRepository
	orders      domain.OrderRepository
	payments    domain.PaymentRepository
	timeline    domain.TimelineRepository
	engine      *stock.Engine
	coordinator *order.Coordinator
	machine     *payment.Machine
	gateway     *payment.SimulatedGateway
	worker      *sweeper.Worker
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	suite.clock = domain.NewFixedClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	suite.products = memory.NewProductRepository()
	suite.units = memory.NewStockUnitRepository()
	suite.orders = memory.NewOrderRepository()
	suite.payments = memory.NewPaymentRepository()
	suite.timeline = memory.NewTimelineRepository()
	outbox := memory.NewOutboxRepository()

	catalogSvc := catalog.NewService(suite.products)
	suite.engine = stock.NewEngineWithoutMetrics(suite.units, suite.clock, logger)

	suite.coordinator = order.NewCoordinatorWithoutMetrics(
		suite.orders,
		suite.units,
		suite.engine,
		catalogSvc,
		outbox,
		suite.timeline,
		suite.clock,
		logger,
	)

	suite.gateway = payment.NewSimulatedGateway(suite.clock, logger)
	suite.machine = payment.NewMachineWithoutMetrics(
		suite.payments,
		suite.coordinator,
		suite.gateway,
		outbox,
		suite.timeline,
		suite.clock,
		logger,
	)

	suite.worker = sweeper.NewWorker(suite.engine, suite.machine, sweeper.WithLogger(logger))
}

// seedProduct создаёт товар и qty единиц к нему.
func (suite *OrderLifecycleTestSuite) seedProduct(id, name string, priceMinor int64, qty int) {
	now := suite.clock.Now()
	err := suite.products.Create(context.Background(), domain.Product{
		ID:         id,
		Name:       name,
		Category:   "game-account",
		Server:     "EU",
		PriceMinor: priceMinor,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	require.NoError(suite.T(), err)

	for i := 0; i < qty; i++ {
		err := suite.units.Create(context.Background(), domain.StockUnit{
			ID:          fmt.Sprintf("%s-unit-%03d", id, i+1),
			ProductID:   id,
			Credentials: fmt.Sprintf("login-%d:secret-%d", i+1, i+1),
			CreatedAt:   now.Add(time.Duration(i) * time.Second),
			UpdatedAt:   now,
		})
		require.NoError(suite.T(), err)
	}
}

func (suite *OrderLifecycleTestSuite) timelineTypes(orderID string) map[string]bool {
	events, err := suite.timeline.List(orderID)
	require.NoError(suite.T(), err)
	types := make(map[string]bool, len(events))
	for _, event := range events {
		types[event.Type] = true
	}
	return types
}

func (suite *OrderLifecycleTestSuite) TestSuccessfulPurchaseLifecycle() {
	ctx := context.Background()
	suite.seedProduct("prod-steam", "Steam Account EU", 150000, 3)

	// 1. Создаём заказ на две единицы
	ord, err := suite.coordinator.CreateOrder(ctx, "user-1", map[string]int{"prod-steam": 2})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPending, ord.Status)
	require.Equal(suite.T(), int64(300000), ord.AmountMinor)
	require.Len(suite.T(), ord.Items, 2)
	require.True(suite.T(), strings.HasPrefix(ord.Number, "ORD-20250310-"))

	// 2. Создаём платёж: заказ двигается в processing, шлюз выдаёт QR
	pay, err := suite.machine.CreatePayment(ctx, ord.ID, domain.PaymentMethodQR, 0)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.PaymentStatusPending, pay.Status)
	require.Equal(suite.T(), int64(300000), pay.AmountMinor)
	require.True(suite.T(), strings.HasPrefix(pay.Reference, "PAY-20250310-"))
	require.NotEmpty(suite.T(), pay.QRPayload)

	current, err := suite.coordinator.GetOrder(ctx, ord.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusProcessing, current.Status)

	// Второй платёж на тот же заказ отклоняется
	_, err = suite.machine.CreatePayment(ctx, ord.ID, domain.PaymentMethodCard, 0)
	require.ErrorIs(suite.T(), err, domain.ErrPaymentExists)

	// 3. Webhook шлюза подтверждает оплату по reference
	err = suite.machine.ProcessWebhook(ctx, pay.Reference, "COMPLETED", `{"code":"00"}`)
	require.NoError(suite.T(), err)

	confirmed, err := suite.machine.GetPayment(ctx, pay.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.PaymentStatusCompleted, confirmed.Status)
	require.Equal(suite.T(), pay.Reference, confirmed.ExternalID)
	require.NotNil(suite.T(), confirmed.PaidAt)

	// 4. Заказ завершён, единицы проданы
	final, err := suite.coordinator.GetOrder(ctx, ord.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusCompleted, final.Status)

	for _, item := range final.Items {
		unit, err := suite.units.Get(ctx, item.StockUnitID)
		require.NoError(suite.T(), err)
		require.True(suite.T(), unit.Sold)
		require.NotNil(suite.T(), unit.SoldAt)
	}

	available, err := suite.engine.AvailableCount(ctx, "prod-steam")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 1, available)

	// 5. Учётные данные достаются только владельцу
	info, err := suite.coordinator.GetOrderDownloadInfo(ctx, ord.ID, "user-1")
	require.NoError(suite.T(), err)
	require.Len(suite.T(), info["Steam Account EU"], 2)

	_, err = suite.coordinator.GetOrderDownloadInfo(ctx, ord.ID, "user-2")
	require.ErrorIs(suite.T(), err, domain.ErrUnauthorized)

	// 6. Timeline содержит ключевые события жизненного цикла
	types := suite.timelineTypes(ord.ID)
	require.True(suite.T(), types["OrderCreated"])
	require.True(suite.T(), types["PaymentCreated"])
	require.True(suite.T(), types["PaymentCompleted"])
	require.True(suite.T(), types["OrderCompleted"])
}

func (suite *OrderLifecycleTestSuite) TestGatewayFailureReleasesStock() {
	ctx := context.Background()
	suite.seedProduct("prod-wow", "WoW Account", 90000, 2)

	ord, err := suite.coordinator.CreateOrder(ctx, "user-7", map[string]int{"prod-wow": 2})
	require.NoError(suite.T(), err)

	pay, err := suite.machine.CreatePayment(ctx, ord.ID, domain.PaymentMethodCard, 0)
	require.NoError(suite.T(), err)

	err = suite.machine.ProcessWebhook(ctx, pay.Reference, "FAILED", "")
	require.NoError(suite.T(), err)

	failed, err := suite.machine.GetPayment(ctx, pay.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.PaymentStatusFailed, failed.Status)
	require.Equal(suite.T(), "gateway reported failure", failed.FailureReason)

	final, err := suite.coordinator.GetOrder(ctx, ord.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusFailed, final.Status)

	// Сток вернулся в продажу: новый заказ на те же единицы проходит
	available, err := suite.engine.AvailableCount(ctx, "prod-wow")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 2, available)

	retry, err := suite.coordinator.CreateOrder(ctx, "user-8", map[string]int{"prod-wow": 2})
	require.NoError(suite.T(), err)
	require.Len(suite.T(), retry.Items, 2)
}

func (suite *OrderLifecycleTestSuite) TestUserCancellationReleasesStock() {
	ctx := context.Background()
	suite.seedProduct("prod-ps", "PSN Account", 50000, 1)

	ord, err := suite.coordinator.CreateOrder(ctx, "user-3", map[string]int{"prod-ps": 1})
	require.NoError(suite.T(), err)

	// Пока резерв держится, второй покупатель остаётся без стока
	_, err = suite.coordinator.CreateOrder(ctx, "user-4", map[string]int{"prod-ps": 1})
	require.ErrorIs(suite.T(), err, domain.ErrOutOfStock)

	// Чужой заказ отменить нельзя
	err = suite.coordinator.CancelOrder(ctx, ord.ID, "user-4", "not mine")
	require.ErrorIs(suite.T(), err, domain.ErrUnauthorized)

	err = suite.coordinator.CancelOrder(ctx, ord.ID, "user-3", "changed my mind")
	require.NoError(suite.T(), err)

	cancelled, err := suite.coordinator.GetOrder(ctx, ord.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusCancelled, cancelled.Status)

	types := suite.timelineTypes(ord.ID)
	require.True(suite.T(), types["OrderCancelled"])

	// Резерв снят, единица снова доступна
	retry, err := suite.coordinator.CreateOrder(ctx, "user-4", map[string]int{"prod-ps": 1})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPending, retry.Status)
}

func (suite *OrderLifecycleTestSuite) TestRefundBounds() {
	ctx := context.Background()
	suite.seedProduct("prod-ea", "EA Account", 120000, 1)

	ord, err := suite.coordinator.CreateOrder(ctx, "user-5", map[string]int{"prod-ea": 1})
	require.NoError(suite.T(), err)

	pay, err := suite.machine.CreatePayment(ctx, ord.ID, domain.PaymentMethodQR, 0)
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.machine.ProcessWebhook(ctx, pay.Reference, "COMPLETED", ""))

	// Возврат больше остатка и нулевой возврат отклоняются
	err = suite.machine.ProcessRefund(ctx, pay.ID, 120001, "over")
	require.ErrorIs(suite.T(), err, domain.ErrRefundExceedsBalance)
	err = suite.machine.ProcessRefund(ctx, pay.ID, 0, "zero")
	require.ErrorIs(suite.T(), err, domain.ErrInvalidPaymentAmount)

	// Частичный возврат переводит платёж в refunded
	err = suite.machine.ProcessRefund(ctx, pay.ID, 40000, "partial compensation")
	require.NoError(suite.T(), err)

	refunded, err := suite.machine.GetPayment(ctx, pay.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.PaymentStatusRefunded, refunded.Status)
	require.Equal(suite.T(), int64(40000), refunded.RefundedMinor)
	require.Equal(suite.T(), int64(80000), refunded.RefundableMinor())

	// Статус заказа возврат не меняет
	final, err := suite.coordinator.GetOrder(ctx, ord.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusCompleted, final.Status)

	// Долив до полной суммы проходит, дальше — нет
	require.NoError(suite.T(), suite.machine.ProcessRefund(ctx, pay.ID, 80000, "full"))
	err = suite.machine.ProcessRefund(ctx, pay.ID, 1, "extra")
	require.ErrorIs(suite.T(), err, domain.ErrRefundExceedsBalance)
}

func (suite *OrderLifecycleTestSuite) TestSweepExpiresStalePayments() {
	ctx := context.Background()
	suite.seedProduct("prod-xbox", "Xbox Account", 70000, 1)

	ord, err := suite.coordinator.CreateOrder(ctx, "user-6", map[string]int{"prod-xbox": 1})
	require.NoError(suite.T(), err)

	pay, err := suite.machine.CreatePayment(ctx, ord.ID, domain.PaymentMethodQR, 10)
	require.NoError(suite.T(), err)

	// До истечения срока уборка ничего не трогает
	released, expired, err := suite.worker.Sweep(ctx)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 0, released)
	require.Equal(suite.T(), 0, expired)

	// Через 11 минут платёж просрочен; вместе с ним падает заказ и резерв
	suite.clock.Advance(11 * time.Minute)

	_, expired, err = suite.worker.Sweep(ctx)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 1, expired)

	failedPay, err := suite.machine.GetPayment(ctx, pay.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.PaymentStatusFailed, failedPay.Status)
	require.Equal(suite.T(), "payment expired", failedPay.FailureReason)

	failedOrder, err := suite.coordinator.GetOrder(ctx, ord.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusFailed, failedOrder.Status)

	available, err := suite.engine.AvailableCount(ctx, "prod-xbox")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 1, available)

	// Повторная уборка идемпотентна
	released, expired, err = suite.worker.Sweep(ctx)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 0, released)
	require.Equal(suite.T(), 0, expired)
}

func TestOrderLifecycle(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
