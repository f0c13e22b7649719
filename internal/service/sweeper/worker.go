package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const defaultSweepInterval = time.Minute

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ams_sweeper_runs_total",
		Help: "Total number of sweeper runs grouped by result.",
	}, []string{"result"})
	sweepReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ams_sweeper_released_units_total",
		Help: "Total number of stock units released by the sweeper.",
	})
	sweepExpiredPaymentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ams_sweeper_expired_payments_total",
		Help: "Total number of payments expired by the sweeper.",
	})
	sweepLastReleased = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ams_sweeper_last_released_units",
		Help: "Number of stock units released during the last sweep.",
	})
)

// StockSweeper снимает просроченные резервы стока.
type StockSweeper interface {
	CleanupExpiredReservations(ctx context.Context) (int, error)
}

// PaymentSweeper переводит просроченные платежи в failed.
type PaymentSweeper interface {
	ProcessExpiredPayments(ctx context.Context) (int, error)
}

// Options задаёт параметры воркера фоновой уборки.
type Options struct {
	Logger   *log.Entry
	Interval time.Duration
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между циклами уборки.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// Worker периодически снимает просроченные резервы стока и
// закрывает просроченные платежи.
type Worker struct {
	stock    StockSweeper
	payments PaymentSweeper
	logger   *log.Entry
	interval time.Duration
}

// NewWorker создаёт воркер уборки. Любая из зависимостей может быть nil:
// соответствующий шаг цикла тогда пропускается.
func NewWorker(stock StockSweeper, payments PaymentSweeper, options ...Option) *Worker {
	opts := Options{
		Interval: defaultSweepInterval,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sweeper")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}

	return &Worker{
		stock:    stock,
		payments: payments,
		logger:   logger,
		interval: opts.Interval,
	}
}

// Run запускает периодическую уборку до отмены ctx. Первый цикл
// выполняется сразу при старте.
func (w *Worker) Run(ctx context.Context) {
	if w.stock == nil && w.payments == nil {
		w.logger.Warn("sweeper is disabled: nothing to sweep")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Sweep выполняет один цикл уборки и возвращает число снятых резервов
// и закрытых платежей.
func (w *Worker) Sweep(ctx context.Context) (released, expired int, err error) {
	if w.stock != nil {
		released, err = w.stock.CleanupExpiredReservations(ctx)
		if err != nil {
			return released, 0, err
		}
	}
	if w.payments != nil {
		expired, err = w.payments.ProcessExpiredPayments(ctx)
		if err != nil {
			return released, expired, err
		}
	}
	return released, expired, nil
}

func (w *Worker) sweep(ctx context.Context) {
	released, expired, err := w.Sweep(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("sweep run failed")
		return
	}

	sweepRunsTotal.WithLabelValues("ok").Inc()
	sweepLastReleased.Set(float64(released))
	if released > 0 {
		sweepReleasedTotal.Add(float64(released))
	}
	if expired > 0 {
		sweepExpiredPaymentsTotal.Add(float64(expired))
	}
	if released > 0 || expired > 0 {
		w.logger.WithFields(log.Fields{
			"released_units":   released,
			"expired_payments": expired,
		}).Info("sweep completed")
	}
}
