package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersCreated counts checkout results by outcome (fulfilled, deferred, rejected)
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "orders_created_total",
		Help:      "Customer orders created, by fulfillment outcome",
	}, []string{"outcome"})

	// OrdersCancelled counts order cancellations by the state they were cancelled from
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "orders_cancelled_total",
		Help:      "Customer orders cancelled, by the state they were in",
	}, []string{"from_state"})

	// PurchaseOrdersCompleted counts supplier purchase orders that released stock
	PurchaseOrdersCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "purchase_orders_completed_total",
		Help:      "Supplier purchase orders completed",
	})

	// StockAdjustments counts atomic stock mutations by direction
	StockAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "stock_adjustments_total",
		Help:      "Atomic stock adjustments applied, by direction",
	}, []string{"direction"})

	// NotificationFailures counts best-effort notifications that could not be dispatched
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "notification_failures_total",
		Help:      "Best-effort notifications that failed to dispatch, by kind",
	}, []string{"kind"})
)
