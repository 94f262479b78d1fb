package notify

import (
	"context"

	"github.com/ibookstore/bookstore/internal/events"
	"go.uber.org/zap"
)

// Notifier is the gateway the engines hand their fire-and-forget notices to.
// Calls happen strictly after the originating transaction committed; a failed
// notice is logged by the caller and never rolls anything back.
type Notifier interface {
	SupplierPurchaseOrder(ctx context.Context, notice events.SupplierNotice) error
	CustomerOrderStatus(ctx context.Context, notice events.CustomerNotice) error
}

// EventNotifier publishes notices as domain events; a separate worker
// delivers them to suppliers and customers.
type EventNotifier struct {
	pub *events.Publisher
}

// NewEventNotifier creates a notifier backed by the event bus
func NewEventNotifier(pub *events.Publisher) *EventNotifier {
	return &EventNotifier{pub: pub}
}

func (n *EventNotifier) SupplierPurchaseOrder(ctx context.Context, notice events.SupplierNotice) error {
	return n.pub.PublishSupplierNotice(ctx, notice)
}

func (n *EventNotifier) CustomerOrderStatus(ctx context.Context, notice events.CustomerNotice) error {
	return n.pub.PublishCustomerNotice(ctx, notice)
}

// LogNotifier records notices in the log only. Used when the broker is
// unreachable at startup, and in tests.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) SupplierPurchaseOrder(ctx context.Context, notice events.SupplierNotice) error {
	n.log.Info("Supplier notice (log only)",
		zap.String("supplier", notice.SupplierName),
		zap.String("book", notice.BookTitle),
		zap.Int("quantity", notice.Quantity),
		zap.Int64("purchase_order_id", notice.PurchaseOrderID),
		zap.String("kind", notice.Kind),
	)
	return nil
}

func (n *LogNotifier) CustomerOrderStatus(ctx context.Context, notice events.CustomerNotice) error {
	n.log.Info("Customer notice (log only)",
		zap.String("username", notice.Username),
		zap.Int64("order_id", notice.OrderID),
		zap.String("status", notice.Status),
	)
	return nil
}
