package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/ibookstore/bookstore/internal/catalog"
	"github.com/ibookstore/bookstore/internal/db"
	"github.com/ibookstore/bookstore/internal/events"
	"github.com/ibookstore/bookstore/internal/ledger"
	"github.com/ibookstore/bookstore/internal/notify"
	"github.com/ibookstore/bookstore/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrOrderNotFound is returned when an order does not exist
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidState is returned when the operation is not permitted from
	// the order's current lifecycle state
	ErrInvalidState = errors.New("operation not permitted in current state")

	// ErrInvalidTransition is returned when a status target is not in the
	// allowed set for the actor
	ErrInvalidTransition = errors.New("status transition not allowed")

	// ErrConflict is returned when deletion is blocked by a live dependent
	// reference
	ErrConflict = errors.New("blocked by dependent purchase order")

	// ErrEmptyOrder is returned when checkout carries no line items
	ErrEmptyOrder = errors.New("checkout requires at least one line item")

	// ErrNoShippingAddress is returned when checkout carries no address
	ErrNoShippingAddress = errors.New("checkout requires a shipping address")
)

// LineItem is one entry of a checkout cart. The unit price is caller
// supplied; the discount is not, it is recomputed from the authoritative
// credit level.
type LineItem struct {
	BookID    int64
	Quantity  int
	UnitPrice int64 // Smallest currency unit (cents)
}

// Receipt is the result of a successful checkout
type Receipt struct {
	OrderIDs         []int64
	RemainingBalance int64
	DiscountRate     float64
}

// Engine creates, cancels and transitions customer orders, coordinating
// stock and balance under one transaction per operation.
type Engine struct {
	db       *db.DB
	catalog  *catalog.Store
	ledger   *ledger.Ledger
	notifier notify.Notifier
	log      *zap.Logger
}

// NewEngine creates a new order engine
func NewEngine(database *db.DB, cat *catalog.Store, led *ledger.Ledger, notifier notify.Notifier, logger *zap.Logger) *Engine {
	return &Engine{
		db:       database,
		catalog:  cat,
		ledger:   led,
		notifier: notifier,
		log:      logger,
	}
}

// Forward progression ranks; cancelled is reached only through the
// cancellation path and is not ranked.
var statusRank = map[db.OrderStatus]int{
	db.OrderAwaitingRestock:  0,
	db.OrderAwaitingDispatch: 1,
	db.OrderInTransit:        2,
	db.OrderDelivered:        3,
}

// CreateOrder runs a checkout: one transaction spanning every line item.
// Items the stock covers become awaiting_dispatch orders with an immediate
// stock deduction; shortfall items become awaiting_restock orders linked to a
// freshly raised pending purchase order, with the deduction deferred until
// that purchase order completes. The user is debited once for the whole set.
// Any failure rolls the entire checkout back.
func (e *Engine) CreateOrder(ctx context.Context, userID int64, items []LineItem, shippingAddress string) (*Receipt, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	if shippingAddress == "" {
		return nil, ErrNoShippingAddress
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("book %d: quantity must be positive", item.BookID)
		}
	}

	var (
		receipt  Receipt
		notices  []events.SupplierNotice
		outcomes []string
	)

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := e.ledger.LockProfile(ctx, tx, userID)
		if err != nil {
			return err
		}

		// Discount is recomputed here from the authoritative credit level;
		// a caller-supplied total is never trusted.
		receipt.DiscountRate = ledger.DiscountRate(profile.CreditLevel)

		lineTotals := make([]int64, len(items))
		var totalAmount int64
		for i, item := range items {
			lineTotals[i] = ledger.DiscountedTotal(item.UnitPrice*int64(item.Quantity), profile.CreditLevel)
			totalAmount += lineTotals[i]
		}

		// Sufficiency precondition before any row exists; the debit itself
		// happens after the items are processed.
		if profile.Balance < totalAmount {
			return fmt.Errorf("balance %d short of %d: %w", profile.Balance, totalAmount, ledger.ErrInsufficientFunds)
		}

		for i, item := range items {
			book, err := e.catalog.BookForUpdate(ctx, tx, item.BookID)
			if err != nil {
				return err
			}

			ord := db.Order{
				BookID:      item.BookID,
				Quantity:    item.Quantity,
				Price:       lineTotals[i],
				ReaderID:    userID,
				Address:     shippingAddress,
				Description: fmt.Sprintf("Purchase of %q", book.Title),
			}

			if book.Stock >= item.Quantity {
				ord.Status = db.OrderAwaitingDispatch
				if err := tx.Create(&ord).Error; err != nil {
					return fmt.Errorf("create order for book %d: %w", item.BookID, err)
				}
				if _, err := e.catalog.AdjustStock(ctx, tx, item.BookID, -item.Quantity); err != nil {
					return err
				}
				outcomes = append(outcomes, "fulfilled")
			} else {
				ord.Status = db.OrderAwaitingRestock
				if err := tx.Create(&ord).Error; err != nil {
					return fmt.Errorf("create order for book %d: %w", item.BookID, err)
				}

				po := db.PurchaseOrder{
					BookID:   item.BookID,
					Quantity: item.Quantity - book.Stock,
					Status:   db.PurchasePending,
					TicketID: &ord.ID,
				}
				if err := tx.Create(&po).Error; err != nil {
					return fmt.Errorf("create purchase order for book %d: %w", item.BookID, err)
				}
				if err := tx.Model(&db.Order{}).Where("id = ?", ord.ID).
					Update("purchase_id", po.ID).Error; err != nil {
					return fmt.Errorf("link order %d to purchase order %d: %w", ord.ID, po.ID, err)
				}

				supplier, err := e.catalog.SupplierByID(ctx, tx, book.SupplierID)
				if err != nil {
					return err
				}
				notices = append(notices, events.SupplierNotice{
					Email:           supplier.Email,
					SupplierName:    supplier.Name,
					BookTitle:       book.Title,
					Quantity:        po.Quantity,
					PurchaseOrderID: po.ID,
					Kind:            "shortage",
				})
				outcomes = append(outcomes, "deferred")
			}

			receipt.OrderIDs = append(receipt.OrderIDs, ord.ID)
		}

		receipt.RemainingBalance, err = e.ledger.Debit(ctx, tx, userID, totalAmount)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, outcome := range outcomes {
		metrics.OrdersCreated.WithLabelValues(outcome).Inc()
	}
	e.log.Info("Checkout committed",
		zap.Int64("user_id", userID),
		zap.Int64s("order_ids", receipt.OrderIDs),
		zap.Int64("remaining_balance", receipt.RemainingBalance),
	)

	// Supplier notices are fire-and-forget: dispatched after commit, failures
	// logged, never retried into the transaction.
	for _, notice := range notices {
		if err := e.notifier.SupplierPurchaseOrder(ctx, notice); err != nil {
			metrics.NotificationFailures.WithLabelValues("supplier").Inc()
			e.log.Error("Supplier notification failed",
				zap.Int64("purchase_order_id", notice.PurchaseOrderID),
				zap.Error(err),
			)
		}
	}

	return &receipt, nil
}

// CancelOrder cancels a non-terminal order, reversing the side effects its
// creation applied: awaiting_restock orders are refunded only (stock was
// never deducted), awaiting_dispatch orders get their stock restored and the
// price refunded. A still-pending linked purchase order is cancelled with it.
func (e *Engine) CancelOrder(ctx context.Context, orderID int64) error {
	var cancelled db.Order

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ord, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if err := e.cancelLocked(ctx, tx, ord); err != nil {
			return err
		}
		cancelled = *ord
		return nil
	})
	if err != nil {
		return err
	}

	metrics.OrdersCancelled.WithLabelValues(string(cancelled.Status)).Inc()
	e.log.Info("Order cancelled",
		zap.Int64("order_id", orderID),
		zap.String("from_state", string(cancelled.Status)),
	)
	e.notifyCustomer(ctx, &cancelled, db.OrderCancelled, "Your order was cancelled and the amount refunded")

	return nil
}

// cancelLocked applies the cancellation reversal to an already-locked order.
// ord keeps the pre-cancel status so callers can report the state the order
// was cancelled from.
func (e *Engine) cancelLocked(ctx context.Context, tx *gorm.DB, ord *db.Order) error {
	switch ord.Status {
	case db.OrderInTransit, db.OrderDelivered:
		return fmt.Errorf("cannot cancel once shipped or delivered (status %s): %w", ord.Status, ErrInvalidState)
	case db.OrderCancelled:
		return fmt.Errorf("order %d is already cancelled: %w", ord.ID, ErrInvalidState)
	}

	if err := tx.Model(&db.Order{}).Where("id = ?", ord.ID).
		Update("status", db.OrderCancelled).Error; err != nil {
		return fmt.Errorf("cancel order %d: %w", ord.ID, err)
	}

	// Cascade: a purchase order still pending for this order is pointless now
	if ord.PurchaseID != nil {
		var po db.PurchaseOrder
		err := db.ForUpdate(tx.WithContext(ctx)).First(&po, *ord.PurchaseID).Error
		if err == nil && po.Status == db.PurchasePending {
			if err := tx.Model(&db.PurchaseOrder{}).Where("id = ?", po.ID).
				Update("status", db.PurchaseCancelled).Error; err != nil {
				return fmt.Errorf("cascade-cancel purchase order %d: %w", po.ID, err)
			}
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}

	switch ord.Status {
	case db.OrderAwaitingRestock:
		// Stock was never deducted; refund only
		if _, err := e.ledger.Credit(ctx, tx, ord.ReaderID, ord.Price); err != nil {
			return err
		}
	case db.OrderAwaitingDispatch:
		if _, err := e.catalog.AdjustStock(ctx, tx, ord.BookID, ord.Quantity); err != nil {
			return err
		}
		if _, err := e.ledger.Credit(ctx, tx, ord.ReaderID, ord.Price); err != nil {
			return err
		}
	}

	return nil
}

// UpdateStatus applies an admin-driven transition. Targets are restricted to
// forward progression through awaiting_dispatch, in_transit and delivered;
// cancelling routes through the same reversal as CancelOrder. Promoting an
// awaiting_restock order by hand performs the stock deduction its checkout
// deferred.
func (e *Engine) UpdateStatus(ctx context.Context, orderID int64, newStatus db.OrderStatus) error {
	if newStatus == db.OrderCancelled {
		return e.CancelOrder(ctx, orderID)
	}

	targetRank, ok := statusRank[newStatus]
	if !ok || newStatus == db.OrderAwaitingRestock {
		return fmt.Errorf("target status %s not allowed: %w", newStatus, ErrInvalidTransition)
	}

	var updated db.Order

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ord, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		currentRank, ok := statusRank[ord.Status]
		if !ok {
			return fmt.Errorf("order %d is %s: %w", ord.ID, ord.Status, ErrInvalidTransition)
		}
		if targetRank <= currentRank {
			return fmt.Errorf("order %d cannot go %s -> %s: %w", ord.ID, ord.Status, newStatus, ErrInvalidTransition)
		}

		// A manual promotion out of awaiting_restock owes the stock its
		// checkout never deducted; the purchase-order completion path will
		// see the order already promoted and skip its own deduction.
		if ord.Status == db.OrderAwaitingRestock {
			if _, err := e.catalog.AdjustStock(ctx, tx, ord.BookID, -ord.Quantity); err != nil {
				return err
			}
		}

		if err := tx.Model(&db.Order{}).Where("id = ?", ord.ID).
			Update("status", newStatus).Error; err != nil {
			return fmt.Errorf("update order %d status: %w", ord.ID, err)
		}

		updated = *ord
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(updated.Status)),
		zap.String("to", string(newStatus)),
	)
	e.notifyCustomer(ctx, &updated, newStatus, fmt.Sprintf("Your order is now %s", newStatus))

	return nil
}

// DeleteOrder removes a terminal (delivered or cancelled) order. An order
// whose linked purchase order already completed cannot go until that purchase
// order is removed or unlinked; otherwise any back-reference is cleared
// before the row is deleted.
func (e *Engine) DeleteOrder(ctx context.Context, orderID int64) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ord, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if ord.Status != db.OrderDelivered && ord.Status != db.OrderCancelled {
			return fmt.Errorf("cannot delete order %d in status %s: %w", ord.ID, ord.Status, ErrInvalidState)
		}

		if ord.PurchaseID != nil {
			var po db.PurchaseOrder
			err := tx.First(&po, *ord.PurchaseID).Error
			if err == nil && po.Status == db.PurchaseCompleted {
				return fmt.Errorf("order %d is linked to completed purchase order %d: %w", ord.ID, po.ID, ErrConflict)
			}
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		if err := tx.Model(&db.PurchaseOrder{}).Where("ticket_id = ?", ord.ID).
			Update("ticket_id", nil).Error; err != nil {
			return fmt.Errorf("unlink purchase orders of order %d: %w", ord.ID, err)
		}

		if err := tx.Delete(&db.Order{}, ord.ID).Error; err != nil {
			return fmt.Errorf("delete order %d: %w", ord.ID, err)
		}

		e.log.Info("Order deleted", zap.Int64("order_id", ord.ID))
		return nil
	})
}

// GetOrder retrieves an order by id
func (e *Engine) GetOrder(ctx context.Context, orderID int64) (*db.Order, error) {
	var ord db.Order
	err := e.db.WithContext(ctx).First(&ord, orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		e.log.Error("Failed to get order", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, err
	}

	return &ord, nil
}

// ListOrdersByReader returns a reader's orders, most recent first
func (e *Engine) ListOrdersByReader(ctx context.Context, readerID int64) ([]*db.Order, error) {
	var orders []*db.Order
	err := e.db.WithContext(ctx).
		Where("reader_id = ?", readerID).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		e.log.Error("Failed to list orders", zap.Int64("reader_id", readerID), zap.Error(err))
		return nil, err
	}

	return orders, nil
}

func (e *Engine) notifyCustomer(ctx context.Context, ord *db.Order, status db.OrderStatus, message string) {
	profile, err := e.ledger.GetProfile(ctx, ord.ReaderID)
	if err != nil {
		metrics.NotificationFailures.WithLabelValues("customer").Inc()
		e.log.Error("Customer notification skipped, profile unavailable",
			zap.Int64("order_id", ord.ID),
			zap.Int64("reader_id", ord.ReaderID),
			zap.Error(err),
		)
		return
	}

	notice := events.CustomerNotice{
		Email:    profile.Email,
		Username: profile.FullName,
		OrderID:  ord.ID,
		Status:   string(status),
		Message:  message,
	}
	if err := e.notifier.CustomerOrderStatus(ctx, notice); err != nil {
		metrics.NotificationFailures.WithLabelValues("customer").Inc()
		e.log.Error("Customer notification failed", zap.Int64("order_id", ord.ID), zap.Error(err))
	}
}

func lockOrder(ctx context.Context, tx *gorm.DB, orderID int64) (*db.Order, error) {
	var ord db.Order
	if err := db.ForUpdate(tx.WithContext(ctx)).First(&ord, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order %d: %w", orderID, err)
	}
	return &ord, nil
}
