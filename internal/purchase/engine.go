package purchase

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
	// ErrPurchaseNotFound is returned when a purchase order does not exist
	ErrPurchaseNotFound = errors.New("purchase order not found")

	// ErrLinkedOrderNotFound is returned when the order a purchase should
	// link to does not exist
	ErrLinkedOrderNotFound = errors.New("linked order not found")

	// ErrInvalidTransition is returned when a status target is not reachable
	// from the purchase order's current state
	ErrInvalidTransition = errors.New("status transition not allowed")
)

// Reachable targets per state. Completed and cancelled are terminal; a
// repeated completion is treated as a no-op rather than an error so the
// stock credit applies exactly once.
var transitions = map[db.PurchaseStatus][]db.PurchaseStatus{
	db.PurchasePending:          {db.PurchaseAwaitingShipment, db.PurchaseInTransit, db.PurchaseCompleted, db.PurchaseCancelled},
	db.PurchaseAwaitingShipment: {db.PurchaseInTransit, db.PurchaseCompleted, db.PurchaseCancelled},
	db.PurchaseInTransit:        {db.PurchaseCompleted, db.PurchaseCancelled},
	db.PurchaseCompleted:        {},
	db.PurchaseCancelled:        {},
}

func canTransition(from, to db.PurchaseStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Engine creates and updates supplier purchase orders. Completion releases
// stock into the catalog and, for a linked waiting order, performs the stock
// deduction its checkout deferred, both sides in one transaction.
type Engine struct {
	db       *db.DB
	catalog  *catalog.Store
	ledger   *ledger.Ledger
	notifier notify.Notifier
	log      *zap.Logger
}

// NewEngine creates a new purchase-order engine
func NewEngine(database *db.DB, cat *catalog.Store, led *ledger.Ledger, notifier notify.Notifier, logger *zap.Logger) *Engine {
	return &Engine{
		db:       database,
		catalog:  cat,
		ledger:   led,
		notifier: notifier,
		log:      logger,
	}
}

// Create raises a pending purchase order for a book. With linkedOrderID the
// purchase is bound bidirectionally to the order it should satisfy; without
// it the purchase stands alone (proactive admin restocking). The supplier is
// notified best-effort after commit.
func (e *Engine) Create(ctx context.Context, bookID int64, quantity int, linkedOrderID *int64) (int64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("purchase quantity must be positive, got %d", quantity)
	}

	var (
		po     db.PurchaseOrder
		notice events.SupplierNotice
	)

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		book, err := e.catalog.BookForUpdate(ctx, tx, bookID)
		if err != nil {
			return err
		}

		po = db.PurchaseOrder{
			BookID:   bookID,
			Quantity: quantity,
			Status:   db.PurchasePending,
			TicketID: linkedOrderID,
		}
		if err := tx.Create(&po).Error; err != nil {
			return fmt.Errorf("create purchase order: %w", err)
		}

		if linkedOrderID != nil {
			result := tx.Model(&db.Order{}).Where("id = ?", *linkedOrderID).
				Update("purchase_id", po.ID)
			if result.Error != nil {
				return fmt.Errorf("link order %d: %w", *linkedOrderID, result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("order %d: %w", *linkedOrderID, ErrLinkedOrderNotFound)
			}
		}

		supplier, err := e.catalog.SupplierByID(ctx, tx, book.SupplierID)
		if err != nil {
			return err
		}
		notice = events.SupplierNotice{
			Email:           supplier.Email,
			SupplierName:    supplier.Name,
			BookTitle:       book.Title,
			Quantity:        quantity,
			PurchaseOrderID: po.ID,
			Kind:            "restock",
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.log.Info("Purchase order created",
		zap.Int64("purchase_order_id", po.ID),
		zap.Int64("book_id", bookID),
		zap.Int("quantity", quantity),
	)

	if err := e.notifier.SupplierPurchaseOrder(ctx, notice); err != nil {
		metrics.NotificationFailures.WithLabelValues("supplier").Inc()
		e.log.Error("Supplier notification failed", zap.Int64("purchase_order_id", po.ID), zap.Error(err))
	}

	return po.ID, nil
}

// Update changes a purchase order's quantity and/or status in one
// transaction. Quantity is mutable only while the purchase is still pending;
// a quantity sent alongside a later state is silently frozen so the
// historical requested amount survives dispatch. Completing credits the
// purchased quantity into stock and promotes a still-waiting linked order,
// deducting its deferred quantity; completing twice is a stock no-op.
// Cancelling cascades to a linked order still awaiting restock, refunding
// its price.
func (e *Engine) Update(ctx context.Context, id int64, quantity *int, newStatus db.PurchaseStatus) error {
	if quantity != nil && *quantity <= 0 {
		return fmt.Errorf("purchase quantity must be positive, got %d", *quantity)
	}

	var (
		completed bool
		promoted  *db.Order
	)

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		po, err := lockPurchase(ctx, tx, id)
		if err != nil {
			return err
		}

		if newStatus == po.Status {
			// No state change; a pending purchase may still take a new quantity
			if quantity != nil && po.Status == db.PurchasePending {
				return tx.Model(&db.PurchaseOrder{}).Where("id = ?", po.ID).
					Update("quantity", *quantity).Error
			}
			return nil
		}

		if !canTransition(po.Status, newStatus) {
			return fmt.Errorf("purchase order %d cannot go %s -> %s: %w", po.ID, po.Status, newStatus, ErrInvalidTransition)
		}

		// Freeze the quantity once the purchase left pending
		effectiveQty := po.Quantity
		updates := map[string]interface{}{"status": newStatus}
		if quantity != nil && po.Status == db.PurchasePending {
			effectiveQty = *quantity
			updates["quantity"] = *quantity
		}

		if err := tx.Model(&db.PurchaseOrder{}).Where("id = ?", po.ID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update purchase order %d: %w", po.ID, err)
		}

		switch newStatus {
		case db.PurchaseCompleted:
			completed = true
			if _, err := e.catalog.AdjustStock(ctx, tx, po.BookID, effectiveQty); err != nil {
				return err
			}

			if po.TicketID != nil {
				var ord db.Order
				err := db.ForUpdate(tx.WithContext(ctx)).First(&ord, *po.TicketID).Error
				if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
				if err == nil && ord.Status == db.OrderAwaitingRestock {
					if err := tx.Model(&db.Order{}).Where("id = ?", ord.ID).
						Update("status", db.OrderAwaitingDispatch).Error; err != nil {
						return fmt.Errorf("promote order %d: %w", ord.ID, err)
					}
					// The checkout never deducted this order's stock
					if _, err := e.catalog.AdjustStock(ctx, tx, ord.BookID, -ord.Quantity); err != nil {
						return err
					}
					promoted = &ord
				}
			}

		case db.PurchaseCancelled:
			if po.TicketID != nil {
				var ord db.Order
				err := db.ForUpdate(tx.WithContext(ctx)).First(&ord, *po.TicketID).Error
				if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
				if err == nil && ord.Status == db.OrderAwaitingRestock {
					if err := tx.Model(&db.Order{}).Where("id = ?", ord.ID).
						Update("status", db.OrderCancelled).Error; err != nil {
						return fmt.Errorf("cascade-cancel order %d: %w", ord.ID, err)
					}
					// The waiting order was paid for up front
					if _, err := e.ledger.Credit(ctx, tx, ord.ReaderID, ord.Price); err != nil {
						return err
					}
				}
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	if completed {
		metrics.PurchaseOrdersCompleted.Inc()
	}
	e.log.Info("Purchase order updated",
		zap.Int64("purchase_order_id", id),
		zap.String("status", string(newStatus)),
	)

	if promoted != nil {
		e.notifyCustomer(ctx, promoted, db.OrderAwaitingDispatch, "Restock arrived, your order is awaiting dispatch")
	}

	return nil
}

// Delete removes a purchase order, first clearing the forward reference on
// any order pointing at it so no dangling link survives.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		po, err := lockPurchase(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := tx.Model(&db.Order{}).Where("purchase_id = ?", po.ID).
			Update("purchase_id", nil).Error; err != nil {
			return fmt.Errorf("unlink orders of purchase order %d: %w", po.ID, err)
		}

		if err := tx.Delete(&db.PurchaseOrder{}, po.ID).Error; err != nil {
			return fmt.Errorf("delete purchase order %d: %w", po.ID, err)
		}

		e.log.Info("Purchase order deleted", zap.Int64("purchase_order_id", po.ID))
		return nil
	})
}

// Get retrieves a purchase order by id
func (e *Engine) Get(ctx context.Context, id int64) (*db.PurchaseOrder, error) {
	var po db.PurchaseOrder
	err := e.db.WithContext(ctx).First(&po, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurchaseNotFound
		}
		e.log.Error("Failed to get purchase order", zap.Int64("purchase_order_id", id), zap.Error(err))
		return nil, err
	}

	return &po, nil
}

// List returns purchase orders, most recent first, optionally filtered by status
func (e *Engine) List(ctx context.Context, status db.PurchaseStatus) ([]*db.PurchaseOrder, error) {
	query := e.db.WithContext(ctx).Model(&db.PurchaseOrder{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var orders []*db.PurchaseOrder
	if err := query.Order("created_at DESC").Find(&orders).Error; err != nil {
		e.log.Error("Failed to list purchase orders", zap.Error(err))
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

func lockPurchase(ctx context.Context, tx *gorm.DB, id int64) (*db.PurchaseOrder, error) {
	var po db.PurchaseOrder
	if err := db.ForUpdate(tx.WithContext(ctx)).First(&po, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("lock purchase order %d: %w", id, err)
	}
	return &po, nil
}
