package purchase

import (
	"context"
	"testing"

	"github.com/ibookstore/bookstore/internal/catalog"
	"github.com/ibookstore/bookstore/internal/db"
	"github.com/ibookstore/bookstore/internal/events"
	"github.com/ibookstore/bookstore/internal/ledger"
	"github.com/ibookstore/bookstore/internal/order"
	"github.com/ibookstore/bookstore/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	supplier []events.SupplierNotice
	customer []events.CustomerNotice
}

func (n *recordingNotifier) SupplierPurchaseOrder(ctx context.Context, notice events.SupplierNotice) error {
	n.supplier = append(n.supplier, notice)
	return nil
}

func (n *recordingNotifier) CustomerOrderStatus(ctx context.Context, notice events.CustomerNotice) error {
	n.customer = append(n.customer, notice)
	return nil
}

type testEnv struct {
	db       *db.DB
	catalog  *catalog.Store
	ledger   *ledger.Ledger
	orders   *order.Engine
	engine   *Engine
	notifier *recordingNotifier
}

func setupTestEnv(t *testing.T) *testEnv {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	database := &db.DB{DB: gormDB}
	require.NoError(t, db.RunMigrations(database))

	log := logger.NewLogger("test", "error")
	cat := catalog.NewStore(database, log)
	led := ledger.NewLedger(database, log)
	notifier := &recordingNotifier{}

	return &testEnv{
		db:       database,
		catalog:  cat,
		ledger:   led,
		orders:   order.NewEngine(database, cat, led, notifier, log),
		engine:   NewEngine(database, cat, led, notifier, log),
		notifier: notifier,
	}
}

func (env *testEnv) seedBook(t *testing.T, stock int, price int64) *db.Book {
	supplier := &db.Supplier{Name: "Acme Press", Email: "orders@acme.example"}
	err := env.db.Where("name = ?", supplier.Name).FirstOrCreate(supplier).Error
	require.NoError(t, err)

	book := &db.Book{
		Title:      "Seeded Book",
		Publisher:  "Acme",
		Price:      price,
		Stock:      stock,
		SupplierID: supplier.ID,
	}
	require.NoError(t, env.db.Create(book).Error)
	return book
}

func (env *testEnv) seedUser(t *testing.T, userID int64, balance int64) {
	profile := &db.UserProfile{
		UserID:      userID,
		FullName:    "Test Reader",
		Email:       "reader@example.com",
		Balance:     balance,
		CreditLevel: 1,
	}
	require.NoError(t, env.db.Create(profile).Error)
}

// placeDeferredOrder checks out more copies than the shelf holds, leaving a
// waiting order plus its linked pending purchase order for the shortfall.
func (env *testEnv) placeDeferredOrder(t *testing.T, book *db.Book, qty int) (*db.Order, *db.PurchaseOrder) {
	receipt, err := env.orders.CreateOrder(context.Background(), 1,
		[]order.LineItem{{BookID: book.ID, Quantity: qty, UnitPrice: book.Price}}, "1 Main St")
	require.NoError(t, err)

	ord, err := env.orders.GetOrder(context.Background(), receipt.OrderIDs[0])
	require.NoError(t, err)
	require.Equal(t, db.OrderAwaitingRestock, ord.Status)
	require.NotNil(t, ord.PurchaseID)

	var po db.PurchaseOrder
	require.NoError(t, env.db.First(&po, *ord.PurchaseID).Error)
	return ord, &po
}

func (env *testEnv) bookStock(t *testing.T, bookID int64) int {
	stock, err := env.catalog.GetStock(context.Background(), bookID)
	require.NoError(t, err)
	return stock
}

func TestCreateStandalone(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 0, 100)

	id, err := env.engine.Create(ctx, book.ID, 10, nil)
	require.NoError(t, err)

	po, err := env.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, db.PurchasePending, po.Status)
	assert.Equal(t, 10, po.Quantity)
	assert.Nil(t, po.TicketID)

	// Supplier is told to restock
	require.Len(t, env.notifier.supplier, 1)
	assert.Equal(t, "restock", env.notifier.supplier[0].Kind)
	assert.Equal(t, "orders@acme.example", env.notifier.supplier[0].Email)
}

func TestCreateLinked(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 10, 100)
	env.seedUser(t, 1, 10000)

	receipt, err := env.orders.CreateOrder(ctx, 1,
		[]order.LineItem{{BookID: book.ID, Quantity: 1, UnitPrice: 100}}, "1 Main St")
	require.NoError(t, err)
	orderID := receipt.OrderIDs[0]

	id, err := env.engine.Create(ctx, book.ID, 5, &orderID)
	require.NoError(t, err)

	ord, err := env.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, ord.PurchaseID)
	assert.Equal(t, id, *ord.PurchaseID)
}

func TestCreateValidation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 0, 100)

	_, err := env.engine.Create(ctx, book.ID, 0, nil)
	assert.Error(t, err)

	_, err = env.engine.Create(ctx, 9999, 1, nil)
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)

	missing := int64(9999)
	_, err = env.engine.Create(ctx, book.ID, 1, &missing)
	assert.ErrorIs(t, err, ErrLinkedOrderNotFound)
}

// Completing the purchase credits its quantity into stock and promotes the
// waiting order, deducting what the checkout deferred. With 3 on the shelf, a
// 5-copy order and a 2-copy purchase, completion lands the shelf on zero.
func TestCompletePromotesLinkedOrder(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 3, 100)
	env.seedUser(t, 1, 10000)
	ord, po := env.placeDeferredOrder(t, book, 5)
	require.Equal(t, 2, po.Quantity)

	require.NoError(t, env.engine.Update(ctx, po.ID, nil, db.PurchaseCompleted))

	assert.Equal(t, 0, env.bookStock(t, book.ID))

	promoted, err := env.orders.GetOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderAwaitingDispatch, promoted.Status)

	// The customer heard about the promotion
	require.NotEmpty(t, env.notifier.customer)
	last := env.notifier.customer[len(env.notifier.customer)-1]
	assert.Equal(t, ord.ID, last.OrderID)
	assert.Equal(t, string(db.OrderAwaitingDispatch), last.Status)
}

// Re-completing is a no-op: no second stock credit, no error.
func TestCompleteTwiceIsStockNoOp(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 3, 100)
	env.seedUser(t, 1, 10000)
	_, po := env.placeDeferredOrder(t, book, 5)

	require.NoError(t, env.engine.Update(ctx, po.ID, nil, db.PurchaseCompleted))
	assert.Equal(t, 0, env.bookStock(t, book.ID))

	require.NoError(t, env.engine.Update(ctx, po.ID, nil, db.PurchaseCompleted))
	assert.Equal(t, 0, env.bookStock(t, book.ID))
}

// If the linked order was already promoted by hand, completion only credits
// stock and leaves the order alone.
func TestCompleteSkipsAlreadyPromotedOrder(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 3, 100)
	env.seedUser(t, 1, 10000)
	ord, po := env.placeDeferredOrder(t, book, 5)

	// An admin restocks out of band and promotes the order by hand
	_, err := env.catalog.Restock(ctx, book.ID, 2)
	require.NoError(t, err)
	require.NoError(t, env.orders.UpdateStatus(ctx, ord.ID, db.OrderAwaitingDispatch))
	assert.Equal(t, 0, env.bookStock(t, book.ID))

	// The supplier shipment still arrives; only the credit applies
	require.NoError(t, env.engine.Update(ctx, po.ID, nil, db.PurchaseCompleted))
	assert.Equal(t, 2, env.bookStock(t, book.ID))

	promoted, err := env.orders.GetOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderAwaitingDispatch, promoted.Status)
}

func TestQuantityEditableWhilePending(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 0, 100)
	id, err := env.engine.Create(ctx, book.ID, 5, nil)
	require.NoError(t, err)

	qty := 8
	require.NoError(t, env.engine.Update(ctx, id, &qty, db.PurchasePending))

	po, err := env.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 8, po.Quantity)

	// A quantity sent along with the dispatch transition is taken: the
	// purchase is still pending at that moment
	qty = 6
	require.NoError(t, env.engine.Update(ctx, id, &qty, db.PurchaseAwaitingShipment))
	po, err = env.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 6, po.Quantity)
}

// Once the purchase left pending, the requested amount is frozen.
func TestQuantityFrozenAfterDispatch(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 0, 100)
	id, err := env.engine.Create(ctx, book.ID, 5, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Update(ctx, id, nil, db.PurchaseInTransit))

	qty := 50
	require.NoError(t, env.engine.Update(ctx, id, &qty, db.PurchaseCompleted))

	po, err := env.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, po.Quantity)
	assert.Equal(t, 5, env.bookStock(t, book.ID))
}

func TestInvalidTransitions(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 0, 100)

	completed, err := env.engine.Create(ctx, book.ID, 1, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Update(ctx, completed, nil, db.PurchaseCompleted))

	err = env.engine.Update(ctx, completed, nil, db.PurchaseInTransit)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = env.engine.Update(ctx, completed, nil, db.PurchaseCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	cancelled, err := env.engine.Create(ctx, book.ID, 1, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Update(ctx, cancelled, nil, db.PurchaseCancelled))

	err = env.engine.Update(ctx, cancelled, nil, db.PurchaseCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	inTransit, err := env.engine.Create(ctx, book.ID, 1, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Update(ctx, inTransit, nil, db.PurchaseInTransit))

	err = env.engine.Update(ctx, inTransit, nil, db.PurchaseAwaitingShipment)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

// Cancelling a purchase takes its still-waiting order down with it, with a
// refund of the captured price.
func TestCancelCascadesToWaitingOrder(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 0, 100)
	env.seedUser(t, 1, 1000)
	ord, po := env.placeDeferredOrder(t, book, 3)

	balanceAfterCheckout, err := env.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.Less(t, balanceAfterCheckout, int64(1000))

	require.NoError(t, env.engine.Update(ctx, po.ID, nil, db.PurchaseCancelled))

	cancelled, err := env.orders.GetOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderCancelled, cancelled.Status)

	balance, err := env.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	assert.Equal(t, 0, env.bookStock(t, book.ID))
}

// Cancelling a purchase whose order already moved on leaves that order alone.
func TestCancelLeavesPromotedOrderAlone(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 0, 100)
	env.seedUser(t, 1, 1000)
	ord, po := env.placeDeferredOrder(t, book, 2)

	_, err := env.catalog.Restock(ctx, book.ID, 2)
	require.NoError(t, err)
	require.NoError(t, env.orders.UpdateStatus(ctx, ord.ID, db.OrderAwaitingDispatch))

	require.NoError(t, env.engine.Update(ctx, po.ID, nil, db.PurchaseCancelled))

	kept, err := env.orders.GetOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderAwaitingDispatch, kept.Status)
}

func TestDeleteUnlinksOrders(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 0, 100)
	env.seedUser(t, 1, 1000)
	ord, po := env.placeDeferredOrder(t, book, 1)

	require.NoError(t, env.engine.Delete(ctx, po.ID))

	_, err := env.engine.Get(ctx, po.ID)
	assert.ErrorIs(t, err, ErrPurchaseNotFound)

	unlinked, err := env.orders.GetOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Nil(t, unlinked.PurchaseID)
}

func TestDeleteNotFound(t *testing.T) {
	env := setupTestEnv(t)

	err := env.engine.Delete(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrPurchaseNotFound)
}

func TestListByStatus(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 0, 100)

	first, err := env.engine.Create(ctx, book.ID, 1, nil)
	require.NoError(t, err)
	_, err = env.engine.Create(ctx, book.ID, 2, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Update(ctx, first, nil, db.PurchaseCompleted))

	pending, err := env.engine.List(ctx, db.PurchasePending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := env.engine.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSameStatusUpdateIsNoOp(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.seedBook(t, 0, 100)
	id, err := env.engine.Create(ctx, book.ID, 1, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Update(ctx, id, nil, db.PurchaseCompleted))

	// Repeating the terminal state neither errors nor double-credits
	require.NoError(t, env.engine.Update(ctx, id, nil, db.PurchaseCompleted))
	assert.Equal(t, 1, env.bookStock(t, book.ID))
}
