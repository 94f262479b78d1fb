package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ibookstore/bookstore/internal/catalog"
	"github.com/ibookstore/bookstore/internal/db"
	"github.com/ibookstore/bookstore/internal/ledger"
	"github.com/ibookstore/bookstore/internal/order"
	"github.com/ibookstore/bookstore/internal/purchase"
	"go.uber.org/zap"
)

// Handler adapts HTTP requests onto the core engines. Authentication and
// page rendering live in front of this service; the handlers only translate
// payloads and map the core's error taxonomy onto status codes.
type Handler struct {
	catalog  *catalog.Store
	ledger   *ledger.Ledger
	orders   *order.Engine
	purchase *purchase.Engine
	log      *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(cat *catalog.Store, led *ledger.Ledger, orders *order.Engine, pur *purchase.Engine, logger *zap.Logger) *Handler {
	return &Handler{
		catalog:  cat,
		ledger:   led,
		orders:   orders,
		purchase: pur,
		log:      logger,
	}
}

// Register mounts all routes under /api/v1
func (h *Handler) Register(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.PUT("/orders/:id/cancel", h.cancelOrder)
		v1.PUT("/orders/:id/status", h.updateOrderStatus)
		v1.DELETE("/orders/:id", h.deleteOrder)

		v1.POST("/purchase-orders", h.createPurchaseOrder)
		v1.GET("/purchase-orders/:id", h.getPurchaseOrder)
		v1.PUT("/purchase-orders/:id", h.updatePurchaseOrder)
		v1.DELETE("/purchase-orders/:id", h.deletePurchaseOrder)

		v1.POST("/books", h.createBook)
		v1.GET("/books/:id", h.getBook)
		v1.POST("/books/:id/restock", h.restockBook)

		v1.POST("/suppliers", h.createSupplier)
	}
}

// Display prefixes are a presentation concern; the core works with plain ids.
func orderRef(id int64) string    { return fmt.Sprintf("ORD-%04d", id) }
func purchaseRef(id int64) string { return fmt.Sprintf("PUR-%04d", id) }
func supplierRef(id int64) string { return fmt.Sprintf("SUP-%02d", id) }

// parseRef accepts either a bare integer id or a prefixed display reference
func parseRef(raw, prefix string) (int64, error) {
	raw = strings.TrimPrefix(raw, prefix+"-")
	return strconv.ParseInt(raw, 10, 64)
}

type lineItemRequest struct {
	BookID    int64 `json:"book_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
	UnitPrice int64 `json:"unit_price" binding:"required"`
}

type createOrderRequest struct {
	UserID          int64             `json:"user_id" binding:"required"`
	Items           []lineItemRequest `json:"items" binding:"required"`
	ShippingAddress string            `json:"shipping_address" binding:"required"`
}

func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]order.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.LineItem{
			BookID:    it.BookID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	receipt, err := h.orders.CreateOrder(c.Request.Context(), req.UserID, items, req.ShippingAddress)
	if err != nil {
		h.renderError(c, err)
		return
	}

	refs := make([]string, 0, len(receipt.OrderIDs))
	for _, id := range receipt.OrderIDs {
		refs = append(refs, orderRef(id))
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_ids":         refs,
		"remaining_balance": receipt.RemainingBalance,
		"discount_rate":     receipt.DiscountRate,
	})
}

func (h *Handler) getOrder(c *gin.Context) {
	id, err := parseRef(c.Param("id"), "ORD")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	ord, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ref": orderRef(ord.ID), "order": ord})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, err := parseRef(c.Param("id"), "ORD")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	if err := h.orders.CancelOrder(c.Request.Context(), id); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "order cancelled and refunded"})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	id, err := parseRef(c.Param("id"), "ORD")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orders.UpdateStatus(c.Request.Context(), id, db.OrderStatus(req.Status)); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "order status updated"})
}

func (h *Handler) deleteOrder(c *gin.Context) {
	id, err := parseRef(c.Param("id"), "ORD")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	if err := h.orders.DeleteOrder(c.Request.Context(), id); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "order deleted"})
}

type createPurchaseRequest struct {
	BookID        int64  `json:"book_id" binding:"required"`
	Quantity      int    `json:"quantity" binding:"required"`
	LinkedOrderID *int64 `json:"linked_order_id"`
}

func (h *Handler) createPurchaseOrder(c *gin.Context) {
	var req createPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.purchase.Create(c.Request.Context(), req.BookID, req.Quantity, req.LinkedOrderID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": purchaseRef(id)})
}

func (h *Handler) getPurchaseOrder(c *gin.Context) {
	id, err := parseRef(c.Param("id"), "PUR")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase order id"})
		return
	}

	po, err := h.purchase.Get(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ref": purchaseRef(po.ID), "purchase_order": po})
}

type updatePurchaseRequest struct {
	Quantity *int   `json:"quantity"`
	Status   string `json:"status" binding:"required"`
}

func (h *Handler) updatePurchaseOrder(c *gin.Context) {
	id, err := parseRef(c.Param("id"), "PUR")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase order id"})
		return
	}

	var req updatePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.purchase.Update(c.Request.Context(), id, req.Quantity, db.PurchaseStatus(req.Status)); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "purchase order updated"})
}

func (h *Handler) deletePurchaseOrder(c *gin.Context) {
	id, err := parseRef(c.Param("id"), "PUR")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase order id"})
		return
	}

	if err := h.purchase.Delete(c.Request.Context(), id); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "purchase order deleted"})
}

type createBookRequest struct {
	Title      string `json:"title" binding:"required"`
	AuthorLine string `json:"author"`
	Publisher  string `json:"publisher" binding:"required"`
	Keyword    string `json:"keyword"`
	Price      int64  `json:"price" binding:"required"`
	Stock      int    `json:"stock"`
	SeriesNo   int    `json:"series_no"`
	SupplierID int64  `json:"supplier_id" binding:"required"`
}

func (h *Handler) createBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Stock < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stock cannot be negative"})
		return
	}

	book := db.Book{
		Title:      req.Title,
		Publisher:  req.Publisher,
		Keyword:    req.Keyword,
		Price:      req.Price,
		Stock:      req.Stock,
		SeriesNo:   req.SeriesNo,
		SupplierID: req.SupplierID,
	}
	if err := h.catalog.CreateBook(c.Request.Context(), &book, req.AuthorLine); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": book.ID})
}

func (h *Handler) getBook(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	book, err := h.catalog.GetBook(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"book":         book,
		"stock_status": catalog.StatusForStock(book.Stock),
	})
}

type restockRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

func (h *Handler) restockBook(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newStock, err := h.catalog.Restock(c.Request.Context(), id, req.Quantity)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stock": newStock, "stock_status": catalog.StatusForStock(newStock)})
}

type createSupplierRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Phone    string `json:"phone"`
	Category string `json:"category"`
	Region   string `json:"region"`
	Website  string `json:"website"`
}

func (h *Handler) createSupplier(c *gin.Context) {
	var req createSupplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	supplier := db.Supplier{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Category: req.Category,
		Region:   req.Region,
		Website:  req.Website,
	}
	if err := h.catalog.CreateSupplier(c.Request.Context(), &supplier); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": supplierRef(supplier.ID)})
}

// renderError maps the core's error taxonomy onto HTTP statuses. Insufficient
// funds and insufficient stock get distinct codes so the caller can render a
// specific remedy.
func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, catalog.ErrBookNotFound),
		errors.Is(err, catalog.ErrSupplierNotFound),
		errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, purchase.ErrPurchaseNotFound),
		errors.Is(err, purchase.ErrLinkedOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, catalog.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": "insufficient_stock"})
	case errors.Is(err, order.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": "dependent_purchase_order"})
	case errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, purchase.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrNoShippingAddress),
		errors.Is(err, catalog.ErrTooManyAuthors),
		errors.Is(err, catalog.ErrSupplierExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error("Unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
