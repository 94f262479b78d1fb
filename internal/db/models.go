package db

import (
	"time"

	"gorm.io/gorm"
)

// OrderStatus is the lifecycle state of a customer order
type OrderStatus string

const (
	OrderAwaitingRestock  OrderStatus = "awaiting_restock"
	OrderAwaitingDispatch OrderStatus = "awaiting_dispatch"
	OrderInTransit        OrderStatus = "in_transit"
	OrderDelivered        OrderStatus = "delivered"
	OrderCancelled        OrderStatus = "cancelled"
)

// PurchaseStatus is the lifecycle state of a supplier purchase order
type PurchaseStatus string

const (
	PurchasePending          PurchaseStatus = "pending"
	PurchaseAwaitingShipment PurchaseStatus = "awaiting_shipment"
	PurchaseInTransit        PurchaseStatus = "in_transit"
	PurchaseCompleted        PurchaseStatus = "completed"
	PurchaseCancelled        PurchaseStatus = "cancelled"
)

// Book represents a book in the catalog
type Book struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	Title      string    `gorm:"type:varchar(255);not null;index:idx_books_title" json:"title"`
	Publisher  string    `gorm:"type:varchar(255);not null" json:"publisher"`
	Keyword    string    `gorm:"type:varchar(100);index:idx_books_keyword" json:"keyword,omitempty"`
	Price      int64     `gorm:"not null" json:"price"` // Price in smallest currency unit (cents)
	Stock      int       `gorm:"not null;default:0" json:"stock"`
	SeriesNo   int       `gorm:"not null;default:0" json:"series_no"`
	SupplierID int64     `gorm:"not null;index:idx_books_supplier" json:"supplier_id"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Authors []BookAuthor `gorm:"foreignKey:BookID" json:"authors,omitempty"`
}

// TableName specifies the table name for Book model
func (Book) TableName() string {
	return "books"
}

// BeforeCreate hook to set timestamps
func (b *Book) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	return nil
}

// BeforeUpdate hook to update timestamp
func (b *Book) BeforeUpdate(tx *gorm.DB) error {
	b.UpdatedAt = time.Now()
	return nil
}

// BookAuthor is one author of a book. A book carries at most four authors,
// ordered by Position.
type BookAuthor struct {
	BookID   int64  `gorm:"primaryKey" json:"book_id"`
	Position int    `gorm:"primaryKey" json:"position"`
	Name     string `gorm:"type:varchar(255);not null" json:"name"`
}

// TableName specifies the table name for BookAuthor model
func (BookAuthor) TableName() string {
	return "book_authors"
}

// Supplier represents a book supplier. Books reference suppliers by id;
// the name carries a uniqueness constraint so lookups never hit duplicates.
type Supplier struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"type:varchar(255);not null;uniqueIndex:idx_suppliers_name" json:"name"`
	Email    string `gorm:"type:varchar(255);not null" json:"email"`
	Phone    string `gorm:"type:varchar(50)" json:"phone,omitempty"`
	Category string `gorm:"type:varchar(100)" json:"category,omitempty"`
	Region   string `gorm:"type:varchar(100)" json:"region,omitempty"`
	Website  string `gorm:"type:varchar(255)" json:"website,omitempty"`
}

// TableName specifies the table name for Supplier model
func (Supplier) TableName() string {
	return "suppliers"
}

// UserProfile is the ledger entry for one user: balance and credit level
type UserProfile struct {
	UserID      int64  `gorm:"primaryKey" json:"user_id"`
	FullName    string `gorm:"type:varchar(255);not null" json:"full_name"`
	Email       string `gorm:"type:varchar(255)" json:"email,omitempty"`
	Phone       string `gorm:"type:varchar(50)" json:"phone,omitempty"`
	Address     string `gorm:"type:varchar(500)" json:"address,omitempty"`
	Balance     int64  `gorm:"not null;default:0" json:"balance"` // Smallest currency unit (cents)
	CreditLevel int    `gorm:"not null;default:1" json:"credit_level"`
}

// TableName specifies the table name for UserProfile model
func (UserProfile) TableName() string {
	return "user_profiles"
}

// Order is a customer's request to purchase a quantity of one book.
// Price is the discounted line total captured at order time; Address is a
// snapshot of the shipping address. PurchaseID links the purchase order that
// was raised when the order could not be fulfilled from stock.
type Order struct {
	ID          int64       `gorm:"primaryKey" json:"id"`
	BookID      int64       `gorm:"not null;index:idx_orders_book" json:"book_id"`
	Quantity    int         `gorm:"not null" json:"quantity"`
	Price       int64       `gorm:"not null" json:"price"`
	ReaderID    int64       `gorm:"not null;index:idx_orders_reader" json:"reader_id"`
	Address     string      `gorm:"type:varchar(500);not null" json:"address"`
	Description string      `gorm:"type:varchar(500)" json:"description,omitempty"`
	Status      OrderStatus `gorm:"type:varchar(32);not null;index:idx_orders_status" json:"status"`
	PurchaseID  *int64      `gorm:"index:idx_orders_purchase" json:"purchase_id,omitempty"`
	CreatedAt   time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for Order model
func (Order) TableName() string {
	return "orders"
}

// BeforeCreate hook to set timestamps
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	return nil
}

// PurchaseOrder is a supplier-facing request to receive additional stock of
// one book. TicketID back-references the order the purchase was raised for;
// nil when an admin created it for proactive restocking.
type PurchaseOrder struct {
	ID        int64          `gorm:"primaryKey" json:"id"`
	BookID    int64          `gorm:"not null;index:idx_purchase_orders_book" json:"book_id"`
	Quantity  int            `gorm:"not null" json:"quantity"`
	Status    PurchaseStatus `gorm:"type:varchar(32);not null;index:idx_purchase_orders_status" json:"status"`
	TicketID  *int64         `gorm:"index:idx_purchase_orders_ticket" json:"ticket_id,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for PurchaseOrder model
func (PurchaseOrder) TableName() string {
	return "purchase_orders"
}

// BeforeCreate hook to set timestamps
func (p *PurchaseOrder) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	return nil
}
