package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ibookstore/bookstore/internal/db"
	"github.com/ibookstore/bookstore/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrBookNotFound is returned when a book is not found
	ErrBookNotFound = errors.New("book not found")

	// ErrSupplierNotFound is returned when a supplier is not found
	ErrSupplierNotFound = errors.New("supplier not found")

	// ErrSupplierExists is returned when a supplier with the same name already exists
	ErrSupplierExists = errors.New("supplier name already taken")

	// ErrInsufficientStock is returned when an adjustment would drive stock negative
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrTooManyAuthors is returned when a book is given more than four authors
	ErrTooManyAuthors = errors.New("a book carries at most four authors")
)

// StockStatus is the derived availability of a book, computed on read
type StockStatus string

const (
	OutOfStock StockStatus = "out_of_stock"
	LowStock   StockStatus = "low_stock"
	InStock    StockStatus = "in_stock"

	// A book below this threshold is eligible for shortage tooling to act on
	lowStockThreshold = 10

	maxAuthors = 4
)

// StatusForStock derives the availability status for a stock count
func StatusForStock(stock int) StockStatus {
	switch {
	case stock == 0:
		return OutOfStock
	case stock < lowStockThreshold:
		return LowStock
	default:
		return InStock
	}
}

// Store holds book records and supplier associations and exposes the atomic
// stock adjustment every other component goes through. Stock is never mutated
// by any other path.
type Store struct {
	db  *db.DB
	log *zap.Logger
}

// NewStore creates a new catalog store
func NewStore(database *db.DB, logger *zap.Logger) *Store {
	return &Store{
		db:  database,
		log: logger,
	}
}

// AdjustStock atomically applies stock += delta inside the caller's
// transaction and returns the new stock. The book row is locked for the rest
// of the transaction. A delta that would drive stock negative fails with
// ErrInsufficientStock, which must roll back the enclosing transaction.
func (s *Store) AdjustStock(ctx context.Context, tx *gorm.DB, bookID int64, delta int) (int, error) {
	var book db.Book
	if err := db.ForUpdate(tx.WithContext(ctx)).First(&book, bookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrBookNotFound
		}
		return 0, fmt.Errorf("lock book %d: %w", bookID, err)
	}

	newStock := book.Stock + delta
	if newStock < 0 {
		return 0, fmt.Errorf("book %d has %d in stock, cannot remove %d: %w",
			bookID, book.Stock, -delta, ErrInsufficientStock)
	}

	if err := tx.WithContext(ctx).Model(&db.Book{}).Where("id = ?", bookID).
		Update("stock", newStock).Error; err != nil {
		s.log.Error("Failed to adjust stock", zap.Int64("book_id", bookID), zap.Int("delta", delta), zap.Error(err))
		return 0, err
	}

	direction := "credit"
	if delta < 0 {
		direction = "debit"
	}
	metrics.StockAdjustments.WithLabelValues(direction).Inc()

	return newStock, nil
}

// BookForUpdate reads a book inside the caller's transaction, holding its row
// lock so a stock check and the adjustment that follows cannot interleave
// with a concurrent writer.
func (s *Store) BookForUpdate(ctx context.Context, tx *gorm.DB, bookID int64) (*db.Book, error) {
	var book db.Book
	if err := db.ForUpdate(tx.WithContext(ctx)).First(&book, bookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("lock book %d: %w", bookID, err)
	}
	return &book, nil
}

// SupplierByID reads a supplier inside the caller's transaction
func (s *Store) SupplierByID(ctx context.Context, tx *gorm.DB, supplierID int64) (*db.Supplier, error) {
	var supplier db.Supplier
	if err := tx.WithContext(ctx).First(&supplier, supplierID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSupplierNotFound
		}
		return nil, err
	}
	return &supplier, nil
}

// GetBook retrieves a book by id, with its authors
func (s *Store) GetBook(ctx context.Context, bookID int64) (*db.Book, error) {
	var book db.Book
	err := s.db.WithContext(ctx).Preload("Authors", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC")
	}).First(&book, bookID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		s.log.Error("Failed to get book", zap.Int64("book_id", bookID), zap.Error(err))
		return nil, err
	}

	return &book, nil
}

// GetStock returns the current stock of a book
func (s *Store) GetStock(ctx context.Context, bookID int64) (int, error) {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return 0, err
	}
	return book.Stock, nil
}

// ParseAuthors splits an author line on half- and full-width commas, trims
// each name and drops empties. More than four authors is rejected.
func ParseAuthors(line string) ([]string, error) {
	parts := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == '，'
	})

	authors := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			authors = append(authors, name)
		}
	}

	if len(authors) > maxAuthors {
		return nil, ErrTooManyAuthors
	}
	return authors, nil
}

// CreateBook creates a book and its ordered author rows in one transaction.
// AuthorLine is the raw comma-separated input; the supplier must exist.
func (s *Store) CreateBook(ctx context.Context, book *db.Book, authorLine string) error {
	authors, err := ParseAuthors(authorLine)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var supplier db.Supplier
		if err := tx.First(&supplier, book.SupplierID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSupplierNotFound
			}
			return err
		}

		if err := tx.Create(book).Error; err != nil {
			s.log.Error("Failed to create book", zap.String("title", book.Title), zap.Error(err))
			return err
		}

		for i, name := range authors {
			author := db.BookAuthor{BookID: book.ID, Position: i + 1, Name: name}
			if err := tx.Create(&author).Error; err != nil {
				return fmt.Errorf("create author %q: %w", name, err)
			}
		}

		s.log.Info("Book created",
			zap.Int64("book_id", book.ID),
			zap.String("title", book.Title),
			zap.Int("authors", len(authors)),
		)
		return nil
	})
}

// ListBooks returns a paginated list of books with an optional keyword filter
func (s *Store) ListBooks(ctx context.Context, page, pageSize int, keyword string) ([]*db.Book, int64, error) {
	query := s.db.WithContext(ctx).Model(&db.Book{})

	if keyword != "" {
		query = query.Where("keyword = ?", keyword)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.log.Error("Failed to count books", zap.Error(err))
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	var books []*db.Book
	if err := query.Offset(offset).Limit(pageSize).Order("created_at DESC").Find(&books).Error; err != nil {
		s.log.Error("Failed to list books", zap.Error(err))
		return nil, 0, err
	}

	return books, total, nil
}

// Restock applies a positive admin adjustment in its own transaction
func (s *Store) Restock(ctx context.Context, bookID int64, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("restock quantity must be positive, got %d", quantity)
	}

	var newStock int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		newStock, err = s.AdjustStock(ctx, tx, bookID, quantity)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("Book restocked", zap.Int64("book_id", bookID), zap.Int("quantity", quantity), zap.Int("stock", newStock))
	return newStock, nil
}

// CreateSupplier creates a supplier, enforcing name uniqueness at creation time
func (s *Store) CreateSupplier(ctx context.Context, supplier *db.Supplier) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing db.Supplier
		err := tx.Where("name = ?", supplier.Name).First(&existing).Error
		if err == nil {
			return ErrSupplierExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Create(supplier).Error; err != nil {
			s.log.Error("Failed to create supplier", zap.String("name", supplier.Name), zap.Error(err))
			return err
		}

		s.log.Info("Supplier created", zap.Int64("supplier_id", supplier.ID), zap.String("name", supplier.Name))
		return nil
	})
}

// GetSupplier retrieves a supplier by id
func (s *Store) GetSupplier(ctx context.Context, supplierID int64) (*db.Supplier, error) {
	var supplier db.Supplier
	err := s.db.WithContext(ctx).First(&supplier, supplierID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSupplierNotFound
		}
		s.log.Error("Failed to get supplier", zap.Int64("supplier_id", supplierID), zap.Error(err))
		return nil, err
	}

	return &supplier, nil
}

// SupplierForBook resolves the supplier a book is sourced from
func (s *Store) SupplierForBook(ctx context.Context, bookID int64) (*db.Supplier, error) {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return s.GetSupplier(ctx, book.SupplierID)
}
