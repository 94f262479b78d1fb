package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ibookstore/bookstore/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound is returned when the user has no ledger entry
	ErrUserNotFound = errors.New("user not found")

	// ErrInsufficientFunds is returned when a debit exceeds the balance
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Ledger holds per-user balance and credit level and exposes the atomic
// debit/credit operations. Balance is never mutated by any other path.
type Ledger struct {
	db  *db.DB
	log *zap.Logger
}

// NewLedger creates a new ledger
func NewLedger(database *db.DB, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:  database,
		log: logger,
	}
}

// Debit atomically decrements a user's balance inside the caller's
// transaction. The sufficiency check and the decrement share the row lock, so
// a concurrent debit observes only the committed balance.
func (l *Ledger) Debit(ctx context.Context, tx *gorm.DB, userID int64, amount int64) (int64, error) {
	profile, err := l.LockProfile(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	if profile.Balance < amount {
		return 0, fmt.Errorf("balance %d short of %d: %w", profile.Balance, amount, ErrInsufficientFunds)
	}

	newBalance := profile.Balance - amount
	if err := tx.WithContext(ctx).Model(&db.UserProfile{}).Where("user_id = ?", userID).
		Update("balance", newBalance).Error; err != nil {
		l.log.Error("Failed to debit balance", zap.Int64("user_id", userID), zap.Int64("amount", amount), zap.Error(err))
		return 0, err
	}

	return newBalance, nil
}

// Credit atomically increments a user's balance inside the caller's
// transaction. Refunds and top-ups have no upper bound.
func (l *Ledger) Credit(ctx context.Context, tx *gorm.DB, userID int64, amount int64) (int64, error) {
	profile, err := l.LockProfile(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	newBalance := profile.Balance + amount
	if err := tx.WithContext(ctx).Model(&db.UserProfile{}).Where("user_id = ?", userID).
		Update("balance", newBalance).Error; err != nil {
		l.log.Error("Failed to credit balance", zap.Int64("user_id", userID), zap.Int64("amount", amount), zap.Error(err))
		return 0, err
	}

	return newBalance, nil
}

// GetProfile retrieves a user's ledger entry
func (l *Ledger) GetProfile(ctx context.Context, userID int64) (*db.UserProfile, error) {
	var profile db.UserProfile
	err := l.db.WithContext(ctx).First(&profile, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		l.log.Error("Failed to get user profile", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}

	return &profile, nil
}

// GetBalance returns a user's current balance
func (l *Ledger) GetBalance(ctx context.Context, userID int64) (int64, error) {
	profile, err := l.GetProfile(ctx, userID)
	if err != nil {
		return 0, err
	}
	return profile.Balance, nil
}

// GetCreditLevel returns a user's credit level
func (l *Ledger) GetCreditLevel(ctx context.Context, userID int64) (int, error) {
	profile, err := l.GetProfile(ctx, userID)
	if err != nil {
		return 0, err
	}
	return profile.CreditLevel, nil
}

// LockProfile reads a user's ledger entry inside the caller's transaction,
// holding its row lock. Engines use it for check-then-debit sequences that
// must not interleave with a concurrent debit.
func (l *Ledger) LockProfile(ctx context.Context, tx *gorm.DB, userID int64) (*db.UserProfile, error) {
	var profile db.UserProfile
	if err := db.ForUpdate(tx.WithContext(ctx)).First(&profile, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user %d: %w", userID, err)
	}
	return &profile, nil
}

// DiscountRate maps a credit level to the checkout discount rate. Pure
// function, no side effects; any checkout computation reuses it.
func DiscountRate(creditLevel int) float64 {
	switch creditLevel {
	case 1:
		return 0.10
	case 2:
		return 0.15
	case 3:
		return 0.15
	case 4:
		return 0.20
	case 5:
		return 0.25
	default:
		return 0.10
	}
}

// DiscountedTotal applies the credit-level discount to an amount in cents,
// rounding to the nearest cent.
func DiscountedTotal(amount int64, creditLevel int) int64 {
	rate := DiscountRate(creditLevel)
	return amount - int64(math.Round(float64(amount)*rate))
}
