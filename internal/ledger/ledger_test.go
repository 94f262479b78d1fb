package ledger

import (
	"context"
	"testing"

	"github.com/ibookstore/bookstore/internal/db"
	"github.com/ibookstore/bookstore/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *db.DB {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	database := &db.DB{DB: gormDB}
	require.NoError(t, db.RunMigrations(database))

	return database
}

func seedUser(t *testing.T, database *db.DB, balance int64, creditLevel int) *db.UserProfile {
	profile := &db.UserProfile{
		UserID:      1,
		FullName:    "Test Reader",
		Email:       "reader@example.com",
		Balance:     balance,
		CreditLevel: creditLevel,
	}
	require.NoError(t, database.Create(profile).Error)
	return profile
}

func TestDebit(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	led := NewLedger(database, log)

	ctx := context.Background()
	seedUser(t, database, 1000, 1)

	err := database.Transaction(func(tx *gorm.DB) error {
		newBalance, err := led.Debit(ctx, tx, 1, 400)
		require.NoError(t, err)
		assert.Equal(t, int64(600), newBalance)
		return nil
	})
	require.NoError(t, err)

	balance, err := led.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance)
}

func TestDebitInsufficientFunds(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	led := NewLedger(database, log)

	ctx := context.Background()
	seedUser(t, database, 100, 1)

	err := database.Transaction(func(tx *gorm.DB) error {
		_, err := led.Debit(ctx, tx, 1, 101)
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Balance untouched after rollback
	balance, err := led.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestCredit(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	led := NewLedger(database, log)

	ctx := context.Background()
	seedUser(t, database, 50, 1)

	err := database.Transaction(func(tx *gorm.DB) error {
		newBalance, err := led.Credit(ctx, tx, 1, 950)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), newBalance)
		return nil
	})
	require.NoError(t, err)
}

func TestDebitUnknownUser(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	led := NewLedger(database, log)

	err := database.Transaction(func(tx *gorm.DB) error {
		_, err := led.Debit(context.Background(), tx, 42, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetCreditLevel(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	led := NewLedger(database, log)

	seedUser(t, database, 0, 4)

	level, err := led.GetCreditLevel(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, level)
}

func TestDiscountRate(t *testing.T) {
	tests := []struct {
		level int
		rate  float64
	}{
		{1, 0.10},
		{2, 0.15},
		{3, 0.15},
		{4, 0.20},
		{5, 0.25},
		{0, 0.10},
		{9, 0.10},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.rate, DiscountRate(tt.level), "level %d", tt.level)
	}
}

func TestDiscountedTotal(t *testing.T) {
	assert.Equal(t, int64(90), DiscountedTotal(100, 1))
	assert.Equal(t, int64(85), DiscountedTotal(100, 2))
	assert.Equal(t, int64(75), DiscountedTotal(100, 5))
	// Rounds to the nearest cent
	assert.Equal(t, int64(89), DiscountedTotal(99, 1))
	assert.Equal(t, int64(0), DiscountedTotal(0, 3))
}
