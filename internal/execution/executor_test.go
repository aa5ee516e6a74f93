package execution

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/coinledger/coinledger-api/internal/database"
	"github.com/coinledger/coinledger-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupExecutor(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)
	return NewService(db), db
}

func createProfile(t *testing.T, db *gorm.DB, userID string, balance float64) {
	t.Helper()
	require.NoError(t, db.Create(&types.Profile{
		UserID:    userID,
		Balance:   balance,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}).Error)
}

func createHolding(t *testing.T, db *gorm.DB, userID, coinID string, quantity, avgPrice float64) {
	t.Helper()
	require.NoError(t, db.Create(&types.Holding{
		UserID:          userID,
		CoinID:          coinID,
		CoinSymbol:      "BTC",
		Quantity:        quantity,
		AverageBuyPrice: avgPrice,
		LastUpdated:     time.Now(),
	}).Error)
}

func pendingOrder(userID, coinID, side string, quantity float64) *types.Order {
	return &types.Order{
		OrderID:    "ORD_" + uuid.New().String(),
		UserID:     userID,
		CoinID:     coinID,
		CoinSymbol: "BTC",
		Side:       side,
		Mode:       types.ModeMarket,
		Status:     types.StatusPending,
		Quantity:   quantity,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func getProfile(t *testing.T, db *gorm.DB, userID string) *types.Profile {
	t.Helper()
	var profile types.Profile
	require.NoError(t, db.Where("user_id = ?", userID).First(&profile).Error)
	return &profile
}

func countTransactions(t *testing.T, db *gorm.DB, orderID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&types.Transaction{}).Where("order_id = ?", orderID).Count(&count).Error)
	return count
}

func TestExecuteBuy(t *testing.T) {
	svc, db := setupExecutor(t)
	createProfile(t, db, "alice", 10_000)

	order := pendingOrder("alice", "bitcoin", types.SideBuy, 2)
	require.NoError(t, svc.Execute(order, 100))

	// balance_after = balance_before - total*(1+fee)
	profile := getProfile(t, db, "alice")
	assert.InDelta(t, 10_000-200*(1+FeeRate), profile.Balance, 1e-9)

	var holding types.Holding
	require.NoError(t, db.Where("user_id = ? AND coin_id = ?", "alice", "bitcoin").First(&holding).Error)
	assert.Equal(t, 2.0, holding.Quantity)
	assert.Equal(t, 100.0, holding.AverageBuyPrice)

	assert.EqualValues(t, 1, countTransactions(t, db, order.OrderID))
}

func TestExecuteBuyInsufficientFunds(t *testing.T) {
	svc, db := setupExecutor(t)
	createProfile(t, db, "alice", 100)

	order := pendingOrder("alice", "bitcoin", types.SideBuy, 2)
	err := svc.Execute(order, 100)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// No state change on rejection
	assert.Equal(t, 100.0, getProfile(t, db, "alice").Balance)
	assert.EqualValues(t, 0, countTransactions(t, db, order.OrderID))

	var holdings int64
	require.NoError(t, db.Model(&types.Holding{}).Where("user_id = ?", "alice").Count(&holdings).Error)
	assert.EqualValues(t, 0, holdings)
}

func TestExecuteBuyVolumeWeightedAverage(t *testing.T) {
	svc, db := setupExecutor(t)
	createProfile(t, db, "alice", 10_000)
	createHolding(t, db, "alice", "bitcoin", 2, 100)

	// qty=2 @ avg 100 plus a buy of qty=3 totalling 360 -> avg (200+360)/5
	order := pendingOrder("alice", "bitcoin", types.SideBuy, 3)
	require.NoError(t, svc.Execute(order, 120))

	var holding types.Holding
	require.NoError(t, db.Where("user_id = ? AND coin_id = ?", "alice", "bitcoin").First(&holding).Error)
	assert.Equal(t, 5.0, holding.Quantity)
	assert.InDelta(t, 112.0, holding.AverageBuyPrice, 1e-9)
}

func TestExecuteSell(t *testing.T) {
	svc, db := setupExecutor(t)
	createProfile(t, db, "alice", 1_000)
	createHolding(t, db, "alice", "bitcoin", 5, 100)

	order := pendingOrder("alice", "bitcoin", types.SideSell, 2)
	require.NoError(t, svc.Execute(order, 110))

	// balance_after = balance_before + total*(1-fee)
	profile := getProfile(t, db, "alice")
	assert.InDelta(t, 1_000+220*(1-FeeRate), profile.Balance, 1e-9)

	var holding types.Holding
	require.NoError(t, db.Where("user_id = ? AND coin_id = ?", "alice", "bitcoin").First(&holding).Error)
	assert.Equal(t, 3.0, holding.Quantity)
}

func TestExecuteSellDrainsHolding(t *testing.T) {
	svc, db := setupExecutor(t)
	createProfile(t, db, "alice", 0)
	createHolding(t, db, "alice", "bitcoin", 2, 100)

	order := pendingOrder("alice", "bitcoin", types.SideSell, 2)
	require.NoError(t, svc.Execute(order, 100))

	// A holding drained to zero is deleted, not left at quantity 0
	var count int64
	require.NoError(t, db.Model(&types.Holding{}).Where("user_id = ?", "alice").Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestExecuteSellInsufficientHoldings(t *testing.T) {
	svc, db := setupExecutor(t)
	createProfile(t, db, "alice", 1_000)
	createHolding(t, db, "alice", "bitcoin", 1, 100)

	order := pendingOrder("alice", "bitcoin", types.SideSell, 2)
	assert.ErrorIs(t, svc.Execute(order, 100), ErrInsufficientHoldings)

	assert.Equal(t, 1_000.0, getProfile(t, db, "alice").Balance)
}

func TestExecuteSellNoHolding(t *testing.T) {
	svc, db := setupExecutor(t)
	createProfile(t, db, "alice", 1_000)

	order := pendingOrder("alice", "ethereum", types.SideSell, 1)
	assert.ErrorIs(t, svc.Execute(order, 100), ErrInsufficientHoldings)
}

func TestExecuteIdempotent(t *testing.T) {
	svc, db := setupExecutor(t)
	createProfile(t, db, "alice", 10_000)

	order := pendingOrder("alice", "bitcoin", types.SideBuy, 1)
	require.NoError(t, svc.Execute(order, 100))
	balanceAfterFirst := getProfile(t, db, "alice").Balance

	// Second invocation is a no-op: one transaction, one debit
	require.NoError(t, svc.Execute(order, 100))
	assert.Equal(t, balanceAfterFirst, getProfile(t, db, "alice").Balance)
	assert.EqualValues(t, 1, countTransactions(t, db, order.OrderID))
}

func TestExecuteNormalizesCoinID(t *testing.T) {
	svc, db := setupExecutor(t)
	createProfile(t, db, "alice", 1_000)
	// Legacy row stored before identifiers were normalized
	createHolding(t, db, "alice", "BTC", 3, 100)

	order := pendingOrder("alice", "btc ", types.SideSell, 2)
	require.NoError(t, svc.Execute(order, 100))

	var holding types.Holding
	require.NoError(t, db.Where("user_id = ?", "alice").First(&holding).Error)
	assert.Equal(t, 1.0, holding.Quantity)
}

func TestExecuteValidation(t *testing.T) {
	svc, db := setupExecutor(t)
	createProfile(t, db, "alice", 1_000)

	order := pendingOrder("alice", "bitcoin", types.SideBuy, 1)
	assert.ErrorIs(t, svc.Execute(order, 0), ErrInvalidOrder)
	assert.ErrorIs(t, svc.Execute(order, -5), ErrInvalidOrder)

	zeroQty := pendingOrder("alice", "bitcoin", types.SideBuy, 0)
	assert.ErrorIs(t, svc.Execute(zeroQty, 100), ErrInvalidOrder)

	completed := pendingOrder("alice", "bitcoin", types.SideBuy, 1)
	completed.Status = types.StatusCompleted
	assert.ErrorIs(t, svc.Execute(completed, 100), ErrInvalidOrder)
}

func TestExecuteMissingProfile(t *testing.T) {
	svc, _ := setupExecutor(t)

	order := pendingOrder("ghost", "bitcoin", types.SideBuy, 1)
	assert.ErrorIs(t, svc.Execute(order, 100), ErrProfileNotFound)
}

func TestExecuteOrderByID(t *testing.T) {
	svc, db := setupExecutor(t)
	createProfile(t, db, "alice", 10_000)

	order := pendingOrder("alice", "bitcoin", types.SideBuy, 1)
	require.NoError(t, db.Create(order).Error)

	txn, err := svc.ExecuteOrder(order.OrderID, 150)
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, txn.OrderID)
	assert.Equal(t, 150.0, txn.PricePerUnit)
	assert.InDelta(t, 150.0, txn.TotalAmount, 1e-9)

	_, err = svc.ExecuteOrder("ORD_missing", 150)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
