package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/coinledger/coinledger-api/internal/database"
	"github.com/coinledger/coinledger-api/internal/execution"
	"github.com/coinledger/coinledger-api/internal/oracle"
	"github.com/coinledger/coinledger-api/internal/orders"
	"github.com/coinledger/coinledger-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	svc    *Service
	prices *oracle.StaticSource
	orders *orders.Service
}

func setup(t *testing.T, prices map[string]float64) *fixture {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)

	source := oracle.NewStaticSource(prices)
	executor := execution.NewService(db)
	orderSvc := orders.NewService(db, source, executor)

	return &fixture{
		db:     db,
		svc:    NewService(orderSvc, executor, source),
		prices: source,
		orders: orderSvc,
	}
}

func (f *fixture) createProfile(t *testing.T, userID string, balance float64) {
	t.Helper()
	require.NoError(t, f.db.Create(&types.Profile{
		UserID:    userID,
		Balance:   balance,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}).Error)
}

func (f *fixture) createLimitOrder(t *testing.T, userID, coinID, symbol, side string, quantity, limitPrice float64) *types.Order {
	t.Helper()
	order := &types.Order{
		OrderID:     "ORD_" + uuid.New().String(),
		UserID:      userID,
		CoinID:      coinID,
		CoinSymbol:  symbol,
		Side:        side,
		Mode:        types.ModeLimit,
		Status:      types.StatusPending,
		Quantity:    quantity,
		LimitPrice:  &limitPrice,
		TotalAmount: limitPrice * quantity,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, f.db.Create(order).Error)
	return order
}

func (f *fixture) getOrder(t *testing.T, orderID string) *types.Order {
	t.Helper()
	var order types.Order
	require.NoError(t, f.db.Where("order_id = ?", orderID).First(&order).Error)
	return &order
}

func TestSweepExecutesBuyBelowLimit(t *testing.T) {
	f := setup(t, map[string]float64{"BTCUSDT": 95})
	f.createProfile(t, "alice", 10_000)
	order := f.createLimitOrder(t, "alice", "bitcoin", "BTC", types.SideBuy, 1, 100)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 0, report.Skipped)

	updated := f.getOrder(t, order.OrderID)
	assert.Equal(t, types.StatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	// Execution uses the live price, not the stale limit price
	assert.InDelta(t, 95.0, updated.TotalAmount, 1e-9)

	var txn types.Transaction
	require.NoError(t, f.db.Where("order_id = ?", order.OrderID).First(&txn).Error)
	assert.Equal(t, 95.0, txn.PricePerUnit)
}

func TestSweepSkipsBuyAboveLimit(t *testing.T) {
	f := setup(t, map[string]float64{"BTCUSDT": 105})
	f.createProfile(t, "alice", 10_000)
	order := f.createLimitOrder(t, "alice", "bitcoin", "BTC", types.SideBuy, 1, 100)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Executed)
	assert.Equal(t, 1, report.Skipped)

	assert.Equal(t, types.StatusPending, f.getOrder(t, order.OrderID).Status)
}

func TestSweepExecutesSellAboveLimit(t *testing.T) {
	f := setup(t, map[string]float64{"ETHUSDT": 2_100})
	f.createProfile(t, "alice", 0)
	require.NoError(t, f.db.Create(&types.Holding{
		UserID:          "alice",
		CoinID:          "ethereum",
		CoinSymbol:      "ETH",
		Quantity:        2,
		AverageBuyPrice: 1_800,
		LastUpdated:     time.Now(),
	}).Error)
	order := f.createLimitOrder(t, "alice", "ethereum", "ETH", types.SideSell, 2, 2_000)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, types.StatusCompleted, f.getOrder(t, order.OrderID).Status)

	var profile types.Profile
	require.NoError(t, f.db.Where("user_id = ?", "alice").First(&profile).Error)
	assert.InDelta(t, 4_200*(1-execution.FeeRate), profile.Balance, 1e-9)
}

func TestSweepSkipsSellBelowLimit(t *testing.T) {
	f := setup(t, map[string]float64{"ETHUSDT": 1_900})
	f.createProfile(t, "alice", 0)
	order := f.createLimitOrder(t, "alice", "ethereum", "ETH", types.SideSell, 1, 2_000)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, types.StatusPending, f.getOrder(t, order.OrderID).Status)
}

func TestSweepSkipsZeroPrice(t *testing.T) {
	f := setup(t, map[string]float64{"BTCUSDT": 0})
	f.createProfile(t, "alice", 10_000)
	order := f.createLimitOrder(t, "alice", "bitcoin", "BTC", types.SideBuy, 1, 100)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Executed)
	assert.Equal(t, 1, report.Skipped)
	assert.Contains(t, report.Results[0].Reason, "non-positive price")

	// No state was mutated
	assert.Equal(t, types.StatusPending, f.getOrder(t, order.OrderID).Status)
	var profile types.Profile
	require.NoError(t, f.db.Where("user_id = ?", "alice").First(&profile).Error)
	assert.Equal(t, 10_000.0, profile.Balance)
	var txns int64
	require.NoError(t, f.db.Model(&types.Transaction{}).Count(&txns).Error)
	assert.EqualValues(t, 0, txns)
}

func TestSweepSkipsUnavailableOracle(t *testing.T) {
	f := setup(t, map[string]float64{}) // oracle knows no symbols
	f.createProfile(t, "alice", 10_000)
	order := f.createLimitOrder(t, "alice", "bitcoin", "BTC", types.SideBuy, 1, 100)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Contains(t, report.Results[0].Reason, "price lookup failed")
	assert.Equal(t, types.StatusPending, f.getOrder(t, order.OrderID).Status)
}

func TestSweepSkipsUnsupportedSymbol(t *testing.T) {
	f := setup(t, map[string]float64{})
	f.createProfile(t, "alice", 10_000)
	order := f.createLimitOrder(t, "alice", "mysterycoin", "", types.SideBuy, 1, 100)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Contains(t, report.Results[0].Reason, "symbol not supported")
	assert.Equal(t, types.StatusPending, f.getOrder(t, order.OrderID).Status)
}

func TestSweepExecutionFailureLeavesOrderPending(t *testing.T) {
	f := setup(t, map[string]float64{"BTCUSDT": 95})
	f.createProfile(t, "alice", 10) // cannot afford the buy
	order := f.createLimitOrder(t, "alice", "bitcoin", "BTC", types.SideBuy, 1, 100)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Reason, "execution failed")
	assert.Equal(t, types.StatusPending, f.getOrder(t, order.OrderID).Status)

	// Funds arrive; the next sweep retries the same order
	require.NoError(t, f.db.Model(&types.Profile{}).
		Where("user_id = ?", "alice").Update("balance", 10_000).Error)

	report, err = f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, types.StatusCompleted, f.getOrder(t, order.OrderID).Status)
}

func TestSweepRecoversFromFailedStatusWrite(t *testing.T) {
	f := setup(t, map[string]float64{"BTCUSDT": 95})
	f.createProfile(t, "alice", 10_000)
	order := f.createLimitOrder(t, "alice", "bitcoin", "BTC", types.SideBuy, 1, 100)

	// Simulate a crash between execution and the completion write: the
	// transaction exists but the order is still pending.
	require.NoError(t, f.db.Create(&types.Transaction{
		TransactionID:   "TXN_" + uuid.New().String(),
		UserID:          "alice",
		OrderID:         order.OrderID,
		Type:            types.SideBuy,
		CoinID:          "bitcoin",
		CoinSymbol:      "BTC",
		Quantity:        1,
		PricePerUnit:    95,
		TotalAmount:     95,
		TransactionDate: time.Now(),
	}).Error)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)

	// De-dup guard: still exactly one transaction, balance untouched
	var txns int64
	require.NoError(t, f.db.Model(&types.Transaction{}).
		Where("order_id = ?", order.OrderID).Count(&txns).Error)
	assert.EqualValues(t, 1, txns)

	var profile types.Profile
	require.NoError(t, f.db.Where("user_id = ?", "alice").First(&profile).Error)
	assert.Equal(t, 10_000.0, profile.Balance)

	assert.Equal(t, types.StatusCompleted, f.getOrder(t, order.OrderID).Status)
}

func TestSweepCancelledOrderNotCompleted(t *testing.T) {
	f := setup(t, map[string]float64{"BTCUSDT": 95})
	f.createProfile(t, "alice", 10_000)
	order := f.createLimitOrder(t, "alice", "bitcoin", "BTC", types.SideBuy, 1, 100)

	// Cancelled before the sweep picks up its snapshot
	require.NoError(t, f.db.Model(&types.Order{}).
		Where("order_id = ?", order.OrderID).
		Update("status", types.StatusCancelled).Error)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Executed)
	assert.Equal(t, 0, report.Evaluated)
	assert.Equal(t, types.StatusCancelled, f.getOrder(t, order.OrderID).Status)
}

func TestSweepIsolatesOrderFailures(t *testing.T) {
	f := setup(t, map[string]float64{"BTCUSDT": 95})
	f.createProfile(t, "alice", 10_000)
	bad := f.createLimitOrder(t, "alice", "mysterycoin", "", types.SideBuy, 1, 100)
	good := f.createLimitOrder(t, "alice", "bitcoin", "BTC", types.SideBuy, 1, 100)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1, report.Skipped)

	assert.Equal(t, types.StatusPending, f.getOrder(t, bad.OrderID).Status)
	assert.Equal(t, types.StatusCompleted, f.getOrder(t, good.OrderID).Status)
}

func TestLimitSatisfied(t *testing.T) {
	assert.True(t, limitSatisfied(types.SideBuy, 95, 100))
	assert.True(t, limitSatisfied(types.SideBuy, 100, 100))
	assert.False(t, limitSatisfied(types.SideBuy, 105, 100))
	assert.True(t, limitSatisfied(types.SideSell, 105, 100))
	assert.True(t, limitSatisfied(types.SideSell, 100, 100))
	assert.False(t, limitSatisfied(types.SideSell, 95, 100))
	assert.False(t, limitSatisfied("short", 95, 100))
}
