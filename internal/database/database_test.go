package database

import (
	"testing"
	"time"

	"github.com/coinledger/coinledger-api/internal/database/migrations"
	"github.com/coinledger/coinledger-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCoinIdentifiersMigration(t *testing.T) {
	db, err := NewTestDatabase()
	require.NoError(t, err)

	require.NoError(t, db.Create(&types.Holding{
		UserID:          "alice",
		CoinID:          "BTC ",
		CoinSymbol:      "BTC",
		Quantity:        1,
		AverageBuyPrice: 100,
		LastUpdated:     time.Now(),
	}).Error)
	require.NoError(t, db.Create(&types.Order{
		OrderID:   "ORD_migrate",
		UserID:    "alice",
		CoinID:    "Ethereum",
		Side:      types.SideBuy,
		Mode:      types.ModeMarket,
		Status:    types.StatusPending,
		Quantity:  1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}).Error)

	require.NoError(t, migrations.NormalizeCoinIdentifiers(db))

	var holding types.Holding
	require.NoError(t, db.Where("user_id = ?", "alice").First(&holding).Error)
	assert.Equal(t, "btc", holding.CoinID)

	var order types.Order
	require.NoError(t, db.Where("order_id = ?", "ORD_migrate").First(&order).Error)
	assert.Equal(t, "ethereum", order.CoinID)
}
