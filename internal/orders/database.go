package orders

import (
	"errors"
	"time"

	"github.com/coinledger/coinledger-api/internal/types"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrInvalidRequest   = errors.New("invalid order request")
	ErrNotCancellable   = errors.New("order is no longer pending")
	ErrPriceUnavailable = errors.New("market price unavailable")
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByOrderIDAndUserID(orderID, userID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ? AND user_id = ?", orderID, userID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetUserOrders(userID string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// GetPendingLimitOrders returns every order the sweeper must evaluate.
func (d *Database) GetPendingLimitOrders() ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where("status = ? AND mode = ? AND limit_price IS NOT NULL",
		types.StatusPending, types.ModeLimit).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// CreateOrderWithIdempotency creates a new order and idempotency record
// in a transaction
func (d *Database) CreateOrderWithIdempotency(order *types.Order, idempotencyKey string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		record := types.IdempotencyRecord{
			IdempotencyKey: idempotencyKey,
			ResourceID:     order.OrderID,
			ResourceType:   "order",
			ExpiresAt:      time.Now().Add(24 * time.Hour),
		}
		return tx.Create(&record).Error
	})
}

// GetIdempotencyRecord retrieves an idempotency record by key
func (d *Database) GetIdempotencyRecord(key string) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// markCompleted is the guarded pending -> completed transition: the
// conditional WHERE is what loses the race against a concurrent sweep
// or a cancellation, and losing it is not an error.
func (d *Database) markCompleted(orderID string, totalAmount float64) (bool, error) {
	now := time.Now()
	result := d.db.Model(&types.Order{}).
		Where("order_id = ? AND status = ?", orderID, types.StatusPending).
		Updates(map[string]interface{}{
			"status":       types.StatusCompleted,
			"total_amount": totalAmount,
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// markCancelled is the guarded pending -> cancelled transition.
func (d *Database) markCancelled(orderID, userID string) (bool, error) {
	result := d.db.Model(&types.Order{}).
		Where("order_id = ? AND user_id = ? AND status = ?", orderID, userID, types.StatusPending).
		Updates(map[string]interface{}{
			"status":     types.StatusCancelled,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
