package types

import (
	"time"

	"gorm.io/gorm"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order modes.
const (
	ModeMarket = "market"
	ModeLimit  = "limit"
)

// Order statuses. Completed and cancelled are terminal.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Profile holds a user's cash balance. Balance never goes below zero;
// every mutation is checked inside the store transaction that writes it.
type Profile struct {
	gorm.Model `json:"-"`
	UserID     string    `gorm:"uniqueIndex" json:"user_id"`
	Balance    float64   `json:"balance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Order is a single trade intent. LimitPrice is set iff Mode is limit.
type Order struct {
	gorm.Model  `json:"-"`
	OrderID     string     `gorm:"uniqueIndex" json:"order_id"`
	UserID      string     `gorm:"index" json:"user_id"`
	CoinID      string     `json:"coin_id"`
	CoinSymbol  string     `json:"coin_symbol"`
	Side        string     `json:"side"` // buy or sell
	Mode        string     `json:"mode"` // market or limit
	Status      string     `gorm:"index" json:"status"`
	Quantity    float64    `json:"quantity"`
	LimitPrice  *float64   `json:"limit_price,omitempty"`
	TotalAmount float64    `json:"total_amount"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Holding is a user's position in one coin. At most one row exists per
// (user, normalized coin id); rows are deleted rather than left at zero.
type Holding struct {
	gorm.Model      `json:"-"`
	UserID          string    `gorm:"uniqueIndex:idx_user_coin" json:"user_id"`
	CoinID          string    `gorm:"uniqueIndex:idx_user_coin" json:"coin_id"`
	CoinSymbol      string    `json:"coin_symbol"`
	Quantity        float64   `json:"quantity"`
	AverageBuyPrice float64   `json:"average_buy_price"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Transaction is the immutable audit record of one executed order.
// The unique index on OrderID is the de-dup guard: at most one
// transaction ever exists per order, so re-executing an order is a no-op.
type Transaction struct {
	gorm.Model      `json:"-"`
	TransactionID   string    `gorm:"uniqueIndex" json:"transaction_id"`
	UserID          string    `gorm:"index" json:"user_id"`
	OrderID         string    `gorm:"uniqueIndex" json:"order_id"`
	Type            string    `json:"type"` // buy or sell
	CoinID          string    `json:"coin_id"`
	CoinSymbol      string    `json:"coin_symbol"`
	Quantity        float64   `json:"quantity"`
	PricePerUnit    float64   `json:"price_per_unit"`
	TotalAmount     float64   `json:"total_amount"`
	TransactionDate time.Time `json:"transaction_date"`
}

// IdempotencyRecord maps a client-supplied idempotency key to the
// resource it created, so replayed requests return the original result.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
