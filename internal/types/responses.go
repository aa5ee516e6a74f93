package types

import "time"

// PortfolioResponse is the aggregated view of a user's cash and positions.
type PortfolioResponse struct {
	UserID    string    `json:"user_id"`
	Balance   float64   `json:"balance"`
	Holdings  []Holding `json:"holdings"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderResponse is returned by order placement and lookup endpoints.
type OrderResponse struct {
	OrderID     string     `json:"order_id"`
	UserID      string     `json:"user_id"`
	CoinID      string     `json:"coin_id"`
	CoinSymbol  string     `json:"coin_symbol"`
	Side        string     `json:"side"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	Quantity    float64    `json:"quantity"`
	LimitPrice  *float64   `json:"limit_price,omitempty"`
	TotalAmount float64    `json:"total_amount"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
