package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/coinledger/coinledger-api/internal/execution"
	"github.com/coinledger/coinledger-api/internal/oracle"
	"github.com/coinledger/coinledger-api/internal/types"
	"github.com/coinledger/coinledger-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// PlaceOrderRequest is the inbound shape for order placement.
type PlaceOrderRequest struct {
	CoinID     string   `json:"coin_id" binding:"required"`
	CoinSymbol string   `json:"coin_symbol"`
	Side       string   `json:"side" binding:"required"`
	Mode       string   `json:"mode" binding:"required"`
	Quantity   float64  `json:"quantity" binding:"required"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
}

// Executor applies an order's balance/holdings/transaction mutations at
// a given execution price. Satisfied by the execution service.
type Executor interface {
	Execute(order *types.Order, executionPrice float64) error
}

// Service handles order placement, lookup, cancellation and the order
// lifecycle transitions.
type Service struct {
	db       *Database
	prices   oracle.Source
	executor Executor
}

func NewService(gormDB *gorm.DB, prices oracle.Source, executor Executor) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		prices:   prices,
		executor: executor,
	}
}

// PlaceOrder validates the request and creates a pending order with
// idempotency support. Market orders are executed immediately at the
// current market price; limit orders wait for the sweep.
func (s *Service) PlaceOrder(userID string, req *PlaceOrderRequest, idempotencyKey string) (*types.Order, error) {
	// Replayed placement returns the original order
	if record, err := s.db.GetIdempotencyRecord(idempotencyKey); err != nil {
		return nil, err
	} else if record != nil && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetOrder(record.ResourceID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrOrderNotFound
		}
		return existing, nil
	}

	order, err := s.buildOrder(userID, req)
	if err != nil {
		return nil, err
	}

	if err := s.db.CreateOrderWithIdempotency(order, idempotencyKey); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("user_id", userID).
		Str("side", order.Side).
		Str("mode", order.Mode).
		Float64("quantity", order.Quantity).
		Msg("order placed")

	if order.Mode == types.ModeMarket {
		if err := s.executeMarketOrder(order); err != nil {
			return order, err
		}
		// Re-read so the caller sees the completed state
		if updated, err := s.db.GetOrder(order.OrderID); err == nil && updated != nil {
			order = updated
		}
	}
	return order, nil
}

func (s *Service) buildOrder(userID string, req *PlaceOrderRequest) (*types.Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return nil, fmt.Errorf("%w: side must be buy or sell", ErrInvalidRequest)
	}

	order := &types.Order{
		OrderID:    "ORD_" + uuid.New().String(),
		UserID:     userID,
		CoinID:     types.NormalizeCoinID(req.CoinID),
		CoinSymbol: req.CoinSymbol,
		Side:       req.Side,
		Mode:       req.Mode,
		Status:     types.StatusPending,
		Quantity:   req.Quantity,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	switch req.Mode {
	case types.ModeLimit:
		if req.LimitPrice == nil || *req.LimitPrice <= 0 {
			return nil, fmt.Errorf("%w: limit orders require a positive limit_price", ErrInvalidRequest)
		}
		order.LimitPrice = req.LimitPrice
		order.TotalAmount = *req.LimitPrice * req.Quantity
	case types.ModeMarket:
		if req.LimitPrice != nil {
			return nil, fmt.Errorf("%w: market orders must not carry a limit_price", ErrInvalidRequest)
		}
		price, err := s.currentPrice(order)
		if err != nil {
			return nil, err
		}
		order.TotalAmount = price * req.Quantity
	default:
		return nil, fmt.Errorf("%w: mode must be market or limit", ErrInvalidRequest)
	}

	return order, nil
}

// executeMarketOrder runs the direct execution path: resolve a live
// price, execute, then mark the order completed. A failed execution
// leaves the order pending.
func (s *Service) executeMarketOrder(order *types.Order) error {
	price, err := s.currentPrice(order)
	if err != nil {
		return err
	}
	if err := s.executor.Execute(order, price); err != nil {
		return err
	}
	return s.MarkCompleted(order.OrderID, price, price*order.Quantity)
}

func (s *Service) currentPrice(order *types.Order) (float64, error) {
	symbol, err := oracle.ResolveSymbol(order.CoinID, order.CoinSymbol)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ticker, err := s.prices.GetTicker(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if ticker.LastPrice <= 0 {
		return 0, fmt.Errorf("%w: non-positive price for %s", ErrPriceUnavailable, symbol)
	}
	return ticker.LastPrice, nil
}

// GetOrder retrieves an order by its ID
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return s.db.GetOrder(orderID)
}

// GetOrderForUser retrieves an order scoped to its owner.
func (s *Service) GetOrderForUser(orderID, userID string) (*types.Order, error) {
	return s.db.GetOrderByOrderIDAndUserID(orderID, userID)
}

// GetUserOrders lists a user's orders, newest first.
func (s *Service) GetUserOrders(userID string) ([]types.Order, error) {
	return s.db.GetUserOrders(userID)
}

// GetPendingLimitOrders lists the sweeper's work set.
func (s *Service) GetPendingLimitOrders() ([]types.Order, error) {
	return s.db.GetPendingLimitOrders()
}

// MarkCompleted transitions a pending order to completed with the final
// execution figures. If the order is no longer pending — already
// completed by a racing sweep, or cancelled — this is a silent no-op:
// the intended terminal state already holds.
func (s *Service) MarkCompleted(orderID string, executionPrice, totalAmount float64) error {
	transitioned, err := s.db.markCompleted(orderID, totalAmount)
	if err != nil {
		return err
	}
	if !transitioned {
		log.Debug().Str("order_id", orderID).Msg("order no longer pending, completion skipped")
		return nil
	}

	log.Info().
		Str("order_id", orderID).
		Float64("execution_price", executionPrice).
		Float64("total_amount", totalAmount).
		Msg("order completed")
	return nil
}

// Cancel transitions a pending order to cancelled. Unlike completion,
// a lost race is surfaced: the user needs to know the order was not
// cancellable.
func (s *Service) Cancel(orderID, userID string) error {
	cancelled, err := s.db.markCancelled(orderID, userID)
	if err != nil {
		return err
	}
	if !cancelled {
		order, err := s.db.GetOrderByOrderIDAndUserID(orderID, userID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		return ErrNotCancellable
	}

	log.Info().Str("order_id", orderID).Msg("order cancelled")
	return nil
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// PlaceOrderHandler handles POST requests to place new orders.
// Requires a valid JWT token and idempotency key in headers.
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		var req PlaceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.PlaceOrder(userID, &req, idempotencyKey)
		switch {
		case errors.Is(err, ErrInvalidRequest):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrPriceUnavailable):
			response.UnprocessableEntity(c, err.Error())
		case errors.Is(err, execution.ErrInsufficientFunds),
			errors.Is(err, execution.ErrInsufficientHoldings),
			errors.Is(err, execution.ErrProfileNotFound):
			response.UnprocessableEntity(c, err.Error())
		default:
			response.Handle(c, toResponse(order), err)
		}
	}
}

// GetOrderHandler handles GET requests for a single order, scoped to
// the authenticated user.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		orderID := c.Param("order_id")
		order, err := h.service.GetOrderForUser(orderID, userID)
		if err != nil || order == nil {
			response.NotFound(c, "Order not found")
			return
		}
		response.Success(c, toResponse(order))
	}
}

// ListOrdersHandler handles GET requests for the user's order history.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		userOrders, err := h.service.GetUserOrders(userID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		responses := make([]*types.OrderResponse, len(userOrders))
		for i := range userOrders {
			responses[i] = toResponse(&userOrders[i])
		}
		response.Success(c, responses)
	}
}

// CancelOrderHandler handles POST requests to cancel a pending order.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		orderID := c.Param("order_id")
		err := h.service.Cancel(orderID, userID)
		switch {
		case errors.Is(err, ErrOrderNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrNotCancellable):
			response.Conflict(c, err.Error())
		case err != nil:
			response.Handle(c, nil, err)
		default:
			response.Success(c, gin.H{"order_id": orderID, "status": types.StatusCancelled})
		}
	}
}

func toResponse(order *types.Order) *types.OrderResponse {
	if order == nil {
		return nil
	}
	return &types.OrderResponse{
		OrderID:     order.OrderID,
		UserID:      order.UserID,
		CoinID:      order.CoinID,
		CoinSymbol:  order.CoinSymbol,
		Side:        order.Side,
		Mode:        order.Mode,
		Status:      order.Status,
		Quantity:    order.Quantity,
		LimitPrice:  order.LimitPrice,
		TotalAmount: order.TotalAmount,
		CreatedAt:   order.CreatedAt,
		CompletedAt: order.CompletedAt,
	}
}
