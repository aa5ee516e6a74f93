package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/coinledger/coinledger-api/internal/oracle"
	"github.com/coinledger/coinledger-api/internal/types"
	"github.com/coinledger/coinledger-api/pkg/response"
	"github.com/rs/zerolog/log"
)

// Outcomes for a single order within a sweep.
const (
	OutcomeExecuted = "executed"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// perOrderTimeout bounds each order's price lookup and execution so one
// unresponsive lookup cannot stall the whole sweep.
const perOrderTimeout = 10 * time.Second

// OrderStore provides the sweeper's view of pending limit orders and
// the completion transition. Satisfied by the orders service.
type OrderStore interface {
	GetPendingLimitOrders() ([]types.Order, error)
	MarkCompleted(orderID string, executionPrice, totalAmount float64) error
}

// Executor applies an order at an execution price. Satisfied by the
// execution service.
type Executor interface {
	Execute(order *types.Order, executionPrice float64) error
}

// OrderResult records what happened to one order during a sweep.
type OrderResult struct {
	OrderID string `json:"order_id"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// Report summarizes one sweep for operator diagnosis: how many orders
// executed, and a human-readable reason for every skip and failure.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Evaluated int           `json:"evaluated"`
	Executed  int           `json:"executed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Results   []OrderResult `json:"results"`
}

func (r *Report) add(result OrderResult) {
	switch result.Outcome {
	case OutcomeExecuted:
		r.Executed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Results = append(r.Results, result)
}

// Service evaluates pending limit orders against live market prices and
// triggers execution when an order's limit condition is met.
type Service struct {
	orders   OrderStore
	executor Executor
	prices   oracle.Source
}

func NewService(orders OrderStore, executor Executor, prices oracle.Source) *Service {
	return &Service{
		orders:   orders,
		executor: executor,
		prices:   prices,
	}
}

// Sweep runs one pass over all pending limit orders. Orders are
// processed in isolation: one order's failure never aborts the sweep,
// and an order that fails now is retried on the next pass.
func (s *Service) Sweep(ctx context.Context) (*Report, error) {
	logger := log.With().Str("component", "limit_sweeper").Logger()

	report := &Report{StartedAt: time.Now()}

	pending, err := s.orders.GetPendingLimitOrders()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending limit orders: %w", err)
	}
	report.Evaluated = len(pending)

	logger.Info().Int("pending_count", len(pending)).Msg("sweeping pending limit orders")

	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		report.add(s.sweepOrder(ctx, &pending[i]))
	}

	report.Duration = time.Since(report.StartedAt)
	logger.Info().
		Int("evaluated", report.Evaluated).
		Int("executed", report.Executed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("sweep finished")

	return report, nil
}

// sweepOrder evaluates and, when the limit condition is satisfied,
// executes a single order. Execution happens strictly before the status
// transition: if the completion write fails the order stays pending with
// its transaction in place, and the next sweep's de-dup guard turns the
// retry into a plain status update.
func (s *Service) sweepOrder(ctx context.Context, order *types.Order) OrderResult {
	logger := log.With().
		Str("component", "limit_sweeper").
		Str("order_id", order.OrderID).
		Str("side", order.Side).
		Logger()

	ctx, cancel := context.WithTimeout(ctx, perOrderTimeout)
	defer cancel()

	symbol, err := oracle.ResolveSymbol(order.CoinID, order.CoinSymbol)
	if err != nil {
		return OrderResult{
			OrderID: order.OrderID,
			Outcome: OutcomeSkipped,
			Reason:  fmt.Sprintf("symbol not supported for coin %q", order.CoinID),
		}
	}

	ticker, err := s.prices.GetTicker(ctx, symbol)
	if err != nil {
		logger.Warn().Err(err).Str("symbol", symbol).Msg("price lookup failed")
		return OrderResult{
			OrderID: order.OrderID,
			Outcome: OutcomeSkipped,
			Reason:  fmt.Sprintf("price lookup failed for %s: %v", symbol, err),
		}
	}

	currentPrice := ticker.LastPrice
	if currentPrice <= 0 {
		// Never execute on a zero or stale price
		return OrderResult{
			OrderID: order.OrderID,
			Outcome: OutcomeSkipped,
			Reason:  fmt.Sprintf("non-positive price %.8f for %s", currentPrice, symbol),
		}
	}

	if order.LimitPrice == nil {
		return OrderResult{
			OrderID: order.OrderID,
			Outcome: OutcomeSkipped,
			Reason:  "limit order without limit price",
		}
	}

	if !limitSatisfied(order.Side, currentPrice, *order.LimitPrice) {
		return OrderResult{
			OrderID: order.OrderID,
			Outcome: OutcomeSkipped,
			Reason: fmt.Sprintf("limit not reached: current %.8f, limit %.8f",
				currentPrice, *order.LimitPrice),
		}
	}

	// Execution always uses the live price, not the stale limit price
	totalAmount := currentPrice * order.Quantity
	if err := s.executor.Execute(order, currentPrice); err != nil {
		logger.Warn().Err(err).Msg("execution failed, order stays pending")
		return OrderResult{
			OrderID: order.OrderID,
			Outcome: OutcomeFailed,
			Reason:  fmt.Sprintf("execution failed: %v", err),
		}
	}

	if err := s.orders.MarkCompleted(order.OrderID, currentPrice, totalAmount); err != nil {
		logger.Error().Err(err).Msg("executed but completion write failed")
		return OrderResult{
			OrderID: order.OrderID,
			Outcome: OutcomeFailed,
			Reason:  fmt.Sprintf("executed but status update failed: %v", err),
		}
	}

	logger.Info().
		Float64("execution_price", currentPrice).
		Float64("total_amount", totalAmount).
		Msg("limit order executed")

	return OrderResult{OrderID: order.OrderID, Outcome: OutcomeExecuted}
}

// limitSatisfied encodes "fill at a price at least as good as
// requested": buys fill at or below the limit, sells at or above.
func limitSatisfied(side string, currentPrice, limitPrice float64) bool {
	switch side {
	case types.SideBuy:
		return currentPrice <= limitPrice
	case types.SideSell:
		return currentPrice >= limitPrice
	default:
		return false
	}
}

// GinHandlers contains HTTP handlers for sweep endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// SweepHandler triggers one on-demand sweep and returns its report.
func (h *GinHandlers) SweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.service.Sweep(c.Request.Context())
		response.Handle(c, report, err)
	}
}
