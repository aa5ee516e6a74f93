package execution

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/coinledger/coinledger-api/internal/portfolio"
	"github.com/coinledger/coinledger-api/internal/types"
	"github.com/coinledger/coinledger-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// FeeRate is charged on every execution: added to the cost of buys,
// subtracted from the proceeds of sells.
const FeeRate = 0.001

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidOrder         = errors.New("order is not executable")
	ErrProfileNotFound      = errors.New("profile not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

// Service executes pending orders against an execution price, mutating
// balance, holdings and the transaction log as one atomic unit. It never
// touches the order's status; the caller transitions the order after a
// successful execution, and the at-most-one-transaction-per-order guard
// makes retrying that transition safe.
type Service struct {
	db *gorm.DB
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: gormDB}
}

// ExecuteOrder loads an order by id and executes it at the given price.
func (s *Service) ExecuteOrder(orderID string, executionPrice float64) (*types.Transaction, error) {
	var order types.Order
	if err := s.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if err := s.Execute(&order, executionPrice); err != nil {
		return nil, err
	}

	var txn types.Transaction
	if err := s.db.Where("order_id = ?", orderID).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// Execute applies the order at executionPrice. All reads and writes
// happen inside one store transaction, so a failed execution leaves no
// partial state behind. Re-executing an order that already has a
// transaction is a successful no-op.
func (s *Service) Execute(order *types.Order, executionPrice float64) error {
	logger := log.With().
		Str("order_id", order.OrderID).
		Str("user_id", order.UserID).
		Str("side", order.Side).
		Float64("execution_price", executionPrice).
		Logger()

	if executionPrice <= 0 || order.Quantity <= 0 {
		return ErrInvalidOrder
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// De-dup guard: an existing transaction means this order was
		// already executed, possibly by a racing sweep or a retry after
		// a crashed status update.
		var existing types.Transaction
		err := tx.Where("order_id = ?", order.OrderID).First(&existing).Error
		if err == nil {
			logger.Info().
				Str("transaction_id", existing.TransactionID).
				Msg("order already executed, skipping")
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if order.Status != types.StatusPending {
			return ErrInvalidOrder
		}

		totalAmount := executionPrice * order.Quantity
		tradingFee := totalAmount * FeeRate

		switch order.Side {
		case types.SideBuy:
			if err := s.applyBuy(tx, order, executionPrice, totalAmount, tradingFee); err != nil {
				return err
			}
		case types.SideSell:
			if err := s.applySell(tx, order, totalAmount, tradingFee); err != nil {
				return err
			}
		default:
			return ErrInvalidOrder
		}

		txn := types.Transaction{
			TransactionID:   "TXN_" + uuid.New().String(),
			UserID:          order.UserID,
			OrderID:         order.OrderID,
			Type:            order.Side,
			CoinID:          types.NormalizeCoinID(order.CoinID),
			CoinSymbol:      order.CoinSymbol,
			Quantity:        order.Quantity,
			PricePerUnit:    executionPrice,
			TotalAmount:     totalAmount,
			TransactionDate: time.Now(),
		}
		return tx.Create(&txn).Error
	})
	if err != nil {
		logger.Warn().Err(err).Msg("order execution failed")
		return err
	}

	logger.Info().Msg("order executed")
	return nil
}

// applyBuy debits the cash balance by cost plus fee and upserts the
// holding, volume-weighting the average buy price into an existing
// position.
func (s *Service) applyBuy(tx *gorm.DB, order *types.Order, executionPrice, totalAmount, tradingFee float64) error {
	var profile types.Profile
	if err := tx.Where("user_id = ?", order.UserID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProfileNotFound
		}
		return err
	}

	totalCost := totalAmount + tradingFee
	if profile.Balance-totalCost < 0 {
		return ErrInsufficientFunds
	}
	profile.Balance -= totalCost
	profile.UpdatedAt = time.Now()
	if err := tx.Save(&profile).Error; err != nil {
		return err
	}

	coinID := types.NormalizeCoinID(order.CoinID)
	holding, err := portfolio.FindHolding(tx, order.UserID, coinID)
	switch {
	case err == nil:
		newQuantity := holding.Quantity + order.Quantity
		holding.AverageBuyPrice = (holding.AverageBuyPrice*holding.Quantity + totalAmount) / newQuantity
		holding.Quantity = newQuantity
		holding.CoinID = coinID
		holding.LastUpdated = time.Now()
		return tx.Save(holding).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&types.Holding{
			UserID:          order.UserID,
			CoinID:          coinID,
			CoinSymbol:      order.CoinSymbol,
			Quantity:        order.Quantity,
			AverageBuyPrice: executionPrice,
			LastUpdated:     time.Now(),
		}).Error
	default:
		return err
	}
}

// applySell drains the holding and credits the proceeds net of fee. A
// holding drained to zero is deleted, never left at quantity 0.
func (s *Service) applySell(tx *gorm.DB, order *types.Order, totalAmount, tradingFee float64) error {
	holding, err := portfolio.FindHolding(tx, order.UserID, order.CoinID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInsufficientHoldings
		}
		return err
	}
	if holding.Quantity < order.Quantity {
		return ErrInsufficientHoldings
	}

	holding.Quantity -= order.Quantity
	if holding.Quantity <= 0 {
		if err := tx.Unscoped().Delete(holding).Error; err != nil {
			return err
		}
	} else {
		holding.LastUpdated = time.Now()
		if err := tx.Save(holding).Error; err != nil {
			return err
		}
	}

	var profile types.Profile
	if err := tx.Where("user_id = ?", order.UserID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProfileNotFound
		}
		return err
	}
	profile.Balance += totalAmount - tradingFee
	profile.UpdatedAt = time.Now()
	return tx.Save(&profile).Error
}

// StatusUpdater transitions an order to completed after a successful
// execution. Satisfied by the orders service.
type StatusUpdater interface {
	MarkCompleted(orderID string, executionPrice, totalAmount float64) error
}

// GinHandlers contains HTTP handlers for execution endpoints
type GinHandlers struct {
	service *Service
	status  StatusUpdater
}

func NewGinHandlers(service *Service, status StatusUpdater) *GinHandlers {
	return &GinHandlers{service: service, status: status}
}

type executeRequest struct {
	ExecutionPrice float64 `json:"execution_price" binding:"required"`
}

// ExecuteOrderHandler handles the internal direct-execution endpoint.
// The caller supplies the execution price; the order must be pending.
func (h *GinHandlers) ExecuteOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		var req executeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		txn, err := h.service.ExecuteOrder(orderID, req.ExecutionPrice)
		switch {
		case errors.Is(err, ErrOrderNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrInvalidOrder):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrInsufficientFunds),
			errors.Is(err, ErrInsufficientHoldings),
			errors.Is(err, ErrProfileNotFound):
			response.UnprocessableEntity(c, err.Error())
		case err != nil:
			response.Handle(c, nil, err)
		default:
			// Execution is durable at this point. If the status write
			// fails the order stays pending with its transaction in
			// place, and the next execution attempt is a no-op.
			if err := h.status.MarkCompleted(orderID, req.ExecutionPrice, txn.TotalAmount); err != nil {
				log.Warn().Err(err).Str("order_id", orderID).
					Msg("executed but failed to mark order completed")
			}
			response.Success(c, txn)
		}
	}
}
