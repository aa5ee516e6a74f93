package portfolio

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/coinledger/coinledger-api/internal/types"
	"github.com/coinledger/coinledger-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service exposes cash and position operations for user profiles.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: NewDatabase(gormDB)}
}

// CreateProfile registers a new user profile with a zero balance.
func (s *Service) CreateProfile(userID string) (*types.Profile, error) {
	if existing, err := s.db.GetProfile(userID); err == nil && existing != nil {
		return nil, ErrProfileExists
	}

	profile := &types.Profile{
		UserID:    userID,
		Balance:   0,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.CreateProfile(profile); err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID).Msg("profile created")
	return profile, nil
}

// Deposit credits the user's cash balance.
func (s *Service) Deposit(userID string, amount float64) (*types.Profile, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.db.AdjustBalance(userID, amount)
}

// Withdraw debits the user's cash balance, failing rather than letting
// it go negative.
func (s *Service) Withdraw(userID string, amount float64) (*types.Profile, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.db.AdjustBalance(userID, -amount)
}

// GetPortfolio returns the user's balance together with all holdings.
func (s *Service) GetPortfolio(userID string) (*types.PortfolioResponse, error) {
	profile, err := s.db.GetProfile(userID)
	if err != nil {
		return nil, err
	}
	holdings, err := s.db.GetHoldings(userID)
	if err != nil {
		return nil, err
	}
	return &types.PortfolioResponse{
		UserID:    profile.UserID,
		Balance:   profile.Balance,
		Holdings:  holdings,
		UpdatedAt: profile.UpdatedAt,
	}, nil
}

// GetTransactions returns the user's audit trail, newest first.
func (s *Service) GetTransactions(userID string) ([]types.Transaction, error) {
	return s.db.GetTransactions(userID)
}

// GinHandlers contains HTTP handlers for portfolio endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type amountRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

func (h *GinHandlers) CreateProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		profile, err := h.service.CreateProfile(userID)
		if errors.Is(err, ErrProfileExists) {
			response.Conflict(c, err.Error())
			return
		}
		response.Handle(c, profile, err)
	}
}

func (h *GinHandlers) GetPortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		portfolio, err := h.service.GetPortfolio(userID)
		if errors.Is(err, ErrProfileNotFound) {
			response.NotFound(c, "Profile not found")
			return
		}
		response.Handle(c, portfolio, err)
	}
}

func (h *GinHandlers) GetTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		transactions, err := h.service.GetTransactions(userID)
		response.Handle(c, transactions, err)
	}
}

func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return h.balanceHandler(h.service.Deposit)
}

func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return h.balanceHandler(h.service.Withdraw)
}

func (h *GinHandlers) balanceHandler(op func(string, float64) (*types.Profile, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		var req amountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		profile, err := op(userID, req.Amount)
		switch {
		case errors.Is(err, ErrInvalidAmount):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrInsufficientBalance):
			response.UnprocessableEntity(c, err.Error())
		case errors.Is(err, ErrProfileNotFound):
			response.NotFound(c, err.Error())
		default:
			response.Handle(c, profile, err)
		}
	}
}
