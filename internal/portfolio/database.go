package portfolio

import (
	"errors"
	"time"

	"github.com/coinledger/coinledger-api/internal/types"
	"gorm.io/gorm"
)

var (
	ErrProfileNotFound     = errors.New("profile not found")
	ErrProfileExists       = errors.New("profile already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateProfile(profile *types.Profile) error {
	return d.db.Create(profile).Error
}

func (d *Database) GetProfile(userID string) (*types.Profile, error) {
	var profile types.Profile
	if err := d.db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (d *Database) GetHoldings(userID string) ([]types.Holding, error) {
	var holdings []types.Holding
	if err := d.db.Where("user_id = ?", userID).Order("coin_id").Find(&holdings).Error; err != nil {
		return nil, err
	}
	return holdings, nil
}

func (d *Database) GetTransactions(userID string) ([]types.Transaction, error) {
	var transactions []types.Transaction
	if err := d.db.Where("user_id = ?", userID).
		Order("transaction_date DESC").
		Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

// AdjustBalance credits (positive delta) or debits (negative delta) a
// profile inside one transaction, rejecting any write that would take
// the balance below zero.
func (d *Database) AdjustBalance(userID string, delta float64) (*types.Profile, error) {
	var profile types.Profile
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).First(&profile).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProfileNotFound
			}
			return err
		}
		if profile.Balance+delta < 0 {
			return ErrInsufficientBalance
		}
		profile.Balance += delta
		profile.UpdatedAt = time.Now()
		return tx.Save(&profile).Error
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindHolding looks up a user's holding for a coin by its normalized
// identifier, falling back to a scan-and-compare for legacy rows whose
// stored identifier was never normalized. Works on a plain handle or a
// transaction handle.
func FindHolding(db *gorm.DB, userID, coinID string) (*types.Holding, error) {
	normalized := types.NormalizeCoinID(coinID)

	var holding types.Holding
	err := db.Where("user_id = ? AND coin_id = ?", userID, normalized).First(&holding).Error
	if err == nil {
		return &holding, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Legacy fallback: rows written before coin ids were normalized
	var all []types.Holding
	if err := db.Where("user_id = ?", userID).Find(&all).Error; err != nil {
		return nil, err
	}
	for i := range all {
		if types.SameCoin(all[i].CoinID, normalized) {
			return &all[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
