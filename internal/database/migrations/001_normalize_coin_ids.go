package migrations

import (
	"github.com/coinledger/coinledger-api/internal/types"
	"gorm.io/gorm"
)

// NormalizeCoinIdentifiers rewrites legacy coin identifiers in place so
// that lookups can rely on normalized values. Holdings that would collide
// with an already-normalized row are left untouched; the sell path still
// finds them via its scan-and-compare fallback.
func NormalizeCoinIdentifiers(db *gorm.DB) error {
	var holdings []types.Holding
	if err := db.Find(&holdings).Error; err != nil {
		return err
	}

	for _, h := range holdings {
		normalized := types.NormalizeCoinID(h.CoinID)
		if normalized == h.CoinID {
			continue
		}
		// Best effort: a unique-index collision means a normalized row
		// already exists for this user/coin pair.
		db.Model(&types.Holding{}).
			Where("id = ?", h.ID).
			Update("coin_id", normalized)
	}

	if err := db.Model(&types.Order{}).
		Where("coin_id != LOWER(TRIM(coin_id))").
		Update("coin_id", gorm.Expr("LOWER(TRIM(coin_id))")).Error; err != nil {
		return err
	}

	return db.Model(&types.Transaction{}).
		Where("coin_id != LOWER(TRIM(coin_id))").
		Update("coin_id", gorm.Expr("LOWER(TRIM(coin_id))")).Error
}
