package types

import "strings"

// NormalizeCoinID canonicalizes a coin identifier for storage and lookup.
// Every write and every query goes through this so that "BTC", " btc"
// and "btc " all address the same holding row.
func NormalizeCoinID(coinID string) string {
	return strings.ToLower(strings.TrimSpace(coinID))
}

// SameCoin reports whether two coin identifiers refer to the same coin
// after normalization. Used as a fallback when comparing against legacy
// rows written before identifiers were normalized on the way in.
func SameCoin(a, b string) bool {
	return NormalizeCoinID(a) == NormalizeCoinID(b)
}
