package oracle

import (
	"context"
	"errors"
	"strings"

	"github.com/coinledger/coinledger-api/internal/types"
)

var (
	// ErrSymbolNotSupported means no market symbol could be resolved
	// for a coin identifier.
	ErrSymbolNotSupported = errors.New("symbol not supported")
	// ErrUnavailable means the price source could not be reached or
	// returned an unusable payload.
	ErrUnavailable = errors.New("price source unavailable")
)

// Ticker is a 24h market snapshot for one symbol.
type Ticker struct {
	Symbol           string  `json:"symbol"`
	LastPrice        float64 `json:"last_price"`
	High24h          float64 `json:"high_24h"`
	Low24h           float64 `json:"low_24h"`
	Volume24h        float64 `json:"volume_24h"`
	ChangePercent24h float64 `json:"change_percent_24h"`
}

// Source provides current market data for a symbol.
type Source interface {
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
}

// knownMarkets maps normalized coin identifiers to their quote market.
// Coins not listed here fall back to <SYMBOL>USDT.
var knownMarkets = map[string]string{
	"bitcoin":  "BTCUSDT",
	"btc":      "BTCUSDT",
	"ethereum": "ETHUSDT",
	"eth":      "ETHUSDT",
	"solana":   "SOLUSDT",
	"sol":      "SOLUSDT",
	"cardano":  "ADAUSDT",
	"ada":      "ADAUSDT",
	"dogecoin": "DOGEUSDT",
	"doge":     "DOGEUSDT",
	"ripple":   "XRPUSDT",
	"xrp":      "XRPUSDT",
}

// ResolveSymbol maps a coin identifier (plus its ticker symbol, if the
// order carries one) to a market symbol. Returns ErrSymbolNotSupported
// when neither yields a market.
func ResolveSymbol(coinID, coinSymbol string) (string, error) {
	if market, ok := knownMarkets[types.NormalizeCoinID(coinID)]; ok {
		return market, nil
	}
	if market, ok := knownMarkets[types.NormalizeCoinID(coinSymbol)]; ok {
		return market, nil
	}
	if s := strings.ToUpper(strings.TrimSpace(coinSymbol)); s != "" {
		return s + "USDT", nil
	}
	return "", ErrSymbolNotSupported
}
