package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.binance.com"

// HTTPSource fetches tickers from a Binance-compatible 24hr ticker
// endpoint.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a price source against the given base URL.
// An empty baseURL uses the public Binance API.
func NewHTTPSource(baseURL string) *HTTPSource {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// tickerPayload mirrors the exchange response; numeric fields arrive as
// strings.
type tickerPayload struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// GetTicker fetches the 24h ticker for a market symbol.
func (s *HTTPSource) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	logger := log.With().Str("component", "price_oracle").Str("symbol", symbol).Logger()

	endpoint := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", s.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("ticker request failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn().Int("status", resp.StatusCode).Msg("ticker request rejected")
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload tickerPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ticker := &Ticker{
		Symbol:           payload.Symbol,
		LastPrice:        parsePrice(payload.LastPrice),
		High24h:          parsePrice(payload.HighPrice),
		Low24h:           parsePrice(payload.LowPrice),
		Volume24h:        parsePrice(payload.Volume),
		ChangePercent24h: parsePrice(payload.PriceChangePercent),
	}

	logger.Debug().Float64("last_price", ticker.LastPrice).Msg("ticker fetched")
	return ticker, nil
}

func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
