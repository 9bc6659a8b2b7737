package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/market"
)

// candle is one OHLC-shaped bar as returned by both the open-interest
// aggregated-history and funding-rate oi-weighted-history REST endpoints
// (spec §6). Only the close is consumed.
type candle struct {
	Close string `json:"close"`
}

// RESTFetcher polls the upstream open-interest and funding-rate endpoints
// and satisfies contextpoller.Fetcher. There is no teacher analogue for a
// REST poller client; grounded on the teacher's general http.Client-with-
// timeout idiom used throughout notifications/webhook_manager.go.
type RESTFetcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTFetcher builds a fetcher against baseURL.
func NewRESTFetcher(baseURL, apiKey string) *RESTFetcher {
	return &RESTFetcher{baseURL: baseURL, apiKey: apiKey, client: &http.Client{}}
}

// Fetch implements contextpoller.Fetcher: fetches the latest OI and
// funding bar for symbol and combines them into one ContextSnapshot.
func (f *RESTFetcher) Fetch(ctx context.Context, symbol string) (market.ContextSnapshot, error) {
	oi, err := f.fetchLatestClose(ctx, fmt.Sprintf("%s/oi/history?symbol=%s", f.baseURL, symbol))
	if err != nil {
		return market.ContextSnapshot{}, fmt.Errorf("open interest fetch for %s: %w", symbol, err)
	}

	funding, err := f.fetchLatestClose(ctx, fmt.Sprintf("%s/funding/history?symbol=%s", f.baseURL, symbol))
	if err != nil {
		return market.ContextSnapshot{}, fmt.Errorf("funding rate fetch for %s: %w", symbol, err)
	}

	return market.ContextSnapshot{
		Symbol:       symbol,
		OpenInterest: oi,
		FundingRate:  funding,
		PolledAt:     time.Now().UTC(),
	}, nil
}

func (f *RESTFetcher) fetchLatestClose(ctx context.Context, url string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("X-API-Key", f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var candles []candle
	if err := json.NewDecoder(resp.Body).Decode(&candles); err != nil {
		return decimal.Zero, fmt.Errorf("decode response: %w", err)
	}
	if len(candles) == 0 {
		return decimal.Zero, fmt.Errorf("empty candle series")
	}

	last := candles[len(candles)-1]
	value, err := decimal.NewFromString(last.Close)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid close %q: %w", last.Close, err)
	}
	return value, nil
}
