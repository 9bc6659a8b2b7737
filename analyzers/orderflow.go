package analyzers

import (
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/buffer"
	"liqwatch/market"
)

// OrderFlowAnalyzer watches the buy/sell trade-volume ratio over a rolling
// window for accumulation or distribution pressure. Grounded on the
// teacher's signal_filter.go OrderFlowFilter (buy-pressure ratio,
// aggressive-buy-pct, large-order count).
type OrderFlowAnalyzer struct {
	buf        *buffer.Manager
	thresholds TierThresholds
	window     time.Duration
}

// NewOrderFlowAnalyzer builds an analyzer over buf with a rolling window
// (spec default 5 minutes).
func NewOrderFlowAnalyzer(buf *buffer.Manager, thresholds TierThresholds, window time.Duration) *OrderFlowAnalyzer {
	return &OrderFlowAnalyzer{buf: buf, thresholds: thresholds, window: window}
}

// Detect computes the buy ratio r = buyVolume/(buyVolume+sellVolume) over
// the window and emits a Candidate when r indicates accumulation
// (r>=0.65) or distribution (r<=0.35) with at least 3 large orders on the
// dominant side.
func (a *OrderFlowAnalyzer) Detect(symbol string, tier market.Tier, now time.Time) (market.Candidate, bool) {
	trades := a.buf.TradesSince(symbol, now.Add(-a.window))
	if len(trades) == 0 {
		return market.Candidate{}, false
	}

	var buyVol, sellVol decimal.Decimal
	var largeBuys, largeSells int
	largeThreshold := a.thresholds.largeOrder(tier)

	for _, t := range trades {
		if t.Side == market.SideBuy {
			buyVol = buyVol.Add(t.Quantity)
			if t.Notional.GreaterThanOrEqual(largeThreshold) {
				largeBuys++
			}
		} else {
			sellVol = sellVol.Add(t.Quantity)
			if t.Notional.GreaterThanOrEqual(largeThreshold) {
				largeSells++
			}
		}
	}

	totalVol := buyVol.Add(sellVol)
	if totalVol.IsZero() {
		return market.Candidate{}, false
	}
	r, _ := buyVol.Div(totalVol).Float64()

	var direction market.Side
	var largeCount int
	switch {
	case r >= 0.65 && largeBuys >= 3:
		direction = market.SideBuy
		largeCount = largeBuys
	case r <= 0.35 && largeSells >= 3:
		direction = market.SideSell
		largeCount = largeSells
	default:
		return market.Candidate{}, false
	}

	deviation := r - 0.5
	if deviation < 0 {
		deviation = -deviation
	}
	boost := 2 * largeCount
	if boost > 15 {
		boost = 15
	}
	score := 50 + 30*deviation*2 + float64(boost)

	return market.Candidate{
		Type:       market.CandidateOrderFlow,
		Symbol:     symbol,
		Tier:       tier,
		Direction:  direction,
		RawScore:   score,
		DetectedAt: now,
		Reason:     "order-flow imbalance with large-order confirmation",
		Evidence: map[string]interface{}{
			"buy_ratio":   r,
			"large_count": largeCount,
		},
	}, true
}

// Summary is the dashboard's per-symbol order-flow snapshot (spec §6:
// "buy_ratio, sell_ratio, large-order counts, last-update-ts"), computed
// regardless of whether Detect would currently fire a candidate.
type Summary struct {
	Symbol         string
	BuyRatio       float64
	SellRatio      float64
	LargeBuyCount  int
	LargeSellCount int
	LastUpdateAt   time.Time
}

// Summarize computes the current order-flow snapshot for symbol over the
// analyzer's rolling window.
func (a *OrderFlowAnalyzer) Summarize(symbol string, tier market.Tier, now time.Time) Summary {
	trades := a.buf.TradesSince(symbol, now.Add(-a.window))
	s := Summary{Symbol: symbol}
	if len(trades) == 0 {
		return s
	}

	var buyVol, sellVol decimal.Decimal
	largeThreshold := a.thresholds.largeOrder(tier)
	for _, t := range trades {
		if t.Side == market.SideBuy {
			buyVol = buyVol.Add(t.Quantity)
			if t.Notional.GreaterThanOrEqual(largeThreshold) {
				s.LargeBuyCount++
			}
		} else {
			sellVol = sellVol.Add(t.Quantity)
			if t.Notional.GreaterThanOrEqual(largeThreshold) {
				s.LargeSellCount++
			}
		}
		if t.ExchangeTS.After(s.LastUpdateAt) {
			s.LastUpdateAt = t.ExchangeTS
		}
	}

	totalVol := buyVol.Add(sellVol)
	if !totalVol.IsZero() {
		s.BuyRatio, _ = buyVol.Div(totalVol).Float64()
		s.SellRatio = 1 - s.BuyRatio
	}
	return s
}
