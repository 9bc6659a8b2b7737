package analyzers

import (
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/buffer"
	"liqwatch/market"
)

// StopHuntDetector flags liquidation cascades that show dominant one-sided
// pressure, optionally followed by absorption (price holding despite the
// cascade volume). Grounded on pattern_detector.go's scan-then-threshold
// shape: periodic per-symbol snapshot, statistical/dollar threshold check,
// emit a candidate.
type StopHuntDetector struct {
	buf        *buffer.Manager
	thresholds TierThresholds
	window     time.Duration
}

// NewStopHuntDetector builds a detector over buf using a cascade lookback
// window (spec §4.3 step 1 default: 30 seconds of recent liquidations).
func NewStopHuntDetector(buf *buffer.Manager, thresholds TierThresholds, window time.Duration) *StopHuntDetector {
	return &StopHuntDetector{buf: buf, thresholds: thresholds, window: window}
}

// Detect inspects symbol's recent liquidation window and returns a
// Candidate if a cascade with dominant side and sufficient notional is
// found.
func (d *StopHuntDetector) Detect(symbol string, tier market.Tier, now time.Time) (market.Candidate, bool) {
	liqs := d.buf.LiquidationsSince(symbol, now.Add(-d.window))
	if len(liqs) == 0 {
		return market.Candidate{}, false
	}

	var buyNotional, sellNotional decimal.Decimal
	for _, l := range liqs {
		if l.Side == market.SideBuy {
			buyNotional = buyNotional.Add(l.Notional)
		} else {
			sellNotional = sellNotional.Add(l.Notional)
		}
	}
	total := buyNotional.Add(sellNotional)

	threshold := d.thresholds.cascade(tier)
	if total.LessThanOrEqual(threshold) {
		return market.Candidate{}, false
	}

	dominantSide := market.SideBuy
	dominantNotional := buyNotional
	if sellNotional.GreaterThan(buyNotional) {
		dominantSide = market.SideSell
		dominantNotional = sellNotional
	}

	dominance := 0.0
	if !total.IsZero() {
		dominance, _ = dominantNotional.Div(total).Float64()
	}
	if dominance < 0.6 {
		return market.Candidate{}, false
	}

	absorbed := d.detectAbsorption(symbol, tier, now)

	ratio, _ := total.Div(threshold.Mul(decimal.NewFromInt(3))).Float64()
	if ratio > 1 {
		ratio = 1
	}
	score := 50 + 20*ratio + 15*dominance
	if absorbed {
		score += 20
	}

	// Liquidation cascades are contrarian: a dominant SELL-side cascade
	// (longs forced out) tends to precede a bounce, so the proposed
	// direction is opposite the dominant liquidated side.
	direction := market.SideBuy
	if dominantSide == market.SideBuy {
		direction = market.SideSell
	}

	zoneLower, zoneUpper := liqs[0].Price, liqs[0].Price
	for _, l := range liqs {
		if l.Price.LessThan(zoneLower) {
			zoneLower = l.Price
		}
		if l.Price.GreaterThan(zoneUpper) {
			zoneUpper = l.Price
		}
	}
	entry, stop, target := zoneTargets(direction, zoneLower, zoneUpper)

	return market.Candidate{
		Type:       market.CandidateStopHunt,
		Symbol:     symbol,
		Tier:       tier,
		Direction:  direction,
		RawScore:   score,
		DetectedAt: now,
		Reason:     "liquidation cascade with dominant side and absorption",
		Entry:      entry,
		Stop:       stop,
		Target:     target,
		Evidence: map[string]interface{}{
			"total_notional": total.String(),
			"dominance":      dominance,
			"absorbed":       absorbed,
			"zone_lower":     zoneLower.String(),
			"zone_upper":     zoneUpper.String(),
		},
	}, true
}

// zoneTargets derives entry/stop/target from a liquidation price-zone and
// proposed direction (spec §4.3 step 8): for long, entry = zone upper bound,
// stop = zone lower bound minus 0.1% of entry, target = entry + 2x the
// entry-stop distance; mirrored for short.
func zoneTargets(direction market.Side, zoneLower, zoneUpper decimal.Decimal) (entry, stop, target decimal.Decimal) {
	const zoneBufferPct = 0.001
	if direction == market.SideBuy {
		entry = zoneUpper
		stop = zoneLower.Sub(entry.Mul(decimal.NewFromFloat(zoneBufferPct)))
		target = entry.Add(entry.Sub(stop).Mul(decimal.NewFromInt(2)))
		return entry, stop, target
	}
	entry = zoneLower
	stop = zoneUpper.Add(entry.Mul(decimal.NewFromFloat(zoneBufferPct)))
	target = entry.Sub(stop.Sub(entry).Mul(decimal.NewFromInt(2)))
	return entry, stop, target
}

// detectAbsorption checks whether trade volume during the cascade window
// exceeded the absorption notional threshold while price barely moved,
// indicating a large passive order absorbed the liquidation flow.
func (d *StopHuntDetector) detectAbsorption(symbol string, tier market.Tier, now time.Time) bool {
	trades := d.buf.TradesSince(symbol, now.Add(-d.window))
	if len(trades) < 2 {
		return false
	}

	var notional decimal.Decimal
	for _, t := range trades {
		notional = notional.Add(t.Notional)
	}

	first, last := trades[0].Price, trades[len(trades)-1].Price
	if first.IsZero() {
		return false
	}
	moveAbs := last.Sub(first).Abs().Div(first)
	priceStable := moveAbs.LessThan(decimal.NewFromFloat(0.005))

	return notional.GreaterThanOrEqual(d.thresholds.absorption(tier)) && priceStable
}
