package analyzers

import (
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/buffer"
	"liqwatch/market"
)

// EventPatternDetector covers two independent sub-detectors: whale
// accumulation/distribution (a run of large same-side trades) and volume
// spikes against the rolling baseline. Grounded on pattern_detector.go's
// scan shape and baseline_calculator.go's statistics.
type EventPatternDetector struct {
	buf          *buffer.Manager
	thresholds   TierThresholds
	whaleWindow  time.Duration
	spikeExclude time.Duration
}

// NewEventPatternDetector builds the detector (spec default whale window 5
// minutes, spike baseline excludes the trailing 1 minute).
func NewEventPatternDetector(buf *buffer.Manager, thresholds TierThresholds, whaleWindow, spikeExclude time.Duration) *EventPatternDetector {
	return &EventPatternDetector{buf: buf, thresholds: thresholds, whaleWindow: whaleWindow, spikeExclude: spikeExclude}
}

// DetectWhale counts the large trades on each side within the whale
// window; 5 or more on one side emits an accumulation/distribution
// Candidate.
func (d *EventPatternDetector) DetectWhale(symbol string, tier market.Tier, now time.Time) (market.Candidate, bool) {
	trades := d.buf.TradesSince(symbol, now.Add(-d.whaleWindow))
	largeThreshold := d.thresholds.largeOrder(tier)

	var buyCount, sellCount int
	var buyNotional, sellNotional decimal.Decimal
	for _, t := range trades {
		if t.Notional.LessThan(largeThreshold) {
			continue
		}
		if t.Side == market.SideBuy {
			buyCount++
			buyNotional = buyNotional.Add(t.Notional)
		} else {
			sellCount++
			sellNotional = sellNotional.Add(t.Notional)
		}
	}

	const whaleCountThreshold = 5
	var direction market.Side
	var count int
	var notional decimal.Decimal
	switch {
	case buyCount >= whaleCountThreshold && buyCount >= sellCount:
		direction, count, notional = market.SideBuy, buyCount, buyNotional
	case sellCount >= whaleCountThreshold:
		direction, count, notional = market.SideSell, sellCount, sellNotional
	default:
		return market.Candidate{}, false
	}

	score := 50 + float64(count-whaleCountThreshold)*5
	if score > 95 {
		score = 95
	}

	return market.Candidate{
		Type:       market.CandidateWhale,
		Symbol:     symbol,
		Tier:       tier,
		Direction:  direction,
		RawScore:   score,
		DetectedAt: now,
		Reason:     "large-order accumulation run",
		Evidence: map[string]interface{}{
			"count":    count,
			"notional": notional.String(),
		},
	}, true
}

// DetectVolumeSpike compares the most recent minute's trade volume against
// the rolling baseline (excluding that same minute), matching spec §4.5's
// v_now >= max(3*mean, mean+3*stddev) rule.
func (d *EventPatternDetector) DetectVolumeSpike(symbol string, tier market.Tier, now time.Time) (market.Candidate, bool) {
	recent := d.buf.TradesSince(symbol, now.Add(-d.spikeExclude))
	if len(recent) == 0 {
		return market.Candidate{}, false
	}

	var vNow decimal.Decimal
	var buyVol, sellVol decimal.Decimal
	for _, t := range recent {
		vNow = vNow.Add(t.Quantity)
		if t.Side == market.SideBuy {
			buyVol = buyVol.Add(t.Quantity)
		} else {
			sellVol = sellVol.Add(t.Quantity)
		}
	}

	baseline := d.buf.Baseline(symbol, now, d.spikeExclude)
	if baseline.SampleSize < 10 {
		return market.Candidate{}, false
	}

	threshold := baseline.MeanVolume.Mul(decimal.NewFromInt(3))
	altThreshold := baseline.MeanVolume.Add(baseline.StdDevVolume.Mul(decimal.NewFromInt(3)))
	if altThreshold.GreaterThan(threshold) {
		threshold = altThreshold
	}

	if vNow.LessThan(threshold) {
		return market.Candidate{}, false
	}

	direction := market.SideBuy
	if sellVol.GreaterThan(buyVol) {
		direction = market.SideSell
	}

	ratio, _ := vNow.Div(threshold).Float64()
	score := 50 + 15*ratio
	if score > 90 {
		score = 90
	}

	return market.Candidate{
		Type:       market.CandidateVolumeSpike,
		Symbol:     symbol,
		Tier:       tier,
		Direction:  direction,
		RawScore:   score,
		DetectedAt: now,
		Reason:     "volume spike vs rolling baseline",
		Evidence: map[string]interface{}{
			"v_now":     vNow.String(),
			"threshold": threshold.String(),
			"sample":    baseline.SampleSize,
		},
	}, true
}
