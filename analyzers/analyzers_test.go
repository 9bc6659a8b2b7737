package analyzers

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/buffer"
	"liqwatch/market"
)

func usd(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestStopHuntDetector_CascadeWithAbsorption(t *testing.T) {
	buf := buffer.New()
	now := time.Now()
	thresholds := DefaultTierThresholds()

	// Dominant SELL-side liquidation cascade above the t3 threshold (50k).
	for i := 0; i < 5; i++ {
		buf.AddLiquidation(market.Liquidation{
			Symbol:     "XBTUSD",
			Side:       market.SideSell,
			Notional:   usd(15_000),
			ExchangeTS: now.Add(-time.Duration(4-i) * time.Second),
			IngestTS:   now,
		})
	}

	// Trades holding price flat while absorbing volume above the absorption
	// threshold (5k for t3).
	for i := 0; i < 3; i++ {
		buf.AddTrade(market.Trade{
			Symbol:     "XBTUSD",
			Side:       market.SideBuy,
			Price:      decimal.NewFromFloat(100.0),
			Quantity:   decimal.NewFromInt(10),
			Notional:   usd(3_000),
			ExchangeTS: now.Add(-time.Duration(i) * time.Second),
			IngestTS:   now,
		})
	}

	d := NewStopHuntDetector(buf, thresholds, 2*time.Minute)
	cand, ok := d.Detect("XBTUSD", market.Tier3, now)
	if !ok {
		t.Fatalf("expected a stop-hunt candidate")
	}
	if cand.Direction != market.SideBuy {
		t.Errorf("dominant SELL cascade should propose a BUY reversal, got %s", cand.Direction)
	}
	if cand.RawScore <= 50 {
		t.Errorf("expected score boosted above base 50, got %v", cand.RawScore)
	}
}

func TestStopHuntDetector_BelowThresholdNoCandidate(t *testing.T) {
	buf := buffer.New()
	now := time.Now()
	buf.AddLiquidation(market.Liquidation{
		Symbol: "ETHUSD", Side: market.SideSell, Notional: usd(100),
		ExchangeTS: now, IngestTS: now,
	})

	d := NewStopHuntDetector(buf, DefaultTierThresholds(), 2*time.Minute)
	if _, ok := d.Detect("ETHUSD", market.Tier1, now); ok {
		t.Fatalf("notional far below t1 cascade threshold should not trigger")
	}
}

func TestOrderFlowAnalyzer_Accumulation(t *testing.T) {
	buf := buffer.New()
	now := time.Now()
	for i := 0; i < 4; i++ {
		buf.AddTrade(market.Trade{
			Symbol: "SOLUSD", Side: market.SideBuy,
			Quantity: decimal.NewFromInt(100), Notional: usd(15_000),
			ExchangeTS: now.Add(-time.Duration(i) * time.Second), IngestTS: now,
		})
	}
	buf.AddTrade(market.Trade{
		Symbol: "SOLUSD", Side: market.SideSell,
		Quantity: decimal.NewFromInt(10), Notional: usd(100),
		ExchangeTS: now, IngestTS: now,
	})

	a := NewOrderFlowAnalyzer(buf, DefaultTierThresholds(), 5*time.Minute)
	cand, ok := a.Detect("SOLUSD", market.Tier3, now)
	if !ok {
		t.Fatalf("expected order-flow accumulation candidate")
	}
	if cand.Direction != market.SideBuy {
		t.Errorf("expected BUY direction, got %s", cand.Direction)
	}
}

func TestEventPatternDetector_VolumeSpike(t *testing.T) {
	buf := buffer.New()
	now := time.Now()

	// Quiet baseline: one small, steady trade per minute for the 20 minutes
	// before the 1-minute exclusion window.
	for i := 0; i < 20; i++ {
		buf.AddTrade(market.Trade{
			Symbol: "AVAXUSD", Side: market.SideBuy,
			Quantity: decimal.NewFromInt(10), Notional: usd(100),
			ExchangeTS: now.Add(-time.Duration(21-i) * time.Minute), IngestTS: now,
		})
	}

	// Spike in the last minute.
	buf.AddTrade(market.Trade{
		Symbol: "AVAXUSD", Side: market.SideBuy,
		Quantity: decimal.NewFromInt(1000), Notional: usd(10_000),
		ExchangeTS: now, IngestTS: now,
	})

	d := NewEventPatternDetector(buf, DefaultTierThresholds(), 5*time.Minute, time.Minute)
	cand, ok := d.DetectVolumeSpike("AVAXUSD", market.Tier3, now)
	if !ok {
		t.Fatalf("expected a volume-spike candidate")
	}
	if cand.Type != market.CandidateVolumeSpike {
		t.Errorf("expected volume_spike type, got %s", cand.Type)
	}
}

func TestEventPatternDetector_WhaleAccumulation(t *testing.T) {
	buf := buffer.New()
	now := time.Now()
	for i := 0; i < 6; i++ {
		buf.AddTrade(market.Trade{
			Symbol: "BNBUSD", Side: market.SideBuy,
			Quantity: decimal.NewFromInt(500), Notional: usd(12_000),
			ExchangeTS: now.Add(-time.Duration(5-i) * time.Second), IngestTS: now,
		})
	}

	d := NewEventPatternDetector(buf, DefaultTierThresholds(), 5*time.Minute, time.Minute)
	cand, ok := d.DetectWhale("BNBUSD", market.Tier3, now)
	if !ok {
		t.Fatalf("expected whale accumulation candidate from 6 large buys")
	}
	if cand.Direction != market.SideBuy {
		t.Errorf("expected BUY direction, got %s", cand.Direction)
	}
}
