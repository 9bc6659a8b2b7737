package outcome

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/buffer"
	"liqwatch/market"
	"liqwatch/signal"
)

func TestTracker_OpenForComputesTarget(t *testing.T) {
	buf := buffer.New()
	tr := New(nil, buf, signal.NewConfidenceTracker(), 15*time.Minute, 0.5, decimal.NewFromFloat(0.01))

	sig := market.TradingSignal{
		ID: 1, Symbol: "BTCUSD", Direction: market.SideBuy,
		GeneratedAt: time.Now(), SourceTypes: []market.CandidateType{market.CandidateWhale},
	}
	o := tr.OpenFor(sig, decimal.NewFromInt(100))
	if !o.TargetPrice.Equal(decimal.NewFromInt(101)) {
		t.Errorf("expected target 101 (1%% above entry for BUY), got %s", o.TargetPrice)
	}
	if o.Status != market.OutcomeOpen {
		t.Errorf("expected OPEN status, got %s", o.Status)
	}
}

func TestTracker_ResolveWinLossExpired(t *testing.T) {
	buf := buffer.New()
	confidence := signal.NewConfidenceTracker()
	tr := New(nil, buf, confidence, 15*time.Minute, 0.5, decimal.NewFromFloat(0.01))
	now := time.Now()

	// WIN: price reached the target.
	buf.AddTrade(market.Trade{Symbol: "BTCUSD", Price: decimal.NewFromInt(101), ExchangeTS: now, IngestTS: now})
	winOutcome := market.SignalOutcome{
		ID: 1, Producer: market.CandidateWhale, Symbol: "BTCUSD", Direction: market.SideBuy,
		EntryPrice: decimal.NewFromInt(100), TargetPrice: decimal.NewFromInt(101), CheckAt: now,
	}
	tr.resolve(&winOutcome, now)
	if winOutcome.Status != market.OutcomeWin {
		t.Errorf("expected WIN, got %s", winOutcome.Status)
	}

	// LOSS: price barely moved.
	buf.AddTrade(market.Trade{Symbol: "ETHUSD", Price: decimal.NewFromInt(100), ExchangeTS: now, IngestTS: now})
	lossOutcome := market.SignalOutcome{
		ID: 2, Producer: market.CandidateWhale, Symbol: "ETHUSD", Direction: market.SideBuy,
		EntryPrice: decimal.NewFromInt(100), TargetPrice: decimal.NewFromInt(101), CheckAt: now,
	}
	tr.resolve(&lossOutcome, now)
	if lossOutcome.Status != market.OutcomeLoss {
		t.Errorf("expected LOSS, got %s", lossOutcome.Status)
	}

	// EXPIRED: no recent trades for the symbol at all.
	expiredOutcome := market.SignalOutcome{
		ID: 3, Symbol: "NOTRADEUSD", Direction: market.SideBuy,
		EntryPrice: decimal.NewFromInt(100), TargetPrice: decimal.NewFromInt(101), CheckAt: now,
	}
	tr.resolve(&expiredOutcome, now)
	if expiredOutcome.Status != market.OutcomeExpired {
		t.Errorf("expected EXPIRED, got %s", expiredOutcome.Status)
	}

	snap := confidence.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected feedback recorded once per producer (whale), got %d entries", len(snap))
	}
	if snap[0].Wins != 1 || snap[0].Losses != 1 {
		t.Errorf("expected 1 win 1 loss recorded, got wins=%d losses=%d", snap[0].Wins, snap[0].Losses)
	}
	// The EXPIRED outcome has no Producer set, so it must not contribute
	// feedback (spec §9's single-writer feedback loop only fires on
	// resolved win/loss outcomes).
}
