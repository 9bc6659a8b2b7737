package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/market"
)

func TestMerger_ConcurringTypesBoostScore(t *testing.T) {
	now := time.Now()
	m := NewMerger(2 * time.Second)
	candidates := []market.Candidate{
		{Type: market.CandidateWhale, Symbol: "BTCUSD", RawScore: 60, DetectedAt: now},
		{Type: market.CandidateStopHunt, Symbol: "BTCUSD", RawScore: 70, DetectedAt: now.Add(500 * time.Millisecond)},
	}
	merged := m.Merge(candidates, now)
	if len(merged) != 1 {
		t.Fatalf("expected candidates within the coalescing window to merge into 1, got %d", len(merged))
	}
	if merged[0].Type != market.CandidateStopHunt {
		t.Errorf("expected stop_hunt to win type priority, got %s", merged[0].Type)
	}
	if merged[0].RawScore != 75 {
		t.Errorf("expected concurrence boost to +5 (75), got %v", merged[0].RawScore)
	}
}

func TestMerger_OutsideWindowStaysSeparate(t *testing.T) {
	now := time.Now()
	m := NewMerger(2 * time.Second)
	candidates := []market.Candidate{
		{Type: market.CandidateWhale, Symbol: "BTCUSD", RawScore: 60, DetectedAt: now},
		{Type: market.CandidateOrderFlow, Symbol: "BTCUSD", RawScore: 55, DetectedAt: now.Add(10 * time.Second)},
	}
	merged := m.Merge(candidates, now)
	if len(merged) != 2 {
		t.Fatalf("expected candidates outside the window to stay separate, got %d", len(merged))
	}
}

func TestPipeline_AcceptCarriesMergedCandidateForDiagnostics(t *testing.T) {
	now := time.Now()
	p := &Pipeline{
		Merger:    NewMerger(2 * time.Second),
		Validator: NewValidator(time.Minute, time.Minute, 10),
		Scorer:    NewScorer(NewConfidenceTracker(), 0),
	}
	candidates := []market.Candidate{
		{Type: market.CandidateWhale, Symbol: "BTCUSD", RawScore: 60, DetectedAt: now, Evidence: map[string]interface{}{"notional": 1_000_000.0}},
	}
	results := p.Process(candidates, now)
	if len(results) != 1 || !results[0].Accept {
		t.Fatalf("expected one accepted result, got %+v", results)
	}
	if results[0].Candidate.Type != market.CandidateWhale {
		t.Errorf("expected accepted result to carry the merged candidate, got %+v", results[0].Candidate)
	}
	if results[0].Candidate.Evidence["notional"] != 1_000_000.0 {
		t.Errorf("expected merged candidate's evidence to survive for diagnostic persistence")
	}
}

func TestValidator_DedupWithinWindow(t *testing.T) {
	now := time.Now()
	v := NewValidator(300*time.Second, 300*time.Second, 50)
	c := market.Candidate{Type: market.CandidateWhale, Symbol: "ETHUSD", Direction: market.SideBuy, DetectedAt: now}

	_, ok1, _ := v.Allow(c, now)
	if !ok1 {
		t.Fatalf("first occurrence should be allowed")
	}
	_, ok2, reason := v.Allow(c, now.Add(time.Second))
	if ok2 {
		t.Fatalf("duplicate fingerprint within dedup window should be rejected")
	}
	if reason == "" {
		t.Errorf("expected a rejection reason")
	}
}

func TestValidator_HourlyCap(t *testing.T) {
	now := time.Now()
	v := NewValidator(time.Millisecond, time.Millisecond, 2)

	for i := 0; i < 2; i++ {
		c := market.Candidate{Type: market.CandidateWhale, Symbol: "ADAUSD", Direction: market.SideBuy, DetectedAt: now.Add(time.Duration(i) * time.Second)}
		if _, ok, _ := v.Allow(c, now.Add(time.Duration(i)*time.Second)); !ok {
			t.Fatalf("signal %d should be within cap", i)
		}
	}
	c := market.Candidate{Type: market.CandidateWhale, Symbol: "ADAUSD", Direction: market.SideBuy, DetectedAt: now.Add(5 * time.Second)}
	if _, ok, _ := v.Allow(c, now.Add(5*time.Second)); ok {
		t.Fatalf("third signal within the same hour should hit the cap")
	}
}

func TestScorer_ProducerBiasAndPriority(t *testing.T) {
	tracker := NewConfidenceTracker()
	for i := 0; i < 15; i++ {
		tracker.Record(market.CandidateStopHunt, true, market.ConfidenceState{LastUpdatedAt: time.Now()})
	}
	for i := 0; i < 5; i++ {
		tracker.Record(market.CandidateStopHunt, false, market.ConfidenceState{LastUpdatedAt: time.Now()})
	}

	s := NewScorer(tracker, 70)
	c := market.Candidate{Type: market.CandidateStopHunt, Tier: market.Tier1, RawScore: 70}
	confidence, priority, ok := s.Score(c)
	if !ok {
		t.Fatalf("expected signal to clear min confidence")
	}
	// win rate 0.75 -> bias = 20*0.75-10 = 5
	if confidence != 75 {
		t.Errorf("expected confidence 75 (70 raw + 5 bias + 0 tier), got %v", confidence)
	}
	if priority != market.PriorityWatch {
		t.Errorf("expected watch priority at 75, got %s", priority)
	}
}

func TestScorer_BelowMinimumDropped(t *testing.T) {
	s := NewScorer(NewConfidenceTracker(), 70)
	_, _, ok := s.Score(market.Candidate{Type: market.CandidateVolumeSpike, RawScore: 40})
	if ok {
		t.Fatalf("low raw score should be dropped below min_confidence")
	}
}

type fakeProvider struct {
	latest     market.ContextSnapshot
	haveLatest bool
	deltaOI    float64
	haveDelta  bool
}

func (f fakeProvider) Latest(symbol string) (market.ContextSnapshot, bool) { return f.latest, f.haveLatest }
func (f fakeProvider) DeltaOI1h(symbol string, now time.Time) (float64, bool) {
	return f.deltaOI, f.haveDelta
}

func TestContextFilter_FavorableBoost(t *testing.T) {
	now := time.Now()
	// long: funding <= -f_lo(0.0001) and ΔOI_1h >= +oi_thresh(0.05).
	p := fakeProvider{
		latest:     market.ContextSnapshot{Symbol: "BTCUSD", FundingRate: decimal.NewFromFloat(-0.0005), PolledAt: now},
		haveLatest: true,
		deltaOI:    0.08, haveDelta: true,
	}
	f := NewContextFilter(p, market.ContextNormal, 10*time.Minute)
	delta, drop, suppress, label := f.Evaluate("BTCUSD", market.SideBuy, now)
	if drop {
		t.Fatalf("favorable context should never drop")
	}
	if delta != 5 {
		t.Errorf("expected +5 favorable adjustment, got %v", delta)
	}
	if suppress {
		t.Errorf("favorable context should never suppress messaging")
	}
	if label != market.ContextFavorable {
		t.Errorf("expected favorable label, got %v", label)
	}
}

func TestContextFilter_StaleSnapshotIsNoOp(t *testing.T) {
	now := time.Now()
	p := fakeProvider{
		latest:     market.ContextSnapshot{Symbol: "BTCUSD", PolledAt: now.Add(-20 * time.Minute)},
		haveLatest: true,
	}
	f := NewContextFilter(p, market.ContextNormal, 10*time.Minute)
	delta, drop, suppress, _ := f.Evaluate("BTCUSD", market.SideBuy, now)
	if drop || delta != 0 || suppress {
		t.Errorf("stale snapshot should be a no-op, got delta=%v drop=%v suppress=%v", delta, drop, suppress)
	}
}

func TestContextFilter_StrictModeDropsUnfavorable(t *testing.T) {
	now := time.Now()
	// long: funding >= +f_hi(0.0001) and ΔOI_1h >= +oi_thresh(0.05) (spec §8
	// seed scenario 3: funding=+0.03%, ΔOI_1h=+8%).
	p := fakeProvider{
		latest:     market.ContextSnapshot{Symbol: "BTCUSD", FundingRate: decimal.NewFromFloat(0.0003), PolledAt: now},
		haveLatest: true,
		deltaOI:    0.08, haveDelta: true,
	}
	f := NewContextFilter(p, market.ContextStrict, 10*time.Minute)
	_, drop, suppress, _ := f.Evaluate("BTCUSD", market.SideBuy, now)
	if !drop {
		t.Errorf("strict mode should drop an unfavorable reading")
	}
	if !suppress {
		t.Errorf("a dropped strict-mode signal should also be marked messaging-suppressed")
	}
}

func TestContextFilter_NormalModeSuppressesMessagingNotDashboard(t *testing.T) {
	now := time.Now()
	p := fakeProvider{
		latest:     market.ContextSnapshot{Symbol: "BTCUSD", FundingRate: decimal.NewFromFloat(0.0003), PolledAt: now},
		haveLatest: true,
		deltaOI:    0.08, haveDelta: true,
	}
	f := NewContextFilter(p, market.ContextNormal, 10*time.Minute)
	delta, drop, suppress, label := f.Evaluate("BTCUSD", market.SideBuy, now)
	if drop {
		t.Errorf("normal mode must never drop outright, only suppress messaging")
	}
	if !suppress {
		t.Errorf("normal mode should suppress the messaging sink on an unfavorable reading")
	}
	if delta != -10 {
		t.Errorf("expected -10 unfavorable adjustment, got %v", delta)
	}
	if label != market.ContextUnfavorable {
		t.Errorf("expected unfavorable label, got %v", label)
	}
}
