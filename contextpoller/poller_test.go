package contextpoller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/market"
)

type countingFetcher struct {
	calls int64
	delay time.Duration
}

func (f *countingFetcher) Fetch(ctx context.Context, symbol string) (market.ContextSnapshot, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return market.ContextSnapshot{Symbol: symbol, OpenInterest: decimal.NewFromInt(1000), PolledAt: time.Now()}, nil
}

func TestPoller_LatestAfterPoll(t *testing.T) {
	f := &countingFetcher{}
	p := New(f, time.Hour, time.Second)

	p.pollOne("BTCUSD")
	if _, ok := p.Latest("BTCUSD"); !ok {
		t.Errorf("expected a latest entry after a poll")
	}
}

func TestRing_OIAtInterpolates(t *testing.T) {
	r := &ring{}
	base := time.Now()
	r.push(market.ContextSnapshot{OpenInterest: decimal.NewFromInt(1000), PolledAt: base})
	r.push(market.ContextSnapshot{OpenInterest: decimal.NewFromInt(2000), PolledAt: base.Add(time.Hour)})

	mid, ok := r.oiAt(base.Add(30 * time.Minute))
	if !ok {
		t.Fatalf("expected interpolation within the ring's span")
	}
	if !mid.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("expected interpolated OI 1500, got %s", mid)
	}

	if _, ok := r.oiAt(base.Add(-time.Minute)); ok {
		t.Errorf("expected no interpolation before the ring's covered span")
	}
}

func TestPoller_DeltaOI1h(t *testing.T) {
	f := &countingFetcher{}
	p := New(f, time.Hour, time.Second)
	base := time.Now()
	p.ringFor("BTCUSD").push(market.ContextSnapshot{OpenInterest: decimal.NewFromInt(1000), PolledAt: base.Add(-time.Hour)})
	p.ringFor("BTCUSD").push(market.ContextSnapshot{OpenInterest: decimal.NewFromInt(1100), PolledAt: base})

	delta, ok := p.DeltaOI1h("BTCUSD", base)
	if !ok {
		t.Fatalf("expected a delta once the ring spans an hour")
	}
	if delta < 0.099 || delta > 0.101 {
		t.Errorf("expected ~10%% delta, got %v", delta)
	}
}

func TestPoller_RingBounded(t *testing.T) {
	f := &countingFetcher{}
	p := New(f, time.Hour, time.Second)
	for i := 0; i < ringSize+10; i++ {
		p.pollOne("ETHUSD")
	}
	r := p.ringFor("ETHUSD")
	r.mu.RLock()
	n := len(r.entries)
	r.mu.RUnlock()
	if n != ringSize {
		t.Errorf("expected ring capped at %d entries, got %d", ringSize, n)
	}
}
