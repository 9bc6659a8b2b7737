// Package outcome resolves each delivered TradingSignal against real
// subsequent price action: it opens a SignalOutcome at signal time and,
// once the configured horizon has elapsed, checks whether price progressed
// far enough toward target to call it a win, a loss, or (absent recent
// trades) expired (spec §4.10). Grounded on the teacher's
// signal_tracker.go create/update-outcome lifecycle and
// whale_followup_tracker.go's elapsed-time-gated scheduled check, narrowed
// from that file's multi-horizon ladder to the spec's single check at
// now+horizon.
package outcome

import (
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/buffer"
	"liqwatch/market"
	"liqwatch/signal"
)

// Store is the minimal persistence surface the tracker needs; satisfied by
// database.Store.
type Store interface {
	SaveOutcome(o *market.SignalOutcome) error
	OpenOutcomes() ([]market.SignalOutcome, error)
	UpdateOutcome(o *market.SignalOutcome) error
}

// Tracker runs the outcome lifecycle on a ticker, the same Start/Stop/done
// shape as every other periodic subsystem in this repository.
type Tracker struct {
	store      Store
	buf        *buffer.Manager
	confidence *signal.ConfidenceTracker

	horizon      time.Duration
	winFraction  float64
	targetPct    decimal.Decimal
	staleWindow  time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a tracker with the spec's default knobs (horizon=15m,
// win_fraction=0.5, expired if no trade in the last 60s of the check
// window).
func New(store Store, buf *buffer.Manager, confidence *signal.ConfidenceTracker, horizon time.Duration, winFraction float64, targetPct decimal.Decimal) *Tracker {
	return &Tracker{
		store:       store,
		buf:         buf,
		confidence:  confidence,
		horizon:     horizon,
		winFraction: winFraction,
		targetPct:   targetPct,
		staleWindow: 60 * time.Second,
		done:        make(chan struct{}),
	}
}

// OpenFor creates an OPEN SignalOutcome for a freshly accepted signal,
// computing its check time and target price. When the signal already
// carries a zone-derived Entry/Target (spec §4.3 step 8, §4.6), those take
// precedence over entryPrice/targetPct; otherwise it falls back to the
// old percent-of-entry target.
func (t *Tracker) OpenFor(sig market.TradingSignal, entryPrice decimal.Decimal) market.SignalOutcome {
	entry := entryPrice
	if !sig.Entry.IsZero() {
		entry = sig.Entry
	}

	var target decimal.Decimal
	if !sig.Target.IsZero() {
		target = sig.Target
	} else {
		move := entry.Mul(t.targetPct)
		if sig.Direction == market.SideBuy {
			target = entry.Add(move)
		} else {
			target = entry.Sub(move)
		}
	}

	producer := market.CandidateType("")
	if len(sig.SourceTypes) > 0 {
		producer = sig.SourceTypes[0]
	}

	return market.SignalOutcome{
		SignalID:    sig.ID,
		Producer:    producer,
		Symbol:      sig.Symbol,
		Direction:   sig.Direction,
		EntryPrice:  entry,
		EntryTime:   sig.GeneratedAt,
		TargetPrice: target,
		CheckAt:     sig.GeneratedAt.Add(t.horizon),
		Status:      market.OutcomeOpen,
	}
}

// Start runs the periodic check loop every minute until Stop is called.
func (t *Tracker) Start() {
	t.wg.Add(1)
	defer t.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	log.Println("✅ outcome tracker started")
	for {
		select {
		case <-ticker.C:
			t.resolveDue(time.Now())
		case <-t.done:
			log.Println("🛑 outcome tracker stopped")
			return
		}
	}
}

// Stop signals the tracker loop to exit and waits for it to finish.
func (t *Tracker) Stop() {
	close(t.done)
	t.wg.Wait()
}

// resolveDue finds OPEN outcomes whose check time has passed and labels
// each one.
func (t *Tracker) resolveDue(now time.Time) {
	open, err := t.store.OpenOutcomes()
	if err != nil {
		log.Printf("⚠️  outcome tracker: failed to load open outcomes: %v", err)
		return
	}

	for _, o := range open {
		if now.Before(o.CheckAt) {
			continue
		}
		t.resolve(&o, now)
		if err := t.store.UpdateOutcome(&o); err != nil {
			log.Printf("⚠️  outcome tracker: failed to persist outcome %d: %v", o.ID, err)
		}
	}
}

// resolve mutates o in place, deciding WIN/LOSS/EXPIRED and feeding the
// result back into the confidence tracker (spec §9's single-writer
// feedback loop — only the outcome tracker calls Record).
func (t *Tracker) resolve(o *market.SignalOutcome, now time.Time) {
	recent := t.buf.TradesSince(o.Symbol, now.Add(-t.staleWindow))
	if len(recent) == 0 {
		o.Status = market.OutcomeExpired
		log.Printf("⌛ outcome %d (%s) expired: no trades in the last %v", o.ID, o.Symbol, t.staleWindow)
		return
	}

	last := recent[len(recent)-1]
	o.ExitPrice = last.Price
	o.ExitTime = now

	distance := o.TargetPrice.Sub(o.EntryPrice)
	var progress float64
	if !distance.IsZero() {
		progress, _ = last.Price.Sub(o.EntryPrice).Div(distance).Float64()
	}
	o.Progress = progress

	won := progress >= t.winFraction
	if won {
		o.Status = market.OutcomeWin
		log.Printf("✅ outcome %d (%s) WIN: progress %.2f", o.ID, o.Symbol, progress)
	} else {
		o.Status = market.OutcomeLoss
		log.Printf("❌ outcome %d (%s) LOSS: progress %.2f", o.ID, o.Symbol, progress)
	}

	if o.Producer != "" {
		t.confidence.Record(o.Producer, won, market.ConfidenceState{LastUpdatedAt: now})
	}
}
