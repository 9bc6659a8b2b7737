// Package signal turns analyzer Candidates into delivered TradingSignals:
// coalesce concurrent candidates (Merger), suppress spam (Validator), score
// confidence with producer-win-rate feedback (Scorer), and adjust for
// market context (ContextFilter). Grounded on the teacher's signal_filter.go
// filter-chain (pass/reject/multiplier, first-failure short-circuit) and
// signal_tracker.go (Redis-cached win-rate multiplier).
package signal

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/market"
)

// TradeZoneSource supplies recent trades for a symbol; satisfied by
// buffer.Manager. Used by the merger's price-zone fallback (spec §4.6: "else
// from a price-zone computed over the most recent 60s of trades") when the
// cluster has no stop-hunt candidate to source entry/stop/target from.
type TradeZoneSource interface {
	TradesSince(symbol string, since time.Time) []market.Trade
}

// Merger coalesces candidates for the same symbol that land within a short
// window, picking the highest-priority type, voting on a single direction,
// and boosting confidence when multiple detectors concur (spec §4.6).
type Merger struct {
	window     time.Duration
	trades     TradeZoneSource
	zoneWindow time.Duration
}

// NewMerger builds a merger with the given coalescing window (spec default
// 2s). The price-zone fallback is disabled until WithTradeZoneSource is
// called.
func NewMerger(window time.Duration) *Merger {
	return &Merger{window: window, zoneWindow: 60 * time.Second}
}

// WithTradeZoneSource attaches the trade buffer the merger reads from when
// no stop-hunt candidate is present in a cluster (spec §4.6's 60s fallback
// zone).
func (m *Merger) WithTradeZoneSource(src TradeZoneSource) *Merger {
	m.trades = src
	return m
}

// Merge groups candidates by symbol, then within each symbol-group by
// arrival proximity (<= window apart, chained), and reduces each group to
// a single representative candidate plus a concurrence-boosted raw score.
// now anchors the 60s trade-zone fallback window.
func (m *Merger) Merge(candidates []market.Candidate, now time.Time) []market.Candidate {
	bySymbol := make(map[string][]market.Candidate)
	for _, c := range candidates {
		bySymbol[c.Symbol] = append(bySymbol[c.Symbol], c)
	}

	var out []market.Candidate
	for _, group := range bySymbol {
		sort.Slice(group, func(i, j int) bool {
			return group[i].DetectedAt.Before(group[j].DetectedAt)
		})

		var cluster []market.Candidate
		flush := func() {
			if len(cluster) == 0 {
				return
			}
			out = append(out, m.reduce(cluster, now))
			cluster = nil
		}

		for _, c := range group {
			if len(cluster) > 0 && c.DetectedAt.Sub(cluster[len(cluster)-1].DetectedAt) > m.window {
				flush()
			}
			cluster = append(cluster, c)
		}
		flush()
	}
	return out
}

// reduce picks the cluster's highest-type-priority candidate as the
// representative, decides the merged direction by majority vote (spec
// §4.6: "direction = majority vote; if tie or any candidate is none,
// inherit from the highest-priority one"), boosts its score by 5 if two or
// more distinct detector types concurred, and fills in entry/stop/target
// from the cluster's stop-hunt candidate or the 60s trade-zone fallback.
func (m *Merger) reduce(cluster []market.Candidate, now time.Time) market.Candidate {
	best := cluster[0]
	var stopHunt *market.Candidate
	seen := map[market.CandidateType]bool{}
	for i := range cluster {
		c := &cluster[i]
		seen[c.Type] = true
		if market.TypePriority(c.Type) < market.TypePriority(best.Type) {
			best = *c
		}
		if c.Type == market.CandidateStopHunt {
			stopHunt = c
		}
	}

	var sources []market.CandidateType
	for t := range seen {
		sources = append(sources, t)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	result := best
	result.Direction = voteDirection(cluster, best.Direction)
	if len(seen) >= 2 {
		result.RawScore += 5
	}

	switch {
	case stopHunt != nil:
		result.Entry, result.Stop, result.Target = stopHunt.Entry, stopHunt.Stop, stopHunt.Target
	case m.trades != nil:
		if entry, stop, target, ok := zoneFromTrades(result.Direction, m.trades.TradesSince(result.Symbol, now.Add(-m.zoneWindow))); ok {
			result.Entry, result.Stop, result.Target = entry, stop, target
		}
	}

	result.Evidence = mergeEvidence(result.Evidence, map[string]interface{}{"concurring_types": sources})
	return result
}

// voteDirection tallies cluster directions and returns the majority; ties,
// or a cluster containing a candidate with an empty Side, fall back to
// fallback (the highest-priority candidate's direction), matching spec
// §4.6's tie-break rule verbatim. No analyzer in this repository emits an
// empty Side: the volume-spike detector assigns BUY or SELL by whichever
// side traded more volume in the spike minute.
func voteDirection(cluster []market.Candidate, fallback market.Side) market.Side {
	counts := make(map[market.Side]int, 2)
	for _, c := range cluster {
		if c.Direction == "" {
			return fallback
		}
		counts[c.Direction]++
	}

	var topSide market.Side
	topCount := 0
	tie := false
	for side, n := range counts {
		switch {
		case n > topCount:
			topSide, topCount, tie = side, n, false
		case n == topCount:
			tie = true
		}
	}
	if tie {
		return fallback
	}
	return topSide
}

// zoneFromTrades derives an entry/stop/target from the last trade price in
// trades (spec §4.6: entry = last trade price, stop at ±0.5%, target at a
// 2:1 reward-to-risk ratio). ok is false if trades is empty.
func zoneFromTrades(direction market.Side, trades []market.Trade) (entry, stop, target decimal.Decimal, ok bool) {
	if len(trades) == 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero, false
	}
	entry = trades[len(trades)-1].Price
	move := entry.Mul(decimal.NewFromFloat(0.005))
	if direction == market.SideSell {
		stop = entry.Add(move)
		target = entry.Sub(stop.Sub(entry).Mul(decimal.NewFromInt(2)))
	} else {
		stop = entry.Sub(move)
		target = entry.Add(entry.Sub(stop).Mul(decimal.NewFromInt(2)))
	}
	return entry, stop, target, true
}

func mergeEvidence(base map[string]interface{}, add map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(add))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}
