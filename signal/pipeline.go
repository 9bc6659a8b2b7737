package signal

import (
	"time"

	"liqwatch/market"
)

// Pipeline runs a merged candidate through validation, scoring, and
// market-context adjustment to produce a final TradingSignal, mirroring
// the teacher's SignalFilterService chain (each stage can reject outright
// or adjust confidence before the next stage runs).
type Pipeline struct {
	Merger        *Merger
	Validator     *Validator
	Scorer        *Scorer
	ContextFilter *ContextFilter // optional; nil disables context adjustment
}

// Result captures both accepted signals and the reasons candidates were
// dropped, so callers can log/count dispositions per spec §7. Candidate is
// the merged, pre-score detection behind an accepted Signal, carried
// through for diagnostic persistence (SPEC_FULL.md §12).
type Result struct {
	Signal    market.TradingSignal
	Candidate market.Candidate
	Accept    bool
	Reason    string
}

// Process merges raw candidates and runs each resulting cluster through
// the validator, scorer, and context filter in order, short-circuiting on
// the first rejection exactly like the teacher's filter chain.
func (p *Pipeline) Process(candidates []market.Candidate, now time.Time) []Result {
	merged := p.Merger.Merge(candidates, now)
	results := make([]Result, 0, len(merged))

	for _, c := range merged {
		fp, ok, reason := p.Validator.Allow(c, now)
		if !ok {
			results = append(results, Result{Accept: false, Reason: reason})
			continue
		}

		confidence, priority, ok := p.Scorer.Score(c)
		if !ok {
			results = append(results, Result{Accept: false, Reason: "below minimum confidence"})
			continue
		}

		var contextAdj float64
		var contextLabel market.ContextLabel = market.ContextNeutral
		var suppressMessaging bool
		if p.ContextFilter != nil {
			delta, drop, suppress, label := p.ContextFilter.Evaluate(c.Symbol, c.Direction, now)
			if drop {
				results = append(results, Result{Accept: false, Reason: "unfavorable market context"})
				continue
			}
			contextAdj = delta
			contextLabel = label
			suppressMessaging = suppress
			confidence += delta
			if confidence > 100 {
				confidence = 100
			}
			if confidence < 0 {
				confidence = 0
			}
			switch {
			case confidence >= 85:
				priority = market.PriorityUrgent
			case confidence >= 70:
				priority = market.PriorityWatch
			default:
				priority = market.PriorityInfo
			}
		}

		sig := market.TradingSignal{
			Fingerprint:         fp,
			Symbol:              c.Symbol,
			Tier:                c.Tier,
			Direction:           c.Direction,
			Confidence:          confidence,
			Priority:            priority,
			SourceTypes:         []market.CandidateType{c.Type},
			Entry:               c.Entry,
			Stop:                c.Stop,
			Target:              c.Target,
			GeneratedAt:         now,
			ContextAdj:          contextAdj,
			ContextLabel:        contextLabel,
			MessagingSuppressed: suppressMessaging,
			Reason:              c.Reason,
		}
		results = append(results, Result{Signal: sig, Candidate: c, Accept: true})
	}
	return results
}
