package signal

import (
	"sync"

	"liqwatch/market"
)

// ConfidenceTracker holds the per-producer (candidate type) win/loss
// feedback state that the scorer's producer-bias term reads, and that the
// outcome tracker writes back to (spec §4.8 step 2, §4.10, §9 "feedback
// loop single-writer requirement" — after the startup Restore, Record is the
// only mutator). Grounded
// on signal_tracker.go's Redis-cached strategy win-rate, generalized to an
// in-process map that is snapshotted to/restored from state_blob.
type ConfidenceTracker struct {
	mu    sync.RWMutex
	state map[market.CandidateType]market.ConfidenceState
}

// NewConfidenceTracker starts with neutral state for every producer type.
func NewConfidenceTracker() *ConfidenceTracker {
	return &ConfidenceTracker{state: make(map[market.CandidateType]market.ConfidenceState)}
}

// Record updates producer's win/loss tally after an outcome resolves.
func (t *ConfidenceTracker) Record(producer market.CandidateType, won bool, when market.ConfidenceState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state[producer]
	s.Producer = producer
	if won {
		s.Wins++
	} else {
		s.Losses++
	}
	s.LastUpdatedAt = when.LastUpdatedAt
	t.state[producer] = s
}

// Snapshot returns a copy of all tracked producer states, for persistence.
func (t *ConfidenceTracker) Snapshot() []market.ConfidenceState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]market.ConfidenceState, 0, len(t.state))
	for _, s := range t.state {
		out = append(out, s)
	}
	return out
}

// Restore replaces the tracker's state wholesale, used on startup to
// rehydrate from state_blob (spec §8 round-trip law).
func (t *ConfidenceTracker) Restore(states []market.ConfidenceState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = make(map[market.CandidateType]market.ConfidenceState, len(states))
	for _, s := range states {
		t.state[s.Producer] = s
	}
}

func (t *ConfidenceTracker) get(producer market.CandidateType) market.ConfidenceState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state[producer]
}

// Scorer converts a candidate's raw score into a final [0,100] confidence,
// applying producer win-rate bias and tier bias, then buckets the result
// into a delivery priority (spec §4.8).
type Scorer struct {
	tracker       *ConfidenceTracker
	minConfidence float64
}

// NewScorer builds a scorer backed by tracker, dropping anything scoring
// below minConfidence (spec default 70).
func NewScorer(tracker *ConfidenceTracker, minConfidence float64) *Scorer {
	return &Scorer{tracker: tracker, minConfidence: minConfidence}
}

var tierBias = map[market.Tier]float64{
	market.Tier1: 0,
	market.Tier2: 2,
	market.Tier3: 4,
}

// Score computes the final confidence and priority for c. ok is false when
// the scored confidence falls below minConfidence and the signal must be
// dropped (spec §4.8's "min_confidence=70 drop threshold").
func (s *Scorer) Score(c market.Candidate) (confidence float64, priority market.Priority, ok bool) {
	state := s.tracker.get(c.Type)

	bias := 0.0
	if state.Sample() >= 20 {
		bias = 20*state.WinRate() - 10
		if bias > 10 {
			bias = 10
		}
		if bias < -10 {
			bias = -10
		}
	}

	confidence = c.RawScore + bias + tierBias[c.Tier]
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}

	if confidence < s.minConfidence {
		return confidence, "", false
	}

	switch {
	case confidence >= 85:
		priority = market.PriorityUrgent
	case confidence >= 70:
		priority = market.PriorityWatch
	default:
		priority = market.PriorityInfo
	}
	return confidence, priority, true
}
