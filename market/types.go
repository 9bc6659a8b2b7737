// Package market defines the shared domain types that flow through the
// pipeline: raw ingested events, buffered snapshots, analyzer output, and
// the signal/outcome records that get persisted. Kept separate from
// database so that buffer, analyzers, signal and outcome can all import it
// without pulling in gorm.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the taker side of a trade or liquidation.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Tier classifies a symbol's liquidity bracket; thresholds throughout the
// pipeline are tier-scaled (spec §4.3/§4.4).
type Tier string

const (
	Tier1 Tier = "t1"
	Tier2 Tier = "t2"
	Tier3 Tier = "t3"
)

// Liquidation is a single forced-close event from the upstream feed.
type Liquidation struct {
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Notional   decimal.Decimal
	ExchangeTS time.Time
	IngestTS   time.Time
}

// Trade is a single aggregated trade print from the upstream feed.
type Trade struct {
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Notional   decimal.Decimal
	ExchangeTS time.Time
	IngestTS   time.Time
}

// CandidateType enumerates the detector that produced a Candidate, used by
// the merger for type-priority ordering (spec §4.6).
type CandidateType string

const (
	CandidateStopHunt   CandidateType = "stop_hunt"
	CandidateWhale      CandidateType = "whale"
	CandidateOrderFlow  CandidateType = "order_flow"
	CandidateVolumeSpike CandidateType = "volume_spike"
)

// candidateTypePriority orders concurrently-coalesced candidates; lower is
// preferred. Stop-hunt cascades are the most actionable, volume spikes the
// most speculative.
var candidateTypePriority = map[CandidateType]int{
	CandidateStopHunt:    0,
	CandidateWhale:       1,
	CandidateOrderFlow:   2,
	CandidateVolumeSpike: 3,
}

// TypePriority returns the coalescing priority for t; unknown types sort last.
func TypePriority(t CandidateType) int {
	if p, ok := candidateTypePriority[t]; ok {
		return p
	}
	return len(candidateTypePriority)
}

// Candidate is a pre-merge, pre-validation detection emitted by one of the
// analyzers.
type Candidate struct {
	Type       CandidateType
	Symbol     string
	Tier       Tier
	Direction  Side // proposed trade direction (BUY = long, SELL = short)
	RawScore   float64
	DetectedAt time.Time
	Reason     string
	Evidence   map[string]interface{}

	// Entry/Stop/Target are the price-zone derived trade levels (spec §4.3
	// step 8, §4.6). Zero values mean the producing analyzer did not compute
	// a zone; the merger fills them in from a trade-price fallback.
	Entry  decimal.Decimal
	Stop   decimal.Decimal
	Target decimal.Decimal
}

// Priority buckets a final confidence score into an actionability tier
// (spec §4.8).
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityWatch  Priority = "watch"
	PriorityInfo   Priority = "info"
)

// TradingSignal is a merged, validated, and scored candidate ready for
// persistence and delivery.
type TradingSignal struct {
	ID           int64
	Fingerprint  string
	Symbol       string
	Tier         Tier
	Direction    Side
	Confidence   float64
	Priority     Priority
	SourceTypes  []CandidateType
	TriggerPrice decimal.Decimal
	Entry        decimal.Decimal
	Stop         decimal.Decimal
	Target       decimal.Decimal
	GeneratedAt  time.Time
	ContextAdj   float64     // market-context adjustment applied (spec §4.9)
	ContextLabel ContextLabel // favorable/neutral/unfavorable classification behind ContextAdj
	MessagingSuppressed bool // true when the normal-mode context filter withholds this signal from the messaging sink only
	Reason       string
}

// OutcomeStatus is the terminal label assigned by the outcome tracker.
type OutcomeStatus string

const (
	OutcomeOpen    OutcomeStatus = "OPEN"
	OutcomeWin     OutcomeStatus = "WIN"
	OutcomeLoss    OutcomeStatus = "LOSS"
	OutcomeExpired OutcomeStatus = "EXPIRED"
)

// SignalOutcome tracks a signal's post-hoc result at its evaluation horizon
// (spec §4.10).
type SignalOutcome struct {
	ID           int64
	SignalID     int64
	Producer     CandidateType
	Symbol       string
	Direction    Side
	EntryPrice   decimal.Decimal
	EntryTime    time.Time
	TargetPrice  decimal.Decimal
	CheckAt      time.Time
	ExitPrice    decimal.Decimal
	ExitTime     time.Time
	Progress     float64 // fraction of distance-to-target reached at check time
	Status       OutcomeStatus
}

// BaselineStats is the rolling statistical baseline for a symbol, computed
// from the per-minute volume buckets the buffer keeps for up to 24 hours,
// independent of the trade buffer's cap (spec §3, §4.5 volume-spike baseline).
type BaselineStats struct {
	Symbol        string
	SampleSize    int
	MeanVolume    decimal.Decimal
	StdDevVolume  decimal.Decimal
	MeanNotional  decimal.Decimal
	StdDevNotional decimal.Decimal
	ComputedAt    time.Time
}

// ConfidenceState is the per-producer (strategy/type) feedback state used
// by the confidence scorer's producer-bias term (spec §4.8 step 2). It is
// the unit persisted to/restored from state_blob (spec §8 round-trip law).
type ConfidenceState struct {
	Producer      CandidateType
	Wins          int
	Losses        int
	LastUpdatedAt time.Time
}

// WinRate returns the producer's win fraction; 0.5 (neutral) when no
// outcome has resolved yet. Any minimum-sample rule is applied by the caller.
func (c ConfidenceState) WinRate() float64 {
	total := c.Wins + c.Losses
	if total == 0 {
		return 0.5
	}
	return float64(c.Wins) / float64(total)
}

// Sample returns the total number of resolved (win+loss) outcomes.
func (c ConfidenceState) Sample() int {
	return c.Wins + c.Losses
}

// ContextMode controls how strongly the market-context filter's adjustment
// is allowed to move confidence (spec §4.9).
type ContextMode string

const (
	ContextStrict    ContextMode = "strict"
	ContextNormal    ContextMode = "normal"
	ContextPermissive ContextMode = "permissive"
)

// ContextLabel is the favorable/neutral/unfavorable classification derived
// from funding rate and open-interest trend.
type ContextLabel string

const (
	ContextFavorable   ContextLabel = "favorable"
	ContextNeutral     ContextLabel = "neutral"
	ContextUnfavorable ContextLabel = "unfavorable"
)

// ContextSnapshot is one polled open-interest/funding-rate reading for a
// symbol (spec §4.11).
type ContextSnapshot struct {
	Symbol       string
	OpenInterest decimal.Decimal
	FundingRate  decimal.Decimal
	PolledAt     time.Time
}

// Age reports how old the snapshot is relative to now.
func (c ContextSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(c.PolledAt)
}
