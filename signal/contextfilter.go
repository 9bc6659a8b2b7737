package signal

import (
	"time"

	"liqwatch/market"
)

// ContextProvider supplies the latest open-interest/funding snapshot for a
// symbol plus its trailing 1h open-interest delta, as maintained by the
// contextpoller's ring buffer.
type ContextProvider interface {
	Latest(symbol string) (market.ContextSnapshot, bool)
	DeltaOI1h(symbol string, now time.Time) (float64, bool)
}

// Default funding/open-interest thresholds (spec §4.9): f_hi/f_lo are
// "0.01% per 8h equivalent", oi_thresh is the minimum 1h open-interest swing
// that corroborates a funding-rate reading. Configurable per filter via
// WithThresholds, but not exposed through config.Config — SPEC_FULL.md §6's
// documented configuration surface only lists market_context.filter_mode/
// confidence_adjust, so these are constructor-level knobs instead.
const (
	defaultFundingHi = 0.0001
	defaultFundingLo = 0.0001
	defaultOIThresh  = 0.05
)

// ContextFilter adjusts a signal's confidence based on whether current
// funding rate and open-interest trend support or fight the proposed
// direction (spec §4.9). It is an adjustment, not a gate, except in strict
// mode where an unfavorable reading drops the signal outright.
type ContextFilter struct {
	provider ContextProvider
	mode     market.ContextMode
	ageMax   time.Duration

	fHi, fLo, oiThresh float64
}

// NewContextFilter builds a filter reading from provider in the given mode
// (spec default age_max=10m), using the spec's default funding/OI
// thresholds.
func NewContextFilter(provider ContextProvider, mode market.ContextMode, ageMax time.Duration) *ContextFilter {
	return &ContextFilter{
		provider: provider, mode: mode, ageMax: ageMax,
		fHi: defaultFundingHi, fLo: defaultFundingLo, oiThresh: defaultOIThresh,
	}
}

// WithThresholds overrides the default funding-rate (fHi/fLo) and
// open-interest (oiThresh) thresholds used by Classify.
func (f *ContextFilter) WithThresholds(fHi, fLo, oiThresh float64) *ContextFilter {
	f.fHi, f.fLo, f.oiThresh = fHi, fLo, oiThresh
	return f
}

// Classify labels the current context favorable/neutral/unfavorable for a
// proposed direction (spec §4.9). For a long: favorable if funding ≤ −f_lo
// and ΔOI_1h ≥ +oi_thresh; unfavorable if funding ≥ +f_hi and ΔOI_1h ≥
// +oi_thresh; else neutral. Mirrored for a short (funding sign flips; the
// ΔOI_1h condition is unchanged, per spec's literal "mirror for short").
func (f *ContextFilter) Classify(symbol string, direction market.Side, now time.Time) (market.ContextLabel, bool) {
	latest, ok := f.provider.Latest(symbol)
	if !ok || latest.Age(now) > f.ageMax {
		return market.ContextNeutral, false
	}

	deltaOI, ok := f.provider.DeltaOI1h(symbol, now)
	if !ok || deltaOI < f.oiThresh {
		return market.ContextNeutral, true
	}

	funding, _ := latest.FundingRate.Float64()

	var favorable, unfavorable bool
	if direction == market.SideBuy {
		favorable = funding <= -f.fLo
		unfavorable = funding >= f.fHi
	} else {
		favorable = funding >= f.fLo
		unfavorable = funding <= -f.fHi
	}

	switch {
	case favorable:
		return market.ContextFavorable, true
	case unfavorable:
		return market.ContextUnfavorable, true
	default:
		return market.ContextNeutral, true
	}
}

// Adjust returns the confidence delta to apply for label under the
// filter's configured mode, whether the signal should be dropped entirely
// (only possible in strict mode against an unfavorable reading), and
// whether delivery to the messaging sink specifically should be suppressed
// while the dashboard still receives the signal (spec §4.9's default
// "normal" mode behavior on an unfavorable reading).
func (f *ContextFilter) Adjust(label market.ContextLabel) (delta float64, drop bool, suppressMessaging bool) {
	switch label {
	case market.ContextFavorable:
		return 5, false, false
	case market.ContextUnfavorable:
		switch f.mode {
		case market.ContextStrict:
			return -10, true, true
		case market.ContextPermissive:
			return -2, false, false
		default:
			return -10, false, true
		}
	default: // neutral
		if f.mode == market.ContextPermissive {
			return 2, false, false
		}
		return 0, false, false
	}
}

// Evaluate combines Classify and Adjust for convenience: given no context
// data (stale or absent), it is a no-op adjustment rather than a penalty,
// matching spec §4.9's "adjustment, not a gate" design note.
func (f *ContextFilter) Evaluate(symbol string, direction market.Side, now time.Time) (delta float64, drop bool, suppressMessaging bool, label market.ContextLabel) {
	label, have := f.Classify(symbol, direction, now)
	if !have {
		return 0, false, false, market.ContextNeutral
	}
	delta, drop, suppressMessaging = f.Adjust(label)
	return delta, drop, suppressMessaging, label
}
