package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"liqwatch/market"
)

// Validator enforces the anti-spam gate: fingerprint-based deduplication
// within a dedup window, a per-symbol cooldown after a signal fires, and a
// fixed-window cap on total signals per hour (spec §4.7). State is
// in-memory and mutex-protected — no ecosystem rate-limiter covers this
// shape (see DESIGN.md), so the bucket is a hand-rolled counter that Allow
// resets on its first call after an hour has passed since the window opened.
type Validator struct {
	mu sync.Mutex

	dedupWindow time.Duration
	cooldown    time.Duration
	maxPerHour  int

	fingerprints map[string]time.Time
	lastFired    map[string]time.Time

	bucketCount int
	bucketReset time.Time

	accepted int64
	dropped  int64
}

// NewValidator builds a validator with the spec's default knobs
// (dedup_window=300s, cooldown=300s, max_signals_per_hour=50).
func NewValidator(dedupWindow, cooldown time.Duration, maxPerHour int) *Validator {
	return &Validator{
		dedupWindow:  dedupWindow,
		cooldown:     cooldown,
		maxPerHour:   maxPerHour,
		fingerprints: make(map[string]time.Time),
		lastFired:    make(map[string]time.Time),
		bucketReset:  time.Time{},
	}
}

// Fingerprint derives the dedup key for a candidate: symbol + type +
// direction + round(RawScore/5). RawScore stands in for confidence here —
// this runs before the scorer, so it is the only score available at dedup
// time. The scorer later adds a producer bias of up to ±10 and a tier bias
// of up to +4, so this bucket can differ from round(confidence/5) of the
// final signal.
func Fingerprint(c market.Candidate) string {
	bucket := math.Round(c.RawScore / 5)
	raw := fmt.Sprintf("%s|%s|%s|%d", c.Symbol, c.Type, c.Direction, int64(bucket))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

// Allow reports whether c passes dedup, cooldown, and rate-cap checks, and
// if so records the bookkeeping that future calls are checked against.
func (v *Validator) Allow(c market.Candidate, now time.Time) (fingerprint string, ok bool, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fp := Fingerprint(c)

	if seenAt, exists := v.fingerprints[fp]; exists && now.Sub(seenAt) < v.dedupWindow {
		v.dropped++
		return fp, false, "duplicate fingerprint within dedup window"
	}

	if last, exists := v.lastFired[c.Symbol]; exists && now.Sub(last) < v.cooldown {
		v.dropped++
		return fp, false, "symbol in cooldown"
	}

	if v.bucketReset.IsZero() || now.Sub(v.bucketReset) >= time.Hour {
		v.bucketReset = now
		v.bucketCount = 0
	}
	if v.bucketCount >= v.maxPerHour {
		v.dropped++
		return fp, false, "hourly signal cap reached"
	}

	v.fingerprints[fp] = now
	v.lastFired[c.Symbol] = now
	v.bucketCount++
	v.accepted++

	v.sweep(now)
	return fp, true, ""
}

// sweep drops fingerprint entries older than the dedup window so the map
// does not grow unbounded. Called while already holding v.mu.
func (v *Validator) sweep(now time.Time) {
	for fp, t := range v.fingerprints {
		if now.Sub(t) > v.dedupWindow {
			delete(v.fingerprints, fp)
		}
	}
}

// Counts returns the running accepted/dropped totals, for diagnostics.
func (v *Validator) Counts() (accepted, dropped int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accepted, v.dropped
}
