// Package buffer holds the per-symbol rolling windows of liquidations and
// trades that every analyzer reads from. Grounded on the teacher's
// trade_aggregator.go (windowed snapshot aggregation over a time range)
// and baseline_calculator.go (periodic per-symbol statistics), generalized
// from a DB-query-per-scan model to an in-memory bounded deque so analyzers
// can run far more often than a database round trip would allow.
package buffer

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/market"
)

const (
	// MaxLiquidations is the per-symbol cap on buffered liquidations (spec §3).
	MaxLiquidations = 1000
	// MaxTrades is the per-symbol cap on buffered trades (spec §3).
	MaxTrades = 500
	// GraceWindow is how far out of order an event may arrive and still be
	// accepted in-place rather than dropped (spec §3).
	GraceWindow = 2 * time.Second
	// Retention is the maximum age an entry may reach before sweep evicts it,
	// independent of the hard cap (spec §3, §4.2).
	Retention = 24 * time.Hour
)

type symbolBuffer struct {
	mu           sync.RWMutex
	liquidations []market.Liquidation
	trades       []market.Trade
	lastLiqTS    time.Time
	lastTradeTS  time.Time
}

// Manager owns one symbolBuffer per symbol. Safe for concurrent use: the
// outer map is guarded by mapMu and is only ever grown, never shrunk, so
// readers can hold a *symbolBuffer reference without the outer lock.
type Manager struct {
	mapMu   sync.RWMutex
	symbols map[string]*symbolBuffer

	baselineMu sync.RWMutex
	baselines  map[string]*baselineRing

	rejectedOutOfOrder int64
	droppedDueToCap    int64
	mu                 sync.Mutex
}

// New creates an empty buffer manager.
func New() *Manager {
	return &Manager{
		symbols:   make(map[string]*symbolBuffer),
		baselines: make(map[string]*baselineRing),
	}
}

func (m *Manager) bufferFor(symbol string) *symbolBuffer {
	m.mapMu.RLock()
	b, ok := m.symbols[symbol]
	m.mapMu.RUnlock()
	if ok {
		return b
	}

	m.mapMu.Lock()
	defer m.mapMu.Unlock()
	if b, ok := m.symbols[symbol]; ok {
		return b
	}
	b = &symbolBuffer{}
	m.symbols[symbol] = b
	return b
}

// AddLiquidation appends a liquidation in exchange-timestamp order. Events
// arriving more than GraceWindow behind the latest accepted timestamp are
// counted as out-of-order and dropped rather than inserted, matching spec
// §3's ordering invariant.
func (m *Manager) AddLiquidation(l market.Liquidation) bool {
	b := m.bufferFor(l.Symbol)
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.lastLiqTS.IsZero() && l.ExchangeTS.Before(b.lastLiqTS.Add(-GraceWindow)) {
		m.mu.Lock()
		m.rejectedOutOfOrder++
		m.mu.Unlock()
		return false
	}

	b.liquidations = append(b.liquidations, l)
	for i := len(b.liquidations) - 1; i > 0 && b.liquidations[i-1].ExchangeTS.After(l.ExchangeTS); i-- {
		b.liquidations[i-1], b.liquidations[i] = b.liquidations[i], b.liquidations[i-1]
	}
	if len(b.liquidations) > MaxLiquidations {
		dropped := len(b.liquidations) - MaxLiquidations
		b.liquidations = b.liquidations[dropped:]
		m.mu.Lock()
		m.droppedDueToCap += int64(dropped)
		m.mu.Unlock()
	}
	if l.ExchangeTS.After(b.lastLiqTS) {
		b.lastLiqTS = l.ExchangeTS
	}
	return true
}

// AddTrade appends a trade, same ordering/cap rules as AddLiquidation.
func (m *Manager) AddTrade(t market.Trade) bool {
	b := m.bufferFor(t.Symbol)
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.lastTradeTS.IsZero() && t.ExchangeTS.Before(b.lastTradeTS.Add(-GraceWindow)) {
		m.mu.Lock()
		m.rejectedOutOfOrder++
		m.mu.Unlock()
		return false
	}

	b.trades = append(b.trades, t)
	for i := len(b.trades) - 1; i > 0 && b.trades[i-1].ExchangeTS.After(t.ExchangeTS); i-- {
		b.trades[i-1], b.trades[i] = b.trades[i], b.trades[i-1]
	}
	if len(b.trades) > MaxTrades {
		dropped := len(b.trades) - MaxTrades
		b.trades = b.trades[dropped:]
		m.mu.Lock()
		m.droppedDueToCap += int64(dropped)
		m.mu.Unlock()
	}
	if t.ExchangeTS.After(b.lastTradeTS) {
		b.lastTradeTS = t.ExchangeTS
	}

	m.baselineFor(t.Symbol).add(t.ExchangeTS, t.Quantity, t.Notional)
	return true
}

// RejectedOutOfOrder returns the running count of dropped out-of-order
// events, for diagnostics.
func (m *Manager) RejectedOutOfOrder() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejectedOutOfOrder
}

// DroppedDueToCap returns the running count of entries evicted purely
// because a symbol's buffer reached its hard cap (spec §3, §4.2), distinct
// from RejectedOutOfOrder.
func (m *Manager) DroppedDueToCap() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.droppedDueToCap
}

// Sweep drops liquidations and trades older than Retention across every
// symbol (spec §4.2's "sweep(now): drops entries older than retention;
// called periodically"). It runs independently of the hard cap enforced by
// AddLiquidation/AddTrade.
func (m *Manager) Sweep(now time.Time) {
	cutoff := now.Add(-Retention)

	m.mapMu.RLock()
	buffers := make([]*symbolBuffer, 0, len(m.symbols))
	for _, b := range m.symbols {
		buffers = append(buffers, b)
	}
	m.mapMu.RUnlock()

	for _, b := range buffers {
		b.mu.Lock()
		b.liquidations = dropBefore(b.liquidations, cutoff, func(l market.Liquidation) time.Time { return l.ExchangeTS })
		b.trades = dropBefore(b.trades, cutoff, func(t market.Trade) time.Time { return t.ExchangeTS })
		b.mu.Unlock()
	}
}

// dropBefore returns the suffix of items whose timestamp (via ts) is not
// before cutoff. Items are stored in exchange-timestamp order, so eviction is
// a single contiguous slice, same as the cap-eviction in AddLiquidation.
func dropBefore[T any](items []T, cutoff time.Time, ts func(T) time.Time) []T {
	for i, item := range items {
		if !ts(item).Before(cutoff) {
			return items[i:]
		}
	}
	return items[:0]
}

// Symbols returns the set of symbols that have received at least one event.
func (m *Manager) Symbols() []string {
	m.mapMu.RLock()
	defer m.mapMu.RUnlock()
	out := make([]string, 0, len(m.symbols))
	for s := range m.symbols {
		out = append(out, s)
	}
	return out
}

// SnapshotLiquidations returns a defensive copy of the buffered liquidations
// for symbol, newest-last.
func (m *Manager) SnapshotLiquidations(symbol string) []market.Liquidation {
	b := m.bufferFor(symbol)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]market.Liquidation, len(b.liquidations))
	copy(out, b.liquidations)
	return out
}

// SnapshotTrades returns a defensive copy of the buffered trades for symbol,
// newest-last.
func (m *Manager) SnapshotTrades(symbol string) []market.Trade {
	b := m.bufferFor(symbol)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]market.Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// TradesSince returns buffered trades for symbol with ExchangeTS >= since.
func (m *Manager) TradesSince(symbol string, since time.Time) []market.Trade {
	all := m.SnapshotTrades(symbol)
	out := make([]market.Trade, 0, len(all))
	for _, t := range all {
		if !t.ExchangeTS.Before(since) {
			out = append(out, t)
		}
	}
	return out
}

// LiquidationsSince returns buffered liquidations for symbol with
// ExchangeTS >= since.
func (m *Manager) LiquidationsSince(symbol string, since time.Time) []market.Liquidation {
	all := m.SnapshotLiquidations(symbol)
	out := make([]market.Liquidation, 0, len(all))
	for _, l := range all {
		if !l.ExchangeTS.Before(since) {
			out = append(out, l)
		}
	}
	return out
}

// Baseline computes the rolling 24h per-minute volume/notional statistics
// for symbol, excluding the most recent excludeLast window (spec §4.5's
// volume-spike baseline excludes the last minute). Unlike the hot trade
// buffer (capped at MaxTrades, which at high throughput can hold far less
// than 24h), this reads from the symbol's baselineRing: an incremental
// per-minute accumulator updated on every AddTrade call and independent of
// the cap (spec §3's "BaselineStats...24h window...updated on every trade
// ingest"). Mirrors the teacher's computeStats in baseline_calculator.go
// (mean/stddev via manual summation), generalized to decimal.Decimal.
func (m *Manager) Baseline(symbol string, now time.Time, excludeLast time.Duration) market.BaselineStats {
	volumes, notionals := m.baselineFor(symbol).snapshot(now, excludeLast)

	stats := market.BaselineStats{Symbol: symbol, ComputedAt: now, SampleSize: len(volumes)}
	if len(volumes) == 0 {
		return stats
	}

	stats.MeanVolume, stats.StdDevVolume = meanStdDev(volumes)
	stats.MeanNotional, stats.StdDevNotional = meanStdDev(notionals)
	return stats
}

func (m *Manager) baselineFor(symbol string) *baselineRing {
	m.baselineMu.RLock()
	r, ok := m.baselines[symbol]
	m.baselineMu.RUnlock()
	if ok {
		return r
	}

	m.baselineMu.Lock()
	defer m.baselineMu.Unlock()
	if r, ok := m.baselines[symbol]; ok {
		return r
	}
	r = &baselineRing{}
	m.baselines[symbol] = r
	return r
}

// BaselineSnapshot is the persisted form of one symbol's baselineRing
// buckets (spec §4.2/§3: the accumulator survives restarts via periodic
// state_blob checkpointing, same mechanism as ConfidenceState).
type BaselineSnapshot struct {
	Symbol  string           `json:"symbol"`
	Buckets []baselineBucket `json:"buckets"`
}

// ExportBaselines snapshots every symbol's non-empty baseline buckets for
// checkpointing.
func (m *Manager) ExportBaselines() []BaselineSnapshot {
	m.baselineMu.RLock()
	defer m.baselineMu.RUnlock()

	out := make([]BaselineSnapshot, 0, len(m.baselines))
	for symbol, r := range m.baselines {
		out = append(out, BaselineSnapshot{Symbol: symbol, Buckets: r.export()})
	}
	return out
}

// RestoreBaselines rehydrates baseline accumulators from a prior checkpoint
// (spec §8's persist-then-restore round-trip law).
func (m *Manager) RestoreBaselines(snaps []BaselineSnapshot) {
	for _, snap := range snaps {
		m.baselineFor(snap.Symbol).restore(snap.Buckets)
	}
}

func meanStdDev(vals []decimal.Decimal) (mean, stddev decimal.Decimal) {
	n := decimal.NewFromInt(int64(len(vals)))
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
	}
	mean = sum.Div(n)

	if len(vals) < 2 {
		return mean, decimal.Zero
	}

	variance := decimal.Zero
	for _, v := range vals {
		diff := v.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(n)
	stddev = decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
	return mean, stddev
}

// baselineWindowMinutes bounds the ring to exactly the 24h window the
// baseline statistic covers (spec §3).
const baselineWindowMinutes = 24 * 60

// baselineBucket accumulates one minute's total traded quantity/notional.
type baselineBucket struct {
	Minute   int64           `json:"minute"` // unix minute, 0 means empty
	Volume   decimal.Decimal `json:"volume"`
	Notional decimal.Decimal `json:"notional"`
}

// baselineRing is a fixed-size, minute-indexed circular buffer of trade
// volume, independent of the capped hot trade buffer: a high-throughput
// symbol can wrap symbolBuffer.trades many times within 24h, but every
// minute still gets exactly one bucket here (spec §3, §4.5), mirroring the
// context poller's ring.push overwrite-by-index shape.
type baselineRing struct {
	mu      sync.RWMutex
	buckets [baselineWindowMinutes]baselineBucket
}

func (r *baselineRing) add(ts time.Time, qty, notional decimal.Decimal) {
	minute := ts.Unix() / 60
	idx := int(((minute % baselineWindowMinutes) + baselineWindowMinutes) % baselineWindowMinutes)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buckets[idx].Minute != minute {
		r.buckets[idx] = baselineBucket{Minute: minute}
	}
	r.buckets[idx].Volume = r.buckets[idx].Volume.Add(qty)
	r.buckets[idx].Notional = r.buckets[idx].Notional.Add(notional)
}

// snapshot returns the per-minute volume/notional series covering
// [now-24h, now-excludeLast), oldest first.
func (r *baselineRing) snapshot(now time.Time, excludeLast time.Duration) (volumes, notionals []decimal.Decimal) {
	cutoffMinute := now.Add(-Retention).Unix() / 60
	excludeMinute := now.Add(-excludeLast).Unix() / 60

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.buckets {
		if b.Minute == 0 || b.Minute < cutoffMinute || b.Minute >= excludeMinute {
			continue
		}
		volumes = append(volumes, b.Volume)
		notionals = append(notionals, b.Notional)
	}
	return volumes, notionals
}

func (r *baselineRing) export() []baselineBucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]baselineBucket, 0, baselineWindowMinutes)
	for _, b := range r.buckets {
		if b.Minute != 0 {
			out = append(out, b)
		}
	}
	return out
}

func (r *baselineRing) restore(buckets []baselineBucket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range buckets {
		idx := int(((b.Minute % baselineWindowMinutes) + baselineWindowMinutes) % baselineWindowMinutes)
		r.buckets[idx] = b
	}
}
