// Package contextpoller periodically fetches open interest and funding
// rate from the upstream REST API and keeps a bounded per-symbol ring
// buffer of recent readings, which the signal package's ContextFilter
// reads from. Grounded on the teacher's regime_detector.go (ticker-driven
// periodic per-symbol scan scaffold); the singleflight coalescing is
// promoted from an indirect teacher dependency per SPEC_FULL.md §11.
package contextpoller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"liqwatch/cache"
	"liqwatch/market"
)

// ringSize holds roughly 6 hours of history at the spec's 5-minute poll
// cadence (72 * 5m = 6h).
const ringSize = 72

// Fetcher retrieves a fresh OI/funding reading for symbol from the
// upstream REST API.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (market.ContextSnapshot, error)
}

// Persister durably records each polled snapshot; satisfied by
// database.Store. Optional — a nil persister just skips persistence, the
// same non-fatal-degrade shape the teacher uses for its Redis client.
type Persister interface {
	SaveContextSnapshot(snap market.ContextSnapshot) error
}

type ring struct {
	mu      sync.RWMutex
	entries []market.ContextSnapshot // newest last
}

func (r *ring) push(s market.ContextSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, s)
	if len(r.entries) > ringSize {
		r.entries = r.entries[len(r.entries)-ringSize:]
	}
}

func (r *ring) latest() (market.ContextSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return market.ContextSnapshot{}, false
	}
	return r.entries[len(r.entries)-1], true
}

// oiAt linearly interpolates the open-interest reading at target between
// the two ring entries that bracket it (spec §4.9: "ΔOI_1h...with linear
// interpolation if exact bucket is missing"). ok is false if target falls
// outside the span the ring currently covers.
func (r *ring) oiAt(target time.Time) (decimal.Decimal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.entries)
	if n == 0 || target.Before(r.entries[0].PolledAt) || target.After(r.entries[n-1].PolledAt) {
		return decimal.Decimal{}, false
	}

	for i := 0; i < n-1; i++ {
		a, b := r.entries[i], r.entries[i+1]
		if target.Before(a.PolledAt) || target.After(b.PolledAt) {
			continue
		}
		span := b.PolledAt.Sub(a.PolledAt)
		if span <= 0 {
			return a.OpenInterest, true
		}
		frac := decimal.NewFromFloat(float64(target.Sub(a.PolledAt)) / float64(span))
		return a.OpenInterest.Add(b.OpenInterest.Sub(a.OpenInterest).Mul(frac)), true
	}
	return r.entries[n-1].OpenInterest, true
}

// Poller polls Fetcher for every watched symbol on an interval, storing
// results in a bounded ring per symbol and satisfying signal.ContextProvider.
type Poller struct {
	fetcher   Fetcher
	persister Persister
	redis     *cache.RedisClient
	interval  time.Duration
	timeout   time.Duration

	group singleflight.Group

	mu      sync.RWMutex
	symbols map[string]*ring

	failuresMu         sync.Mutex
	consecutiveFailure map[string]int

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a poller (spec default interval 5 minutes, REST timeout 10s).
func New(fetcher Fetcher, interval, timeout time.Duration) *Poller {
	return &Poller{
		fetcher:            fetcher,
		interval:           interval,
		timeout:            timeout,
		symbols:            make(map[string]*ring),
		consecutiveFailure: make(map[string]int),
		done:               make(chan struct{}),
	}
}

// WithPersister attaches a Store so every polled snapshot is durably
// recorded, not just kept in the in-memory ring.
func (p *Poller) WithPersister(persister Persister) *Poller {
	p.persister = persister
	return p
}

// WithCache attaches a Redis client used as a cross-instance lookaside
// cache for the latest snapshot per symbol, stored under the
// context:latest:<symbol> key. A nil client (Redis unreachable at startup)
// degrades to ring-only reads, same as the teacher's nil-check pattern.
func (p *Poller) WithCache(redis *cache.RedisClient) *Poller {
	p.redis = redis
	return p
}

func (p *Poller) ringFor(symbol string) *ring {
	p.mu.RLock()
	r, ok := p.symbols[symbol]
	p.mu.RUnlock()
	if ok {
		return r
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.symbols[symbol]; ok {
		return r
	}
	r = &ring{}
	p.symbols[symbol] = r
	return r
}

// Latest implements signal.ContextProvider.
func (p *Poller) Latest(symbol string) (market.ContextSnapshot, bool) {
	return p.ringFor(symbol).latest()
}

// DeltaOI1h implements signal.ContextProvider: the fractional open-interest
// change over the last hour, `(oi_now - oi_1h_ago)/oi_1h_ago`, with the 1h-ago
// reading linearly interpolated from the ring (spec §4.9).
func (p *Poller) DeltaOI1h(symbol string, now time.Time) (float64, bool) {
	r := p.ringFor(symbol)
	latest, ok := r.latest()
	if !ok {
		return 0, false
	}
	oi1hAgo, ok := r.oiAt(now.Add(-time.Hour))
	if !ok || oi1hAgo.IsZero() {
		return 0, false
	}
	delta, _ := latest.OpenInterest.Sub(oi1hAgo).Div(oi1hAgo).Float64()
	return delta, true
}

// Start runs the polling loop for the given symbols until Stop is called.
func (p *Poller) Start(symbols []string) {
	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Println("🌐 context poller started")
	p.seedFromCache(symbols)
	p.pollAll(symbols)
	for {
		select {
		case <-ticker.C:
			p.pollAll(symbols)
		case <-p.done:
			log.Println("🛑 context poller stopped")
			return
		}
	}
}

// Stop signals the polling loop to exit and waits for it to finish.
func (p *Poller) Stop() {
	close(p.done)
	p.wg.Wait()
}

// seedFromCache warms each symbol's ring from the cross-instance Redis cache
// so ContextFilter has a reading to classify against immediately after a
// restart, before the first live poll completes.
func (p *Poller) seedFromCache(symbols []string) {
	if p.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, symbol := range symbols {
		if snap, ok, err := p.redis.GetContextSnapshot(ctx, symbol); err == nil && ok {
			p.ringFor(symbol).push(snap)
		}
	}
}

func (p *Poller) pollAll(symbols []string) {
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			p.pollOne(symbol)
		}(symbol)
	}
	wg.Wait()
}

// pollFetchTimeout bounds each individual fetch attempt; pollOne's whole
// backoff loop, retries included, runs within the poller's own timeout,
// which also caps each attempt when it is the shorter of the two.
const pollFetchTimeout = 10 * time.Second

// pollBackoff mirrors notifications/sink.go's delivery retry ladder (spec
// §4.11: "retries with exponential backoff").
var pollBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// pollOne coalesces concurrent fetches for the same symbol behind a
// singleflight key, so a slow poll that overruns the tick doesn't fire a
// duplicate in-flight request, and retries failed fetches with exponential
// backoff. A warning is only logged once a symbol has failed 3 consecutive
// polls (spec §7: "propagate only after 3 consecutive failures as a
// warning") — transient single-poll failures stay silent.
func (p *Poller) pollOne(symbol string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var snap market.ContextSnapshot
	var lastErr error
	for attempt := 1; attempt <= len(pollBackoff)+1; attempt++ {
		v, err, _ := p.group.Do(symbol, func() (interface{}, error) {
			fetchCtx, fetchCancel := context.WithTimeout(ctx, pollFetchTimeout)
			defer fetchCancel()
			return p.fetcher.Fetch(fetchCtx, symbol)
		})
		if err == nil {
			snap = v.(market.ContextSnapshot)
			lastErr = nil
			break
		}
		lastErr = err
		if attempt <= len(pollBackoff) {
			select {
			case <-time.After(pollBackoff[attempt-1]):
			case <-ctx.Done():
				break
			}
		}
	}

	if lastErr != nil {
		p.recordFailure(symbol, lastErr)
		return
	}
	p.recordSuccess(symbol)

	p.ringFor(symbol).push(snap)

	if p.persister != nil {
		if err := p.persister.SaveContextSnapshot(snap); err != nil {
			log.Printf("⚠️  context poller: failed to persist snapshot for %s: %v", symbol, err)
		}
	}
	if p.redis != nil {
		cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cacheCancel()
		if err := p.redis.SetContextSnapshot(cacheCtx, symbol, snap, p.interval*2); err != nil {
			log.Printf("⚠️  context poller: failed to cache snapshot for %s: %v", symbol, err)
		}
	}
}

// recordFailure tallies a consecutive poll failure for symbol, only warning
// once the streak reaches 3 (spec §7).
func (p *Poller) recordFailure(symbol string, err error) {
	p.failuresMu.Lock()
	p.consecutiveFailure[symbol]++
	streak := p.consecutiveFailure[symbol]
	p.failuresMu.Unlock()

	if streak >= 3 {
		log.Printf("⚠️  context poller: %s failed %d consecutive polls: %v", symbol, streak, err)
	}
}

// recordSuccess resets symbol's consecutive-failure streak.
func (p *Poller) recordSuccess(symbol string) {
	p.failuresMu.Lock()
	p.consecutiveFailure[symbol] = 0
	p.failuresMu.Unlock()
}
