// Package app wires every pipeline component together and owns the
// top-level Start/Stop lifecycle, mirroring the teacher's App struct and
// goroutine-fan-out shape in app/app.go (auth+websocket+trackers), now
// fanning out the ingest subscriber, detector loop, context poller,
// outcome tracker, messaging sink, and dashboard API instead.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	osignal "os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/analyzers"
	"liqwatch/api"
	"liqwatch/buffer"
	"liqwatch/cache"
	"liqwatch/config"
	"liqwatch/contextpoller"
	"liqwatch/database"
	"liqwatch/ingest"
	"liqwatch/market"
	"liqwatch/notifications"
	"liqwatch/outcome"
	"liqwatch/realtime"
	"liqwatch/signal"
)

const (
	stateKeyConfidence = "confidence_state"
	stateKeySymbols    = "symbol_set"
	stateKeyBaselines  = "baseline_state"

	detectionInterval = 5 * time.Second
	statsInterval     = 10 * time.Second
	stateSaveInterval = time.Minute

	// targetMovePct is the distance-to-target used by the outcome tracker
	// to compute each signal's target price (spec §4.10's "≥50% progress
	// to target" win criterion measures progress against this distance).
	targetMovePct = "0.01"
)

// App owns every long-lived component and its Start/Stop lifecycle.
type App struct {
	config *config.Config

	db        *database.Database
	store     *database.Store
	stateBlob *database.StateBlobStore
	redis     *cache.RedisClient

	buf          *buffer.Manager
	thresholds   analyzers.TierThresholds
	stopHunt     *analyzers.StopHuntDetector
	orderFlow    *analyzers.OrderFlowAnalyzer
	eventPattern *analyzers.EventPatternDetector

	confidence *signal.ConfidenceTracker
	pipeline   *signal.Pipeline

	contextPoller *contextpoller.Poller
	symbols       *api.SymbolSet

	subscriber *ingest.Subscriber
	sink       *notifications.Sink
	outcomes   *outcome.Tracker
	broker     *realtime.Broker
	apiServer  *api.Server

	wg sync.WaitGroup
}

// New creates an application instance from loaded configuration.
func New(cfg *config.Config) *App {
	return &App{config: cfg}
}

// Start wires every component, restores persisted state, and runs until
// an interrupt triggers graceful shutdown.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.connectStorage(); err != nil {
		return err
	}

	a.buf = buffer.New()
	a.thresholds = analyzers.DefaultTierThresholds()
	a.stopHunt = analyzers.NewStopHuntDetector(a.buf, a.thresholds, 30*time.Second)
	a.orderFlow = analyzers.NewOrderFlowAnalyzer(a.buf, a.thresholds, 5*time.Minute)
	a.eventPattern = analyzers.NewEventPatternDetector(a.buf, a.thresholds, 5*time.Minute, time.Minute)

	a.confidence = signal.NewConfidenceTracker()
	a.symbols = api.NewSymbolSet(append(a.config.Pairs.Primary, a.config.Pairs.Secondary...))
	a.restoreState()

	merger := signal.NewMerger(2 * time.Second).WithTradeZoneSource(a.buf)
	validator := signal.NewValidator(
		time.Duration(a.config.Signals.DedupWindowSeconds)*time.Second,
		time.Duration(a.config.Signals.CooldownMinutes)*time.Minute,
		a.config.Signals.MaxSignalsPerHour,
	)
	scorer := signal.NewScorer(a.confidence, a.config.Signals.MinConfidence)

	var contextFilter *signal.ContextFilter
	if a.config.Context.Enabled {
		a.contextPoller = contextpoller.New(
			ingest.NewRESTFetcher(a.config.FeedURL, a.config.FeedAPIKey),
			time.Duration(a.config.Context.PollIntervalSec)*time.Second,
			10*time.Second,
		).WithPersister(a.store).WithCache(a.redis)
		contextFilter = signal.NewContextFilter(a.contextPoller, a.config.Context.FilterMode, 10*time.Minute)
	}

	a.pipeline = &signal.Pipeline{
		Merger:        merger,
		Validator:     validator,
		Scorer:        scorer,
		ContextFilter: contextFilter,
	}

	targetPct, _ := decimal.NewFromString(targetMovePct)
	a.outcomes = outcome.New(a.store, a.buf, a.confidence,
		time.Duration(a.config.Outcome.HorizonMinutes)*time.Minute,
		a.config.Outcome.WinFraction, targetPct)

	a.broker = realtime.NewBroker()

	a.sink = notifications.New(notifications.Endpoint{
		URL: a.config.Webhook.URL,
	}, a.store)

	dispatcher := ingest.NewDispatcher()
	normaliser := &ingest.Normaliser{}
	dispatcher.Register(ingest.FrameLiquidation, &ingest.LiquidationHandler{Normaliser: normaliser, Buffer: a.buf})
	dispatcher.Register(ingest.FrameTrade, &ingest.TradeHandler{Normaliser: normaliser, Buffer: a.buf})

	feedClient := ingest.NewClient(a.config.FeedURL, a.config.FeedAPIKey, 15*time.Second)
	a.subscriber = ingest.NewSubscriber(feedClient, dispatcher, 15*time.Second)

	a.apiServer = api.NewServer(api.Config{
		Store:           a.store,
		Buffer:          a.buf,
		OrderFlow:       a.orderFlow,
		Broker:          a.broker,
		Symbols:         a.symbols,
		TierOf:          a.config.Monitoring.TierFor,
		APIToken:        a.config.Dashboard.APIToken,
		CORSOrigins:     a.config.Dashboard.CORSOrigins,
		RateLimitPerMin: a.config.Dashboard.RateLimitPerMin,
	})

	log.Println("🚀 starting pipeline components")
	go a.broker.Run()
	go a.subscriber.Start()
	go a.outcomes.Start()
	go a.sink.Start()
	if a.contextPoller != nil {
		go a.contextPoller.Start(a.symbols.Active())
	}
	go func() {
		if err := a.apiServer.Start(a.config.Dashboard.Port); err != nil {
			log.Printf("⚠️  dashboard API failed: %v", err)
		}
	}()

	a.wg.Add(3)
	go func() { defer a.wg.Done(); a.runDetectionLoop(ctx) }()
	go func() { defer a.wg.Done(); a.runStatsBroadcast(ctx) }()
	go func() { defer a.wg.Done(); a.runStateCheckpoint(ctx) }()

	err := a.gracefulShutdown(cancel)
	a.wg.Wait()
	return err
}

// connectStorage opens the GORM, raw state_blob, and Redis connections.
func (a *App) connectStorage() error {
	log.Println("🗄️  connecting to database...")
	dbPort, err := strconv.Atoi(a.config.Database.Port)
	if err != nil {
		return fmt.Errorf("invalid database port: %w", err)
	}

	db, err := database.Connect(a.config.Database.Host, dbPort, a.config.Database.Name,
		a.config.Database.User, a.config.Database.Password)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db
	a.store = database.NewStore(db)

	stateBlob, err := database.NewStateBlobStore(a.config.Database.Host, dbPort, a.config.Database.Name,
		a.config.Database.User, a.config.Database.Password)
	if err != nil {
		return fmt.Errorf("state_blob connection failed: %w", err)
	}
	a.stateBlob = stateBlob

	log.Println("🧠 connecting to Redis...")
	redisClient := cache.NewRedisClient(a.config.Redis.Host, a.config.Redis.Port, a.config.Redis.Password)
	if redisClient == nil {
		log.Println("⚠️  Redis connection failed, context caching disabled")
	} else {
		a.redis = redisClient
	}
	return nil
}

// restoreState rehydrates the confidence tracker and dashboard coin set
// from state_blob (spec §8's persist-then-restore round-trip law).
func (a *App) restoreState() {
	if raw, ok, err := a.stateBlob.Get(stateKeyConfidence); err == nil && ok {
		var states []market.ConfidenceState
		if err := json.Unmarshal(raw, &states); err == nil {
			a.confidence.Restore(states)
			log.Printf("✅ restored confidence state for %d producers", len(states))
		}
	}

	if raw, ok, err := a.stateBlob.Get(stateKeySymbols); err == nil && ok {
		var symbols map[string]bool
		if err := json.Unmarshal(raw, &symbols); err == nil {
			a.symbols.Restore(symbols)
			log.Printf("✅ restored dashboard coin set (%d symbols)", len(symbols))
		}
	}

	if raw, ok, err := a.stateBlob.Get(stateKeyBaselines); err == nil && ok {
		var snaps []buffer.BaselineSnapshot
		if err := json.Unmarshal(raw, &snaps); err == nil {
			a.buf.RestoreBaselines(snaps)
			log.Printf("✅ restored volume baselines for %d symbols", len(snaps))
		}
	}
}

// checkpointState persists the confidence tracker and dashboard coin set.
func (a *App) checkpointState() {
	if raw, err := json.Marshal(a.confidence.Snapshot()); err == nil {
		if err := a.stateBlob.Put(stateKeyConfidence, raw); err != nil {
			log.Printf("⚠️  failed to checkpoint confidence state: %v", err)
		}
	}
	if raw, err := json.Marshal(a.symbols.All()); err == nil {
		if err := a.stateBlob.Put(stateKeySymbols, raw); err != nil {
			log.Printf("⚠️  failed to checkpoint dashboard coin set: %v", err)
		}
	}
	if raw, err := json.Marshal(a.buf.ExportBaselines()); err == nil {
		if err := a.stateBlob.Put(stateKeyBaselines, raw); err != nil {
			log.Printf("⚠️  failed to checkpoint volume baselines: %v", err)
		}
	}
}

// runDetectionLoop runs every detector across every monitored symbol on a
// fixed tick, feeds the results through the signal pipeline, and delivers
// accepted signals to storage, the messaging sink, and the dashboard.
func (a *App) runDetectionLoop(ctx context.Context) {
	ticker := time.NewTicker(detectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var candidates []market.Candidate
			for _, symbol := range a.symbols.Active() {
				tier := a.config.Monitoring.TierFor(symbol)
				if c, ok := a.stopHunt.Detect(symbol, tier, now); ok {
					candidates = append(candidates, c)
				}
				if c, ok := a.orderFlow.Detect(symbol, tier, now); ok {
					candidates = append(candidates, c)
				}
				if c, ok := a.eventPattern.DetectWhale(symbol, tier, now); ok {
					candidates = append(candidates, c)
				}
				if c, ok := a.eventPattern.DetectVolumeSpike(symbol, tier, now); ok {
					candidates = append(candidates, c)
				}
			}
			if len(candidates) == 0 {
				continue
			}
			a.handleResults(a.pipeline.Process(candidates, now))
		}
	}
}

// handleResults persists each accepted signal, opens its outcome, enqueues
// it for delivery unless the context filter suppressed messaging, and
// broadcasts it to the dashboard.
func (a *App) handleResults(results []signal.Result) {
	for _, r := range results {
		if !r.Accept {
			continue
		}
		sig := r.Signal
		sig.TriggerPrice = a.latestPrice(sig.Symbol)

		if err := a.store.SaveSignal(&sig); err != nil {
			log.Printf("⚠️  failed to persist signal for %s: %v", sig.Symbol, err)
			continue
		}

		if err := a.store.SaveDiagnostic(sig.ID, string(r.Candidate.Type), r.Candidate.RawScore, r.Candidate.Evidence); err != nil {
			log.Printf("⚠️  failed to persist diagnostic for signal %d: %v", sig.ID, err)
		}

		opened := a.outcomes.OpenFor(sig, sig.TriggerPrice)
		if err := a.store.SaveOutcome(&opened); err != nil {
			log.Printf("⚠️  failed to open outcome for signal %d: %v", sig.ID, err)
		}

		if !sig.MessagingSuppressed {
			a.sink.Enqueue(a.toDelivery(sig, opened))
		} else {
			log.Printf("🔇 messaging suppressed for signal %d (%s): unfavorable context in normal mode", sig.ID, sig.Symbol)
		}

		a.broker.Broadcast(realtime.EventNewSignal, sig)
	}
}

func (a *App) toDelivery(sig market.TradingSignal, o market.SignalOutcome) notifications.DeliverySignal {
	producer := market.CandidateType("")
	if len(sig.SourceTypes) > 0 {
		producer = sig.SourceTypes[0]
	}
	degraded := false
	if a.contextPoller != nil {
		snap, ok := a.contextPoller.Latest(sig.Symbol)
		degraded = !ok || snap.Age(sig.GeneratedAt) > 10*time.Minute
	}
	return notifications.DeliverySignal{
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		Type:       producer,
		Direction:  sig.Direction,
		Entry:      sig.Entry,
		Stop:       sig.Stop,
		Target:     sig.Target,
		Confidence: sig.Confidence,
		Priority:   sig.Priority,
		Context:    sig.ContextLabel,
		Degraded:   degraded,
		Summary:    sig.Reason,
		Timestamp:  sig.GeneratedAt,
	}
}

func (a *App) latestPrice(symbol string) decimal.Decimal {
	trades := a.buf.SnapshotTrades(symbol)
	if len(trades) == 0 {
		return decimal.Zero
	}
	return trades[len(trades)-1].Price
}

// runStatsBroadcast pushes per-symbol order-flow summaries to the
// dashboard's SSE channel on a fixed tick.
func (a *App) runStatsBroadcast(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, symbol := range a.symbols.Active() {
				tier := a.config.Monitoring.TierFor(symbol)
				summary := a.orderFlow.Summarize(symbol, tier, now)
				a.broker.Broadcast(realtime.EventOrderFlowUpdate, summary)
			}
			a.buf.Sweep(now)
			a.broker.Broadcast(realtime.EventStatsUpdate, map[string]interface{}{
				"rejected_out_of_order": a.buf.RejectedOutOfOrder(),
				"dropped_due_to_cap":    a.buf.DroppedDueToCap(),
				"ts":                    now,
			})
		}
	}
}

// runStateCheckpoint periodically persists in-memory state to state_blob.
func (a *App) runStateCheckpoint(ctx context.Context) {
	ticker := time.NewTicker(stateSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.checkpointState()
			return
		case <-ticker.C:
			a.checkpointState()
		}
	}
}

// gracefulShutdown blocks until an interrupt signal arrives, then tears
// down every component within a bounded timeout.
func (a *App) gracefulShutdown(cancel context.CancelFunc) error {
	interrupt := make(chan os.Signal, 1)
	osignal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	log.Println("🛑 shutdown signal received, initiating graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		if a.subscriber != nil {
			a.subscriber.Stop()
		}
		if a.contextPoller != nil {
			a.contextPoller.Stop()
		}
		if a.outcomes != nil {
			a.outcomes.Stop()
		}
		if a.sink != nil {
			a.sink.Stop()
		}
		a.checkpointState()
		if a.stateBlob != nil {
			_ = a.stateBlob.Close()
		}
		if a.db != nil {
			_ = a.db.Close()
		}
		if a.redis != nil {
			_ = a.redis.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Println("⚠️  shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("shutdown timeout")
	}
}
