// Package notifications owns the outbound chat-messaging sink: it formats
// a delivered TradingSignal into a human-readable alert and pushes it to a
// configured webhook endpoint with bounded retry, tracking delivery
// outcomes for the dashboard. Grounded on webhook_manager.go's
// deliverWebhook/logDelivery shape, narrowed from the teacher's dynamic
// per-row WhaleWebhook table (no dashboard CRUD surface for messaging
// targets in this spec) to a single configured endpoint, and generalized
// from a synchronous goroutine-per-alert fire to a bounded worker pool
// draining a delivery queue (spec §5's "bounded worker pool draining the
// delivery queue").
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/database/models_pkg"
	"liqwatch/helpers"
	"liqwatch/market"
)

// DeliveryLogger persists one delivery attempt; satisfied by database.Store.
type DeliveryLogger interface {
	SaveDeliveryLog(log models.MessagingDeliveryLog) error
}

// DeliverySignal is the structured payload handed to the sink (spec §6
// "Messaging sink (produced)"): symbol, type, direction, entry, stop,
// target, confidence, priority, context-assessment, human-readable
// summary, ts. Correlation back to the originating signal is by SignalID.
type DeliverySignal struct {
	SignalID   int64
	Symbol     string
	Type       market.CandidateType
	Direction  market.Side
	Entry      decimal.Decimal
	Stop       decimal.Decimal
	Target     decimal.Decimal
	Confidence float64
	Priority   market.Priority
	Context    market.ContextLabel
	Degraded   bool // context snapshot was stale/absent at delivery time
	Summary    string
	Timestamp  time.Time
}

// webhookPayload is the JSON body POSTed to the configured endpoint.
type webhookPayload struct {
	SignalID   int64     `json:"signal_id"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"`
	Direction  string    `json:"direction"`
	Entry      string    `json:"entry"`
	Stop       string    `json:"stop"`
	Target     string    `json:"target"`
	Confidence float64   `json:"confidence"`
	Priority   string    `json:"priority"`
	Context    string    `json:"context"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Endpoint is the single configured messaging target (spec's "outbound
// chat-messaging integration" — one sink, not a per-tenant webhook table).
type Endpoint struct {
	URL        string
	Method     string // defaults to POST
	BearerAuth string // optional
}

// Sink drains a bounded queue of DeliverySignal with a fixed pool of
// workers, each delivery bounded by a 30s total timeout with 3 retries at
// exponential 1/2/4s backoff (spec §5).
type Sink struct {
	endpoint Endpoint
	client   *http.Client
	logger   DeliveryLogger

	queue   chan DeliverySignal
	workers int

	limiter *rateLimiter

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a sink with the spec's default knobs (3 workers, queue
// depth 256, 30 messages/min per-chat rate limit).
func New(endpoint Endpoint, logger DeliveryLogger) *Sink {
	return &Sink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		queue:    make(chan DeliverySignal, 256),
		workers:  3,
		limiter:  newRateLimiter(30, time.Minute),
		done:     make(chan struct{}),
	}
}

// Enqueue submits ds for delivery, dropping it with a log line if the
// queue is full rather than blocking the hot path (spec §5 never blocks
// the core on I/O).
func (s *Sink) Enqueue(ds DeliverySignal) {
	select {
	case s.queue <- ds:
	default:
		log.Printf("⚠️  messaging sink: queue full, dropping delivery for signal %d", ds.SignalID)
	}
}

// Start launches the worker pool until Stop is called.
func (s *Sink) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	log.Println("✅ messaging sink started")
}

// Stop closes the queue-drain loop and waits for in-flight deliveries to
// finish, bounded by a 30s total shutdown timeout (spec §5 graceful
// shutdown).
func (s *Sink) Stop() {
	close(s.done)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("⚠️  messaging sink: shutdown timed out with deliveries still in flight")
	}
	log.Println("🛑 messaging sink stopped")
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for {
		select {
		case ds := <-s.queue:
			s.deliver(ds)
		case <-s.done:
			return
		}
	}
}

func (s *Sink) deliver(ds DeliverySignal) {
	if !s.limiter.allow(time.Now()) {
		log.Printf("⚠️  messaging sink: rate limit exceeded, dropping delivery for signal %d", ds.SignalID)
		s.log(ds.SignalID, "RATE_LIMITED", 0, 1, "per-chat rate limit exceeded")
		return
	}

	payload := s.buildPayload(ds)
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("⚠️  messaging sink: failed to marshal payload for signal %d: %v", ds.SignalID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backoff := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	var lastErr error
	var lastCode int
	for attempt := 1; attempt <= len(backoff)+1; attempt++ {
		code, err := s.attempt(ctx, body)
		if err == nil {
			log.Printf("✅ delivered signal %d to messaging sink (attempt %d)", ds.SignalID, attempt)
			s.log(ds.SignalID, "SUCCESS", code, attempt, "")
			return
		}
		lastErr, lastCode = err, code
		if attempt <= len(backoff) {
			select {
			case <-time.After(backoff[attempt-1]):
			case <-ctx.Done():
				break
			}
		}
	}

	log.Printf("❌ messaging sink: delivery-failed for signal %d after retries: %v", ds.SignalID, lastErr)
	s.log(ds.SignalID, "FAILED", lastCode, len(backoff)+1, errString(lastErr))
}

func (s *Sink) attempt(ctx context.Context, body []byte) (statusCode int, err error) {
	method := s.endpoint.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.endpoint.BearerAuth != "" {
		req.Header.Set("Authorization", "Bearer "+s.endpoint.BearerAuth)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (s *Sink) log(signalID int64, status string, code, attempt int, errMsg string) {
	if s.logger == nil {
		return
	}
	entry := models.MessagingDeliveryLog{
		SignalID:       signalID,
		Endpoint:       s.endpoint.URL,
		Status:         status,
		HTTPStatusCode: code,
		Attempt:        attempt,
		ErrorMessage:   errMsg,
		TriggeredAt:    time.Now(),
	}
	if err := s.logger.SaveDeliveryLog(entry); err != nil {
		log.Printf("⚠️  messaging sink: failed to save delivery log: %v", err)
	}
}

func (s *Sink) buildPayload(ds DeliverySignal) webhookPayload {
	summary := ds.Summary
	if summary == "" {
		summary = fmt.Sprintf("%s %s | entry %s | target %s | confidence %.1f",
			ds.Symbol, ds.Direction, helpers.FormatUSD(ds.Entry), helpers.FormatUSD(ds.Target), ds.Confidence)
	}
	if ds.Degraded {
		summary += " [degraded]"
	}
	return webhookPayload{
		SignalID: ds.SignalID, Symbol: ds.Symbol, Type: string(ds.Type),
		Direction: string(ds.Direction), Entry: ds.Entry.String(), Stop: ds.Stop.String(),
		Target: ds.Target.String(), Confidence: ds.Confidence, Priority: string(ds.Priority),
		Context: string(ds.Context), Message: summary, Timestamp: ds.Timestamp,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
