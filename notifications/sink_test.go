package notifications

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	models "liqwatch/database/models_pkg"
	"liqwatch/market"
)

type recordingLogger struct {
	entries []models.MessagingDeliveryLog
}

func (r *recordingLogger) SaveDeliveryLog(log models.MessagingDeliveryLog) error {
	r.entries = append(r.entries, log)
	return nil
}

func TestSink_DeliversSuccessfully(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := &recordingLogger{}
	sink := New(Endpoint{URL: srv.URL}, logger)
	sink.Start()
	defer sink.Stop()

	sink.Enqueue(DeliverySignal{
		SignalID: 1, Symbol: "BTCUSD", Type: market.CandidateWhale,
		Direction: market.SideBuy, Entry: decimal.NewFromInt(50000),
		Target: decimal.NewFromInt(51000), Confidence: 80,
		Priority: market.PriorityWatch, Timestamp: time.Now(),
	})

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&hits) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly one delivery attempt, got %d", hits)
	}
}

func TestSink_RetriesThenMarksFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	logger := &recordingLogger{}
	sink := New(Endpoint{URL: srv.URL}, logger)
	sink.deliver(DeliverySignal{SignalID: 2, Symbol: "ETHUSD", Timestamp: time.Now()})

	if len(logger.entries) != 1 {
		t.Fatalf("expected one delivery log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != "FAILED" {
		t.Errorf("expected FAILED status after exhausting retries, got %s", logger.entries[0].Status)
	}
	if logger.entries[0].Attempt != 4 {
		t.Errorf("expected 4 attempts (1 initial + 3 retries), got %d", logger.entries[0].Attempt)
	}
}

func TestRateLimiter_CapsWithinWindow(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	now := time.Now()
	if !rl.allow(now) || !rl.allow(now) {
		t.Fatalf("first two calls within the cap should be allowed")
	}
	if rl.allow(now) {
		t.Errorf("third call within the same window should be rate-limited")
	}
	if !rl.allow(now.Add(2 * time.Minute)) {
		t.Errorf("a call in the next window should be allowed again")
	}
}
