package api

import (
	"testing"
	"time"
)

func TestSymbolSet_AddRemoveToggle(t *testing.T) {
	s := NewSymbolSet([]string{"BTCUSD"})
	if got := s.Active(); len(got) != 1 || got[0] != "BTCUSD" {
		t.Fatalf("expected seeded symbol active, got %v", got)
	}

	s.Add("ETHUSD")
	if len(s.Active()) != 2 {
		t.Errorf("expected 2 active symbols after add")
	}

	if enabled := s.Toggle("ETHUSD"); enabled {
		t.Errorf("expected ETHUSD disabled after toggle from enabled")
	}
	if len(s.Active()) != 1 {
		t.Errorf("expected 1 active symbol after disabling ETHUSD")
	}

	s.Remove("BTCUSD")
	if _, ok := s.All()["BTCUSD"]; ok {
		t.Errorf("expected BTCUSD removed entirely")
	}
}

func TestSymbolSet_Restore(t *testing.T) {
	s := NewSymbolSet([]string{"BTCUSD"})
	s.Restore(map[string]bool{"SOLUSD": true, "ADAUSD": false})
	all := s.All()
	if len(all) != 2 || !all["SOLUSD"] || all["ADAUSD"] {
		t.Errorf("expected restored state to replace prior set wholesale, got %v", all)
	}
}

func TestPerAddressLimiter_CapsWithinWindow(t *testing.T) {
	l := newPerAddressLimiter(2, time.Minute)
	now := time.Now()
	if !l.allow("1.2.3.4", now) || !l.allow("1.2.3.4", now) {
		t.Fatalf("expected first two requests to be allowed")
	}
	if l.allow("1.2.3.4", now) {
		t.Errorf("expected third request within window to be rejected")
	}
	if !l.allow("5.6.7.8", now) {
		t.Errorf("expected a different address to have its own bucket")
	}
}

func TestPerAddressLimiter_ResetsAfterWindow(t *testing.T) {
	l := newPerAddressLimiter(1, time.Minute)
	now := time.Now()
	if !l.allow("1.2.3.4", now) {
		t.Fatalf("expected first request allowed")
	}
	if !l.allow("1.2.3.4", now.Add(61*time.Second)) {
		t.Errorf("expected request allowed again after window elapses")
	}
}
