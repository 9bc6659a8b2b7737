package ingest

import (
	"encoding/json"
	"testing"

	"liqwatch/buffer"
)

func TestNormaliser_ToLiquidation(t *testing.T) {
	n := &Normaliser{}
	f := Frame{
		Type: FrameLiquidation, Symbol: "BTCUSD", Side: "SELL",
		Price: json.Number("50000"), Quantity: json.Number("2"), Timestamp: 1700000000000,
	}
	l, err := n.ToLiquidation(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Symbol != "BTCUSD" {
		t.Errorf("expected symbol BTCUSD, got %s", l.Symbol)
	}
	if !l.Notional.Equal(l.Price.Mul(l.Quantity)) {
		t.Errorf("expected notional derived from price*quantity when absent")
	}
}

func TestNormaliser_RejectsBadSide(t *testing.T) {
	n := &Normaliser{}
	f := Frame{Type: FrameTrade, Symbol: "ETHUSD", Side: "SIDEWAYS", Price: json.Number("100"), Quantity: json.Number("1")}
	if _, err := n.ToTrade(f); err == nil {
		t.Fatalf("expected error for unrecognized side")
	}
	if n.Rejected() != 1 {
		t.Errorf("expected rejected count 1, got %d", n.Rejected())
	}
}

func TestDispatcher_RoutesToRegisteredHandler(t *testing.T) {
	buf := buffer.New()
	n := &Normaliser{}
	d := NewDispatcher()
	d.Register(FrameLiquidation, &LiquidationHandler{Normaliser: n, Buffer: buf})
	d.Register(FrameTrade, &TradeHandler{Normaliser: n, Buffer: buf})

	f := Frame{Type: FrameTrade, Symbol: "BTCUSD", Side: "BUY", Price: json.Number("100"), Quantity: json.Number("1"), Timestamp: 1}
	if err := d.Dispatch(f); err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if len(buf.SnapshotTrades("BTCUSD")) != 1 {
		t.Errorf("expected one trade appended to buffer")
	}
}

func TestDispatcher_HeartbeatIsNoOp(t *testing.T) {
	d := NewDispatcher()
	if err := d.Dispatch(Frame{Type: FrameHeartbeat}); err != nil {
		t.Errorf("heartbeat should never error: %v", err)
	}
}

func TestDispatcher_UnknownTypeErrors(t *testing.T) {
	d := NewDispatcher()
	if err := d.Dispatch(Frame{Type: "mystery"}); err == nil {
		t.Errorf("expected error for unregistered frame type")
	}
}
