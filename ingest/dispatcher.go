package ingest

import (
	"fmt"
	"log"
	"sync"

	"liqwatch/buffer"
)

// EventHandler processes one decoded Frame of the type it was registered
// for.
type EventHandler interface {
	HandleFrame(f Frame) error
}

// Dispatcher routes frames to a named handler by their "type" field,
// adapted from handlers/manager.go's HandlerManager (name-keyed registry,
// RWMutex-protected) — narrowed here to the two data-event types the spec
// defines, with heartbeat/ack frames handled inline rather than through
// the registry since they carry no payload to hand off.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// NewDispatcher builds an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]EventHandler)}
}

// Register associates frameType with handler.
func (d *Dispatcher) Register(frameType string, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[frameType] = handler
}

// Dispatch routes f to its registered handler. Heartbeat and ack frames
// are dropped silently; an unrecognized data-event type is a parse/
// validation error per spec §7 — counted, never fatal.
func (d *Dispatcher) Dispatch(f Frame) error {
	switch f.Type {
	case FrameHeartbeat, FrameAck:
		return nil
	}

	d.mu.RLock()
	handler, ok := d.handlers[f.Type]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for frame type %q", f.Type)
	}
	return handler.HandleFrame(f)
}

// LiquidationHandler normalises a liquidation frame and appends it to the
// buffer manager.
type LiquidationHandler struct {
	Normaliser *Normaliser
	Buffer     *buffer.Manager
}

// HandleFrame implements EventHandler.
func (h *LiquidationHandler) HandleFrame(f Frame) error {
	l, err := h.Normaliser.ToLiquidation(f)
	if err != nil {
		log.Printf("⚠️  ingest: dropping malformed liquidation frame: %v", err)
		return nil
	}
	h.Buffer.AddLiquidation(l)
	return nil
}

// TradeHandler normalises a trade frame and appends it to the buffer
// manager.
type TradeHandler struct {
	Normaliser *Normaliser
	Buffer     *buffer.Manager
}

// HandleFrame implements EventHandler.
func (h *TradeHandler) HandleFrame(f Frame) error {
	t, err := h.Normaliser.ToTrade(f)
	if err != nil {
		log.Printf("⚠️  ingest: dropping malformed trade frame: %v", err)
		return nil
	}
	h.Buffer.AddTrade(t)
	return nil
}
