// Package ingest owns everything at the upstream feed boundary: the
// gorilla/websocket transport, the vendor-frame normaliser, and the
// type-keyed dispatcher that feeds normalised events into the buffer
// manager. Grounded on the teacher's websocket/client.go (connect/ping/
// reconnect shape) and handlers/manager.go (name-keyed dispatch), both
// rewritten for JSON frames carrying a "type" discriminator instead of a
// protobuf oneof (spec §6, SPEC_FULL.md §11).
package ingest

import "encoding/json"

// Frame is the outer shape of every message the feed sends: a heartbeat,
// a subscription ack, or a data event (spec §6). "type" is the
// discriminator the dispatcher keys on; the remaining fields are vendor
// names the normaliser rewrites.
type Frame struct {
	Type string `json:"type"`

	Symbol    string          `json:"s,omitempty"`
	Side      string          `json:"side,omitempty"`
	Price     json.Number     `json:"p,omitempty"`
	Quantity  json.Number     `json:"q,omitempty"`
	Notional  json.Number     `json:"notional,omitempty"`
	Timestamp int64           `json:"T,omitempty"` // vendor epoch-ms
	Raw       json.RawMessage `json:"-"`
}

// Frame type discriminators (spec §6: "heartbeat, a subscription ack, or
// a data event").
const (
	FrameHeartbeat   = "heartbeat"
	FrameAck         = "ack"
	FrameLiquidation = "liquidation"
	FrameTrade       = "trade"
)
