package ingest

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"liqwatch/market"
)

// Normaliser rewrites vendor-named, stringly-typed Frame fields into the
// canonical market.Liquidation/market.Trade shape (spec §4.1). It never
// returns a partially-built event: a parse failure drops the whole frame
// and is counted, never surfaced as a disconnect (spec §7).
type Normaliser struct {
	rejected int64
}

// ToLiquidation converts a liquidation-typed Frame.
func (n *Normaliser) ToLiquidation(f Frame) (market.Liquidation, error) {
	price, qty, notional, err := n.parseNumerics(f)
	if err != nil {
		atomic.AddInt64(&n.rejected, 1)
		return market.Liquidation{}, err
	}

	side, err := parseSide(f.Side)
	if err != nil {
		atomic.AddInt64(&n.rejected, 1)
		return market.Liquidation{}, err
	}

	return market.Liquidation{
		Symbol:     f.Symbol,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		Notional:   notional,
		ExchangeTS: time.UnixMilli(f.Timestamp).UTC(),
		IngestTS:   time.Now().UTC(),
	}, nil
}

// ToTrade converts a trade-typed Frame.
func (n *Normaliser) ToTrade(f Frame) (market.Trade, error) {
	price, qty, notional, err := n.parseNumerics(f)
	if err != nil {
		atomic.AddInt64(&n.rejected, 1)
		return market.Trade{}, err
	}

	side, err := parseSide(f.Side)
	if err != nil {
		atomic.AddInt64(&n.rejected, 1)
		return market.Trade{}, err
	}

	return market.Trade{
		Symbol:     f.Symbol,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		Notional:   notional,
		ExchangeTS: time.UnixMilli(f.Timestamp).UTC(),
		IngestTS:   time.Now().UTC(),
	}, nil
}

func (n *Normaliser) parseNumerics(f Frame) (price, qty, notional decimal.Decimal, err error) {
	if f.Symbol == "" {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("missing symbol")
	}
	price, err = decimal.NewFromString(f.Price.String())
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("invalid price %q: %w", f.Price, err)
	}
	qty, err = decimal.NewFromString(f.Quantity.String())
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("invalid quantity %q: %w", f.Quantity, err)
	}
	if f.Notional != "" {
		notional, err = decimal.NewFromString(f.Notional.String())
		if err != nil {
			return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("invalid notional %q: %w", f.Notional, err)
		}
	} else {
		notional = price.Mul(qty)
	}
	if !price.IsPositive() {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}
	if !notional.IsPositive() {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("non-positive notional %s", notional)
	}
	return price, qty, notional, nil
}

func parseSide(raw string) (market.Side, error) {
	switch raw {
	case "BUY", "buy", "short-liquidated", "B":
		return market.SideBuy, nil
	case "SELL", "sell", "long-liquidated", "S":
		return market.SideSell, nil
	default:
		return "", fmt.Errorf("unrecognized side %q", raw)
	}
}

// Rejected returns the running count of frames dropped at normalisation
// (spec §7's "count & drop frame; never disconnect").
func (n *Normaliser) Rejected() int64 {
	return atomic.LoadInt64(&n.rejected)
}
