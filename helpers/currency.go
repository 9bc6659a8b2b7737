package helpers

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// FormatUSD renders a USD notional with a magnitude suffix (e.g. "$1.20M",
// "$450.0K"), the dashboard/messaging display adapted from FormatRupiah's
// thousand-separator formatting — this domain's amounts span six orders
// of magnitude, so a suffix reads better than separators.
func FormatUSD(amount decimal.Decimal) string {
	f, _ := amount.Float64()
	negative := f < 0
	if negative {
		f = -f
	}

	var out string
	switch {
	case f >= 1_000_000_000:
		out = fmt.Sprintf("$%.2fB", f/1_000_000_000)
	case f >= 1_000_000:
		out = fmt.Sprintf("$%.2fM", f/1_000_000)
	case f >= 1_000:
		out = fmt.Sprintf("$%.1fK", f/1_000)
	default:
		out = fmt.Sprintf("$%.2f", math.Round(f*100)/100)
	}

	if negative {
		return "-" + out
	}
	return out
}
