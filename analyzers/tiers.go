package analyzers

import (
	"github.com/shopspring/decimal"

	"liqwatch/market"
)

// TierThresholds holds the tier-scaled dollar thresholds used across all
// three detectors (spec §4.3/§4.4): larger-cap symbols need a bigger
// cascade/absorption/large-order notional to trigger than thin ones.
type TierThresholds struct {
	CascadeUSD     map[market.Tier]decimal.Decimal
	AbsorptionUSD  map[market.Tier]decimal.Decimal
	LargeOrderUSD  map[market.Tier]decimal.Decimal
}

// DefaultTierThresholds matches the dollar figures in spec §4.3.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{
		CascadeUSD: map[market.Tier]decimal.Decimal{
			market.Tier1: decimal.NewFromInt(2_000_000),
			market.Tier2: decimal.NewFromInt(200_000),
			market.Tier3: decimal.NewFromInt(50_000),
		},
		AbsorptionUSD: map[market.Tier]decimal.Decimal{
			market.Tier1: decimal.NewFromInt(100_000),
			market.Tier2: decimal.NewFromInt(20_000),
			market.Tier3: decimal.NewFromInt(5_000),
		},
		LargeOrderUSD: map[market.Tier]decimal.Decimal{
			market.Tier1: decimal.NewFromInt(100_000),
			market.Tier2: decimal.NewFromInt(25_000),
			market.Tier3: decimal.NewFromInt(10_000),
		},
	}
}

func (t TierThresholds) cascade(tier market.Tier) decimal.Decimal {
	if v, ok := t.CascadeUSD[tier]; ok {
		return v
	}
	return t.CascadeUSD[market.Tier3]
}

func (t TierThresholds) absorption(tier market.Tier) decimal.Decimal {
	if v, ok := t.AbsorptionUSD[tier]; ok {
		return v
	}
	return t.AbsorptionUSD[market.Tier3]
}

func (t TierThresholds) largeOrder(tier market.Tier) decimal.Decimal {
	if v, ok := t.LargeOrderUSD[tier]; ok {
		return v
	}
	return t.LargeOrderUSD[market.Tier3]
}
