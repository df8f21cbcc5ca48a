// Package pricing converts raw per-source earnings into settlement
// currency (USD) and splits them between the house and the participant.
// All math is decimal; rounding happens exactly once, when a priced
// result is materialized into a history record.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency codes understood by the resolver. The settlement currency is
// USD; COP is the local payout currency.
const (
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
	CurrencyGBP = "GBP"
)

// ReservedSource is the one source that always pays 100% to the
// participant, regardless of the configured commission percentage.
const ReservedSource = "big7"

// RateSnapshot is the rate bundle captured once at the start of a batch.
// Every participant in one archival run is priced against the same
// snapshot, even if the rate directory is edited mid-run.
type RateSnapshot struct {
	EURUSD decimal.Decimal
	GBPUSD decimal.Decimal
	USDCOP decimal.Decimal
}

// Validate rejects snapshots with missing or non-positive rates.
func (r RateSnapshot) Validate() error {
	for _, p := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"EUR->USD", r.EURUSD},
		{"GBP->USD", r.GBPUSD},
		{"USD->COP", r.USDCOP},
	} {
		if p.v.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("rate %s must be positive, got %s", p.name, p.v)
		}
	}
	return nil
}

// SourceRule describes how one income source is priced.
//
// Currency drives the conversion to USD. PayoutFactor, when set,
// replaces currency conversion entirely: the raw value is a unit count
// paid out at a flat per-unit USD rate (token platforms). FullPayout
// marks the reserved source whose whole gross goes to the participant.
type SourceRule struct {
	Currency     string
	PayoutFactor decimal.Decimal // zero means "not a factor source"
	FullPayout   bool
}

// Rules maps source-platform ids to their pricing rules. Unknown sources
// default to USD with no factor.
type Rules map[string]SourceRule

// DefaultRules mirrors the platforms the dashboard settles today.
func DefaultRules() Rules {
	return Rules{
		"chaturbate":  {Currency: CurrencyUSD, PayoutFactor: decimal.NewFromFloat(0.05)},
		"stripchat":   {Currency: CurrencyUSD, PayoutFactor: decimal.NewFromFloat(0.05)},
		"camsoda":     {Currency: CurrencyUSD, PayoutFactor: decimal.NewFromFloat(0.05)},
		"streamate":   {Currency: CurrencyUSD},
		"bongacams":   {Currency: CurrencyUSD, PayoutFactor: decimal.NewFromFloat(0.05)},
		"dxlive":      {Currency: CurrencyUSD, PayoutFactor: decimal.NewFromFloat(0.6)},
		"modelka":     {Currency: CurrencyEUR},
		"xmodels":     {Currency: CurrencyEUR},
		"skyprivate":  {Currency: CurrencyUSD},
		"imlive":      {Currency: CurrencyUSD},
		ReservedSource: {Currency: CurrencyEUR, FullPayout: true},
	}
}

func (r Rules) rule(sourceID string) SourceRule {
	if rule, ok := r[sourceID]; ok {
		return rule
	}
	return SourceRule{Currency: CurrencyUSD}
}

// Priced is the outcome of resolving one raw value. Amounts are exact
// decimals; callers round via the Round* helpers at write time.
type Priced struct {
	GrossUSD      decimal.Decimal // gross value in settlement currency
	ShareUSD      decimal.Decimal // participant's cut in settlement currency
	ShareCOP      decimal.Decimal // participant's cut localized
	CommissionPct decimal.Decimal // percentage actually applied
}

// Resolve prices one raw value for one source. commissionPct is the
// participant's resolved percentage (override -> group default -> hard
// default); the reserved full-payout source overrides it to 100.
func Resolve(raw decimal.Decimal, sourceID string, rules Rules, rates RateSnapshot, commissionPct decimal.Decimal) Priced {
	rule := rules.rule(sourceID)

	gross := raw
	switch {
	case !rule.PayoutFactor.IsZero():
		// Flat per-unit payout, independent of currency conversion.
		gross = raw.Mul(rule.PayoutFactor)
	case rule.Currency == CurrencyEUR:
		gross = raw.Mul(rates.EURUSD)
	case rule.Currency == CurrencyGBP:
		gross = raw.Mul(rates.GBPUSD)
	}

	pct := commissionPct
	if rule.FullPayout {
		pct = decimal.NewFromInt(100)
	}

	share := gross.Mul(pct).Div(decimal.NewFromInt(100))
	return Priced{
		GrossUSD:      gross,
		ShareUSD:      share,
		ShareCOP:      share.Mul(rates.USDCOP),
		CommissionPct: pct,
	}
}

// Sum accumulates priced outcomes without intermediate rounding. The
// commission percentage of a sum is meaningless and left at zero.
func Sum(parts ...Priced) Priced {
	var total Priced
	for _, p := range parts {
		total.GrossUSD = total.GrossUSD.Add(p.GrossUSD)
		total.ShareUSD = total.ShareUSD.Add(p.ShareUSD)
		total.ShareCOP = total.ShareCOP.Add(p.ShareCOP)
	}
	return total
}

// RoundAmount rounds a settlement-currency amount to 2 decimal places.
func RoundAmount(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// RoundLocal rounds a local-currency (COP) amount to whole pesos.
func RoundLocal(d decimal.Decimal) decimal.Decimal { return d.Round(0) }
