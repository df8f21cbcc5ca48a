// Package directory exposes the engine's read-only views onto the
// dashboard's user/role and rate tables. The pipelines only ever see
// the interfaces; Postgres implementations live alongside for the
// service wiring.
package directory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"CierreLedger/internal/pricing"
)

// Operator is the identity invoking a closure operation. Non-root
// operators are partition-scoped: they only ever see participants of
// their own group.
type Operator struct {
	ID      string
	Root    bool
	GroupID string
}

// Participant is one earner eligible for archival. CommissionPct is
// already resolved through the fallback chain: explicit participant
// override -> group default -> hard default.
type Participant struct {
	ID            uuid.UUID
	Name          string
	GroupID       string
	CommissionPct decimal.Decimal
	Active        bool
}

// DefaultCommissionPct is the hard fallback when neither the
// participant nor its group carries a percentage.
var DefaultCommissionPct = decimal.NewFromInt(60)

// ParticipantDirectory resolves the eligible participant set for a run.
type ParticipantDirectory interface {
	// Eligible returns active participants visible to the operator,
	// commission already resolved.
	Eligible(ctx context.Context, op Operator) ([]Participant, error)

	// Get returns one participant by id, scoped the same way.
	Get(ctx context.Context, op Operator, id uuid.UUID) (*Participant, error)
}

// RateDirectory provides the currently-active conversion rates. The
// archival pipeline calls it exactly once per batch; every participant
// is priced against that snapshot.
type RateDirectory interface {
	ActiveRates(ctx context.Context) (pricing.RateSnapshot, error)
}

// resolvePct applies the commission fallback chain.
func resolvePct(override, groupDefault decimal.NullDecimal) decimal.Decimal {
	if override.Valid && override.Decimal.GreaterThan(decimal.Zero) {
		return override.Decimal
	}
	if groupDefault.Valid && groupDefault.Decimal.GreaterThan(decimal.Zero) {
		return groupDefault.Decimal
	}
	return DefaultCommissionPct
}
