package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"CierreLedger/internal/pricing"
)

// PostgresDirectory reads participants and groups from the dashboard's
// tables. The engine never writes them.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Eligible(ctx context.Context, op Operator) ([]Participant, error) {
	query := `
		SELECT p.id, p.name, p.group_id, p.commission_pct, g.default_commission_pct
		FROM participants p
		LEFT JOIN participant_groups g ON g.id = p.group_id
		WHERE p.active`
	args := []interface{}{}
	if !op.Root {
		query += ` AND p.group_id = $1`
		args = append(args, op.GroupID)
	}
	query += ` ORDER BY p.name`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query eligible participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) Get(ctx context.Context, op Operator, id uuid.UUID) (*Participant, error) {
	query := `
		SELECT p.id, p.name, p.group_id, p.commission_pct, g.default_commission_pct
		FROM participants p
		LEFT JOIN participant_groups g ON g.id = p.group_id
		WHERE p.active AND p.id = $1`
	args := []interface{}{id}
	if !op.Root {
		query += ` AND p.group_id = $2`
		args = append(args, op.GroupID)
	}

	row := d.db.QueryRowContext(ctx, query, args...)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanParticipant(r rowScanner) (Participant, error) {
	var p Participant
	var groupID sql.NullString
	var override, groupDefault decimal.NullDecimal
	if err := r.Scan(&p.ID, &p.Name, &groupID, &override, &groupDefault); err != nil {
		return Participant{}, fmt.Errorf("scan participant: %w", err)
	}
	p.GroupID = groupID.String
	p.CommissionPct = resolvePct(override, groupDefault)
	p.Active = true
	return p, nil
}

// PostgresRates reads the active rate bundle. Exactly one row in
// exchange_rates is flagged active at a time; the dashboard maintains
// it.
type PostgresRates struct {
	db *sql.DB
}

func NewPostgresRates(db *sql.DB) *PostgresRates {
	return &PostgresRates{db: db}
}

func (r *PostgresRates) ActiveRates(ctx context.Context) (pricing.RateSnapshot, error) {
	var snap pricing.RateSnapshot
	err := r.db.QueryRowContext(ctx, `
		SELECT eur_usd, gbp_usd, usd_cop
		FROM exchange_rates
		WHERE active
		ORDER BY created_at DESC
		LIMIT 1`,
	).Scan(&snap.EURUSD, &snap.GBPUSD, &snap.USDCOP)
	if err == sql.ErrNoRows {
		return snap, fmt.Errorf("no active exchange rates configured")
	}
	if err != nil {
		return snap, fmt.Errorf("query active rates: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return snap, fmt.Errorf("active rates invalid: %w", err)
	}
	return snap, nil
}
