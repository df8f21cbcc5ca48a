// Package notify publishes period lifecycle events to NATS JetStream.
// The sink is best-effort by contract: consumers that miss an event can
// always query the closure tables directly.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"CierreLedger/internal/period"
)

// SubjectPeriodChanged is where new-period announcements land.
const SubjectPeriodChanged = "cierre.periods.changed"

// PeriodChangedEvent is the published payload.
type PeriodChangedEvent struct {
	ClosedPeriodDate string      `json:"closed_period_date"`
	ClosedPeriodType period.Type `json:"closed_period_type"`
	OpenPeriodDate   string      `json:"open_period_date"`
	OpenPeriodType   period.Type `json:"open_period_type"`
	OpenPeriodEnd    string      `json:"open_period_end"`
	EmittedAt        time.Time   `json:"emitted_at"`
}

// Publisher emits period-changed events.
type Publisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, log: log}
}

// PeriodChanged announces that `closed` was archived away and `next` is
// now the open window.
func (p *Publisher) PeriodChanged(ctx context.Context, closed, next period.Period) error {
	data, err := json.Marshal(PeriodChangedEvent{
		ClosedPeriodDate: closed.Date.Format("2006-01-02"),
		ClosedPeriodType: closed.Type,
		OpenPeriodDate:   next.Date.Format("2006-01-02"),
		OpenPeriodType:   next.Type,
		OpenPeriodEnd:    next.End().Format("2006-01-02"),
		EmittedAt:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal period-changed event: %w", err)
	}

	if _, err := p.js.Publish(ctx, SubjectPeriodChanged, data); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectPeriodChanged, err)
	}
	p.log.Info().Str("closed", closed.String()).Str("open", next.String()).Msg("period-changed published")
	return nil
}

// EnsureStream creates or updates the periods stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     "CIERRE_PERIODS",
		Subjects: []string{"cierre.periods.>"},
		MaxAge:   90 * 24 * time.Hour,
	})
	return err
}
