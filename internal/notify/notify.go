// Package notify delivers notify intents to their sinks.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"medtrack/internal/adherence"
)

// Log writes each intent as a structured log line, at warn for the
// high-priority channel.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, in adherence.Intent) error {
	evt := l.Logger.Info()
	if in.Priority == "high" {
		evt = l.Logger.Warn()
	}
	evt.
		Str("channel", string(in.Channel)).
		Str("priority", in.Priority).
		Str("medication_id", in.MedicationID).
		Str("medication", in.MedicationName).
		Str("dosage", in.Dosage).
		Str("date", in.Date).
		Str("scheduled_time", in.ScheduledTime).
		Msg("notify")
	return nil
}

// Fanout hands every intent to each sink and joins their errors.
type Fanout []adherence.Notifier

func (f Fanout) Notify(ctx context.Context, in adherence.Intent) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, in); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
