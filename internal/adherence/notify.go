package adherence

import (
	"context"
	"time"
)

type Channel string

const (
	ChannelReminder   Channel = "medication_reminder"
	ChannelMissedDose Channel = "missed_dose_alert"
)

func (c Channel) Priority() string {
	if c == ChannelReminder {
		return "high"
	}
	return "default"
}

// Intent asks the notification surface to show something. Rendering is not
// our concern.
type Intent struct {
	Channel        Channel   `json:"channel"`
	Priority       string    `json:"priority"`
	MedicationID   string    `json:"medication_id"`
	MedicationName string    `json:"medication_name"`
	Dosage         string    `json:"dosage"`
	ScheduledTime  string    `json:"scheduled_time"`
	Date           string    `json:"date"`
	ScheduleID     string    `json:"schedule_id,omitempty"`
	At             time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, in Intent) error
}

type NotifierFunc func(ctx context.Context, in Intent) error

func (f NotifierFunc) Notify(ctx context.Context, in Intent) error { return f(ctx, in) }

type discard struct{}

func (discard) Notify(context.Context, Intent) error { return nil }

// Clock is injected so "today" follows the configured zone and tests can
// pin it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }
