package adherence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"medtrack/internal/jobs"
)

const DefaultSnoozeMinutes = 15

// TriggerRequest is what the external scheduler passes for one firing.
type TriggerRequest struct {
	MedicationID   string `json:"medication_id" validate:"required"`
	MedicationName string `json:"medication_name"`
	ScheduledTime  string `json:"scheduled_time" validate:"required,hhmm"`
	Dosage         string `json:"dosage"`
	// Date selects the dose checked; empty means today.
	Date string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type TriggerResult struct {
	Notified bool   `json:"notified"`
	Reason   string `json:"reason,omitempty"`
}

// Reasons a trigger stays silent.
const (
	ReasonInactive     = "medication inactive"
	ReasonNoReminder   = "reminder disabled"
	ReasonAlreadyTaken = "dose already resolved"
	ReasonNotFound     = "medication not found"
)

// Coordinator keeps reminder rows and their dispatch jobs in step. It does
// not own timers; the job worker or an HTTP caller fires Trigger.
type Coordinator struct {
	store    Store
	clock    Clock
	notifier Notifier
	log      zerolog.Logger
	loc      *time.Location
	onChange func()
}

func NewCoordinator(store Store, clock Clock, notifier Notifier, log zerolog.Logger, loc *time.Location) *Coordinator {
	if clock == nil {
		clock = SystemClock()
	}
	if notifier == nil {
		notifier = discard{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Coordinator{
		store:    store,
		clock:    clock,
		notifier: notifier,
		log:      log.With().Str("component", "reminders").Logger(),
		loc:      loc,
		onChange: func() {},
	}
}

// OnChange registers a hook run after each committed reminder write.
func (c *Coordinator) OnChange(fn func()) {
	if fn != nil {
		c.onChange = fn
	}
}

func (c *Coordinator) now() time.Time { return c.clock.Now().In(c.loc) }

// ScheduleReminder creates or resets the reminder for (medication, time) and
// queues its next dispatch. Calling it twice leaves one row and one job.
func (c *Coordinator) ScheduleReminder(ctx context.Context, medicationID, scheduledTime string) (*MedicationReminder, error) {
	if !ValidTime(scheduledTime) {
		return nil, invalid("scheduled_time", "expected HH:MM, got "+scheduledTime)
	}
	var out MedicationReminder
	err := c.store.InTx(ctx, func(tx Store) error {
		m, err := activeMedication(ctx, tx, medicationID)
		if err != nil {
			return err
		}
		r, err := c.schedule(ctx, tx, m, scheduledTime)
		if err != nil {
			return err
		}
		out = *r
		return nil
	})
	if err != nil {
		return nil, storageErr("schedule reminder", err)
	}
	c.onChange()
	return &out, nil
}

// ScheduleAll aligns reminders with the medication's frequency: every entry
// gets scheduled, reminders for dropped times are disabled.
func (c *Coordinator) ScheduleAll(ctx context.Context, medicationID string) ([]MedicationReminder, error) {
	var out []MedicationReminder
	err := c.store.InTx(ctx, func(tx Store) error {
		m, err := activeMedication(ctx, tx, medicationID)
		if err != nil {
			return err
		}
		keep := make(map[string]bool, len(m.Frequency))
		for _, t := range m.Frequency {
			keep[t] = true
		}
		existing, err := tx.ListReminders(ctx, medicationID)
		if err != nil {
			return err
		}
		for i := range existing {
			r := &existing[i]
			if keep[r.ScheduledTime] || !r.Enabled {
				continue
			}
			if err := c.disable(ctx, tx, r); err != nil {
				return err
			}
		}
		for _, t := range m.Frequency {
			r, err := c.schedule(ctx, tx, m, t)
			if err != nil {
				return err
			}
			out = append(out, *r)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("schedule reminders", err)
	}
	c.onChange()
	return out, nil
}

func (c *Coordinator) schedule(ctx context.Context, tx Store, m *Medication, scheduledTime string) (*MedicationReminder, error) {
	now := c.now()
	r := &MedicationReminder{
		ID:            ReminderID(m.ID, scheduledTime),
		MedicationID:  m.ID,
		ScheduledTime: scheduledTime,
		Enabled:       true,
		UpdatedAt:     now,
	}
	if err := tx.UpsertReminder(ctx, r); err != nil {
		return nil, err
	}
	if err := tx.CancelPending(ctx, jobs.ReminderKey(m.ID, scheduledTime)); err != nil {
		return nil, err
	}
	if err := tx.CancelPending(ctx, jobs.SnoozeKey(m.ID, scheduledTime)); err != nil {
		return nil, err
	}
	at, err := nextOccurrence(now, scheduledTime)
	if err != nil {
		return nil, invalid("scheduled_time", err.Error())
	}
	job, err := jobs.NewReminderJob(jobs.ReminderKey(m.ID, scheduledTime), payloadFor(m, scheduledTime, at, true), at)
	if err != nil {
		return nil, err
	}
	if err := tx.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Coordinator) disable(ctx context.Context, tx Store, r *MedicationReminder) error {
	r.Enabled = false
	r.UpdatedAt = c.now()
	if err := tx.SaveReminder(ctx, r); err != nil {
		return err
	}
	if err := tx.CancelPending(ctx, jobs.ReminderKey(r.MedicationID, r.ScheduledTime)); err != nil {
		return err
	}
	return tx.CancelPending(ctx, jobs.SnoozeKey(r.MedicationID, r.ScheduledTime))
}

// CancelReminder disables every reminder of the medication and drops its
// queued dispatches. Rows are kept.
func (c *Coordinator) CancelReminder(ctx context.Context, medicationID string) error {
	err := c.store.InTx(ctx, func(tx Store) error {
		if err := tx.DisableReminders(ctx, medicationID, c.now()); err != nil {
			return err
		}
		return tx.CancelPending(ctx, jobs.ReminderKeyPrefix(medicationID))
	})
	if err != nil {
		return storageErr("cancel reminders", err)
	}
	c.onChange()
	c.log.Info().Str("medication", medicationID).Msg("reminders cancelled")
	return nil
}

// SnoozeReminder pushes the current reminder back by minutes (0 means the
// default). It reports false and changes nothing when the medication has no
// enabled reminder.
func (c *Coordinator) SnoozeReminder(ctx context.Context, medicationID string, minutes int) (bool, error) {
	if minutes < 0 {
		return false, invalid("minutes", "must not be negative")
	}
	if minutes == 0 {
		minutes = DefaultSnoozeMinutes
	}
	now := c.now()
	snoozed := false
	err := c.store.InTx(ctx, func(tx Store) error {
		rs, err := tx.ListReminders(ctx, medicationID)
		if err != nil {
			return err
		}
		r := pickSnoozeTarget(rs, now.Format(TimeLayout))
		if r == nil {
			return nil
		}
		m, err := tx.GetMedication(ctx, medicationID)
		if err != nil {
			return err
		}

		r.SnoozeCount++
		r.LastSnoozeAt = &now
		r.UpdatedAt = now
		if err := tx.SaveReminder(ctx, r); err != nil {
			return err
		}
		key := jobs.SnoozeKey(medicationID, r.ScheduledTime)
		if err := tx.CancelPending(ctx, key); err != nil {
			return err
		}
		job, err := jobs.NewReminderJob(key, payloadFor(m, r.ScheduledTime, now, false), now.Add(time.Duration(minutes)*time.Minute))
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, job); err != nil {
			return err
		}
		snoozed = true
		return nil
	})
	if err != nil {
		return false, storageErr("snooze reminder", err)
	}
	if snoozed {
		c.onChange()
	} else {
		c.log.Debug().Str("medication", medicationID).Msg("snooze ignored, no enabled reminder")
	}
	return snoozed, nil
}

// pickSnoozeTarget returns the enabled reminder whose time is the latest at
// or before hhmm, or the earliest one when none has passed yet.
func pickSnoozeTarget(rs []MedicationReminder, hhmm string) *MedicationReminder {
	var enabled []MedicationReminder
	for _, r := range rs {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	if len(enabled) == 0 {
		return nil
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].ScheduledTime < enabled[j].ScheduledTime })
	pick := enabled[0]
	for _, r := range enabled {
		if r.ScheduledTime <= hhmm {
			pick = r
		}
	}
	return &pick
}

func (c *Coordinator) ActiveReminders(ctx context.Context) ([]MedicationReminder, error) {
	rs, err := c.store.ListActiveReminders(ctx)
	return rs, storageErr("active reminders", err)
}

func (c *Coordinator) Reminders(ctx context.Context, medicationID string) ([]MedicationReminder, error) {
	rs, err := c.store.ListReminders(ctx, medicationID)
	return rs, storageErr("list reminders", err)
}

// Trigger is the check-then-notify path. The check runs in its own
// transaction; the intent is emitted after it commits.
func (c *Coordinator) Trigger(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	if err := checkStruct(&req); err != nil {
		return TriggerResult{}, err
	}
	now := c.now()
	date := req.Date
	if date == "" {
		date = now.Format(DateLayout)
	}

	var (
		res TriggerResult
		med *Medication
		sch *MedicationSchedule
	)
	err := c.store.InTx(ctx, func(tx Store) error {
		m, err := tx.GetMedication(ctx, req.MedicationID)
		if errors.Is(err, ErrNotFound) {
			res.Reason = ReasonNotFound
			return nil
		}
		if err != nil {
			return err
		}
		if !m.Active {
			res.Reason = ReasonInactive
			return nil
		}
		r, err := tx.GetReminder(ctx, req.MedicationID, req.ScheduledTime)
		if errors.Is(err, ErrNotFound) || (err == nil && !r.Enabled) {
			res.Reason = ReasonNoReminder
			return nil
		}
		if err != nil {
			return err
		}
		s, err := tx.FindSchedule(ctx, req.MedicationID, req.ScheduledTime, date)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case s.Status.Terminal():
			res.Reason = ReasonAlreadyTaken
			return nil
		default:
			sch = s
		}
		med = m
		res.Notified = true
		return nil
	})
	if err != nil {
		return TriggerResult{}, storageErr("trigger reminder", err)
	}
	if !res.Notified {
		c.log.Debug().Str("medication", req.MedicationID).Str("time", req.ScheduledTime).Str("reason", res.Reason).Msg("reminder suppressed")
		return res, nil
	}

	in := Intent{
		Channel:        ChannelReminder,
		Priority:       ChannelReminder.Priority(),
		MedicationID:   med.ID,
		MedicationName: firstNonEmpty(req.MedicationName, med.Name),
		Dosage:         firstNonEmpty(req.Dosage, med.Dosage),
		ScheduledTime:  req.ScheduledTime,
		Date:           date,
		At:             now,
	}
	if sch != nil {
		in.ScheduleID = sch.ID
	}
	if err := c.notifier.Notify(ctx, in); err != nil {
		return TriggerResult{}, fmt.Errorf("notify: %w", err)
	}
	c.log.Info().Str("medication", med.ID).Str("time", req.ScheduledTime).Msg("reminder sent")
	return res, nil
}

// HandleDispatch runs one REMINDER_DISPATCH job. A recurring job queues the
// next day's firing while its reminder stays enabled.
func (c *Coordinator) HandleDispatch(ctx context.Context, job *jobs.Job) error {
	p, err := jobs.DecodeReminder(job)
	if err != nil {
		return fmt.Errorf("%w: decode payload: %v", jobs.ErrPermanent, err)
	}
	res, err := c.Trigger(ctx, TriggerRequest{
		MedicationID:   p.MedicationID,
		MedicationName: p.MedicationName,
		ScheduledTime:  p.ScheduledTime,
		Dosage:         p.Dosage,
		Date:           p.Date,
	})
	if errors.Is(err, ErrValidation) {
		return fmt.Errorf("%w: %v", jobs.ErrPermanent, err)
	}
	if err != nil {
		return err
	}
	if !p.Recurring || res.Reason == ReasonInactive || res.Reason == ReasonNoReminder || res.Reason == ReasonNotFound {
		return nil
	}
	return c.requeue(ctx, p)
}

func (c *Coordinator) requeue(ctx context.Context, p jobs.ReminderPayload) error {
	now := c.now()
	err := c.store.InTx(ctx, func(tx Store) error {
		r, err := tx.GetReminder(ctx, p.MedicationID, p.ScheduledTime)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !r.Enabled {
			return nil
		}
		at, err := nextOccurrence(now, p.ScheduledTime)
		if err != nil {
			return err
		}
		key := jobs.ReminderKey(p.MedicationID, p.ScheduledTime)
		if err := tx.CancelPending(ctx, key); err != nil {
			return err
		}
		p.Date = at.Format(DateLayout)
		job, err := jobs.NewReminderJob(key, p, at)
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, job)
	})
	return storageErr("requeue reminder", err)
}

func activeMedication(ctx context.Context, tx Store, id string) (*Medication, error) {
	m, err := tx.GetMedication(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, &NotFoundError{Kind: "medication", ID: id}
	}
	return m, nil
}

// payloadFor builds the dispatch payload for the dose at scheduledTime on
// day's date.
func payloadFor(m *Medication, scheduledTime string, day time.Time, recurring bool) jobs.ReminderPayload {
	return jobs.ReminderPayload{
		MedicationID:   m.ID,
		MedicationName: m.Name,
		ScheduledTime:  scheduledTime,
		Dosage:         m.Dosage,
		Date:           day.Format(DateLayout),
		Recurring:      recurring,
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
