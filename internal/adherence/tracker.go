package adherence

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"medtrack/internal/jobs"
	"medtrack/internal/watch"
)

// RateWindowDays is the span of the rate shown next to each medication in
// the day view, ending at that day.
const RateWindowDays = 7

type Options struct {
	Location    *time.Location
	LookAhead   int
	MissedGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.LookAhead <= 0 {
		o.LookAhead = DefaultLookAhead
	}
	if o.MissedGrace < 0 {
		o.MissedGrace = 0
	}
	return o
}

// Tracker owns dose status transitions and adherence math.
type Tracker struct {
	store    Store
	clock    Clock
	notifier Notifier
	log      zerolog.Logger
	opts     Options
	hub      *watch.Hub
}

func NewTracker(store Store, clock Clock, notifier Notifier, log zerolog.Logger, opts Options) *Tracker {
	if clock == nil {
		clock = SystemClock()
	}
	if notifier == nil {
		notifier = discard{}
	}
	return &Tracker{
		store:    store,
		clock:    clock,
		notifier: notifier,
		log:      log.With().Str("component", "tracker").Logger(),
		opts:     opts.withDefaults(),
		hub:      watch.NewHub(),
	}
}

func (t *Tracker) now() time.Time  { return t.clock.Now().In(t.opts.Location) }
func (t *Tracker) Today() string   { return t.now().Format(DateLayout) }
func (t *Tracker) changed()        { t.hub.Notify() }
func (t *Tracker) Hub() *watch.Hub { return t.hub }

// -- medications --

func (t *Tracker) AddMedication(ctx context.Context, m Medication) (*Medication, error) {
	if err := validateMedication(&m); err != nil {
		return nil, err
	}
	now := t.now()
	m.ID = newID()
	m.Active = true
	m.CreatedAt = now
	m.UpdatedAt = now

	slots := GenerateSchedules(m, now, t.opts.LookAhead)
	err := t.store.InTx(ctx, func(tx Store) error {
		if err := tx.CreateMedication(ctx, &m); err != nil {
			return err
		}
		return tx.UpsertSchedules(ctx, slots)
	})
	if err != nil {
		return nil, storageErr("add medication", err)
	}
	t.changed()
	t.log.Info().Str("medication", m.ID).Int("schedules", len(slots)).Msg("medication added")
	return &m, nil
}

// UpdateMedication replaces the editable fields. Future PENDING slots follow
// the new frequency; resolved slots stay as they are.
func (t *Tracker) UpdateMedication(ctx context.Context, m Medication) (*Medication, error) {
	if err := validateMedication(&m); err != nil {
		return nil, err
	}
	now := t.now()
	today := now.Format(DateLayout)

	err := t.store.InTx(ctx, func(tx Store) error {
		cur, err := tx.GetMedication(ctx, m.ID)
		if err != nil {
			return err
		}
		if !cur.Active {
			return &NotFoundError{Kind: "medication", ID: m.ID}
		}
		m.Active = true
		m.CreatedAt = cur.CreatedAt
		m.UpdatedAt = now
		if err := tx.SaveMedication(ctx, &m); err != nil {
			return err
		}
		if err := tx.DeletePendingFrom(ctx, m.ID, today, m.Frequency); err != nil {
			return err
		}
		return tx.UpsertSchedules(ctx, GenerateSchedules(m, now, t.opts.LookAhead))
	})
	if err != nil {
		return nil, storageErr("update medication", err)
	}
	t.changed()
	return &m, nil
}

// DeleteMedication soft-deletes and cascades: schedules are removed,
// reminders disabled, pending dispatches cancelled. Records are kept.
func (t *Tracker) DeleteMedication(ctx context.Context, id string) error {
	now := t.now()
	err := t.store.InTx(ctx, func(tx Store) error {
		m, err := tx.GetMedication(ctx, id)
		if err != nil {
			return err
		}
		m.Active = false
		m.UpdatedAt = now
		if err := tx.SaveMedication(ctx, m); err != nil {
			return err
		}
		if err := tx.DeleteSchedules(ctx, id); err != nil {
			return err
		}
		if err := tx.DisableReminders(ctx, id, now); err != nil {
			return err
		}
		return tx.CancelPending(ctx, jobs.ReminderKeyPrefix(id))
	})
	if err != nil {
		return storageErr("delete medication", err)
	}
	t.changed()
	t.log.Info().Str("medication", id).Msg("medication deleted")
	return nil
}

func (t *Tracker) GetMedication(ctx context.Context, id string) (*Medication, error) {
	m, err := t.store.GetMedication(ctx, id)
	return m, storageErr("get medication", err)
}

// ListMedications returns active medications by name.
func (t *Tracker) ListMedications(ctx context.Context) ([]Medication, error) {
	ms, err := t.store.ListMedications(ctx, true)
	return ms, storageErr("list medications", err)
}

// -- schedules --

func (t *Tracker) SchedulesForDate(ctx context.Context, date string) ([]MedicationSchedule, error) {
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	ss, err := t.store.ListSchedules(ctx, date)
	return ss, storageErr("list schedules", err)
}

// NextPendingDose is the earliest PENDING slot of the date.
func (t *Tracker) NextPendingDose(ctx context.Context, date string) (*MedicationSchedule, error) {
	ss, err := t.SchedulesForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	for i := range ss {
		if ss[i].Status == StatusPending {
			return &ss[i], nil
		}
	}
	return nil, &NotFoundError{Kind: "pending dose", ID: date}
}

func (t *Tracker) MarkTaken(ctx context.Context, scheduleID, notes string) (*MedicationSchedule, error) {
	s, err := t.transition(ctx, scheduleID, StatusTaken, notes)
	if err != nil {
		return nil, err
	}
	t.changed()
	return s, nil
}

func (t *Tracker) MarkSkipped(ctx context.Context, scheduleID, notes string) (*MedicationSchedule, error) {
	s, err := t.transition(ctx, scheduleID, StatusSkipped, notes)
	if err != nil {
		return nil, err
	}
	t.changed()
	return s, nil
}

// transition resolves a PENDING slot and appends the matching record in the
// same transaction.
func (t *Tracker) transition(ctx context.Context, scheduleID string, to Status, notes string) (*MedicationSchedule, error) {
	now := t.now()
	var out MedicationSchedule
	err := t.store.InTx(ctx, func(tx Store) error {
		s, err := tx.GetScheduleForUpdate(ctx, scheduleID)
		if err != nil {
			return err
		}
		if s.Status != StatusPending {
			return &StateError{ScheduleID: s.ID, From: s.Status, To: to}
		}
		at := now
		s.Status = to
		switch to {
		case StatusTaken:
			s.TakenAt = &at
		case StatusSkipped:
			s.SkippedAt = &at
		}
		if err := tx.SaveSchedule(ctx, s); err != nil {
			return err
		}
		rec := AdherenceRecord{
			ID:           newID(),
			MedicationID: s.MedicationID,
			Date:         s.Date,
			Status:       to,
			Timestamp:    &at,
			Notes:        optional(notes),
			CreatedAt:    now,
		}
		if err := tx.AppendRecord(ctx, &rec); err != nil {
			return err
		}
		out = *s
		return nil
	})
	if err != nil {
		return nil, storageErr("resolve schedule", err)
	}
	t.log.Debug().Str("schedule", scheduleID).Str("status", string(to)).Msg("dose resolved")
	return &out, nil
}

// -- adherence log --

// LogDose appends one record dated today. It does not touch any schedule
// slot; use MarkTaken/MarkSkipped for that.
func (t *Tracker) LogDose(ctx context.Context, medicationID string, status Status, notes string) (*AdherenceRecord, error) {
	if _, ok := ParseStatus(string(status)); !ok {
		return nil, invalid("status", "unknown status "+string(status))
	}
	if status == StatusPending {
		return nil, invalid("status", "PENDING cannot be logged")
	}
	now := t.now()
	rec := AdherenceRecord{
		ID:           newID(),
		MedicationID: medicationID,
		Date:         now.Format(DateLayout),
		Status:       status,
		Timestamp:    &now,
		Notes:        optional(notes),
		CreatedAt:    now,
	}
	err := t.store.InTx(ctx, func(tx Store) error {
		if _, err := activeMedication(ctx, tx, medicationID); err != nil {
			return err
		}
		return tx.AppendRecord(ctx, &rec)
	})
	if err != nil {
		return nil, storageErr("log dose", err)
	}
	t.changed()
	return &rec, nil
}

func (t *Tracker) AdherenceHistory(ctx context.Context, medicationID, start, end string) ([]AdherenceRecord, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	rs, err := t.store.ListRecords(ctx, medicationID, start, end)
	return rs, storageErr("adherence history", err)
}

// AdherenceRate is TAKEN records over all records in [start, end]. PENDING
// is never logged, so only resolved doses count. No records gives 0.
func (t *Tracker) AdherenceRate(ctx context.Context, medicationID, start, end string) (float64, error) {
	if err := validateRange(start, end); err != nil {
		return 0, err
	}
	taken, total, err := t.store.CountRecords(ctx, medicationID, start, end)
	if err != nil {
		return 0, storageErr("adherence rate", err)
	}
	return Rate(taken, total), nil
}

func Rate(taken, total int64) float64 {
	if total <= 0 || taken <= 0 {
		return 0
	}
	if taken >= total {
		return 1
	}
	return float64(taken) / float64(total)
}

// -- day view --

// MedicationsForDate groups the date's slots per medication, with each
// medication's rate over the RateWindowDays ending at date.
func (t *Tracker) MedicationsForDate(ctx context.Context, date string) ([]MedicationWithSchedule, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	from := d.AddDate(0, 0, -(RateWindowDays - 1)).Format(DateLayout)

	slots, err := t.store.ListSchedules(ctx, date)
	if err != nil {
		return nil, storageErr("list schedules", err)
	}
	byMed := map[string][]MedicationSchedule{}
	var order []string
	for _, s := range slots {
		if _, ok := byMed[s.MedicationID]; !ok {
			order = append(order, s.MedicationID)
		}
		byMed[s.MedicationID] = append(byMed[s.MedicationID], s)
	}

	out := make([]MedicationWithSchedule, 0, len(order))
	for _, id := range order {
		m, err := t.store.GetMedication(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storageErr("get medication", err)
		}
		taken, total, err := t.store.CountRecords(ctx, id, from, date)
		if err != nil {
			return nil, storageErr("adherence rate", err)
		}
		out = append(out, MedicationWithSchedule{
			Medication:    *m,
			Schedules:     byMed[id],
			AdherenceRate: Rate(taken, total),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Medication.Name) < strings.ToLower(out[j].Medication.Name)
	})
	return out, nil
}

func (t *Tracker) TodayMedications(ctx context.Context) ([]MedicationWithSchedule, error) {
	return t.MedicationsForDate(ctx, t.Today())
}

// WatchDate streams MedicationsForDate snapshots. An empty date follows
// today across midnight.
func (t *Tracker) WatchDate(ctx context.Context, date string) (*watch.Subscription[[]MedicationWithSchedule], error) {
	if date != "" {
		if _, err := ParseDate(date); err != nil {
			return nil, err
		}
	}
	load := func(ctx context.Context) ([]MedicationWithSchedule, error) {
		d := date
		if d == "" {
			d = t.Today()
		}
		return t.MedicationsForDate(ctx, d)
	}
	onErr := func(err error) {
		t.log.Warn().Err(err).Msg("snapshot load failed")
	}
	return watch.Watch(ctx, t.hub, load, onErr), nil
}

// -- periodic work --

// SweepMissed turns overdue PENDING slots into MISSED, one transaction per
// slot, and raises a missed-dose alert for each. Slots that fell due before
// their medication was added are left alone.
func (t *Tracker) SweepMissed(ctx context.Context) (int, error) {
	now := t.now()
	pending, err := t.store.ListPendingThrough(ctx, now.Format(DateLayout))
	if err != nil {
		return 0, storageErr("list pending", err)
	}

	meds := map[string]*Medication{}
	n := 0
	for _, s := range pending {
		due, err := dueAt(s, t.opts.Location)
		if err != nil {
			t.log.Warn().Err(err).Str("schedule", s.ID).Msg("unparsable slot")
			continue
		}
		if now.Before(due.Add(t.opts.MissedGrace)) {
			continue
		}
		m, ok := meds[s.MedicationID]
		if !ok {
			m, err = t.store.GetMedication(ctx, s.MedicationID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				t.log.Warn().Err(err).Str("medication", s.MedicationID).Msg("medication lookup failed during sweep")
			} else {
				meds[s.MedicationID] = m
			}
		}
		if m != nil && due.Before(m.CreatedAt) {
			continue
		}
		res, err := t.transition(ctx, s.ID, StatusMissed, "")
		if errors.Is(err, ErrState) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			if n > 0 {
				t.changed()
			}
			return n, err
		}
		n++
		t.alertMissed(ctx, res, m, now)
	}
	if n > 0 {
		t.changed()
		t.log.Info().Int("missed", n).Msg("missed-dose sweep")
	}
	return n, nil
}

func (t *Tracker) alertMissed(ctx context.Context, s *MedicationSchedule, m *Medication, now time.Time) {
	in := Intent{
		Channel:       ChannelMissedDose,
		Priority:      ChannelMissedDose.Priority(),
		MedicationID:  s.MedicationID,
		ScheduledTime: s.ScheduledTime,
		Date:          s.Date,
		ScheduleID:    s.ID,
		At:            now,
	}
	if m != nil {
		in.MedicationName = m.Name
		in.Dosage = m.Dosage
	}
	if err := t.notifier.Notify(ctx, in); err != nil {
		t.log.Warn().Err(err).Str("schedule", s.ID).Msg("missed-dose alert not delivered")
	}
}

// ExtendWindow regenerates the look-ahead window for every active
// medication. Existing slots are left alone unless still PENDING.
func (t *Tracker) ExtendWindow(ctx context.Context) (int, error) {
	now := t.now()
	meds, err := t.store.ListMedications(ctx, true)
	if err != nil {
		return 0, storageErr("list medications", err)
	}
	n := 0
	for _, m := range meds {
		slots := GenerateSchedules(m, now, t.opts.LookAhead)
		if err := t.store.InTx(ctx, func(tx Store) error {
			return tx.UpsertSchedules(ctx, slots)
		}); err != nil {
			return n, storageErr("extend window", err)
		}
		n += len(slots)
	}
	if n > 0 {
		t.changed()
	}
	return n, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
