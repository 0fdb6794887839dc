// Package memstore is the local-only Store. State lives in process memory
// and a transaction is the store-wide lock plus a snapshot to roll back to.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"medtrack/internal/adherence"
	"medtrack/internal/jobs"
)

// stuckAfter matches the Postgres queue: RUNNING jobs older than this are
// handed out again.
const stuckAfter = 5 * time.Minute

type state struct {
	meds      map[string]adherence.Medication
	schedules map[string]adherence.MedicationSchedule
	slots     map[string]string // medication|time|date -> schedule id
	records   []adherence.AdherenceRecord
	reminders map[string]adherence.MedicationReminder // medication|time
	patient   *adherence.Patient
	jobs      []jobs.Job
	nextJob   uint64
}

func newState() *state {
	return &state{
		meds:      map[string]adherence.Medication{},
		schedules: map[string]adherence.MedicationSchedule{},
		slots:     map[string]string{},
		reminders: map[string]adherence.MedicationReminder{},
	}
}

func (s *state) clone() state {
	c := state{
		meds:      make(map[string]adherence.Medication, len(s.meds)),
		schedules: make(map[string]adherence.MedicationSchedule, len(s.schedules)),
		slots:     make(map[string]string, len(s.slots)),
		records:   append([]adherence.AdherenceRecord(nil), s.records...),
		reminders: make(map[string]adherence.MedicationReminder, len(s.reminders)),
		jobs:      append([]jobs.Job(nil), s.jobs...),
		nextJob:   s.nextJob,
	}
	for k, v := range s.meds {
		c.meds[k] = copyMed(v)
	}
	for k, v := range s.schedules {
		c.schedules[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.reminders {
		c.reminders[k] = v
	}
	if s.patient != nil {
		p := copyPatient(*s.patient)
		c.patient = &p
	}
	return c
}

// Store implements adherence.Store and jobs.Queue.
type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
	now  func() time.Time
}

var (
	_ adherence.Store = (*Store)(nil)
	_ jobs.Queue      = (*Store)(nil)
)

func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState(), now: time.Now}
}

// SetNow replaces the clock used to decide which jobs are due.
func (s *Store) SetNow(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

func (s *Store) with(fn func(st *state) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.st)
}

func (s *Store) InTx(ctx context.Context, fn func(tx adherence.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.st.clone()
	tx := &Store{mu: s.mu, st: s.st, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		*s.st = snap
		return err
	}
	return nil
}

// -- medications --

func (s *Store) CreateMedication(_ context.Context, m *adherence.Medication) error {
	return s.with(func(st *state) error {
		st.meds[m.ID] = copyMed(*m)
		return nil
	})
}

func (s *Store) SaveMedication(_ context.Context, m *adherence.Medication) error {
	return s.with(func(st *state) error {
		if _, ok := st.meds[m.ID]; !ok {
			return &adherence.NotFoundError{Kind: "medication", ID: m.ID}
		}
		st.meds[m.ID] = copyMed(*m)
		return nil
	})
}

func (s *Store) GetMedication(_ context.Context, id string) (*adherence.Medication, error) {
	var out adherence.Medication
	err := s.with(func(st *state) error {
		m, ok := st.meds[id]
		if !ok {
			return &adherence.NotFoundError{Kind: "medication", ID: id}
		}
		out = copyMed(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) ListMedications(_ context.Context, activeOnly bool) ([]adherence.Medication, error) {
	var out []adherence.Medication
	err := s.with(func(st *state) error {
		for _, m := range st.meds {
			if activeOnly && !m.Active {
				continue
			}
			out = append(out, copyMed(m))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// -- schedules --

func slotKey(medicationID, scheduledTime, date string) string {
	return medicationID + "|" + scheduledTime + "|" + date
}

func (s *Store) UpsertSchedules(_ context.Context, in []adherence.MedicationSchedule) error {
	return s.with(func(st *state) error {
		for _, sc := range in {
			k := slotKey(sc.MedicationID, sc.ScheduledTime, sc.Date)
			if id, ok := st.slots[k]; ok {
				if st.schedules[id].Status != adherence.StatusPending {
					continue
				}
				delete(st.schedules, id)
			}
			st.schedules[sc.ID] = sc
			st.slots[k] = sc.ID
		}
		return nil
	})
}

func (s *Store) GetScheduleForUpdate(_ context.Context, id string) (*adherence.MedicationSchedule, error) {
	var out adherence.MedicationSchedule
	err := s.with(func(st *state) error {
		sc, ok := st.schedules[id]
		if !ok {
			return &adherence.NotFoundError{Kind: "schedule", ID: id}
		}
		out = sc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) FindSchedule(_ context.Context, medicationID, scheduledTime, date string) (*adherence.MedicationSchedule, error) {
	var out adherence.MedicationSchedule
	err := s.with(func(st *state) error {
		id, ok := st.slots[slotKey(medicationID, scheduledTime, date)]
		if !ok {
			return &adherence.NotFoundError{Kind: "schedule", ID: slotKey(medicationID, scheduledTime, date)}
		}
		out = st.schedules[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) SaveSchedule(_ context.Context, sc *adherence.MedicationSchedule) error {
	return s.with(func(st *state) error {
		if _, ok := st.schedules[sc.ID]; !ok {
			return &adherence.NotFoundError{Kind: "schedule", ID: sc.ID}
		}
		st.schedules[sc.ID] = *sc
		return nil
	})
}

func (s *Store) ListSchedules(_ context.Context, date string) ([]adherence.MedicationSchedule, error) {
	return s.filterSchedules(func(sc adherence.MedicationSchedule) bool { return sc.Date == date })
}

func (s *Store) ListPendingThrough(_ context.Context, date string) ([]adherence.MedicationSchedule, error) {
	return s.filterSchedules(func(sc adherence.MedicationSchedule) bool {
		return sc.Status == adherence.StatusPending && sc.Date <= date
	})
}

func (s *Store) filterSchedules(keep func(adherence.MedicationSchedule) bool) ([]adherence.MedicationSchedule, error) {
	var out []adherence.MedicationSchedule
	err := s.with(func(st *state) error {
		for _, sc := range st.schedules {
			if keep(sc) {
				out = append(out, sc)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.ScheduledTime != b.ScheduledTime {
			return a.ScheduledTime < b.ScheduledTime
		}
		return a.MedicationID < b.MedicationID
	})
	return out, err
}

func (s *Store) DeleteSchedules(_ context.Context, medicationID string) error {
	return s.with(func(st *state) error {
		st.deleteSchedules(func(sc adherence.MedicationSchedule) bool { return sc.MedicationID == medicationID })
		return nil
	})
}

func (s *Store) DeletePendingFrom(_ context.Context, medicationID, fromDate string, keepTimes []string) error {
	keep := make(map[string]bool, len(keepTimes))
	for _, t := range keepTimes {
		keep[t] = true
	}
	return s.with(func(st *state) error {
		st.deleteSchedules(func(sc adherence.MedicationSchedule) bool {
			return sc.MedicationID == medicationID &&
				sc.Status == adherence.StatusPending &&
				sc.Date >= fromDate &&
				!keep[sc.ScheduledTime]
		})
		return nil
	})
}

func (st *state) deleteSchedules(match func(adherence.MedicationSchedule) bool) {
	for id, sc := range st.schedules {
		if match(sc) {
			delete(st.schedules, id)
			delete(st.slots, slotKey(sc.MedicationID, sc.ScheduledTime, sc.Date))
		}
	}
}

// -- records --

func (s *Store) AppendRecord(_ context.Context, r *adherence.AdherenceRecord) error {
	return s.with(func(st *state) error {
		st.records = append(st.records, *r)
		return nil
	})
}

func (s *Store) ListRecords(_ context.Context, medicationID, start, end string) ([]adherence.AdherenceRecord, error) {
	var out []adherence.AdherenceRecord
	err := s.with(func(st *state) error {
		for _, r := range st.records {
			if r.MedicationID == medicationID && r.Date >= start && r.Date <= end {
				out = append(out, r)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, err
}

func (s *Store) CountRecords(_ context.Context, medicationID, start, end string) (taken, total int64, err error) {
	err = s.with(func(st *state) error {
		for _, r := range st.records {
			if r.MedicationID != medicationID || r.Date < start || r.Date > end {
				continue
			}
			total++
			if r.Status == adherence.StatusTaken {
				taken++
			}
		}
		return nil
	})
	return taken, total, err
}

// -- reminders --

func reminderKey(medicationID, scheduledTime string) string {
	return medicationID + "|" + scheduledTime
}

func (s *Store) UpsertReminder(_ context.Context, r *adherence.MedicationReminder) error {
	return s.with(func(st *state) error {
		st.reminders[reminderKey(r.MedicationID, r.ScheduledTime)] = *r
		return nil
	})
}

func (s *Store) SaveReminder(_ context.Context, r *adherence.MedicationReminder) error {
	return s.with(func(st *state) error {
		k := reminderKey(r.MedicationID, r.ScheduledTime)
		if _, ok := st.reminders[k]; !ok {
			return &adherence.NotFoundError{Kind: "reminder", ID: k}
		}
		st.reminders[k] = *r
		return nil
	})
}

func (s *Store) GetReminder(_ context.Context, medicationID, scheduledTime string) (*adherence.MedicationReminder, error) {
	var out adherence.MedicationReminder
	err := s.with(func(st *state) error {
		k := reminderKey(medicationID, scheduledTime)
		r, ok := st.reminders[k]
		if !ok {
			return &adherence.NotFoundError{Kind: "reminder", ID: k}
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) ListReminders(_ context.Context, medicationID string) ([]adherence.MedicationReminder, error) {
	return s.filterReminders(func(r adherence.MedicationReminder) bool { return r.MedicationID == medicationID })
}

func (s *Store) ListActiveReminders(_ context.Context) ([]adherence.MedicationReminder, error) {
	return s.filterReminders(func(r adherence.MedicationReminder) bool { return r.Enabled })
}

func (s *Store) filterReminders(keep func(adherence.MedicationReminder) bool) ([]adherence.MedicationReminder, error) {
	var out []adherence.MedicationReminder
	err := s.with(func(st *state) error {
		for _, r := range st.reminders {
			if keep(r) {
				out = append(out, r)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].MedicationID != out[j].MedicationID {
			return out[i].MedicationID < out[j].MedicationID
		}
		return out[i].ScheduledTime < out[j].ScheduledTime
	})
	return out, err
}

func (s *Store) DisableReminders(_ context.Context, medicationID string, at time.Time) error {
	return s.with(func(st *state) error {
		for k, r := range st.reminders {
			if r.MedicationID == medicationID && r.Enabled {
				r.Enabled = false
				r.UpdatedAt = at
				st.reminders[k] = r
			}
		}
		return nil
	})
}

// -- patient --

func (s *Store) CurrentPatient(_ context.Context) (*adherence.Patient, error) {
	var out adherence.Patient
	err := s.with(func(st *state) error {
		if st.patient == nil {
			return &adherence.NotFoundError{Kind: "patient", ID: "current"}
		}
		out = copyPatient(*st.patient)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) SavePatient(_ context.Context, p *adherence.Patient) error {
	return s.with(func(st *state) error {
		c := copyPatient(*p)
		st.patient = &c
		return nil
	})
}

func copyMed(m adherence.Medication) adherence.Medication {
	m.Frequency = append([]string(nil), m.Frequency...)
	return m
}

func copyPatient(p adherence.Patient) adherence.Patient {
	p.Conditions = append([]string(nil), p.Conditions...)
	return p
}
