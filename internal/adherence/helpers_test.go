package adherence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"medtrack/internal/adherence"
	"medtrack/internal/store/memstore"
)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fixedClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu      sync.Mutex
	intents []adherence.Intent
}

func (r *recorder) Notify(_ context.Context, in adherence.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, in)
	return nil
}

func (r *recorder) All() []adherence.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]adherence.Intent(nil), r.intents...)
}

type env struct {
	ctx       context.Context
	store     *memstore.Store
	clock     *fixedClock
	notes     *recorder
	tracker   *adherence.Tracker
	reminders *adherence.Coordinator
	profiles  *adherence.Profiles
}

// day1 is the first day of every scenario.
const day1 = "2024-03-10"

func at(date, hhmm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		ctx:   context.Background(),
		store: memstore.New(),
		clock: &fixedClock{t: at(day1, "07:00")},
		notes: &recorder{},
	}
	e.store.SetNow(e.clock.Now)
	opts := adherence.Options{Location: time.UTC, LookAhead: 7, MissedGrace: time.Hour}
	e.tracker = adherence.NewTracker(e.store, e.clock, e.notes, zerolog.Nop(), opts)
	e.reminders = adherence.NewCoordinator(e.store, e.clock, e.notes, zerolog.Nop(), time.UTC)
	e.profiles = adherence.NewProfiles(e.store, e.clock)
	return e
}

func (e *env) addLisinopril(t *testing.T) *adherence.Medication {
	t.Helper()
	m, err := e.tracker.AddMedication(e.ctx, adherence.Medication{
		Name:      "Lisinopril",
		Dosage:    "10mg",
		Frequency: []string{"20:00", "08:00"},
	})
	require.NoError(t, err)
	return m
}

func (e *env) schedulesFor(t *testing.T, medicationID string, days int) []adherence.MedicationSchedule {
	t.Helper()
	start, err := adherence.ParseDate(day1)
	require.NoError(t, err)
	var out []adherence.MedicationSchedule
	for d := 0; d < days; d++ {
		ss, err := e.store.ListSchedules(e.ctx, start.AddDate(0, 0, d).Format(adherence.DateLayout))
		require.NoError(t, err)
		for _, s := range ss {
			if s.MedicationID == medicationID {
				out = append(out, s)
			}
		}
	}
	return out
}

func (e *env) records(t *testing.T, medicationID string) []adherence.AdherenceRecord {
	t.Helper()
	rs, err := e.store.ListRecords(e.ctx, medicationID, "0000-01-01", "9999-12-31")
	require.NoError(t, err)
	return rs
}
