package gormstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/adherence"
	"medtrack/internal/db"
	"medtrack/internal/jobs"
)

// These run against a real Postgres when TEST_DATABASE_URL is set. Every
// test works on fresh ids so the database can be shared.
func open(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	gdb, err := db.Connect(dsn, false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrateAndIndexes(gdb))
	return New(gdb)
}

func medication(t *testing.T, s *Store) *adherence.Medication {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	m := &adherence.Medication{
		ID:        uuid.NewString(),
		Name:      "Lisinopril",
		Dosage:    "10mg",
		Frequency: []string{"08:00", "20:00"},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateMedication(context.Background(), m))
	return m
}

func TestMedicationRoundTrip(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	m := medication(t, s)

	got, err := s.GetMedication(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string(m.Frequency), []string(got.Frequency))
	assert.True(t, got.Active)

	got.Active = false
	require.NoError(t, s.SaveMedication(ctx, got))
	again, err := s.GetMedication(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, again.Active)

	_, err = s.GetMedication(ctx, uuid.NewString())
	assert.ErrorIs(t, err, adherence.ErrNotFound)
	assert.ErrorIs(t, s.SaveMedication(ctx, &adherence.Medication{ID: uuid.NewString(), Name: "x"}), adherence.ErrNotFound)
}

func TestUpsertSchedulesLeavesResolvedSlots(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	m := medication(t, s)

	slots := adherence.GenerateSchedules(*m, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), 2)
	require.Len(t, slots, 4)
	require.NoError(t, s.UpsertSchedules(ctx, slots))

	sc, err := s.GetScheduleForUpdate(ctx, slots[0].ID)
	require.NoError(t, err)
	now := time.Now().UTC()
	sc.Status = adherence.StatusTaken
	sc.TakenAt = &now
	require.NoError(t, s.SaveSchedule(ctx, sc))

	require.NoError(t, s.UpsertSchedules(ctx, slots))
	got, err := s.FindSchedule(ctx, m.ID, slots[0].ScheduledTime, slots[0].Date)
	require.NoError(t, err)
	assert.Equal(t, adherence.StatusTaken, got.Status)

	require.NoError(t, s.DeletePendingFrom(ctx, m.ID, "2024-03-10", []string{"08:00"}))
	day, err := s.ListSchedules(ctx, "2024-03-11")
	require.NoError(t, err)
	var mine []string
	for _, sc := range day {
		if sc.MedicationID == m.ID {
			mine = append(mine, sc.ScheduledTime)
		}
	}
	assert.Equal(t, []string{"08:00"}, mine)
}

func TestCountRecords(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	m := medication(t, s)

	for i, st := range []adherence.Status{adherence.StatusTaken, adherence.StatusSkipped, adherence.StatusTaken} {
		require.NoError(t, s.AppendRecord(ctx, &adherence.AdherenceRecord{
			ID:           uuid.NewString(),
			MedicationID: m.ID,
			Date:         time.Date(2024, 3, 10+i, 0, 0, 0, 0, time.UTC).Format(adherence.DateLayout),
			Status:       st,
			CreatedAt:    time.Now(),
		}))
	}
	taken, total, err := s.CountRecords(ctx, m.ID, "2024-03-10", "2024-03-11")
	require.NoError(t, err)
	assert.Equal(t, int64(1), taken)
	assert.Equal(t, int64(2), total)

	rs, err := s.ListRecords(ctx, m.ID, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	require.Len(t, rs, 3)
	assert.Equal(t, "2024-03-12", rs[0].Date)
}

func TestReminderUpsertAndDisable(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	m := medication(t, s)

	r := &adherence.MedicationReminder{
		ID:            adherence.ReminderID(m.ID, "08:00"),
		MedicationID:  m.ID,
		ScheduledTime: "08:00",
		Enabled:       true,
		SnoozeCount:   2,
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, s.UpsertReminder(ctx, r))
	r.SnoozeCount = 0
	require.NoError(t, s.UpsertReminder(ctx, r))

	got, err := s.GetReminder(ctx, m.ID, "08:00")
	require.NoError(t, err)
	assert.Zero(t, got.SnoozeCount)
	assert.True(t, got.Enabled)

	off := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.DisableReminders(ctx, m.ID, off))
	rs, err := s.ListReminders(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.False(t, rs[0].Enabled)
	assert.True(t, off.Equal(rs[0].UpdatedAt))
}

func TestInTxRollsBackAndCancelsByPrefix(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	m := medication(t, s)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx adherence.Store) error {
		require.NoError(t, tx.AppendRecord(ctx, &adherence.AdherenceRecord{
			ID: uuid.NewString(), MedicationID: m.ID, Date: "2024-03-10", Status: adherence.StatusTaken, CreatedAt: time.Now(),
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, total, err := s.CountRecords(ctx, m.ID, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.Zero(t, total)

	at, err := jobs.NewReminderJob(jobs.ReminderKey(m.ID, "08:00"), jobs.ReminderPayload{MedicationID: m.ID, ScheduledTime: "08:00"}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(ctx, at))
	require.NoError(t, s.CancelPending(ctx, jobs.ReminderKeyPrefix(m.ID)))

	var got jobs.Job
	require.NoError(t, s.DB.First(&got, at.ID).Error)
	assert.Equal(t, jobs.StatusCancelled, got.Status)
}
