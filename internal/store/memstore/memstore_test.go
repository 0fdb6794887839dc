package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/adherence"
	"medtrack/internal/jobs"
)

var ctx = context.Background()

func TestInTxRollsBack(t *testing.T) {
	s := New()
	require.NoError(t, s.CreateMedication(ctx, &adherence.Medication{ID: "keep", Name: "Keep", Active: true}))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx adherence.Store) error {
		require.NoError(t, tx.CreateMedication(ctx, &adherence.Medication{ID: "gone", Name: "Gone", Active: true}))
		require.NoError(t, tx.AppendRecord(ctx, &adherence.AdherenceRecord{ID: "r", MedicationID: "keep", Date: "2024-03-10", Status: adherence.StatusTaken}))
		require.NoError(t, tx.Enqueue(ctx, &jobs.Job{Key: "k", RunAt: time.Now()}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetMedication(ctx, "gone")
	assert.ErrorIs(t, err, adherence.ErrNotFound)
	_, total, err := s.CountRecords(ctx, "keep", "2024-01-01", "2024-12-31")
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, s.Jobs())

	ms, err := s.ListMedications(ctx, true)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "keep", ms[0].ID)
}

func TestReadsAreCopies(t *testing.T) {
	s := New()
	require.NoError(t, s.CreateMedication(ctx, &adherence.Medication{ID: "m", Name: "M", Frequency: []string{"08:00"}}))

	m, err := s.GetMedication(ctx, "m")
	require.NoError(t, err)
	m.Frequency[0] = "09:00"

	again, err := s.GetMedication(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "08:00", again.Frequency[0])
}

func TestUpsertSchedulesKeepsResolved(t *testing.T) {
	s := New()
	slot := adherence.MedicationSchedule{ID: "s1", MedicationID: "m", ScheduledTime: "08:00", Date: "2024-03-10", Status: adherence.StatusPending}
	require.NoError(t, s.UpsertSchedules(ctx, []adherence.MedicationSchedule{slot}))

	taken := slot
	taken.Status = adherence.StatusTaken
	require.NoError(t, s.SaveSchedule(ctx, &taken))
	require.NoError(t, s.UpsertSchedules(ctx, []adherence.MedicationSchedule{slot}))

	got, err := s.FindSchedule(ctx, "m", "08:00", "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, adherence.StatusTaken, got.Status)

	ss, err := s.ListSchedules(ctx, "2024-03-10")
	require.NoError(t, err)
	assert.Len(t, ss, 1)

	assert.ErrorIs(t, s.SaveSchedule(ctx, &adherence.MedicationSchedule{ID: "nope"}), adherence.ErrNotFound)
}

func TestDeletePendingFrom(t *testing.T) {
	s := New()
	var in []adherence.MedicationSchedule
	for _, d := range []string{"2024-03-09", "2024-03-10", "2024-03-11"} {
		for _, tm := range []string{"08:00", "20:00"} {
			in = append(in, adherence.MedicationSchedule{
				ID: adherence.ScheduleID("m", tm, d), MedicationID: "m", ScheduledTime: tm, Date: d, Status: adherence.StatusPending,
			})
		}
	}
	require.NoError(t, s.UpsertSchedules(ctx, in))

	require.NoError(t, s.DeletePendingFrom(ctx, "m", "2024-03-10", []string{"08:00"}))

	left, err := s.ListPendingThrough(ctx, "2024-12-31")
	require.NoError(t, err)
	var got []string
	for _, sc := range left {
		got = append(got, sc.Date+" "+sc.ScheduledTime)
	}
	assert.Equal(t, []string{"2024-03-09 08:00", "2024-03-09 20:00", "2024-03-10 08:00", "2024-03-11 08:00"}, got)
}

func TestClaimOrderAndStuckJobs(t *testing.T) {
	s := New()
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	s.SetNow(func() time.Time { return now })

	require.NoError(t, s.Enqueue(ctx, &jobs.Job{Key: "late", RunAt: now.Add(-time.Minute)}))
	require.NoError(t, s.Enqueue(ctx, &jobs.Job{Key: "early", RunAt: now.Add(-time.Hour)}))
	require.NoError(t, s.Enqueue(ctx, &jobs.Job{Key: "future", RunAt: now.Add(time.Hour)}))

	j, err := s.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "early", j.Key)
	assert.Equal(t, jobs.StatusRunning, j.Status)

	j2, err := s.Claim(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "late", j2.Key)

	none, err := s.Claim(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, none)

	// The first claim never finished; it is handed out again.
	now = now.Add(6 * time.Minute)
	again, err := s.Claim(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "early", again.Key)
	assert.Equal(t, "w2", *again.LockedBy)

	require.NoError(t, s.MarkDone(ctx, again.ID))
	require.NoError(t, s.RetryLater(ctx, j2.ID, 1, now.Add(time.Hour), "flaky"))
	for _, job := range s.Jobs() {
		switch job.Key {
		case "early":
			assert.Equal(t, jobs.StatusDone, job.Status)
		case "late":
			assert.Equal(t, jobs.StatusPending, job.Status)
			assert.Equal(t, 1, job.Attempts)
			assert.Equal(t, "flaky", *job.LastError)
		}
	}
}

func TestCancelPendingByPrefix(t *testing.T) {
	s := New()
	now := time.Now()
	for _, k := range []string{"reminder:a:at:08:00", "reminder:a:snooze:08:00", "reminder:ab:at:08:00"} {
		require.NoError(t, s.Enqueue(ctx, &jobs.Job{Key: k, RunAt: now}))
	}
	require.NoError(t, s.CancelPending(ctx, jobs.ReminderKeyPrefix("a")))

	for _, j := range s.Jobs() {
		if j.Key == "reminder:ab:at:08:00" {
			assert.Equal(t, jobs.StatusPending, j.Status)
		} else {
			assert.Equal(t, jobs.StatusCancelled, j.Status, j.Key)
		}
	}
}
