package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"medtrack/internal/jobs"
)

func (s *Store) Enqueue(_ context.Context, j *jobs.Job) error {
	return s.with(func(st *state) error {
		now := s.now()
		st.nextJob++
		j.ID = st.nextJob
		if j.Status == "" {
			j.Status = jobs.StatusPending
		}
		if j.MaxAttempts == 0 {
			j.MaxAttempts = 8
		}
		j.CreatedAt = now
		j.UpdatedAt = now
		st.jobs = append(st.jobs, *j)
		return nil
	})
}

func (s *Store) CancelPending(_ context.Context, keyPrefix string) error {
	return s.with(func(st *state) error {
		now := s.now()
		for i := range st.jobs {
			j := &st.jobs[i]
			if j.Status == jobs.StatusPending && strings.HasPrefix(j.Key, keyPrefix) {
				j.Status = jobs.StatusCancelled
				j.UpdatedAt = now
			}
		}
		return nil
	})
}

// Claim hands out the earliest due PENDING job.
func (s *Store) Claim(_ context.Context, workerID string) (*jobs.Job, error) {
	var out *jobs.Job
	err := s.with(func(st *state) error {
		now := s.now()
		var due *jobs.Job
		for i := range st.jobs {
			j := &st.jobs[i]
			if j.Status == jobs.StatusRunning && j.LockedAt != nil && j.LockedAt.Before(now.Add(-stuckAfter)) {
				j.Status = jobs.StatusPending
				j.LockedBy, j.LockedAt = nil, nil
			}
			if j.Status != jobs.StatusPending || j.RunAt.After(now) {
				continue
			}
			if due == nil || j.RunAt.Before(due.RunAt) {
				due = j
			}
		}
		if due == nil {
			return nil
		}
		w := workerID
		at := now
		due.Status = jobs.StatusRunning
		due.LockedBy = &w
		due.LockedAt = &at
		due.UpdatedAt = now
		c := *due
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) MarkDone(_ context.Context, id uint64) error {
	return s.updateJob(id, func(j *jobs.Job) {
		j.Status = jobs.StatusDone
	})
}

func (s *Store) MarkFailed(_ context.Context, id uint64, errMsg string) error {
	return s.updateJob(id, func(j *jobs.Job) {
		j.Status = jobs.StatusFailed
		j.LastError = &errMsg
	})
}

func (s *Store) RetryLater(_ context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error {
	return s.updateJob(id, func(j *jobs.Job) {
		j.Status = jobs.StatusPending
		j.Attempts = attempts
		j.RunAt = runAt
		j.LockedBy, j.LockedAt = nil, nil
		j.LastError = &errMsg
	})
}

func (s *Store) updateJob(id uint64, fn func(j *jobs.Job)) error {
	return s.with(func(st *state) error {
		for i := range st.jobs {
			if st.jobs[i].ID == id {
				fn(&st.jobs[i])
				st.jobs[i].UpdatedAt = s.now()
				return nil
			}
		}
		return nil
	})
}

// Jobs returns every job ever enqueued, oldest first.
func (s *Store) Jobs() []jobs.Job {
	var out []jobs.Job
	_ = s.with(func(st *state) error {
		out = append(out, st.jobs...)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
