package jobs

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// ErrPermanent marks a handler failure that must not be retried.
var ErrPermanent = errors.New("permanent job failure")

// Queue is implemented by Repo and by the in-memory store.
type Queue interface {
	Claim(ctx context.Context, workerID string) (*Job, error)
	MarkDone(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, errMsg string) error
	RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error
}

type Handler func(ctx context.Context, job *Job) error

type Worker struct {
	ID    string
	Queue Queue
	Poll  time.Duration
	Log   zerolog.Logger
	// Now is used for backoff scheduling; defaults to time.Now.
	Now func() time.Time

	handlers map[string]Handler
}

func (w *Worker) Handle(jobType string, h Handler) {
	if w.handlers == nil {
		w.handlers = map[string]Handler{}
	}
	w.handlers[jobType] = h
}

func (w *Worker) Run(ctx context.Context) {
	poll := w.Poll
	if poll <= 0 {
		poll = 800 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick claims and handles at most one due job. It reports whether a job ran.
func (w *Worker) Tick(ctx context.Context) bool {
	job, err := w.Queue.Claim(ctx, w.ID)
	if err != nil {
		w.Log.Error().Err(err).Str("worker", w.ID).Msg("claim failed")
		return false
	}
	if job == nil {
		return false
	}
	w.handle(ctx, job)
	return true
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	h, ok := w.handlers[job.Type]
	if !ok {
		_ = w.Queue.MarkFailed(ctx, job.ID, "unknown job type")
		return
	}

	if err := h(ctx, job); err != nil {
		if errors.Is(err, ErrPermanent) {
			w.Log.Warn().Err(err).Uint64("job", job.ID).Str("type", job.Type).Msg("job failed permanently")
			_ = w.Queue.MarkFailed(ctx, job.ID, err.Error())
			return
		}
		w.retry(ctx, job, err.Error())
		return
	}
	if err := w.Queue.MarkDone(ctx, job.ID); err != nil {
		w.Log.Error().Err(err).Uint64("job", job.ID).Msg("mark done failed")
	}
}

func (w *Worker) retry(ctx context.Context, job *Job, errMsg string) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		w.Log.Warn().Uint64("job", job.ID).Int("attempts", attempts).Str("error", errMsg).Msg("job exhausted retries")
		_ = w.Queue.MarkFailed(ctx, job.ID, errMsg)
		return
	}

	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	next := w.now().Add(time.Duration(sec) * time.Second)

	w.Log.Debug().Uint64("job", job.ID).Int("attempts", attempts).Time("run_at", next).Msg("job retry scheduled")
	_ = w.Queue.RetryLater(ctx, job.ID, attempts, next, errMsg)
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
