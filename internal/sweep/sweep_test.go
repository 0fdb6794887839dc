package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTasks struct {
	missed, window int
	err            error
	deadline       bool
}

func (f *fakeTasks) SweepMissed(ctx context.Context) (int, error) {
	f.missed++
	_, f.deadline = ctx.Deadline()
	return 2, f.err
}

func (f *fakeTasks) ExtendWindow(context.Context) (int, error) {
	f.window++
	return 14, f.err
}

func TestNewRejectsBadSpecs(t *testing.T) {
	_, err := New(&fakeTasks{}, Config{Missed: "nope", Window: "@daily"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(&fakeTasks{}, Config{Missed: "@every 5m", Window: "61 * * * *"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRunsTasksWithTimeout(t *testing.T) {
	tasks := &fakeTasks{}
	s, err := New(tasks, Config{Missed: "@every 5m", Window: "5 0 * * *", Location: time.UTC}, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 2)

	s.MissedDoses()
	s.TopUpWindow()
	assert.Equal(t, 1, tasks.missed)
	assert.Equal(t, 1, tasks.window)
	assert.True(t, tasks.deadline)

	tasks.err = errors.New("db down")
	s.MissedDoses()
	s.TopUpWindow()
	assert.Equal(t, 2, tasks.missed)
}

func TestStartStop(t *testing.T) {
	s, err := New(&fakeTasks{}, Config{Missed: "@every 1h", Window: "@daily"}, zerolog.Nop())
	require.NoError(t, err)
	s.Start()
	s.Stop()
}
