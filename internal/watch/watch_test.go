package watch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter() (Loader[int64], *atomic.Int64) {
	var n atomic.Int64
	return func(context.Context) (int64, error) { return n.Load(), nil }, &n
}

func next[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-c:
		require.True(t, ok, "closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestWatchEmitsInitialSnapshot(t *testing.T) {
	h := NewHub()
	load, n := counter()
	n.Store(7)

	s := Watch(context.Background(), h, load, nil)
	defer s.Cancel()

	assert.Equal(t, int64(7), next(t, s.C()))
	assert.Equal(t, 1, h.Len())
}

func TestWatchReloadsOnNotify(t *testing.T) {
	h := NewHub()
	load, n := counter()

	s := Watch(context.Background(), h, load, nil)
	defer s.Cancel()
	require.Equal(t, int64(0), next(t, s.C()))

	n.Store(1)
	h.Notify()
	assert.Equal(t, int64(1), next(t, s.C()))
}

func TestWatchKeepsOnlyLatest(t *testing.T) {
	h := NewHub()
	load, n := counter()

	s := Watch(context.Background(), h, load, nil)
	defer s.Cancel()
	require.Equal(t, int64(0), next(t, s.C()))

	for i := int64(1); i <= 50; i++ {
		n.Store(i)
		h.Notify()
	}
	assert.Eventually(t, func() bool {
		select {
		case v := <-s.C():
			return v == 50
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCancelStopsDelivery(t *testing.T) {
	h := NewHub()
	load, _ := counter()

	s := Watch(context.Background(), h, load, nil)
	s.Cancel()
	s.Cancel()

	_, ok := <-s.C()
	assert.False(t, ok)
	assert.Zero(t, h.Len())
	h.Notify()
}

func TestContextEndsSubscription(t *testing.T) {
	h := NewHub()
	load, _ := counter()
	ctx, cancel := context.WithCancel(context.Background())

	s := Watch(ctx, h, load, nil)
	next(t, s.C())
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-s.C():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, h.Len())
}

func TestLoadErrorsAreReported(t *testing.T) {
	h := NewHub()
	boom := errors.New("boom")
	errs := make(chan error, 1)

	s := Watch(context.Background(), h, func(context.Context) (int, error) { return 0, boom }, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	defer s.Cancel()

	assert.ErrorIs(t, next(t, errs), boom)
}
