// Package watch fans change signals out to subscribers that each reload and
// receive a full snapshot. Subscribers never see diffs.
package watch

import (
	"context"
	"sync"
)

// Hub tracks subscribers. The zero value is not usable; call NewHub.
type Hub struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]chan struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan struct{})}
}

// Notify wakes every subscriber. Wake-ups that arrive while a subscriber is
// still loading coalesce into one reload.
func (h *Hub) Notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.subs {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() (uint64, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	c := make(chan struct{}, 1)
	h.subs[h.next] = c
	return h.next, c
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Loader produces the current snapshot.
type Loader[T any] func(ctx context.Context) (T, error)

type Subscription[T any] struct {
	hub    *Hub
	id     uint64
	out    chan T
	stop   chan struct{}
	exited chan struct{}
	once   sync.Once
	onErr  func(error)
}

// Watch delivers load's result right away and again after every Notify,
// until Cancel is called or ctx ends. A snapshot the consumer has not read
// yet is replaced by the newer one.
func Watch[T any](ctx context.Context, h *Hub, load Loader[T], onErr func(error)) *Subscription[T] {
	id, wake := h.subscribe()
	s := &Subscription[T]{
		hub:    h,
		id:     id,
		out:    make(chan T, 1),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
		onErr:  onErr,
	}
	go s.run(ctx, wake, load)
	return s
}

// C is closed once the subscription ends.
func (s *Subscription[T]) C() <-chan T { return s.out }

// Cancel stops delivery. After it returns C holds no undelivered snapshot.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.hub.unsubscribe(s.id)
		close(s.stop)
	})
	<-s.exited
}

func (s *Subscription[T]) run(ctx context.Context, wake <-chan struct{}, load Loader[T]) {
	defer close(s.exited)
	defer func() {
		s.hub.unsubscribe(s.id)
		select {
		case <-s.out:
		default:
		}
		close(s.out)
	}()

	if !s.emit(ctx, load) {
		return
	}
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-wake:
			if !s.emit(ctx, load) {
				return
			}
		}
	}
}

func (s *Subscription[T]) emit(ctx context.Context, load Loader[T]) bool {
	v, err := load(ctx)
	if err != nil {
		if s.onErr != nil {
			s.onErr(err)
		}
		return true
	}
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case <-s.out:
	default:
	}
	s.out <- v
	return true
}
