// Package reactor is a small cooperative timer loop. All timer callbacks run
// on the goroutine that called Run, one at a time, so a callback never races
// with another callback (or with itself).
package reactor

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Never is the waketime of a timer that must not fire.
var Never = time.Time{}

// retryAfterPanic re-arms a timer whose callback panicked.
const retryAfterPanic = time.Second

// TimerFunc is invoked when a timer is due. It returns the next waketime or
// Never to leave the timer registered but idle.
type TimerFunc func(ctx context.Context, eventtime time.Time) time.Time

type Timer struct {
	name     string
	callback TimerFunc
	waketime time.Time
	index    int
	active   bool
}

func (t *Timer) String() string {
	return t.name
}

type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].waketime.Before(h[j].waketime) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)        { t := x.(*Timer); t.index = len(*h); *h = append(*h, t) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	t.index = -1
	*h = old[:n-1]
	return t
}
func (h timerHeap) top() *Timer {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

type Option func(*Reactor)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Reactor) {
		r.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reactor) {
		r.logger = logger
	}
}

type Reactor struct {
	mu     sync.Mutex
	timers timerHeap
	idle   []chan struct{}
	wake   chan struct{}
	clock  clockwork.Clock
	logger *slog.Logger
}

func New(opts ...Option) *Reactor {
	r := &Reactor{
		wake:   make(chan struct{}, 1),
		clock:  clockwork.NewRealClock(),
		logger: slog.Default().With("component", "reactor"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Monotonic returns the reactor's notion of the current time.
func (r *Reactor) Monotonic() time.Time {
	return r.clock.Now()
}

// RegisterTimer adds a timer firing at waketime. Pass Monotonic() to fire as
// soon as the loop gets a chance.
func (r *Reactor) RegisterTimer(name string, callback TimerFunc, waketime time.Time) *Timer {
	t := &Timer{name: name, callback: callback, index: -1, active: true}
	r.mu.Lock()
	r.schedule(t, waketime)
	r.mu.Unlock()
	r.wakeup()
	return t
}

func (r *Reactor) UpdateTimer(t *Timer, waketime time.Time) {
	r.mu.Lock()
	if t.active {
		r.schedule(t, waketime)
	}
	r.mu.Unlock()
	r.wakeup()
}

// UnregisterTimer removes the timer. A callback already running is allowed to
// finish but its return value is ignored.
func (r *Reactor) UnregisterTimer(t *Timer) {
	r.mu.Lock()
	t.active = false
	if t.index >= 0 {
		heap.Remove(&r.timers, t.index)
	}
	r.notifyIdle()
	r.mu.Unlock()
}

// Pending returns the number of armed timers.
func (r *Reactor) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// WaitIdle blocks until no timer is armed. Timers that returned Never count
// as idle. The loop must keep running for armed timers to drain.
func (r *Reactor) WaitIdle(ctx context.Context) error {
	r.mu.Lock()
	if len(r.timers) == 0 {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	r.idle = append(r.idle, ch)
	r.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notifyIdle must be called with mu held.
func (r *Reactor) notifyIdle() {
	if len(r.timers) > 0 {
		return
	}
	for _, ch := range r.idle {
		close(ch)
	}
	r.idle = nil
}

// schedule must be called with mu held.
func (r *Reactor) schedule(t *Timer, waketime time.Time) {
	t.waketime = waketime
	switch {
	case t.index >= 0 && waketime.IsZero():
		heap.Remove(&r.timers, t.index)
	case t.index >= 0:
		heap.Fix(&r.timers, t.index)
	case !waketime.IsZero():
		heap.Push(&r.timers, t)
	}
}

// Run dispatches timers until ctx is cancelled.
func (r *Reactor) Run(ctx context.Context) error {
	r.logger.Debug("reactor loop started")
	defer r.logger.Debug("reactor loop stopped")
	for {
		next := r.dispatch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var timeout <-chan time.Time
		var timer clockwork.Timer
		if !next.IsZero() {
			wait := next.Sub(r.clock.Now())
			if wait <= 0 {
				continue
			}
			timer = r.clock.NewTimer(wait)
			timeout = timer.Chan()
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-r.wake:
		case <-timeout:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// dispatch fires every timer due at the time of the call and returns the
// earliest remaining waketime. Timers re-armed into the past by their own
// callback run on the next pass, not in this one.
func (r *Reactor) dispatch(ctx context.Context) time.Time {
	now := r.clock.Now()
	r.mu.Lock()
	var due []*Timer
	for {
		top := r.timers.top()
		if top == nil || top.waketime.After(now) {
			break
		}
		due = append(due, heap.Pop(&r.timers).(*Timer))
	}
	r.mu.Unlock()

	for _, t := range due {
		r.mu.Lock()
		active := t.active
		r.mu.Unlock()
		if !active {
			continue
		}
		next := r.invoke(ctx, t, now)
		r.mu.Lock()
		if t.active {
			r.schedule(t, next)
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifyIdle()
	if top := r.timers.top(); top != nil {
		return top.waketime
	}
	return Never
}

func (r *Reactor) invoke(ctx context.Context, t *Timer, eventtime time.Time) (next time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("timer callback panicked", "timer", t.name, "error", fmt.Sprint(rec))
			next = r.clock.Now().Add(retryAfterPanic)
		}
	}()
	return t.callback(ctx, eventtime)
}

func (r *Reactor) wakeup() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
