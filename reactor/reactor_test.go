package reactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestReactor_DispatchOrder(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := New(WithClock(clock))
	var fired []string
	r.RegisterTimer("late", func(ctx context.Context, eventtime time.Time) time.Time {
		fired = append(fired, "late")
		return Never
	}, epoch.Add(200*time.Millisecond))
	r.RegisterTimer("early", func(ctx context.Context, eventtime time.Time) time.Time {
		fired = append(fired, "early")
		return Never
	}, epoch.Add(100*time.Millisecond))

	next := r.dispatch(context.Background())
	assert.Empty(t, fired)
	assert.Equal(t, epoch.Add(100*time.Millisecond), next)

	clock.Advance(250 * time.Millisecond)
	next = r.dispatch(context.Background())
	assert.Equal(t, []string{"early", "late"}, fired)
	assert.Equal(t, Never, next)
	assert.Equal(t, 0, r.Pending())
}

func TestReactor_RearmFromReturnValue(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := New(WithClock(clock))
	calls := 0
	r.RegisterTimer("periodic", func(ctx context.Context, eventtime time.Time) time.Time {
		calls++
		return eventtime.Add(800 * time.Millisecond)
	}, r.Monotonic())

	next := r.dispatch(context.Background())
	assert.Equal(t, 1, calls)
	assert.Equal(t, epoch.Add(800*time.Millisecond), next)

	// nothing due yet
	clock.Advance(799 * time.Millisecond)
	r.dispatch(context.Background())
	assert.Equal(t, 1, calls)

	clock.Advance(time.Millisecond)
	next = r.dispatch(context.Background())
	assert.Equal(t, 2, calls)
	assert.Equal(t, epoch.Add(1600*time.Millisecond), next)
}

func TestReactor_PastWaketimeRunsOncePerPass(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := New(WithClock(clock))
	calls := 0
	r.RegisterTimer("eager", func(ctx context.Context, eventtime time.Time) time.Time {
		calls++
		return eventtime.Add(-time.Second)
	}, epoch)
	r.dispatch(context.Background())
	assert.Equal(t, 1, calls)
	r.dispatch(context.Background())
	assert.Equal(t, 2, calls)
}

func TestReactor_Unregister(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := New(WithClock(clock))
	calls := 0
	var second *Timer
	r.RegisterTimer("first", func(ctx context.Context, eventtime time.Time) time.Time {
		r.UnregisterTimer(second)
		return Never
	}, epoch)
	second = r.RegisterTimer("second", func(ctx context.Context, eventtime time.Time) time.Time {
		calls++
		return eventtime.Add(time.Second)
	}, epoch.Add(time.Nanosecond))

	clock.Advance(time.Millisecond)
	assert.Equal(t, Never, r.dispatch(context.Background()))
	assert.Equal(t, 0, calls, "unregistered timer must not fire")

	// return value of a callback that unregistered itself is ignored
	var self *Timer
	self = r.RegisterTimer("self", func(ctx context.Context, eventtime time.Time) time.Time {
		r.UnregisterTimer(self)
		return eventtime.Add(time.Second)
	}, clock.Now())
	r.dispatch(context.Background())
	assert.Equal(t, 0, r.Pending())
}

func TestReactor_UpdateTimer(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := New(WithClock(clock))
	calls := 0
	tm := r.RegisterTimer("idle", func(ctx context.Context, eventtime time.Time) time.Time {
		calls++
		return Never
	}, Never)
	assert.Equal(t, 0, r.Pending())

	r.UpdateTimer(tm, epoch.Add(time.Second))
	assert.Equal(t, 1, r.Pending())
	assert.Equal(t, epoch.Add(time.Second), r.dispatch(context.Background()))

	r.UpdateTimer(tm, epoch)
	r.dispatch(context.Background())
	assert.Equal(t, 1, calls)
}

func TestReactor_PanicKeepsTimerArmed(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := New(WithClock(clock))
	r.RegisterTimer("faulty", func(ctx context.Context, eventtime time.Time) time.Time {
		panic("boom")
	}, epoch)
	next := r.dispatch(context.Background())
	assert.Equal(t, epoch.Add(retryAfterPanic), next)
	assert.Equal(t, 1, r.Pending())
}

func TestReactor_Run(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := New(WithClock(clock))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan time.Time, 4)
	var mu sync.Mutex
	running := 0
	r.RegisterTimer("periodic", func(ctx context.Context, eventtime time.Time) time.Time {
		mu.Lock()
		running++
		concurrent := running
		mu.Unlock()
		assert.Equal(t, 1, concurrent)
		mu.Lock()
		running--
		mu.Unlock()
		fired <- eventtime
		return eventtime.Add(800 * time.Millisecond)
	}, epoch)

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	select {
	case ev := <-fired:
		assert.Equal(t, epoch, ev)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	clock.BlockUntil(1)
	clock.Advance(800 * time.Millisecond)
	select {
	case ev := <-fired:
		assert.Equal(t, epoch.Add(800*time.Millisecond), ev)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire after advance")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reactor did not stop")
	}
}

func TestReactor_WaitIdle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := New(WithClock(clock))
	require.NoError(t, r.WaitIdle(context.Background()), "no timers armed")

	steps := 0
	r.RegisterTimer("two-steps", func(ctx context.Context, eventtime time.Time) time.Time {
		steps++
		if steps == 2 {
			return Never
		}
		return eventtime.Add(100 * time.Millisecond)
	}, r.Monotonic())

	idle := make(chan error, 1)
	go func() { idle <- r.WaitIdle(context.Background()) }()

	r.dispatch(context.Background())
	select {
	case <-idle:
		t.Fatal("idle while a timer is armed")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(100 * time.Millisecond)
	r.dispatch(context.Background())
	select {
	case err := <-idle:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("not idle after the last timer returned Never")
	}
	assert.Equal(t, 2, steps)

	ctx, cancel := context.WithCancel(context.Background())
	r.RegisterTimer("forever", func(ctx context.Context, eventtime time.Time) time.Time {
		return eventtime.Add(time.Second)
	}, epoch.Add(time.Hour))
	cancel()
	assert.ErrorIs(t, r.WaitIdle(ctx), context.Canceled)
}
