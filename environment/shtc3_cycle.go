package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mklimuk/thermohost"
	"github.com/mklimuk/thermohost/reactor"
)

// Datasheet settling times between power mode transitions and measurement.
const (
	shtc3WakeDelay    = 100 * time.Millisecond
	shtc3MeasureDelay = 100 * time.Millisecond
	shtc3ReadDelay    = 100 * time.Millisecond
	shtc3SleepDelay   = 500 * time.Millisecond

	shtc3CycleBudget = shtc3WakeDelay + shtc3MeasureDelay + shtc3ReadDelay + shtc3SleepDelay

	// SHTC3ReportInterval separates the end of one cycle from the start of the next.
	SHTC3ReportInterval = 800 * time.Millisecond

	defaultOverrunTolerance = 100 * time.Millisecond
)

type CycleState int

const (
	StateIdle CycleState = iota
	StateWaking
	StatePostWakeDelay
	StateMeasuring
	StatePostMeasureDelay
	StateReading
	StatePostReadDelay
	StateSleeping
	StatePostSleepDelay
	StateReporting
)

var cycleStateNames = [...]string{
	StateIdle:             "idle",
	StateWaking:           "waking",
	StatePostWakeDelay:    "post-wake-delay",
	StateMeasuring:        "measuring",
	StatePostMeasureDelay: "post-measure-delay",
	StateReading:          "reading",
	StatePostReadDelay:    "post-read-delay",
	StateSleeping:         "sleeping",
	StatePostSleepDelay:   "post-sleep-delay",
	StateReporting:        "reporting",
}

func (s CycleState) String() string {
	if s >= 0 && int(s) < len(cycleStateNames) {
		return cycleStateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Reading is the last successfully decoded measurement.
type Reading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	LastUpdated time.Time `json:"last_updated"`
}

// TransportError wraps a failed bus transaction.
type TransportError struct {
	Op      string
	Command SHTC3Command
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("shtc3: %s %s failed: %v", e.Op, e.Command, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SamplingCycle runs one wake, measure, read, sleep, report sequence per pass.
// Each call to Step performs a single bus transaction and returns the time it
// wants to be called again, so it never blocks the loop that drives it.
// Once the driver is closed a cycle in flight runs to the end without
// reporting and no new cycle is started.
type SamplingCycle struct {
	transport thermohost.I2CBus
	address   byte
	checkCRC  bool
	tolerance time.Duration
	now       func() time.Time
	alive     func() bool
	report    func(Reading)
	logger    *slog.Logger

	mx       sync.Mutex
	state    CycleState
	started  time.Time
	pending  Reading
	lastErr  error
	failures atomic.Int32
	reading  atomic.Pointer[Reading]
}

func (c *SamplingCycle) State() CycleState {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

// idle runs fn with the state machine locked and reports whether it was idle.
func (c *SamplingCycle) idle(fn func(idle bool)) {
	c.mx.Lock()
	defer c.mx.Unlock()
	fn(c.state == StateIdle)
}

// Reading returns a copy of the cached reading. The zero value is returned
// until the first cycle succeeds.
func (c *SamplingCycle) Reading() Reading {
	if r := c.reading.Load(); r != nil {
		return *r
	}
	return Reading{}
}

// LastError is the error that aborted the most recent cycle, nil after a
// successful one.
func (c *SamplingCycle) LastError() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.lastErr
}

func (c *SamplingCycle) ConsecutiveFailures() int {
	return int(c.failures.Load())
}

// Step advances the state machine. It has the reactor timer signature.
func (c *SamplingCycle) Step(ctx context.Context, _ time.Time) time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	switch c.state {
	case StateIdle:
		if !c.alive() {
			return reactor.Never
		}
		c.started = c.now()
		c.state = StateWaking
		if err := c.send(ctx, SHTC3Wakeup); err != nil {
			return c.abort(err)
		}
		return c.suspend(StatePostWakeDelay, shtc3WakeDelay)
	case StatePostWakeDelay:
		c.state = StateMeasuring
		if err := c.send(ctx, SHTC3MeasureTFirstNoCS); err != nil {
			return c.abort(err)
		}
		return c.suspend(StatePostMeasureDelay, shtc3MeasureDelay)
	case StatePostMeasureDelay:
		c.state = StateReading
		if err := c.read(ctx); err != nil {
			return c.abort(err)
		}
		return c.suspend(StatePostReadDelay, shtc3ReadDelay)
	case StatePostReadDelay:
		c.state = StateSleeping
		if err := c.send(ctx, SHTC3Sleep); err != nil {
			return c.abort(err)
		}
		return c.suspend(StatePostSleepDelay, shtc3SleepDelay)
	case StatePostSleepDelay:
		c.state = StateReporting
		return c.finish()
	default:
		return c.abort(fmt.Errorf("shtc3: unexpected cycle state %s", c.state))
	}
}

func (c *SamplingCycle) suspend(next CycleState, d time.Duration) time.Time {
	c.state = next
	return c.now().Add(d)
}

func (c *SamplingCycle) send(ctx context.Context, cmd SHTC3Command) error {
	if err := c.transport.WriteToAddr(ctx, c.address, cmd.Encode()); err != nil {
		return &TransportError{Op: "write", Command: cmd, Err: err}
	}
	return nil
}

func (c *SamplingCycle) read(ctx context.Context) error {
	buf := make([]byte, shtc3MeasurementLen)
	if err := c.transport.ReadFromAddr(ctx, c.address, buf); err != nil {
		if errors.Is(err, thermohost.ErrShortRead) {
			return fmt.Errorf("shtc3: %w: %w", ErrMalformedResponse, err)
		}
		return &TransportError{Op: "read", Command: SHTC3MeasureTFirstNoCS, Err: err}
	}
	raw, err := DecodeMeasurement(buf)
	if err != nil {
		return fmt.Errorf("shtc3: %w", err)
	}
	if c.checkCRC {
		if err := raw.Verify(); err != nil {
			return fmt.Errorf("shtc3: %w", err)
		}
	}
	c.pending = Reading{
		Temperature: TemperatureFromRaw(raw.Temperature),
		Humidity:    HumidityFromRaw(raw.Humidity),
	}
	return nil
}

func (c *SamplingCycle) finish() time.Time {
	measured := c.now()
	r := c.pending
	r.LastUpdated = measured
	c.reading.Store(&r)
	c.lastErr = nil
	if n := c.failures.Swap(0); n > 0 {
		c.logger.Info("sensor recovered", "failed_cycles", n)
	}

	elapsed := measured.Sub(c.started)
	if over := elapsed - shtc3CycleBudget; over > c.tolerance {
		c.logger.Warn("sampling cycle overrun", "elapsed", elapsed, "transport_time", over)
	}
	c.logger.Debug("sampling cycle complete", "temperature", r.Temperature, "humidity", r.Humidity, "elapsed", elapsed)

	c.state = StateIdle
	if !c.alive() {
		c.logger.Debug("driver closed, skipping report")
		return reactor.Never
	}
	c.report(r)
	return measured.Add(SHTC3ReportInterval)
}

// abort leaves the cached reading untouched and reschedules a full cycle.
func (c *SamplingCycle) abort(err error) time.Time {
	n := c.failures.Add(1)
	c.lastErr = err
	if errors.Is(err, ErrChecksumMismatch) {
		c.logger.Warn("discarding reading", "state", c.state, "error", err, "consecutive_failures", n)
	} else {
		c.logger.Warn("sampling cycle aborted", "state", c.state, "error", err, "consecutive_failures", n)
	}
	c.state = StateIdle
	if !c.alive() {
		return reactor.Never
	}
	return c.now().Add(SHTC3ReportInterval)
}
