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

const (
	SHTC3DefaultSpeed = 100_000
	maxBusSpeed       = 1_000_000

	// lowest and highest non-reserved 7-bit addresses
	minBusAddress = 0x08
	maxBusAddress = 0x77

	// soft reset completes within 240us, wake-up within 240us
	shtc3CommandDelay = time.Millisecond
)

var ErrConnected = errors.New("shtc3: sampling cycle already scheduled")
var ErrClosed = errors.New("shtc3: driver closed")

// Scheduler arms the sampling cycle. *reactor.Reactor satisfies it.
type Scheduler interface {
	RegisterTimer(name string, callback reactor.TimerFunc, waketime time.Time) *reactor.Timer
	UnregisterTimer(t *reactor.Timer)
	Monotonic() time.Time
}

type SHTC3Config struct {
	Name     string
	Address  byte
	SpeedHz  uint32
	MinTemp  float64
	MaxTemp  float64
	CheckCRC bool
	Identify bool
}

func DefaultSHTC3Config() SHTC3Config {
	return SHTC3Config{
		Address:  SHTC3DefaultAddress,
		SpeedHz:  SHTC3DefaultSpeed,
		CheckCRC: true,
	}
}

func (c SHTC3Config) Validate() error {
	if c.Name == "" {
		return &thermohost.ConfigurationError{Field: "name", Reason: "is required"}
	}
	if c.Address < minBusAddress || c.Address > maxBusAddress {
		return &thermohost.ConfigurationError{Field: "bus_address", Reason: fmt.Sprintf("%#x is not a valid 7-bit address", c.Address)}
	}
	if c.SpeedHz == 0 || c.SpeedHz > maxBusSpeed {
		return &thermohost.ConfigurationError{Field: "bus_speed_hz", Reason: fmt.Sprintf("%d out of range (0, %d]", c.SpeedHz, maxBusSpeed)}
	}
	if c.MinTemp >= c.MaxTemp {
		return &thermohost.ConfigurationError{Field: "min_temp", Reason: fmt.Sprintf("%.2f must be lower than max_temp %.2f", c.MinTemp, c.MaxTemp)}
	}
	return nil
}

type SHTC3Opts struct {
	Logger           *slog.Logger
	OverrunTolerance time.Duration
	PrintTime        func(eventtime time.Time) time.Time
}

type SHTC3Opt func(*SHTC3Opts)

func WithLogger(logger *slog.Logger) SHTC3Opt {
	return func(o *SHTC3Opts) {
		o.Logger = logger
	}
}

// WithOverrunTolerance sets how much transport time a cycle may add on top of
// the fixed delays before an overrun is logged.
func WithOverrunTolerance(d time.Duration) SHTC3Opt {
	return func(o *SHTC3Opts) {
		o.OverrunTolerance = d
	}
}

// WithPrintTimeEstimator maps the host time of a measurement to the time
// reported to the temperature callback.
func WithPrintTimeEstimator(fn func(eventtime time.Time) time.Time) SHTC3Opt {
	return func(o *SHTC3Opts) {
		o.PrintTime = fn
	}
}

// SHTC3 represents Sensirion SHTC3 Temperature/Humidity sensor sampled on a
// fixed cadence.
// Typical usage:
//
//	s, err := NewSHTC3(bus, r, cfg)
//	s.SetupCallback(cb)
//	err = s.Connect(ctx)
//	...
//	status := s.Status(time.Now())
type SHTC3 struct {
	mx        sync.Mutex
	transport thermohost.I2CBus
	scheduler Scheduler
	config    SHTC3Config
	opts      SHTC3Opts
	logger    *slog.Logger
	cycle     *SamplingCycle
	timer     *reactor.Timer
	callback  thermohost.TemperatureCallback
	minTemp   float64
	maxTemp   float64
	closed    atomic.Bool
}

func NewSHTC3(trans thermohost.I2CBus, scheduler Scheduler, config SHTC3Config, opts ...SHTC3Opt) (*SHTC3, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := SHTC3Opts{
		OverrunTolerance: defaultOverrunTolerance,
		PrintTime:        func(eventtime time.Time) time.Time { return eventtime },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	logger := o.Logger.With("sensor", "shtc3", "name", config.Name, "addr", fmt.Sprintf("%#x", config.Address))
	s := &SHTC3{
		transport: trans,
		scheduler: scheduler,
		config:    config,
		opts:      o,
		logger:    logger,
		minTemp:   config.MinTemp,
		maxTemp:   config.MaxTemp,
	}
	s.cycle = &SamplingCycle{
		transport: trans,
		address:   config.Address,
		checkCRC:  config.CheckCRC,
		tolerance: o.OverrunTolerance,
		now:       scheduler.Monotonic,
		alive:     func() bool { return !s.closed.Load() },
		report:    s.report,
		logger:    logger,
	}
	logger.Info("sensor initialized", "speed_hz", config.SpeedHz, "check_crc", config.CheckCRC)
	return s, nil
}

func (s *SHTC3) Name() string {
	return s.config.Name
}

func (s *SHTC3) Config() SHTC3Config {
	return s.config
}

func (s *SHTC3) SetupMinMax(minTemp, maxTemp float64) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.minTemp = minTemp
	s.maxTemp = maxTemp
}

func (s *SHTC3) MinMax() (float64, float64) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.minTemp, s.maxTemp
}

func (s *SHTC3) SetupCallback(cb thermohost.TemperatureCallback) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.callback = cb
}

func (s *SHTC3) ReportInterval() time.Duration {
	return SHTC3ReportInterval
}

// Connect applies the bus speed, optionally identifies the chip and arms the
// first sampling cycle immediately.
func (s *SHTC3) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mx.Lock()
	armed := s.timer != nil
	s.mx.Unlock()
	if armed {
		return ErrConnected
	}
	if setter, ok := s.transport.(thermohost.SpeedSetter); ok {
		if err := setter.SetSpeed(ctx, s.config.SpeedHz); err != nil {
			return fmt.Errorf("shtc3: could not set bus speed: %w", err)
		}
	}
	if s.config.Identify {
		id, err := s.Identify(ctx)
		switch {
		case err != nil:
			s.logger.Warn("identification failed", "error", err)
		case !IsSHTC3(id):
			s.logger.Info("unknown chip id received", "id", fmt.Sprintf("%#x", id))
		default:
			s.logger.Info("found SHTC3", "id", fmt.Sprintf("%#x", id))
		}
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.timer != nil {
		return ErrConnected
	}
	s.timer = s.scheduler.RegisterTimer("shtc3 "+s.config.Name, s.cycle.Step, s.scheduler.Monotonic())
	return nil
}

// Close stops sampling. An idle sensor has its timer removed right away, a
// cycle in flight finishes its bus transactions, leaving the sensor asleep,
// but does not report and is not re-armed.
func (s *SHTC3) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cycle.idle(func(idle bool) {
		s.mx.Lock()
		defer s.mx.Unlock()
		if idle && s.timer != nil {
			s.scheduler.UnregisterTimer(s.timer)
			s.timer = nil
		}
	})
	s.logger.Debug("sensor closed")
	return nil
}

// Status never touches the bus.
func (s *SHTC3) Status(_ time.Time) thermohost.Status {
	r := s.cycle.Reading()
	return thermohost.Status{
		Temperature: round2(r.Temperature),
		Humidity:    r.Humidity,
	}
}

func (s *SHTC3) Reading() Reading {
	return s.cycle.Reading()
}

func (s *SHTC3) ConsecutiveFailures() int {
	return s.cycle.ConsecutiveFailures()
}

// Measure runs a single cycle in the calling goroutine and returns its
// result. It cannot be used while the driver is connected.
func (s *SHTC3) Measure(ctx context.Context) (Reading, error) {
	if s.closed.Load() {
		return Reading{}, ErrClosed
	}
	s.mx.Lock()
	armed := s.timer != nil
	s.mx.Unlock()
	if armed {
		return Reading{}, ErrConnected
	}
	for {
		next := s.cycle.Step(ctx, s.scheduler.Monotonic())
		if s.cycle.State() == StateIdle {
			if err := s.cycle.LastError(); err != nil {
				return Reading{}, err
			}
			return s.cycle.Reading(), nil
		}
		if err := wait(ctx, next.Sub(s.scheduler.Monotonic())); err != nil {
			return Reading{}, err
		}
	}
}

// Identify wakes the sensor, soft-resets it and reads the ID register.
func (s *SHTC3) Identify(ctx context.Context) (uint16, error) {
	if err := s.command(ctx, SHTC3Wakeup); err != nil {
		return 0, err
	}
	if err := s.command(ctx, SHTC3SoftReset); err != nil {
		return 0, err
	}
	// the reset puts the sensor back to idle, wake it again
	if err := s.command(ctx, SHTC3Wakeup); err != nil {
		return 0, err
	}
	if err := s.transport.WriteToAddr(ctx, s.config.Address, SHTC3ReadID.Encode()); err != nil {
		return 0, &TransportError{Op: "write", Command: SHTC3ReadID, Err: err}
	}
	buf := make([]byte, shtc3IDLen)
	if err := s.transport.ReadFromAddr(ctx, s.config.Address, buf); err != nil {
		return 0, &TransportError{Op: "read", Command: SHTC3ReadID, Err: err}
	}
	id, err := DecodeID(buf)
	if err != nil {
		return 0, fmt.Errorf("shtc3: %w", err)
	}
	if err := s.command(ctx, SHTC3Sleep); err != nil {
		return id, err
	}
	return id, nil
}

// SoftReset resets the sensor and puts it back to sleep.
func (s *SHTC3) SoftReset(ctx context.Context) error {
	for _, cmd := range []SHTC3Command{SHTC3Wakeup, SHTC3SoftReset, SHTC3Wakeup, SHTC3Sleep} {
		if err := s.command(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (s *SHTC3) command(ctx context.Context, cmd SHTC3Command) error {
	if err := s.transport.WriteToAddr(ctx, s.config.Address, cmd.Encode()); err != nil {
		return &TransportError{Op: "write", Command: cmd, Err: err}
	}
	return wait(ctx, shtc3CommandDelay)
}

func (s *SHTC3) report(r Reading) {
	s.mx.Lock()
	cb := s.callback
	s.mx.Unlock()
	if cb == nil {
		return
	}
	cb(s.opts.PrintTime(r.LastUpdated), r.Temperature)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
