package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/mklimuk/thermohost"
)

var _ thermohost.I2CBus = &SimulatedSHTC3{}

// TemperatureBehaviorFunc defines the function signature for temperature behavior.
// It returns the temperature in Celsius or an error.
type TemperatureBehaviorFunc func(ctx context.Context) (float64, error)

// HumidityBehaviorFunc defines the function signature for humidity behavior.
// It returns the relative humidity in %RH or an error.
type HumidityBehaviorFunc func(ctx context.Context) (float64, error)

// SimulatedSHTC3 is a bus with a single SHTC3 attached. It answers the sensor
// command words with values produced by behavior functions, so the driver can
// run without any hardware. Like the real chip it ignores everything but a
// wakeup while asleep.
//
// Example usage:
//
//	bus := NewSimulatedSHTC3(
//		func(ctx context.Context) (float64, error) { return 22.5, nil },
//		func(ctx context.Context) (float64, error) { return 45.0, nil },
//	)
type SimulatedSHTC3 struct {
	mx           sync.Mutex
	address      byte
	id           uint16
	tempBehavior TemperatureBehaviorFunc
	humBehavior  HumidityBehaviorFunc

	awake   bool
	pending []byte
	log     []SHTC3Command
	reads   int
}

type SimulatedSHTC3Opt func(*SimulatedSHTC3)

func WithSimulatedAddress(address byte) SimulatedSHTC3Opt {
	return func(s *SimulatedSHTC3) {
		s.address = address
	}
}

func WithSimulatedID(id uint16) SimulatedSHTC3Opt {
	return func(s *SimulatedSHTC3) {
		s.id = id
	}
}

func NewSimulatedSHTC3(tempBehavior TemperatureBehaviorFunc, humBehavior HumidityBehaviorFunc, opts ...SimulatedSHTC3Opt) *SimulatedSHTC3 {
	s := &SimulatedSHTC3{
		address:      SHTC3DefaultAddress,
		id:           0x0887,
		tempBehavior: tempBehavior,
		humBehavior:  humBehavior,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SimulatedSHTC3) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if address != s.address {
		return fmt.Errorf("no device at %#x", address)
	}
	if len(buffer) != 2 {
		return fmt.Errorf("shtc3 sim: expected 2 byte command, got %d", len(buffer))
	}
	cmd := SHTC3Command(binary.BigEndian.Uint16(buffer))
	if !s.awake && cmd != SHTC3Wakeup {
		return fmt.Errorf("shtc3 sim: %s nacked, sensor asleep", cmd)
	}
	s.log = append(s.log, cmd)
	switch cmd {
	case SHTC3Wakeup:
		s.awake = true
	case SHTC3Sleep, SHTC3SoftReset:
		s.awake = false
		s.pending = nil
	case SHTC3ReadID:
		s.pending = make([]byte, shtc3IDLen)
		binary.BigEndian.PutUint16(s.pending, s.id)
		s.pending[2] = CRC8(s.pending[0:2])
	case SHTC3MeasureTFirstNoCS:
		temp, err := s.tempBehavior(ctx)
		if err != nil {
			return err
		}
		hum, err := s.humBehavior(ctx)
		if err != nil {
			return err
		}
		s.pending = EncodeMeasurement(RawFromTemperature(temp), RawFromHumidity(hum))
	default:
		return fmt.Errorf("shtc3 sim: unsupported command %s", cmd)
	}
	return nil
}

func (s *SimulatedSHTC3) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if address != s.address {
		return fmt.Errorf("no device at %#x", address)
	}
	if !s.awake || s.pending == nil {
		return fmt.Errorf("shtc3 sim: read nacked, no data")
	}
	s.reads++
	n := copy(buffer, s.pending)
	s.pending = nil
	if n < len(buffer) {
		return fmt.Errorf("shtc3 sim: %w: %d of %d bytes", thermohost.ErrShortRead, n, len(buffer))
	}
	return nil
}

func (s *SimulatedSHTC3) Release(ctx context.Context) error {
	return nil
}

func (s *SimulatedSHTC3) Address() byte {
	return s.address
}

// Commands returns the command words received so far.
func (s *SimulatedSHTC3) Commands() []SHTC3Command {
	s.mx.Lock()
	defer s.mx.Unlock()
	out := make([]SHTC3Command, len(s.log))
	copy(out, s.log)
	return out
}

func (s *SimulatedSHTC3) Reads() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.reads
}

func (s *SimulatedSHTC3) Awake() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.awake
}
