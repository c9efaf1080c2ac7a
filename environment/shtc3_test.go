package environment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/thermohost"
)

func TestSHTC3Config_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *SHTC3Config)
		field  string
	}{
		{"valid", func(c *SHTC3Config) {}, ""},
		{"missing name", func(c *SHTC3Config) { c.Name = "" }, "name"},
		{"reserved address", func(c *SHTC3Config) { c.Address = 0x03 }, "bus_address"},
		{"10-bit address", func(c *SHTC3Config) { c.Address = 0x80 }, "bus_address"},
		{"zero speed", func(c *SHTC3Config) { c.SpeedHz = 0 }, "bus_speed_hz"},
		{"too fast", func(c *SHTC3Config) { c.SpeedHz = 3_400_000 }, "bus_speed_hz"},
		{"inverted bounds", func(c *SHTC3Config) { c.MinTemp, c.MaxTemp = 80, 0 }, "min_temp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cerr *thermohost.ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestNewSHTC3_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Address = 0
	s, err := NewSHTC3(staticSim(20, 40), newManualScheduler(), cfg)
	assert.Nil(t, s)
	var cerr *thermohost.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestSHTC3_DefaultConfig(t *testing.T) {
	cfg := DefaultSHTC3Config()
	assert.Equal(t, byte(0x70), cfg.Address)
	assert.Equal(t, uint32(100_000), cfg.SpeedHz)
	assert.True(t, cfg.CheckCRC)
	assert.False(t, cfg.Identify)
}

type speedBus struct {
	*SimulatedSHTC3
	speed uint32
	err   error
}

func (b *speedBus) SetSpeed(ctx context.Context, hz uint32) error {
	b.speed = hz
	return b.err
}

func TestSHTC3_ConnectAppliesSpeed(t *testing.T) {
	bus := &speedBus{SimulatedSHTC3: staticSim(20, 40)}
	sched := newManualScheduler()
	s, _ := newTestSensor(t, bus, sched)
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, uint32(100_000), bus.speed)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrConnected)
	assert.Equal(t, 1, sched.registered)

	failing := &speedBus{SimulatedSHTC3: staticSim(20, 40), err: errors.New("unsupported")}
	s, _ = newTestSensor(t, failing, newManualScheduler())
	assert.Error(t, s.Connect(context.Background()))
}

func TestSHTC3_Identify(t *testing.T) {
	bus := staticSim(20, 40)
	s, _ := newTestSensor(t, bus, newManualScheduler())
	id, err := s.Identify(context.Background())
	require.NoError(t, err)
	assert.True(t, IsSHTC3(id))
	assert.Equal(t, []SHTC3Command{SHTC3Wakeup, SHTC3SoftReset, SHTC3Wakeup, SHTC3ReadID, SHTC3Sleep}, bus.Commands())
	assert.False(t, bus.Awake())
}

func TestSHTC3_ConnectWithIdentify(t *testing.T) {
	tests := []struct {
		name string
		bus  thermohost.I2CBus
	}{
		{"known chip", staticSim(20, 40)},
		{"unknown chip", NewSimulatedSHTC3(nil, nil, WithSimulatedID(0x1234))},
		{"no device", NewSimulatedSHTC3(nil, nil, WithSimulatedAddress(0x44))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Identify = true
			sched := newManualScheduler()
			s, err := NewSHTC3(tt.bus, sched, cfg, WithLogger(quietLogger()))
			require.NoError(t, err)
			// identification problems never prevent sampling
			require.NoError(t, s.Connect(context.Background()))
			assert.Equal(t, 1, sched.registered)
		})
	}
}

func TestSHTC3_SoftReset(t *testing.T) {
	bus := new(MockI2CBus)
	for _, cmd := range []SHTC3Command{SHTC3Wakeup, SHTC3SoftReset, SHTC3Wakeup, SHTC3Sleep} {
		bus.On("WriteToAddr", mock.Anything, byte(0x70), cmd.Encode()).Return(nil).Once()
	}
	s, _ := newTestSensor(t, bus, newManualScheduler())
	require.NoError(t, s.SoftReset(context.Background()))
	bus.AssertExpectations(t)
}

func TestSHTC3_Measure(t *testing.T) {
	bus := staticSim(25.37, 12.34)
	s, reported := newTestSensor(t, bus, newManualScheduler())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := s.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25.37, r.Temperature)
	assert.Equal(t, 12.34, r.Humidity)
	assert.Len(t, *reported, 1)

	failing := new(MockI2CBus)
	failing.On("WriteToAddr", mock.Anything, byte(0x70), mock.Anything).Return(errors.New("no ack")).Once()
	s, _ = newTestSensor(t, failing, newManualScheduler())
	_, err = s.Measure(ctx)
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestSHTC3_StatusRounding(t *testing.T) {
	s, _ := newTestSensor(t, staticSim(0, 0), newManualScheduler())
	s.cycle.reading.Store(&Reading{Temperature: 21.456, Humidity: 40.123})
	assert.Equal(t, thermohost.Status{Temperature: 21.46, Humidity: 40.123}, s.Status(epoch))
}

func TestSHTC3_MinMax(t *testing.T) {
	s, _ := newTestSensor(t, staticSim(0, 0), newManualScheduler())
	lo, hi := s.MinMax()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 80.0, hi)
	s.SetupMinMax(-10, 60)
	lo, hi = s.MinMax()
	assert.Equal(t, -10.0, lo)
	assert.Equal(t, 60.0, hi)
	assert.Equal(t, 800*time.Millisecond, s.ReportInterval())
}
