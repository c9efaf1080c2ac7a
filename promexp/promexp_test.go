package promexp

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/thermohost"
)

type fakeSource struct {
	status   thermohost.Status
	failures int
}

func (f *fakeSource) Name() string { return "chamber" }

func (f *fakeSource) Status(now time.Time) thermohost.Status { return f.status }

func (f *fakeSource) ConsecutiveFailures() int { return f.failures }

type fakeFault struct{ err error }

func (f *fakeFault) Fault() error { return f.err }

func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				assert.Equal(t, "sensor", l.GetName())
				assert.Equal(t, "chamber", l.GetValue())
			}
			out[mf.GetName()] = m.GetGauge().GetValue()
		}
	}
	return out
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := &fakeSource{status: thermohost.Status{Temperature: 22.5, Humidity: 45.123}, failures: 3}
	fault := &fakeFault{}
	Register(reg, src, fault)

	got := gather(t, reg)
	assert.Equal(t, map[string]float64{
		"thermohost_shtc3_temperature_degC":     22.5,
		"thermohost_shtc3_humidity_percent":     45.12,
		"thermohost_shtc3_consecutive_failures": 3,
		"thermohost_thermal_fault":              0,
	}, got)

	fault.err = errors.New("too hot")
	src.status.Temperature = 90
	got = gather(t, reg)
	assert.Equal(t, 1.0, got["thermohost_thermal_fault"])
	assert.Equal(t, 90.0, got["thermohost_shtc3_temperature_degC"])
}

func TestRegister_Help(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg, &fakeSource{}, &fakeFault{})
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 4)
	for _, mf := range families {
		assert.NotEmpty(t, mf.GetHelp(), mf.GetName())
	}
}

func TestRegister_Duplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg, &fakeSource{}, nil)
	assert.Panics(t, func() { Register(reg, &fakeSource{}, nil) })
}
