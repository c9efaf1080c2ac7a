package thermal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_Fault(t *testing.T) {
	s := &fakeSensor{name: "chamber", minTemp: 0, maxTemp: 80, humidity: 33.5}
	m := NewMonitor(s, quietLogger())
	var got []Report
	m.AddListener(func(r Report) { got = append(got, r) })

	_, ok := m.Last()
	assert.False(t, ok)

	readTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		temperature float64
		fault       bool
	}{
		{22.5, false},
		{80, false},
		{80.01, true},
		{-0.5, true},
		{0, false},
	}
	for i, tt := range tests {
		m.OnTemperature(readTime.Add(time.Duration(i)*time.Second), tt.temperature)
		last, ok := m.Last()
		require.True(t, ok)
		assert.Equal(t, tt.temperature, last.Temperature)
		assert.Equal(t, tt.fault, last.Fault)
		if tt.fault {
			var ferr *FaultError
			require.ErrorAs(t, m.Fault(), &ferr)
			assert.Equal(t, tt.temperature, ferr.Temperature)
		} else {
			assert.NoError(t, m.Fault())
		}
	}
	require.Len(t, got, len(tests))
	assert.Equal(t, Report{
		Sensor:      "chamber",
		ReadTime:    readTime,
		Temperature: 22.5,
		Humidity:    33.5,
	}, got[0])
}

func TestMonitor_FollowsSetupMinMax(t *testing.T) {
	s := &fakeSensor{name: "chamber", minTemp: 0, maxTemp: 80}
	m := NewMonitor(s, quietLogger())
	m.OnTemperature(time.Now(), 50)
	assert.NoError(t, m.Fault())
	s.SetupMinMax(0, 40)
	m.OnTemperature(time.Now(), 50)
	assert.Error(t, m.Fault())
}
