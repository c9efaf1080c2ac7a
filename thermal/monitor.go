package thermal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/thermohost"
)

// Report is a single temperature report enriched with the cached humidity
// and the fault state after the report was evaluated.
type Report struct {
	Sensor      string    `json:"sensor"`
	ReadTime    time.Time `json:"read_time"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Fault       bool      `json:"fault"`
}

type Listener func(r Report)

// FaultError is returned by Monitor.Fault while the last reported temperature
// is outside the configured range.
type FaultError struct {
	Sensor      string
	Temperature float64
	Min         float64
	Max         float64
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("sensor %s temperature %.2f outside range [%.2f, %.2f]", e.Sensor, e.Temperature, e.Min, e.Max)
}

// Monitor receives the temperature callback of one sensor, keeps the last
// report and checks it against the sensor min/max.
type Monitor struct {
	mx        sync.RWMutex
	sensor    Sensor
	logger    *slog.Logger
	last      Report
	fault     *FaultError
	listeners []Listener
}

func NewMonitor(sensor Sensor, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		sensor: sensor,
		logger: logger.With("sensor", sensor.Name()),
	}
}

func (m *Monitor) AddListener(l Listener) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.listeners = append(m.listeners, l)
}

// OnTemperature satisfies thermohost.TemperatureCallback.
func (m *Monitor) OnTemperature(readTime time.Time, temperature float64) {
	minTemp, maxTemp := m.sensor.MinMax()
	status := m.sensor.Status(readTime)
	r := Report{
		Sensor:      m.sensor.Name(),
		ReadTime:    readTime,
		Temperature: temperature,
		Humidity:    status.Humidity,
	}
	m.mx.Lock()
	wasFaulty := m.fault != nil
	if temperature < minTemp || temperature > maxTemp {
		m.fault = &FaultError{Sensor: r.Sensor, Temperature: temperature, Min: minTemp, Max: maxTemp}
		if !wasFaulty {
			m.logger.Error("temperature out of range", "temperature", temperature, "min", minTemp, "max", maxTemp)
		}
	} else {
		m.fault = nil
		if wasFaulty {
			m.logger.Info("temperature back in range", "temperature", temperature)
		}
	}
	r.Fault = m.fault != nil
	m.last = r
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mx.Unlock()

	for _, l := range listeners {
		l(r)
	}
}

// Last returns the last report and whether one was received at all.
func (m *Monitor) Last() (Report, bool) {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return m.last, !m.last.ReadTime.IsZero()
}

func (m *Monitor) Fault() error {
	m.mx.RLock()
	defer m.mx.RUnlock()
	if m.fault == nil {
		return nil
	}
	return m.fault
}

var _ thermohost.TemperatureCallback = (&Monitor{}).OnTemperature
