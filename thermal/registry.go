package thermal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mklimuk/thermohost"
	"github.com/mklimuk/thermohost/config"
)

var ErrUnknownSensorType = errors.New("unknown sensor type")
var ErrUnknownSensor = errors.New("unknown sensor")

// Sensor is the surface a temperature sensor driver exposes to the thermal
// subsystem.
type Sensor interface {
	Name() string
	SetupMinMax(minTemp, maxTemp float64)
	MinMax() (float64, float64)
	SetupCallback(cb thermohost.TemperatureCallback)
	ReportInterval() time.Duration
	Status(now time.Time) thermohost.Status
	Connect(ctx context.Context) error
	Close() error
}

// Factory builds a sensor from its configuration section.
type Factory func(cfg config.Sensor) (Sensor, error)

type ConnectHook func(ctx context.Context) error

type entry struct {
	sensor  Sensor
	monitor *Monitor
}

// Registry maps sensor types to factories and keeps the sensors built from
// the host configuration.
type Registry struct {
	mx        sync.RWMutex
	logger    *slog.Logger
	factories map[string]Factory
	sensors   map[string]entry
	hooks     []ConnectHook
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
		sensors:   make(map[string]entry),
	}
}

func (r *Registry) AddSensorFactory(sensorType string, f Factory) error {
	key := strings.ToUpper(sensorType)
	r.mx.Lock()
	defer r.mx.Unlock()
	if _, ok := r.factories[key]; ok {
		return fmt.Errorf("sensor factory %s already registered", key)
	}
	r.factories[key] = f
	return nil
}

// RegisterConnectHook adds a function run by Connect. Hooks run in the order
// they were registered; Setup registers one per sensor that arms its first
// sampling cycle.
func (r *Registry) RegisterConnectHook(h ConnectHook) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.hooks = append(r.hooks, h)
}

// Setup builds the sensor, applies its temperature bounds and routes its
// reports through a Monitor.
func (r *Registry) Setup(cfg config.Sensor) (*Monitor, error) {
	key := strings.ToUpper(cfg.Type)
	r.mx.RLock()
	f, ok := r.factories[key]
	_, exists := r.sensors[cfg.Name]
	r.mx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSensorType, cfg.Type)
	}
	if exists {
		return nil, &thermohost.ConfigurationError{Field: "name", Reason: fmt.Sprintf("duplicate sensor %q", cfg.Name)}
	}
	s, err := f(cfg)
	if err != nil {
		return nil, err
	}
	s.SetupMinMax(cfg.MinTemp, cfg.MaxTemp)
	m := NewMonitor(s, r.logger)
	s.SetupCallback(m.OnTemperature)

	r.mx.Lock()
	defer r.mx.Unlock()
	if _, exists := r.sensors[cfg.Name]; exists {
		return nil, &thermohost.ConfigurationError{Field: "name", Reason: fmt.Sprintf("duplicate sensor %q", cfg.Name)}
	}
	r.sensors[cfg.Name] = entry{sensor: s, monitor: m}
	name := cfg.Name
	r.hooks = append(r.hooks, func(ctx context.Context) error {
		if err := s.Connect(ctx); err != nil {
			return fmt.Errorf("could not connect sensor %s: %w", name, err)
		}
		return nil
	})
	r.logger.Debug("sensor registered", "name", cfg.Name, "type", key)
	return m, nil
}

// Connect runs the connect hooks, stopping at the first failure.
func (r *Registry) Connect(ctx context.Context) error {
	r.mx.RLock()
	hooks := append([]ConnectHook(nil), r.hooks...)
	r.mx.RUnlock()
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			return fmt.Errorf("connect hook failed: %w", err)
		}
	}
	return nil
}

func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		s, _, err := r.Lookup(name)
		if err != nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Lookup(name string) (Sensor, *Monitor, error) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	e, ok := r.sensors[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownSensor, name)
	}
	return e.sensor, e.monitor, nil
}

// Names returns sensor names in lexical order.
func (r *Registry) Names() []string {
	r.mx.RLock()
	defer r.mx.RUnlock()
	names := make([]string, 0, len(r.sensors))
	for name := range r.sensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
