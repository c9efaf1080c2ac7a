package thermohost

import (
	"fmt"
	"time"
)

// TemperatureCallback receives every successful temperature report together
// with the estimated time the measurement was taken at.
type TemperatureCallback func(readTime time.Time, temperature float64)

// Status is the snapshot exposed to the thermal subsystem.
type Status struct {
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Humidity    float64 `json:"humidity" yaml:"humidity"`
}

// ConfigurationError is returned when a sensor or host cannot be constructed
// from the supplied options.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
