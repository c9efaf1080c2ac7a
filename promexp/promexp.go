package promexp

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mklimuk/thermohost"
)

const namespace = "thermohost"

// Source is a sensor whose cached status is exported. Gauges never trigger a
// bus transaction.
type Source interface {
	Name() string
	Status(now time.Time) thermohost.Status
}

type failureCounter interface {
	ConsecutiveFailures() int
}

type FaultReporter interface {
	Fault() error
}

// Register adds the gauges of one sensor to reg. fault may be nil.
func Register(reg prometheus.Registerer, src Source, fault FaultReporter) {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"sensor": src.Name()}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "shtc3",
		Name:        "temperature_degC",
		Help:        "Last decoded temperature in degrees Celsius",
		ConstLabels: labels,
	}, func() float64 {
		return round(src.Status(time.Now()).Temperature, 2)
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "shtc3",
		Name:        "humidity_percent",
		Help:        "Last decoded relative humidity in percent",
		ConstLabels: labels,
	}, func() float64 {
		return round(src.Status(time.Now()).Humidity, 2)
	})

	if fc, ok := src.(failureCounter); ok {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "shtc3",
			Name:        "consecutive_failures",
			ConstLabels: labels,
		}, func() float64 {
			return float64(fc.ConsecutiveFailures())
		})
	}

	if fault != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "thermal",
			Name:        "fault",
			Help:        "1 while the last temperature is outside the configured range",
			ConstLabels: labels,
		}, func() float64 {
			if fault.Fault() != nil {
				return 1
			}
			return 0
		})
	}
}

func round(v float64, decimals int) float64 {
	exp := math.Pow(10, float64(decimals))
	return math.Round(v*exp) / exp
}
