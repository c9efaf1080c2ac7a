package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mklimuk/thermohost/thermal"
)

const DefaultQueueSize = 64

// Publisher delivers an encoded reading to an external system.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// Event is the wire form of a published reading.
type Event struct {
	ID          string    `json:"id"`
	Sensor      string    `json:"sensor"`
	ReadTime    time.Time `json:"read_time"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Fault       bool      `json:"fault"`
}

func NewEvent(r thermal.Report) Event {
	return Event{
		ID:          uuid.NewString(),
		Sensor:      r.Sensor,
		ReadTime:    r.ReadTime,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Fault:       r.Fault,
	}
}

// Dispatcher moves reports off the reactor goroutine. Submit never blocks, a
// full queue drops the report.
type Dispatcher struct {
	queue      chan thermal.Report
	publishers []Publisher
	logger     *slog.Logger
	timeout    time.Duration
}

type DispatcherOpt func(*Dispatcher)

func WithLogger(logger *slog.Logger) DispatcherOpt {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithQueueSize(size int) DispatcherOpt {
	return func(d *Dispatcher) {
		d.queue = make(chan thermal.Report, size)
	}
}

// WithPublishTimeout bounds a single publish call.
func WithPublishTimeout(timeout time.Duration) DispatcherOpt {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

func NewDispatcher(publishers []Publisher, opts ...DispatcherOpt) *Dispatcher {
	d := &Dispatcher{
		queue:      make(chan thermal.Report, DefaultQueueSize),
		publishers: publishers,
		logger:     slog.Default(),
		timeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "sink")
	return d
}

// Submit satisfies thermal.Listener.
func (d *Dispatcher) Submit(r thermal.Report) {
	select {
	case d.queue <- r:
	default:
		d.logger.Warn("sink queue full, reading dropped", "sensor", r.Sensor, "read_time", r.ReadTime)
	}
}

// Run publishes queued reports until ctx is done, then closes publishers.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-d.queue:
			d.publish(ctx, r)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, r thermal.Report) {
	ev := NewEvent(r)
	payload, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("could not marshal reading", "error", err)
		return
	}
	for _, p := range d.publishers {
		pctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := p.Publish(pctx, ev.Sensor, payload)
		cancel()
		if err != nil {
			d.logger.Warn("publish failed", "publisher", p.Name(), "sensor", ev.Sensor, "error", err)
			continue
		}
		d.logger.Debug("reading published", "publisher", p.Name(), "sensor", ev.Sensor, "id", ev.ID)
	}
}

func (d *Dispatcher) close() {
	var errs []error
	for _, p := range d.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("could not close publishers", "error", err)
	}
}
