package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/mklimuk/thermohost/api"
	"github.com/mklimuk/thermohost/config"
	"github.com/mklimuk/thermohost/environment"
	"github.com/mklimuk/thermohost/promexp"
	"github.com/mklimuk/thermohost/reactor"
	"github.com/mklimuk/thermohost/sink"
	"github.com/mklimuk/thermohost/thermal"
)

const (
	shutdownTimeout = 5 * time.Second
	// longer than the remaining delays of any cycle
	drainTimeout = 2 * time.Second
)

var _ thermal.Sensor = &environment.SHTC3{}

// Host owns one bus and every sensor on it. All sampling runs on the reactor
// goroutine, network I/O runs on the sink dispatcher.
type Host struct {
	cfg        config.Config
	logger     *slog.Logger
	transport  Transport
	reactor    *reactor.Reactor
	registry   *thermal.Registry
	dispatcher *sink.Dispatcher
	metrics    *prometheus.Registry
	accessLog  io.Writer
}

type options struct {
	logger     *slog.Logger
	clock      clockwork.Clock
	transport  *Transport
	publishers []sink.Publisher
	accessLog  io.Writer
}

type Opt func(*options)

func WithLogger(logger *slog.Logger) Opt {
	return func(o *options) {
		o.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Opt {
	return func(o *options) {
		o.clock = clock
	}
}

// WithTransport skips opening the configured transport.
func WithTransport(t Transport) Opt {
	return func(o *options) {
		o.transport = &t
	}
}

// WithPublishers replaces the publishers built from the mqtt and kafka
// sections.
func WithPublishers(p ...sink.Publisher) Opt {
	return func(o *options) {
		o.publishers = p
	}
}

func WithAccessLog(w io.Writer) Opt {
	return func(o *options) {
		o.accessLog = w
	}
}

// New validates the configuration, opens the transport and registers every
// sensor. Nothing is sampled until Run.
func New(ctx context.Context, cfg config.Config, opts ...Opt) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		logger:    slog.Default(),
		clock:     clockwork.NewRealClock(),
		accessLog: os.Stdout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var err error
	var trans Transport
	if o.transport != nil {
		trans = *o.transport
	} else if trans, err = OpenTransport(ctx, cfg); err != nil {
		return nil, err
	}
	if trans.Close == nil {
		trans.Close = func() error { return nil }
	}

	h := &Host{
		cfg:       cfg,
		logger:    o.logger,
		transport: trans,
		reactor:   reactor.New(reactor.WithClock(o.clock), reactor.WithLogger(o.logger.With("component", "reactor"))),
		registry:  thermal.NewRegistry(o.logger),
		metrics:   prometheus.NewRegistry(),
		accessLog: o.accessLog,
	}
	h.metrics.MustRegister(collectors.NewGoCollector())

	monitors, err := h.setupSensors(trans)
	if err != nil {
		_ = trans.Close()
		return nil, err
	}

	// no failure path may follow the dial
	publishers := o.publishers
	if publishers == nil {
		if publishers, err = dialPublishers(cfg); err != nil {
			_ = trans.Close()
			return nil, err
		}
	}
	h.dispatcher = sink.NewDispatcher(publishers, sink.WithLogger(o.logger))
	for _, m := range monitors {
		m.AddListener(h.dispatcher.Submit)
	}
	return h, nil
}

func (h *Host) setupSensors(trans Transport) ([]*thermal.Monitor, error) {
	err := h.registry.AddSensorFactory(config.SensorTypeSHTC3, func(sc config.Sensor) (thermal.Sensor, error) {
		shtc3Cfg, err := sc.SHTC3()
		if err != nil {
			return nil, err
		}
		s, err := environment.NewSHTC3(trans.Bus, h.reactor, shtc3Cfg, environment.WithLogger(h.logger))
		if err != nil {
			// keep the interface nil
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	monitors := make([]*thermal.Monitor, 0, len(h.cfg.Sensors))
	for _, sc := range h.cfg.Sensors {
		m, err := h.registry.Setup(sc)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", sc.Name, err)
		}
		s, _, err := h.registry.Lookup(sc.Name)
		if err != nil {
			return nil, err
		}
		promexp.Register(h.metrics, s, m)
		monitors = append(monitors, m)
	}
	return monitors, nil
}

func dialPublishers(cfg config.Config) ([]sink.Publisher, error) {
	var publishers []sink.Publisher
	if cfg.MQTT.Enabled() {
		m, err := sink.DialMQTT(cfg.MQTT)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, m)
	}
	if cfg.Kafka.Enabled() {
		publishers = append(publishers, sink.NewKafka(sink.NewKafkaWriter(cfg.Kafka)))
	}
	return publishers, nil
}

func (h *Host) Registry() *thermal.Registry {
	return h.registry
}

func (h *Host) Metrics() *prometheus.Registry {
	return h.metrics
}

// Run connects the sensors and serves until ctx is cancelled. On the way out
// sensors are closed first and cycles in flight get up to drainTimeout to put
// their sensor back to sleep before the reactor stops.
func (h *Host) Run(ctx context.Context) error {
	defer func() {
		if err := h.transport.Close(); err != nil {
			h.logger.Warn("could not close transport", "error", err)
		}
	}()
	if err := h.registry.Connect(ctx); err != nil {
		_ = h.registry.Close()
		return err
	}
	h.logger.Info("host started", "transport", h.cfg.Transport.Kind, "sensors", h.registry.Names())

	rctx, stopReactor := context.WithCancel(context.Background())
	defer stopReactor()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := h.reactor.Run(rctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopReactor()
		if err := h.registry.Close(); err != nil {
			h.logger.Warn("could not close sensors", "error", err)
		}
		dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := h.reactor.WaitIdle(dctx); err != nil {
			h.logger.Warn("sampling cycles still in flight at shutdown", "error", err)
		}
		return nil
	})
	g.Go(func() error { return h.dispatcher.Run(gctx) })
	if h.cfg.HTTP.Listen != "" {
		srv := &http.Server{
			Addr:              h.cfg.HTTP.Listen,
			Handler:           api.NewHandler(h.registry, h.metrics, h.accessLog),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			h.logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
