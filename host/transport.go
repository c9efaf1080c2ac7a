package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/thermohost"
	"github.com/mklimuk/thermohost/adapter"
	"github.com/mklimuk/thermohost/config"
	"github.com/mklimuk/thermohost/environment"
	"github.com/mklimuk/thermohost/i2c"
)

// Transport is an open bus together with its release function.
type Transport struct {
	Bus   thermohost.I2CBus
	Close func() error
}

// OpenTransport opens the bus described by the transport section. Simulated
// transports get one SHTC3 per configured sensor address.
func OpenTransport(ctx context.Context, cfg config.Config) (Transport, error) {
	t := cfg.Transport
	switch t.Kind {
	case config.TransportPeriph:
		bus, err := i2c.OpenGenericBus(ctx, t.Device)
		if err != nil {
			return Transport{}, err
		}
		return Transport{Bus: bus, Close: bus.Close}, nil
	case config.TransportGobot:
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return Transport{}, fmt.Errorf("adaptor connect error: %w", err)
		}
		bus := i2c.NewGobotBus(npi, t.Bus)
		return Transport{Bus: bus, Close: func() error {
			return errors.Join(bus.Close(), npi.I2cBusAdaptor.Finalize())
		}}, nil
	case config.TransportMCP2221:
		var opts []adapter.MCP2221Opt
		if t.AdapterID != nil {
			id := *t.AdapterID
			opts = append(opts, adapter.WithOpener(func(...int) (adapter.Device, error) {
				return adapter.OpenHID(id)
			}))
		}
		bus := adapter.NewMCP2221(opts...)
		return Transport{Bus: bus, Close: func() error { return bus.Release(context.Background()) }}, nil
	case config.TransportSim:
		bus := NewSimBus()
		for _, s := range cfg.Sensors {
			bus.Attach(environment.NewSimulatedSHTC3(
				constant(t.SimTemperature),
				constant(t.SimHumidity),
				environment.WithSimulatedAddress(byte(s.Address)),
			))
		}
		return Transport{Bus: bus, Close: func() error { return nil }}, nil
	}
	return Transport{}, &thermohost.ConfigurationError{Field: "transport.kind", Reason: fmt.Sprintf("unknown transport %q", t.Kind)}
}

func constant(v float64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return v, nil }
}

// SimBus routes transactions to simulated devices by address.
type SimBus struct {
	mx      sync.Mutex
	devices map[byte]thermohost.I2CBus
}

var _ thermohost.I2CBus = &SimBus{}

func NewSimBus() *SimBus {
	return &SimBus{devices: make(map[byte]thermohost.I2CBus)}
}

func (b *SimBus) Attach(dev *environment.SimulatedSHTC3) {
	b.AttachAt(dev.Address(), dev)
}

func (b *SimBus) AttachAt(address byte, dev thermohost.I2CBus) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.devices[address] = dev
}

func (b *SimBus) device(address byte) (thermohost.I2CBus, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	dev, ok := b.devices[address]
	if !ok {
		return nil, fmt.Errorf("no device at %#x", address)
	}
	return dev, nil
}

func (b *SimBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	dev, err := b.device(address)
	if err != nil {
		return err
	}
	return dev.WriteToAddr(ctx, address, buffer)
}

func (b *SimBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	dev, err := b.device(address)
	if err != nil {
		return err
	}
	return dev.ReadFromAddr(ctx, address, buffer)
}

func (b *SimBus) Release(ctx context.Context) error {
	return nil
}
