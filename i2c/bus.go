package i2c

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/thermohost"
	"github.com/mklimuk/thermohost/snsctx"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var _ thermohost.I2CBus = &GenericBus{}
var _ thermohost.SpeedSetter = &GenericBus{}

// GenericBus talks to a host I2C controller through periph. Every call is a
// single Tx serialized by the bus mutex.
type GenericBus struct {
	mx  sync.Mutex
	bus i2c.Bus
}

func NewGenericBus(bus i2c.Bus) *GenericBus {
	return &GenericBus{bus: bus}
}

// OpenGenericBus initializes periph host drivers and opens the named bus.
// An empty name opens the first bus found.
func OpenGenericBus(ctx context.Context, dev string) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		snsctx.Trace(ctx, "periph driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return NewGenericBus(bus), nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	snsctx.Trace(ctx, "i2c read", "addr", fmt.Sprintf("%#x", address), "data", fmt.Sprintf("% x", buffer))
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	snsctx.Trace(ctx, "i2c write", "addr", fmt.Sprintf("%#x", address), "data", fmt.Sprintf("% x", buffer))
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) SetSpeed(ctx context.Context, hz uint32) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if err := b.bus.SetSpeed(physic.Frequency(hz) * physic.Hertz); err != nil {
		return fmt.Errorf("could not set i2c bus speed to %dHz: %w", hz, err)
	}
	return nil
}

func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) Close() error {
	if c, ok := b.bus.(i2c.BusCloser); ok {
		return c.Close()
	}
	return nil
}
