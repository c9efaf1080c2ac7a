package i2c

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/thermohost"
	"gobot.io/x/gobot/v2/drivers/i2c"
)

var _ thermohost.I2CBus = &GobotBus{}

// GobotBus routes transactions through a gobot I2C connector, typically a
// board adaptor such as nanopi.NewNeoAdaptor(). A generic driver is started
// lazily for every address used.
type GobotBus struct {
	mx        sync.Mutex
	connector i2c.Connector
	bus       int
	drivers   map[byte]*i2c.GenericDriver
}

func NewGobotBus(connector i2c.Connector, bus int) *GobotBus {
	return &GobotBus{
		connector: connector,
		bus:       bus,
		drivers:   make(map[byte]*i2c.GenericDriver),
	}
}

func (b *GobotBus) driver(address byte) (*i2c.GenericDriver, error) {
	if d, ok := b.drivers[address]; ok {
		return d, nil
	}
	d := i2c.NewGenericDriver(b.connector, fmt.Sprintf("thermohost-%#x", address), int(address), func(c i2c.Config) {
		c.SetBus(b.bus)
	})
	if err := d.Start(); err != nil {
		return nil, fmt.Errorf("could not start i2c driver for %#x: %w", address, err)
	}
	b.drivers[address] = d
	return d, nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	d, err := b.driver(address)
	if err != nil {
		return err
	}
	if err := d.Read(buffer); err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	d, err := b.driver(address)
	if err != nil {
		return err
	}
	if err := d.Write(buffer); err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

// Close halts every driver started on the bus.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var errs []error
	for addr, d := range b.drivers {
		if err := d.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt %#x: %w", addr, err))
		}
		delete(b.drivers, addr)
	}
	return errors.Join(errs...)
}
