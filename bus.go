package thermohost

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// ErrShortRead is returned by transports that received fewer bytes than requested.
var ErrShortRead = fmt.Errorf("short read")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is the transport a driver talks through. Every call is expected to be
// a single atomic transaction with respect to other users of the same bus.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// SpeedSetter is implemented by transports that can change the bus clock.
type SpeedSetter interface {
	SetSpeed(ctx context.Context, hz uint32) error
}
