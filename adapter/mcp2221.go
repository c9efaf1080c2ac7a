package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/thermohost"
	"github.com/mklimuk/thermohost/snsctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

// the I2C engine runs from a 12MHz clock, divider = 12MHz/speed - 3
const (
	mcp2221ClockHz  = 12_000_000
	minSpeedDivider = 1
	maxSpeedDivider = 255
)

const (
	cmdStatusSetParameters = 0x10
	cmdI2CWrite            = 0x90
	cmdI2CRead             = 0x91
	cmdI2CGetData          = 0x40

	paramCancelTransfer = 0x10
	paramSetSpeed       = 0x20

	speedAccepted   = 0x20
	readEngineError = 0x41
	invalidDataSize = 127
)

var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

var _ thermohost.I2CBus = &MCP2221{}
var _ thermohost.SpeedSetter = &MCP2221{}

// Device is an open HID handle.
type Device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Opener opens the adapter for a single exchange. The optional id selects one
// of several connected adapters.
type Opener func(id ...int) (Device, error)

// MCP2221 is a USB to I2C bridge. Every transaction opens the HID device,
// sends one 64 byte report and reads the 64 byte answer.
type MCP2221 struct {
	mx           sync.Mutex
	open         Opener
	request      []byte
	response     []byte
	responseWait time.Duration
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent"`
	ReadPending            int    `yaml:"read_pending"`
}

type MCP2221Opt func(*MCP2221)

// WithOpener replaces the HID enumeration, mostly for tests.
func WithOpener(open Opener) MCP2221Opt {
	return func(d *MCP2221) {
		d.open = open
	}
}

func WithResponseWait(wait time.Duration) MCP2221Opt {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

func NewMCP2221(opts ...MCP2221Opt) *MCP2221 {
	d := &MCP2221{
		open:         OpenHID,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OpenHID opens the first adapter found or the one with the given index.
func OpenHID(id ...int) (Device, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) > 1 && len(id) == 0 {
		return nil, fmt.Errorf("ambiguous device identification")
	}
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	idx := 0
	if len(id) > 0 {
		idx = id[0]
	}
	if idx < 0 || idx >= len(devs) {
		return nil, fmt.Errorf("no device with id %d", idx)
	}
	dev, err := devs[idx].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdI2CWrite
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	if len(buffer) > 0 {
		copy(d.request[4:], buffer)
	}
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	// write could not be performed
	if d.response[1] == 0x01 {
		slog.Debug("adapter busy", "addr", fmt.Sprintf("%#x", address))
		return thermohost.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdI2CRead
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	if d.response[1] == 0x01 {
		return thermohost.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdI2CGetData
	err = d.send(ctx)
	if err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == readEngineError {
		return fmt.Errorf("error reading the I2C slave data from the I2C engine")
	}
	size := int(d.response[3])
	if size == invalidDataSize {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), size)
	}
	if size < len(buffer) {
		return fmt.Errorf("%w: expected %d, got %d", thermohost.ErrShortRead, len(buffer), size)
	}
	copy(buffer, d.response[4:4+len(buffer)])
	return nil
}

// SetSpeed programs the I2C clock divider. The adapter refuses the change
// while a transfer is in progress.
func (d *MCP2221) SetSpeed(ctx context.Context, hz uint32) error {
	divider, err := speedDivider(hz)
	if err != nil {
		return err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatusSetParameters
	d.request[3] = paramSetSpeed
	d.request[4] = divider
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] != speedAccepted {
		return fmt.Errorf("speed %dHz not accepted: %w", hz, ErrCommandFailed)
	}
	return nil
}

func speedDivider(hz uint32) (byte, error) {
	if hz == 0 {
		return 0, fmt.Errorf("invalid bus speed %d", hz)
	}
	div := int(mcp2221ClockHz/hz) - 3
	if div < minSpeedDivider || div > maxSpeedDivider {
		return 0, fmt.Errorf("bus speed %dHz out of adapter range", hz)
	}
	return byte(div), nil
}

func (d *MCP2221) Status(ctx context.Context, id ...int) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatusSetParameters
	err := d.send(ctx, id...)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

func (d *MCP2221) Release(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	_, err := d.releaseBus(ctx)
	return err
}

// ReleaseBus cancels the current transfer and frees the bus.
func (d *MCP2221) ReleaseBus(ctx context.Context, id ...int) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.releaseBus(ctx, id...)
}

func (d *MCP2221) releaseBus(ctx context.Context, id ...int) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatusSetParameters
	d.request[2] = paramCancelTransfer
	err := d.send(ctx, id...)
	if err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context, id ...int) error {
	dev, err := d.open(id...)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Debug("could not close adapter", "error", err)
		}
	}()
	snsctx.Trace(ctx, "sending message to adapter", "request", "\n"+hex.Dump(d.request))
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	select {
	case <-time.After(d.responseWait):
	case <-ctx.Done():
		return ctx.Err()
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	snsctx.Trace(ctx, "read message from adapter", "response", "\n"+hex.Dump(d.response))
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
