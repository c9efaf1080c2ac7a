package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/thermohost"
)

// fakeHID answers each request report with the next queued response.
type fakeHID struct {
	requests  [][]byte
	responses [][]byte
}

func (f *fakeHID) open(id ...int) (Device, error) {
	return f, nil
}

func (f *fakeHID) Write(b []byte) (int, error) {
	f.requests = append(f.requests, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeHID) Read(b []byte) (int, error) {
	if len(f.responses) == 0 {
		return 0, errors.New("no response queued")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	clear(b)
	copy(b, resp)
	return len(b), nil
}

func (f *fakeHID) Close() error {
	return nil
}

func newTestAdapter(f *fakeHID) *MCP2221 {
	return NewMCP2221(WithOpener(f.open), WithResponseWait(0))
}

func TestMCP2221_WriteToAddr(t *testing.T) {
	f := &fakeHID{responses: [][]byte{{cmdI2CWrite, 0x00}}}
	d := newTestAdapter(f)
	require.NoError(t, d.WriteToAddr(context.Background(), 0x70, []byte{0x35, 0x17}))
	require.Len(t, f.requests, 1)
	assert.Equal(t, []byte{cmdI2CWrite, 0x02, 0x00, 0xE0, 0x35, 0x17}, f.requests[0][:6])
	assert.Len(t, f.requests[0], reportSize)
}

func TestMCP2221_WriteBusy(t *testing.T) {
	f := &fakeHID{responses: [][]byte{{cmdI2CWrite, 0x01}}}
	d := newTestAdapter(f)
	err := d.WriteToAddr(context.Background(), 0x70, []byte{0x35, 0x17})
	assert.ErrorIs(t, err, thermohost.ErrBusBusy)
}

func TestMCP2221_ReadFromAddr(t *testing.T) {
	data := []byte{0x66, 0x66, 0x93, 0xBE, 0xEF, 0x92}
	f := &fakeHID{responses: [][]byte{
		{cmdI2CRead, 0x00},
		append([]byte{cmdI2CGetData, 0x00, 0x00, 0x06}, data...),
	}}
	d := newTestAdapter(f)
	buf := make([]byte, 6)
	require.NoError(t, d.ReadFromAddr(context.Background(), 0x70, buf))
	assert.Equal(t, data, buf)
	assert.Equal(t, []byte{cmdI2CRead, 0x06, 0x00, 0xE1}, f.requests[0][:4])
	assert.Equal(t, byte(cmdI2CGetData), f.requests[1][0])
}

func TestMCP2221_ReadFromAddrErrors(t *testing.T) {
	tests := []struct {
		name    string
		getData []byte
		is      error
	}{
		{"engine error", []byte{cmdI2CGetData, readEngineError}, nil},
		{"invalid size", []byte{cmdI2CGetData, 0x00, 0x00, invalidDataSize}, nil},
		{"short", []byte{cmdI2CGetData, 0x00, 0x00, 0x03, 0x01, 0x02, 0x03}, thermohost.ErrShortRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeHID{responses: [][]byte{{cmdI2CRead, 0x00}, tt.getData}}
			err := newTestAdapter(f).ReadFromAddr(context.Background(), 0x70, make([]byte, 6))
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestMCP2221_SetSpeed(t *testing.T) {
	f := &fakeHID{responses: [][]byte{{cmdStatusSetParameters, 0x00, 0x00, speedAccepted}}}
	d := newTestAdapter(f)
	require.NoError(t, d.SetSpeed(context.Background(), 100_000))
	assert.Equal(t, byte(paramSetSpeed), f.requests[0][3])
	assert.Equal(t, byte(117), f.requests[0][4])

	f = &fakeHID{responses: [][]byte{{cmdStatusSetParameters, 0x00, 0x00, 0x21}}}
	err := newTestAdapter(f).SetSpeed(context.Background(), 400_000)
	assert.ErrorIs(t, err, ErrCommandFailed)

	assert.Error(t, newTestAdapter(&fakeHID{}).SetSpeed(context.Background(), 10_000))
}

func TestMCP2221_Status(t *testing.T) {
	resp := make([]byte, reportSize)
	resp[0] = cmdStatusSetParameters
	resp[9], resp[10] = 0x06, 0x00
	resp[11], resp[12] = 0x04, 0x00
	resp[13] = 2
	resp[14] = 117
	resp[15] = 9
	resp[16], resp[17] = 0xE0, 0x00
	resp[25] = 1
	f := &fakeHID{responses: [][]byte{resp}}
	st, err := newTestAdapter(f).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &MCP2221Status{
		I2CDataBufferCounter:   2,
		I2CSpeedDivider:        117,
		I2CTimeout:             9,
		CurrentAddress:         "e000",
		LastWriteRequestedSize: 6,
		LastWriteSentSize:      4,
		ReadPending:            1,
	}, st)
}

func TestMCP2221_ReleaseBus(t *testing.T) {
	f := &fakeHID{responses: [][]byte{{cmdStatusSetParameters}}}
	_, err := newTestAdapter(f).ReleaseBus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(paramCancelTransfer), f.requests[0][2])
}

func TestMCP2221_DeviceMissing(t *testing.T) {
	d := NewMCP2221(WithOpener(func(id ...int) (Device, error) { return nil, ErrDeviceNotFound }))
	err := d.WriteToAddr(context.Background(), 0x70, []byte{0x35, 0x17})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}
