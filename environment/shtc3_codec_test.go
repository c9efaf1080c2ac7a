package environment

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHTC3Command_Encode(t *testing.T) {
	tests := []struct {
		given    SHTC3Command
		expected []byte
	}{
		{SHTC3Wakeup, []byte{0x35, 0x17}},
		{SHTC3Sleep, []byte{0xB0, 0x98}},
		{SHTC3MeasureTFirstNoCS, []byte{0x78, 0x66}},
		{SHTC3SoftReset, []byte{0x80, 0x5D}},
		{SHTC3ReadID, []byte{0xEF, 0xC8}},
	}
	for _, test := range tests {
		t.Run(test.given.String(), func(t *testing.T) {
			assert.Equal(t, test.expected, test.given.Encode())
		})
	}
}

func TestSHTC3Command_String(t *testing.T) {
	assert.Equal(t, "measure", SHTC3MeasureTFirstNoCS.String())
	assert.Equal(t, "0x1234", SHTC3Command(0x1234).String())
}

func TestDecodeMeasurement(t *testing.T) {
	raw, err := DecodeMeasurement([]byte{0x19, 0x99, 0x00, 0x7F, 0xFF, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint16(6553), raw.Temperature)
	assert.Equal(t, byte(0x00), raw.TemperatureCheck)
	assert.Equal(t, uint16(32767), raw.Humidity)
	assert.Equal(t, byte(0x00), raw.HumidityCheck)
	assert.Equal(t, -27.51, TemperatureFromRaw(raw.Temperature))
	assert.Equal(t, 49.99, HumidityFromRaw(raw.Humidity))
}

func TestDecodeMeasurement_Malformed(t *testing.T) {
	tests := [][]byte{
		nil,
		{0x19},
		{0x19, 0x99, 0x00, 0x7F, 0xFF},
	}
	for _, given := range tests {
		t.Run(hex.EncodeToString(given), func(t *testing.T) {
			raw, err := DecodeMeasurement(given)
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Equal(t, RawMeasurement{}, raw)
		})
	}
}

func TestCRC8(t *testing.T) {
	tests := []struct {
		given    []byte
		expected byte
	}{
		// datasheet example
		{[]byte{0xBE, 0xEF}, 0x92},
		{[]byte{0x00, 0x00}, 0x81},
		{[]byte{0x66, 0x66}, 0x93},
	}
	for _, test := range tests {
		t.Run(hex.EncodeToString(test.given), func(t *testing.T) {
			assert.Equal(t, test.expected, CRC8(test.given))
		})
	}
}

func TestRawMeasurement_Verify(t *testing.T) {
	buf := EncodeMeasurement(0x6666, 0xBEEF)
	assert.Equal(t, []byte{0x66, 0x66, 0x93, 0xBE, 0xEF, 0x92}, buf)
	raw, err := DecodeMeasurement(buf)
	require.NoError(t, err)
	assert.NoError(t, raw.Verify())

	corrupted := raw
	corrupted.TemperatureCheck ^= 0x01
	assert.ErrorIs(t, corrupted.Verify(), ErrChecksumMismatch)

	corrupted = raw
	corrupted.HumidityCheck ^= 0x01
	err = corrupted.Verify()
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Contains(t, err.Error(), "humidity")
}

func TestDecodeID(t *testing.T) {
	id, err := DecodeID([]byte{0x08, 0x87, CRC8([]byte{0x08, 0x87})})
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0887), id)
	assert.True(t, IsSHTC3(id))
	assert.False(t, IsSHTC3(0x0100))

	_, err = DecodeID([]byte{0x08, 0x87})
	assert.ErrorIs(t, err, ErrMalformedResponse)
	_, err = DecodeID([]byte{0x08, 0x87, 0x00})
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}
