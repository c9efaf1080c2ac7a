package environment

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrMalformedResponse = errors.New("malformed response")
var ErrChecksumMismatch = errors.New("checksum mismatch")

// SHTC3 I2C address (7-bit)
const SHTC3DefaultAddress = 0x70

const (
	shtc3MeasurementLen = 6
	shtc3IDLen          = 3

	// bits 11 and 5:0 of the ID register identify the SHTC3
	shtc3IDMask  uint16 = 0x083F
	shtc3ChipID  uint16 = 0x0807
	crc8Init     byte   = 0xFF
	crc8Poly     byte   = 0x31
	crc8WordSize        = 2
)

// SHTC3Command is a 16 bit command word, sent MSB first.
type SHTC3Command uint16

const (
	SHTC3Wakeup    SHTC3Command = 0x3517
	SHTC3Sleep     SHTC3Command = 0xB098
	SHTC3SoftReset SHTC3Command = 0x805D
	SHTC3ReadID    SHTC3Command = 0xEFC8

	// Normal power, clock stretching disabled
	// Measure T first, then RH
	SHTC3MeasureTFirstNoCS SHTC3Command = 0x7866
)

var shtc3CommandNames = map[SHTC3Command]string{
	SHTC3Wakeup:            "wakeup",
	SHTC3Sleep:             "sleep",
	SHTC3SoftReset:         "soft-reset",
	SHTC3ReadID:            "read-id",
	SHTC3MeasureTFirstNoCS: "measure",
}

func (c SHTC3Command) String() string {
	if name, ok := shtc3CommandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("%#04x", uint16(c))
}

// Encode returns the wire representation of the command.
func (c SHTC3Command) Encode() []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(c))
	return out
}

// RawMeasurement is the undecoded content of a measurement response.
type RawMeasurement struct {
	Temperature      uint16
	TemperatureCheck byte
	Humidity         uint16
	HumidityCheck    byte
}

// DecodeMeasurement splits a T-first measurement response:
// T[0:2], CRC, RH[3:5], CRC. Extra trailing bytes are ignored.
func DecodeMeasurement(buf []byte) (RawMeasurement, error) {
	if len(buf) < shtc3MeasurementLen {
		return RawMeasurement{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedResponse, shtc3MeasurementLen, len(buf))
	}
	return RawMeasurement{
		Temperature:      binary.BigEndian.Uint16(buf[0:2]),
		TemperatureCheck: buf[2],
		Humidity:         binary.BigEndian.Uint16(buf[3:5]),
		HumidityCheck:    buf[5],
	}, nil
}

// Verify checks both check bytes against the Sensirion CRC of their words.
func (m RawMeasurement) Verify() error {
	if crc := wordCRC8(m.Temperature); crc != m.TemperatureCheck {
		return fmt.Errorf("%w: temperature: expected %#x, got %#x", ErrChecksumMismatch, crc, m.TemperatureCheck)
	}
	if crc := wordCRC8(m.Humidity); crc != m.HumidityCheck {
		return fmt.Errorf("%w: humidity: expected %#x, got %#x", ErrChecksumMismatch, crc, m.HumidityCheck)
	}
	return nil
}

// EncodeMeasurement is the inverse of DecodeMeasurement with valid check bytes.
func EncodeMeasurement(temperature, humidity uint16) []byte {
	buf := make([]byte, shtc3MeasurementLen)
	binary.BigEndian.PutUint16(buf[0:2], temperature)
	buf[2] = CRC8(buf[0:2])
	binary.BigEndian.PutUint16(buf[3:5], humidity)
	buf[5] = CRC8(buf[3:5])
	return buf
}

// DecodeID reads the 16 bit ID register response (word + CRC).
func DecodeID(buf []byte) (uint16, error) {
	if len(buf) < shtc3IDLen {
		return 0, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedResponse, shtc3IDLen, len(buf))
	}
	if crc := CRC8(buf[0:2]); crc != buf[2] {
		return 0, fmt.Errorf("%w: id: expected %#x, got %#x", ErrChecksumMismatch, crc, buf[2])
	}
	return binary.BigEndian.Uint16(buf[0:2]), nil
}

// IsSHTC3 reports whether the ID register value belongs to an SHTC3.
func IsSHTC3(id uint16) bool {
	return id&shtc3IDMask == shtc3ChipID
}

// CRC8 is the Sensirion CRC-8, polynomial 0x31, init 0xFF.
func CRC8(data []byte) byte {
	crc := crc8Init
	for _, b := range data {
		crc ^= b
		for range 8 {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ crc8Poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func wordCRC8(word uint16) byte {
	var buf [crc8WordSize]byte
	binary.BigEndian.PutUint16(buf[:], word)
	return CRC8(buf[:])
}
