// Package packet converts raw BLE notification payloads into typed sensor
// readings.
//
// Every decoder is a pure function of the payload bytes and the band's fixed
// hardware constants: no state, no I/O, and identical output for identical
// input. A malformed payload yields a *ParseError; callers drop the packet
// and keep the stream alive.
package packet

import (
	"encoding/binary"
	"time"

	"github.com/srg/bandlink/internal/band"
)

const (
	headerSize = 4

	eegPacketSize    = 179
	eegSampleSize    = 7
	ppgPacketSize    = 172
	ppgSampleSize    = 6
	accelSampleSize  = 6
	accelMinimumSize = headerSize + accelSampleSize
)

// Decoder decodes sensor packets using a fixed hardware configuration.
type Decoder struct {
	hw  band.Hardware
	reg *band.Registry
}

// NewDecoder creates a decoder for the given hardware constants.
func NewDecoder(hw band.Hardware) *Decoder {
	return &Decoder{hw: hw, reg: band.NewRegistry(hw)}
}

// Hardware returns the constants the decoder was built with.
func (d *Decoder) Hardware() band.Hardware {
	return d.hw
}

// Decode dispatches a raw payload to the decoder for the given sensor and
// returns the contained readings in packet order. The at argument supplies
// the capture time for sensors without an on-wire clock (battery).
func (d *Decoder) Decode(t band.SensorType, data []byte, at time.Time) ([]band.Reading, error) {
	switch t {
	case band.SensorEEG:
		samples, err := d.DecodeEEG(data)
		if err != nil {
			return nil, err
		}
		readings := make([]band.Reading, len(samples))
		for i, s := range samples {
			readings[i] = s
		}
		return readings, nil
	case band.SensorPPG:
		samples, err := d.DecodePPG(data)
		if err != nil {
			return nil, err
		}
		readings := make([]band.Reading, len(samples))
		for i, s := range samples {
			readings[i] = s
		}
		return readings, nil
	case band.SensorAccelerometer:
		samples, err := d.DecodeAccel(data)
		if err != nil {
			return nil, err
		}
		readings := make([]band.Reading, len(samples))
		for i, s := range samples {
			readings[i] = s
		}
		return readings, nil
	case band.SensorBattery:
		sample, err := d.DecodeBattery(data, at)
		if err != nil {
			return nil, err
		}
		return []band.Reading{sample}, nil
	default:
		return nil, parseErrorf(t, "no decoder for sensor")
	}
}

// originTime reconstructs the packet's absolute origin timestamp from the
// 4-byte little-endian hardware tick counter at the start of the payload.
// Ticks count a 32.768 kHz clock: seconds = ticks / divisor / 1000.
func (d *Decoder) originTime(header []byte) time.Time {
	ticks := binary.LittleEndian.Uint32(header[:headerSize])
	seconds := float64(ticks) / d.hw.TimestampDivisor / 1000.0
	return time.Unix(0, int64(seconds*float64(time.Second)))
}

// signExtend24 assembles a big-endian 24-bit two's complement value and
// widens it to int32, preserving sign.
func signExtend24(b0, b1, b2 byte) int32 {
	v := int32(b0)<<16 | int32(b1)<<8 | int32(b2)
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}

// uint24 assembles a big-endian unsigned 24-bit value.
func uint24(b0, b1, b2 byte) uint32 {
	return uint32(b0)<<16 | uint32(b1)<<8 | uint32(b2)
}
