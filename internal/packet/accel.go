package packet

import (
	"time"

	"github.com/srg/bandlink/internal/band"
)

// DecodeAccel decodes an accelerometer notification payload.
//
// Layout: 4-byte tick header, then 6 bytes per sample. Only the odd byte of
// each axis pair carries data (offsets +1, +3, +5 are x, y, z); the even
// bytes are reserved by the firmware. Each axis is a signed 8-bit value
// promoted to int16.
//
// The payload must contain at least one full sample. Trailing bytes that do
// not form a complete sample are silently ignored; firmware is expected to
// send exact multiples, but short remainders are not an error.
func (d *Decoder) DecodeAccel(data []byte) ([]band.AccelReading, error) {
	if len(data) < accelMinimumSize {
		return nil, parseErrorf(band.SensorAccelerometer, "packet too short: expected at least %d bytes, got %d", accelMinimumSize, len(data))
	}

	origin := d.originTime(data)
	step := time.Second / time.Duration(d.hw.AccelSampleRate)

	count := (len(data) - headerSize) / accelSampleSize
	readings := make([]band.AccelReading, 0, count)
	for i := 0; i < count; i++ {
		off := headerSize + i*accelSampleSize
		readings = append(readings, band.AccelReading{
			Timestamp: origin.Add(time.Duration(i) * step),
			X:         int16(int8(data[off+1])),
			Y:         int16(int8(data[off+3])),
			Z:         int16(int8(data[off+5])),
		})
	}
	return readings, nil
}
