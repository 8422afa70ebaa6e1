package packet

import (
	"time"

	"github.com/srg/bandlink/internal/band"
)

// DecodePPG decodes one PPG notification payload into its 28 samples.
//
// Layout: 4-byte tick header, then 6 bytes per sample: big-endian unsigned
// 24-bit red and infrared reflectance intensities. No sign extension; these
// are intensities, not ADC codes.
func (d *Decoder) DecodePPG(data []byte) ([]band.PPGReading, error) {
	if len(data) != ppgPacketSize {
		return nil, parseErrorf(band.SensorPPG, "invalid packet length: expected %d bytes, got %d", ppgPacketSize, len(data))
	}

	origin := d.originTime(data)
	step := time.Second / time.Duration(d.hw.PPGSampleRate)

	count := (ppgPacketSize - headerSize) / ppgSampleSize
	readings := make([]band.PPGReading, 0, count)
	for i := 0; i < count; i++ {
		off := headerSize + i*ppgSampleSize
		readings = append(readings, band.PPGReading{
			Timestamp: origin.Add(time.Duration(i) * step),
			Red:       uint24(data[off], data[off+1], data[off+2]),
			IR:        uint24(data[off+3], data[off+4], data[off+5]),
		})
	}
	return readings, nil
}
