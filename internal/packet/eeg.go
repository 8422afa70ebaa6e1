package packet

import (
	"time"

	"github.com/srg/bandlink/internal/band"
)

// DecodeEEG decodes one EEG notification payload into its 25 samples.
//
// Layout: 4-byte tick header, then 7 bytes per sample: one lead-off flag
// byte followed by two big-endian signed 24-bit channel codes. Channel
// voltage is raw * Vref / gain / fullScale, scaled to microvolts.
func (d *Decoder) DecodeEEG(data []byte) ([]band.EEGReading, error) {
	if len(data) != eegPacketSize {
		return nil, parseErrorf(band.SensorEEG, "invalid packet length: expected %d bytes, got %d", eegPacketSize, len(data))
	}

	origin := d.originTime(data)
	step := time.Second / time.Duration(d.hw.EEGSampleRate)
	scale := d.hw.ReferenceVoltage / d.hw.Gain / float64(d.hw.FullScaleCode) * 1e6

	count := (eegPacketSize - headerSize) / eegSampleSize
	readings := make([]band.EEGReading, 0, count)
	for i := 0; i < count; i++ {
		off := headerSize + i*eegSampleSize
		ch1 := signExtend24(data[off+1], data[off+2], data[off+3])
		ch2 := signExtend24(data[off+4], data[off+5], data[off+6])
		readings = append(readings, band.EEGReading{
			Timestamp: origin.Add(time.Duration(i) * step),
			Ch1:       float64(ch1) * scale,
			Ch2:       float64(ch2) * scale,
			Ch1Raw:    ch1,
			Ch2Raw:    ch2,
			LeadOff:   data[off] != 0,
		})
	}
	return readings, nil
}
