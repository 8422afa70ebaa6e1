package packet

import (
	"time"

	"github.com/srg/bandlink/internal/band"
)

// DecodeBattery decodes a battery level notification. The payload carries no
// clock, so the caller supplies the capture time.
func (d *Decoder) DecodeBattery(data []byte, at time.Time) (band.BatteryReading, error) {
	if len(data) == 0 {
		return band.BatteryReading{}, parseErrorf(band.SensorBattery, "empty packet")
	}
	return band.BatteryReading{Timestamp: at, Level: data[0]}, nil
}
