package band

import (
	"fmt"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SensorType identifies one of the band's data sources.
type SensorType uint8

const (
	SensorEEG SensorType = iota
	SensorPPG
	SensorAccelerometer
	SensorBattery
)

func (t SensorType) String() string {
	switch t {
	case SensorEEG:
		return "eeg"
	case SensorPPG:
		return "ppg"
	case SensorAccelerometer:
		return "accel"
	case SensorBattery:
		return "battery"
	default:
		return fmt.Sprintf("sensor(%d)", uint8(t))
	}
}

// ParseSensorType converts a user-facing sensor name to a SensorType.
func ParseSensorType(s string) (SensorType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eeg":
		return SensorEEG, nil
	case "ppg":
		return SensorPPG, nil
	case "accel", "accelerometer", "acc":
		return SensorAccelerometer, nil
	case "battery", "batt":
		return SensorBattery, nil
	default:
		return 0, fmt.Errorf("unknown sensor type %q (use eeg, ppg, accel, or battery)", s)
	}
}

// ----------------------------
// Hardware constants
// ----------------------------

// Hardware captures the band's fixed acquisition constants. Decoders are
// parameterized by this record and nothing else.
type Hardware struct {
	// ReferenceVoltage is the ADC reference in volts.
	ReferenceVoltage float64
	// Gain is the analog front-end amplifier gain.
	Gain float64
	// FullScaleCode is the maximum positive 24-bit two's complement code.
	FullScaleCode int32
	// TimestampDivisor converts header ticks to milliseconds (32.768 kHz clock).
	TimestampDivisor float64

	EEGSampleRate   int
	PPGSampleRate   int
	AccelSampleRate int
}

// DefaultHardware returns the constants of the production band firmware.
func DefaultHardware() Hardware {
	return Hardware{
		ReferenceVoltage: 4.033,
		Gain:             12.0,
		FullScaleCode:    8388607,
		TimestampDivisor: 32.768,
		EEGSampleRate:    250,
		PPGSampleRate:    50,
		AccelSampleRate:  50,
	}
}

// ----------------------------
// Sensor descriptors
// ----------------------------

// Batch window bounds accepted by duration-mode collection. Values outside
// this range are clamped, never rejected.
const (
	MinBatchWindow = 40 * time.Millisecond
	MaxBatchWindow = 10 * time.Second
)

// Descriptor describes a sensor's fixed wire layout and rate.
type Descriptor struct {
	Type       SensorType
	SampleRate int // Hz, 0 for event-driven sensors (battery)

	HeaderSize   int
	SampleStride int
	// PacketSize is the exact notification payload length, or 0 when the
	// payload length is variable (accelerometer).
	PacketSize int
	// MinPacketSize is the minimum acceptable payload length.
	MinPacketSize int
}

// SampleStep returns the time between consecutive samples in one packet.
func (d Descriptor) SampleStep() time.Duration {
	if d.SampleRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(d.SampleRate)
}

// SamplesPerPacket returns the sample count of a fixed-size packet.
func (d Descriptor) SamplesPerPacket() int {
	if d.PacketSize == 0 || d.SampleStride == 0 {
		return 0
	}
	return (d.PacketSize - d.HeaderSize) / d.SampleStride
}

// MaxBatch is the largest permitted batch for this sensor: the number of
// samples produced over the maximum collection window.
func (d Descriptor) MaxBatch() int {
	if d.SampleRate <= 0 {
		return 1
	}
	return d.SampleRate * int(MaxBatchWindow/time.Second)
}

// Registry holds the per-sensor descriptors in a stable order.
type Registry struct {
	m *orderedmap.OrderedMap[SensorType, Descriptor]
}

// NewRegistry builds the descriptor registry for the given hardware.
func NewRegistry(hw Hardware) *Registry {
	m := orderedmap.New[SensorType, Descriptor]()
	m.Set(SensorEEG, Descriptor{
		Type:          SensorEEG,
		SampleRate:    hw.EEGSampleRate,
		HeaderSize:    4,
		SampleStride:  7,
		PacketSize:    179,
		MinPacketSize: 179,
	})
	m.Set(SensorPPG, Descriptor{
		Type:          SensorPPG,
		SampleRate:    hw.PPGSampleRate,
		HeaderSize:    4,
		SampleStride:  6,
		PacketSize:    172,
		MinPacketSize: 172,
	})
	m.Set(SensorAccelerometer, Descriptor{
		Type:          SensorAccelerometer,
		SampleRate:    hw.AccelSampleRate,
		HeaderSize:    4,
		SampleStride:  6,
		PacketSize:    0,
		MinPacketSize: 10,
	})
	m.Set(SensorBattery, Descriptor{
		Type:          SensorBattery,
		SampleRate:    0,
		HeaderSize:    0,
		SampleStride:  1,
		PacketSize:    0,
		MinPacketSize: 1,
	})
	return &Registry{m: m}
}

// Lookup returns the descriptor for a sensor type.
func (r *Registry) Lookup(t SensorType) (Descriptor, bool) {
	return r.m.Get(t)
}

// Each calls fn for every descriptor in registration order.
func (r *Registry) Each(fn func(Descriptor)) {
	for pair := r.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Value)
	}
}

// Len returns the number of registered sensors.
func (r *Registry) Len() int {
	return r.m.Len()
}
