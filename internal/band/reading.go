package band

import "time"

// Reading is a single typed sensor sample with its capture timestamp.
// All implementations are immutable values.
type Reading interface {
	Sensor() SensorType
	Time() time.Time
}

// EEGReading is one two-channel EEG sample.
type EEGReading struct {
	Timestamp time.Time `json:"timestamp"`
	// Ch1 and Ch2 are channel voltages in microvolts.
	Ch1 float64 `json:"ch1uV"`
	Ch2 float64 `json:"ch2uV"`
	// Ch1Raw and Ch2Raw are the sign-extended 24-bit ADC codes.
	Ch1Raw int32 `json:"ch1Raw"`
	Ch2Raw int32 `json:"ch2Raw"`
	// LeadOff is true when any electrode is disconnected.
	LeadOff bool `json:"leadOff"`
}

func (r EEGReading) Sensor() SensorType { return SensorEEG }
func (r EEGReading) Time() time.Time    { return r.Timestamp }

// PPGReading is one photoplethysmography sample. Red and IR are unsigned
// reflectance intensities, not ADC codes.
type PPGReading struct {
	Timestamp time.Time `json:"timestamp"`
	Red       uint32    `json:"red"`
	IR        uint32    `json:"ir"`
}

func (r PPGReading) Sensor() SensorType { return SensorPPG }
func (r PPGReading) Time() time.Time    { return r.Timestamp }

// AccelReading is one three-axis accelerometer sample.
type AccelReading struct {
	Timestamp time.Time `json:"timestamp"`
	X         int16     `json:"x"`
	Y         int16     `json:"y"`
	Z         int16     `json:"z"`
}

func (r AccelReading) Sensor() SensorType { return SensorAccelerometer }
func (r AccelReading) Time() time.Time    { return r.Timestamp }

// BatteryReading is the band's charge level in percent.
type BatteryReading struct {
	Timestamp time.Time `json:"timestamp"`
	Level     uint8     `json:"level"`
}

func (r BatteryReading) Sensor() SensorType { return SensorBattery }
func (r BatteryReading) Time() time.Time    { return r.Timestamp }
