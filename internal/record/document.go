package record

import (
	"time"

	"github.com/srg/bandlink/internal/band"
)

// Document is the cumulative JSON export: statically typed parallel arrays
// per sensor, populated incrementally and serialized in full at stop.
type Document struct {
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
	StoppedAt time.Time `json:"stoppedAt"`

	EEG     EEGSeries     `json:"eeg"`
	PPG     PPGSeries     `json:"ppg"`
	Accel   AccelSeries   `json:"accel"`
	Battery BatterySeries `json:"battery"`
}

// EEGSeries holds the recorded EEG values as parallel arrays indexed by
// sample.
type EEGSeries struct {
	Timestamps []float64 `json:"timestamps"`
	Ch1Raw     []int32   `json:"ch1Raw"`
	Ch2Raw     []int32   `json:"ch2Raw"`
	Ch1        []float64 `json:"ch1uV"`
	Ch2        []float64 `json:"ch2uV"`
	LeadOff    []bool    `json:"leadOff"`
}

func (s *EEGSeries) append(ts float64, r band.EEGReading) {
	s.Timestamps = append(s.Timestamps, ts)
	s.Ch1Raw = append(s.Ch1Raw, r.Ch1Raw)
	s.Ch2Raw = append(s.Ch2Raw, r.Ch2Raw)
	s.Ch1 = append(s.Ch1, r.Ch1)
	s.Ch2 = append(s.Ch2, r.Ch2)
	s.LeadOff = append(s.LeadOff, r.LeadOff)
}

// PPGSeries holds the recorded PPG values.
type PPGSeries struct {
	Timestamps []float64 `json:"timestamps"`
	Red        []uint32  `json:"red"`
	IR         []uint32  `json:"ir"`
}

func (s *PPGSeries) append(ts float64, r band.PPGReading) {
	s.Timestamps = append(s.Timestamps, ts)
	s.Red = append(s.Red, r.Red)
	s.IR = append(s.IR, r.IR)
}

// AccelSeries holds the recorded accelerometer values.
type AccelSeries struct {
	Timestamps []float64 `json:"timestamps"`
	X          []int16   `json:"x"`
	Y          []int16   `json:"y"`
	Z          []int16   `json:"z"`
}

func (s *AccelSeries) append(ts float64, r band.AccelReading) {
	s.Timestamps = append(s.Timestamps, ts)
	s.X = append(s.X, r.X)
	s.Y = append(s.Y, r.Y)
	s.Z = append(s.Z, r.Z)
}

// BatterySeries holds the recorded battery levels.
type BatterySeries struct {
	Timestamps []float64 `json:"timestamps"`
	Level      []uint8   `json:"level"`
}

func (s *BatterySeries) append(ts float64, r band.BatteryReading) {
	s.Timestamps = append(s.Timestamps, ts)
	s.Level = append(s.Level, r.Level)
}
