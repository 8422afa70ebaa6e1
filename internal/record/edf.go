package record

import (
	"fmt"
	"os"
	"time"

	"github.com/OpenPSG/edf"
)

// exportEDF writes the recorded EEG channels to an EDF file using 1-second
// data records. Trailing samples that do not fill a whole record are padded
// with zeros so no data is lost.
func (s *Session) exportEDF(path string) error {
	n := len(s.doc.EEG.Timestamps)
	if n == 0 {
		return nil
	}

	rate := s.hw.EEGSampleRate
	// Full-scale channel voltage in microvolts.
	physMax := s.hw.ReferenceVoltage / s.hw.Gain * 1e6

	signal := func(label string) edf.SignalHeader {
		return edf.SignalHeader{
			Label:             label,
			TransducerType:    "AgAgCl electrode",
			PhysicalDimension: "uV",
			PhysicalMin:       -physMax,
			PhysicalMax:       physMax,
			DigitalMin:        -32768,
			DigitalMax:        32767,
			SamplesPerRecord:  rate,
		}
	}

	hdr := edf.Header{
		Version:            edf.Version0,
		PatientID:          "X X X X",
		RecordingID:        fmt.Sprintf("Startdate X bandlink %s", s.id.String()),
		StartTime:          s.started,
		DataRecordDuration: time.Second,
		SignalCount:        2,
		Signals:            []edf.SignalHeader{signal("EEG Ch1"), signal("EEG Ch2")},
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create EDF file: %w", err)
	}
	defer f.Close()

	w, err := edf.Create(f, hdr)
	if err != nil {
		return fmt.Errorf("failed to write EDF header: %w", err)
	}

	records := (n + rate - 1) / rate
	for rec := 0; rec < records; rec++ {
		ch1 := make([]float64, rate)
		ch2 := make([]float64, rate)
		for i := 0; i < rate; i++ {
			idx := rec*rate + i
			if idx >= n {
				break
			}
			ch1[i] = s.doc.EEG.Ch1[idx]
			ch2[i] = s.doc.EEG.Ch2[idx]
		}
		if err := w.WriteRecord([][]float64{ch1, ch2}); err != nil {
			return fmt.Errorf("failed to write EDF record %d: %w", rec, err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize EDF file: %w", err)
	}
	return nil
}
