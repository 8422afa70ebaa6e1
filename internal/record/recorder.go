// Package record persists sensor streams to disk: per-sensor CSV files
// written line by line, a cumulative JSON document finalized at stop, and
// optional SQLite and EDF sinks.
package record

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/bandlink/internal/band"
)

// csvFile pairs an open file with its writer so rows flush incrementally.
type csvFile struct {
	f *os.File
	w *csv.Writer
}

// Session is one recording run. Create with NewSession, feed with
// WriteSample, finalize with Close. Safe for concurrent writers.
type Session struct {
	id      uuid.UUID
	dir     string
	started time.Time
	logger  *logrus.Logger
	hw      band.Hardware

	mu     sync.Mutex
	closed bool
	csvs   map[band.SensorType]*csvFile
	doc    Document

	sqlite *sqliteSink
	edf    string // EDF output path, empty when disabled
}

// Option customizes a recording session.
type Option func(*Session)

// WithSQLite mirrors every sample into a SQLite database inside the session
// directory.
func WithSQLite() Option {
	return func(s *Session) { s.sqlite = &sqliteSink{} }
}

// WithEDF exports the EEG channels to an EDF file at Close.
func WithEDF() Option {
	return func(s *Session) { s.edf = "eeg.edf" }
}

// WithHardware overrides the hardware constants used for EDF physical
// ranges.
func WithHardware(hw band.Hardware) Option {
	return func(s *Session) { s.hw = hw }
}

// NewSession creates the session directory and opens the per-sensor CSV
// files.
func NewSession(baseDir string, logger *logrus.Logger, opts ...Option) (*Session, error) {
	if logger == nil {
		logger = logrus.New()
	}

	s := &Session{
		id:      uuid.New(),
		started: time.Now(),
		logger:  logger,
		hw:      band.DefaultHardware(),
		csvs:    make(map[band.SensorType]*csvFile),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.dir = filepath.Join(baseDir, s.id.String())
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	s.doc = Document{
		SessionID: s.id.String(),
		StartedAt: s.started,
	}

	headers := map[band.SensorType][]string{
		band.SensorEEG:           {"timestamp", "ch1Raw", "ch2Raw", "ch1uV", "ch2uV", "leadOff"},
		band.SensorPPG:           {"timestamp", "red", "ir"},
		band.SensorAccelerometer: {"timestamp", "x", "y", "z"},
	}
	for _, t := range []band.SensorType{band.SensorEEG, band.SensorPPG, band.SensorAccelerometer} {
		path := filepath.Join(s.dir, t.String()+".csv")
		f, err := os.Create(path)
		if err != nil {
			s.closeFiles()
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
		w := csv.NewWriter(f)
		if err := w.Write(headers[t]); err != nil {
			s.closeFiles()
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		s.csvs[t] = &csvFile{f: f, w: w}
	}

	if s.sqlite != nil {
		if err := s.sqlite.open(filepath.Join(s.dir, "samples.db")); err != nil {
			s.closeFiles()
			return nil, err
		}
	}

	logger.WithFields(logrus.Fields{
		"session": s.id.String(),
		"dir":     s.dir,
	}).Info("Recording session started")
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id.String() }

// Dir returns the session directory.
func (s *Session) Dir() string { return s.dir }

// WriteSample appends one reading to every active sink.
func (s *Session) WriteSample(rd band.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session %s is closed", s.id)
	}

	ts := timestampSeconds(rd.Time())

	var row []string
	switch r := rd.(type) {
	case band.EEGReading:
		row = []string{
			formatTS(ts),
			strconv.FormatInt(int64(r.Ch1Raw), 10),
			strconv.FormatInt(int64(r.Ch2Raw), 10),
			strconv.FormatFloat(r.Ch1, 'f', 6, 64),
			strconv.FormatFloat(r.Ch2, 'f', 6, 64),
			strconv.FormatBool(r.LeadOff),
		}
		s.doc.EEG.append(ts, r)
	case band.PPGReading:
		row = []string{
			formatTS(ts),
			strconv.FormatUint(uint64(r.Red), 10),
			strconv.FormatUint(uint64(r.IR), 10),
		}
		s.doc.PPG.append(ts, r)
	case band.AccelReading:
		row = []string{
			formatTS(ts),
			strconv.FormatInt(int64(r.X), 10),
			strconv.FormatInt(int64(r.Y), 10),
			strconv.FormatInt(int64(r.Z), 10),
		}
		s.doc.Accel.append(ts, r)
	case band.BatteryReading:
		// Battery has no CSV file; it lands in the JSON document only.
		s.doc.Battery.append(ts, r)
	default:
		return fmt.Errorf("unknown reading type %T", rd)
	}

	if row != nil {
		cf := s.csvs[rd.Sensor()]
		if err := cf.w.Write(row); err != nil {
			return fmt.Errorf("failed to write %s CSV row: %w", rd.Sensor(), err)
		}
		cf.w.Flush()
		if err := cf.w.Error(); err != nil {
			return fmt.Errorf("failed to flush %s CSV: %w", rd.Sensor(), err)
		}
	}

	if s.sqlite != nil {
		if err := s.sqlite.insert(rd); err != nil {
			return err
		}
	}
	return nil
}

// Close finalizes the session: the cumulative JSON document is written in
// full, the optional EDF export runs, and all files are closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.doc.StoppedAt = time.Now()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(s.writeDocument())
	if s.edf != "" {
		keep(s.exportEDF(filepath.Join(s.dir, s.edf)))
	}
	if s.sqlite != nil {
		keep(s.sqlite.close())
	}
	s.closeFiles()

	s.logger.WithFields(logrus.Fields{
		"session": s.id.String(),
		"eeg":     len(s.doc.EEG.Timestamps),
		"ppg":     len(s.doc.PPG.Timestamps),
		"accel":   len(s.doc.Accel.Timestamps),
		"battery": len(s.doc.Battery.Timestamps),
	}).Info("Recording session closed")
	return firstErr
}

func (s *Session) writeDocument() error {
	path := filepath.Join(s.dir, "session.json")
	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session document: %w", err)
	}
	return nil
}

func (s *Session) closeFiles() {
	for _, cf := range s.csvs {
		cf.w.Flush()
		_ = cf.f.Close()
	}
	s.csvs = map[band.SensorType]*csvFile{}
}

func timestampSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func formatTS(ts float64) string {
	return strconv.FormatFloat(ts, 'f', 6, 64)
}
