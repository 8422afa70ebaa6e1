package record

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/srg/bandlink/internal/band"
)

const (
	sqliteCreateTable = `CREATE TABLE IF NOT EXISTS samples (
		"ID"       INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"Sensor"   TEXT NOT NULL,
		"TsUnix"   REAL NOT NULL,
		"Ch1Raw"   INTEGER,
		"Ch2Raw"   INTEGER,
		"Ch1uV"    REAL,
		"Ch2uV"    REAL,
		"LeadOff"  INTEGER,
		"Red"      INTEGER,
		"IR"       INTEGER,
		"X"        INTEGER,
		"Y"        INTEGER,
		"Z"        INTEGER,
		"Level"    INTEGER
	);`
	sqliteInsertSample = `INSERT INTO samples (
		Sensor, TsUnix, Ch1Raw, Ch2Raw, Ch1uV, Ch2uV, LeadOff, Red, IR, X, Y, Z, Level
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
)

// sqliteSink mirrors recorded samples into a SQLite database, one row per
// sample with sensor-specific columns left NULL for other sensors.
type sqliteSink struct {
	db   *sql.DB
	stmt *sql.Stmt
}

func (s *sqliteSink) open(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteCreateTable); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create samples table: %w", err)
	}
	stmt, err := db.Prepare(sqliteInsertSample)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	s.db = db
	s.stmt = stmt
	return nil
}

func (s *sqliteSink) insert(rd band.Reading) error {
	ts := timestampSeconds(rd.Time())
	var args []interface{}
	switch r := rd.(type) {
	case band.EEGReading:
		args = []interface{}{
			rd.Sensor().String(), ts,
			r.Ch1Raw, r.Ch2Raw, r.Ch1, r.Ch2, r.LeadOff,
			nil, nil, nil, nil, nil, nil,
		}
	case band.PPGReading:
		args = []interface{}{
			rd.Sensor().String(), ts,
			nil, nil, nil, nil, nil,
			r.Red, r.IR, nil, nil, nil, nil,
		}
	case band.AccelReading:
		args = []interface{}{
			rd.Sensor().String(), ts,
			nil, nil, nil, nil, nil,
			nil, nil, r.X, r.Y, r.Z, nil,
		}
	case band.BatteryReading:
		args = []interface{}{
			rd.Sensor().String(), ts,
			nil, nil, nil, nil, nil,
			nil, nil, nil, nil, nil, r.Level,
		}
	default:
		return fmt.Errorf("unknown reading type %T", rd)
	}

	if _, err := s.stmt.Exec(args...); err != nil {
		return fmt.Errorf("failed to insert %s sample: %w", rd.Sensor(), err)
	}
	return nil
}

func (s *sqliteSink) close() error {
	if s.stmt != nil {
		_ = s.stmt.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
