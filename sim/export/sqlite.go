package export

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists results to a single SQLite database file. Step rows
// are written inside one transaction per timestep, which keeps the file
// consistent if a run aborts mid-horizon.
type SQLiteSink struct {
	cfg Config
	db  *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS steps (
	step_index      INTEGER PRIMARY KEY,
	timestamp       TEXT NOT NULL,
	converged       INTEGER NOT NULL,
	iterations_used INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS step_values (
	step_index INTEGER NOT NULL REFERENCES steps(step_index),
	class      TEXT NOT NULL,
	element    TEXT NOT NULL,
	property   TEXT NOT NULL,
	value      REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS reports (
	report  TEXT NOT NULL,
	element TEXT NOT NULL,
	value   REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_values_step ON step_values(step_index);
`

// NewSQLiteSink builds an unopened SQLite sink; the database file lives in
// cfg.OutputDir.
func NewSQLiteSink(cfg Config) *SQLiteSink {
	return &SQLiteSink{cfg: cfg}
}

// Open implements Sink.
func (s *SQLiteSink) Open() error {
	path := filepath.Join(s.cfg.OutputDir, "results.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open result store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("create result schema: %w", err)
	}
	s.db = db
	return nil
}

// WriteStep implements Sink.
func (s *SQLiteSink) WriteStep(rec StepRecord) error {
	values := make([]Value, len(rec.Values))
	copy(values, rec.Values)
	OrderValues(values, s.cfg.Mode)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO steps (step_index, timestamp, converged, iterations_used) VALUES (?, ?, ?, ?)`,
		rec.StepIndex, rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Converged, rec.IterationsUsed,
	); err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO step_values (step_index, class, element, property, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, v := range values {
		if _, err := stmt.Exec(rec.StepIndex, v.Class, v.Element, v.Property, v.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// WriteReport implements Sink.
func (s *SQLiteSink) WriteReport(rec ReportRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO reports (report, element, value) VALUES (?, ?, ?)`,
		rec.Report, rec.Element, rec.Value,
	)
	return err
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
