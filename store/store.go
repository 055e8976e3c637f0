// Package store keeps a history of derived calibrations in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/decibelcooper/gemcalib/calib"

	_ "modernc.org/sqlite" // SQLite driver.
)

var ErrNoCalibration = errors.New("store: no stored calibration")

type Store struct {
	db *sqlx.DB
}

// Entry is one stored calibration.
type Entry struct {
	ID        int64           `db:"id"`
	CreatedAt string          `db:"created_at"`
	Input     string          `db:"input"`
	Source    string          `db:"source"`
	Scale     float64         `db:"scale_kev"`
	Offset    float64         `db:"offset_kev"`
	ScaleErr  sql.NullFloat64 `db:"scale_err"`
	OffsetErr sql.NullFloat64 `db:"offset_err"`
	Peak1     sql.NullFloat64 `db:"peak1"`
	Peak2     sql.NullFloat64 `db:"peak2"`
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS calibrations (
		id INTEGER PRIMARY KEY,
		created_at TEXT NOT NULL,
		input TEXT NOT NULL,
		source TEXT NOT NULL,
		scale_kev REAL NOT NULL,
		offset_kev REAL NOT NULL,
		scale_err REAL,
		offset_err REAL,
		peak1 REAL,
		peak2 REAL
	)`)
	return err
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func unnull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// Save records p as derived from input and returns its id.
func (s *Store) Save(input string, p calib.Parameters) (int64, error) {
	e := Entry{
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Input:     input,
		Source:    p.Source.String(),
		Scale:     p.Scale,
		Offset:    p.Offset,
		ScaleErr:  nullable(p.ScaleErr),
		OffsetErr: nullable(p.OffsetErr),
		Peak1:     nullable(p.Peaks[0]),
		Peak2:     nullable(p.Peaks[1]),
	}
	res, err := s.db.NamedExec(`INSERT INTO calibrations
		(created_at, input, source, scale_kev, offset_kev, scale_err, offset_err, peak1, peak2)
		VALUES (:created_at, :input, :source, :scale_kev, :offset_kev, :scale_err, :offset_err, :peak1, :peak2)`, e)
	if err != nil {
		return 0, fmt.Errorf("store: insert calibration: %w", err)
	}
	return res.LastInsertId()
}

// Latest returns the most recently stored calibration.
func (s *Store) Latest() (Entry, error) {
	var e Entry
	err := s.db.Get(&e, `SELECT * FROM calibrations ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNoCalibration
	}
	if err != nil {
		return e, fmt.Errorf("store: latest calibration: %w", err)
	}
	return e, nil
}

// History returns up to limit calibrations, newest first.
func (s *Store) History(limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.Select(&entries, `SELECT * FROM calibrations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: calibration history: %w", err)
	}
	return entries, nil
}

// Time parses the creation timestamp.
func (e Entry) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.CreatedAt)
}

// Parameters turns e into an explicit calibration, keeping its uncertainties.
func (e Entry) Parameters() calib.Parameters {
	p := calib.FromExplicit(e.Scale, e.Offset)
	p.ScaleErr = unnull(e.ScaleErr)
	p.OffsetErr = unnull(e.OffsetErr)
	p.Peaks = [2]float64{unnull(e.Peak1), unnull(e.Peak2)}
	return p
}
