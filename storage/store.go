// Package storage records survey sessions in a local sqlite database:
// one row per emitted reading and one per completed calibration run.
// It sits outside the device engine and only consumes its value types.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/emflab/emfad/emf"
)

// Store handles database operations for survey recording.
type Store struct {
	dbPath string

	dbOnce sync.Once
	db     *sql.DB
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a store for the given database path. The database is
// opened lazily on first use.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) getDB() (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL", s.dbPath))
		if err != nil {
			s.dbErr = fmt.Errorf("opening database: %w", err)
			return
		}
		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		s.db = db
	})
	return s.db, s.dbErr
}

// CreateSession inserts a new survey session and returns its id. The
// config value is stored as JSON for later inspection.
func (s *Store) CreateSession(ctx context.Context, transportDesc string, config any) (string, error) {
	var configData sql.NullString
	if config != nil {
		p, err := json.Marshal(config)
		if err != nil {
			return "", fmt.Errorf("marshaling config: %w", err)
		}
		configData.Valid = true
		configData.String = string(p)
	}

	db, err := s.getDB()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	if _, err := db.ExecContext(ctx, insertSessionSQL, id, transportDesc, configData); err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	return id, nil
}

// StoreReading persists one calibrated reading under a session.
func (s *Store) StoreReading(ctx context.Context, sessionID string, r emf.EMFReading) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, insertReadingSQL,
		sessionID,
		r.Timestamp,
		r.Frequency,
		r.Real,
		r.Imag,
		r.Magnitude,
		r.Phase,
		r.Depth,
		r.Temperature,
		r.BatteryPct,
		r.Quality,
		r.CalOffset,
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// StoreCalibration persists one completed calibration snapshot under a
// session.
func (s *Store) StoreCalibration(ctx context.Context, sessionID string, snap emf.CalibrationSnapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, insertCalibrationSQL,
		sessionID,
		snap.Completed,
		snap.X.Offset, snap.X.Scale,
		snap.Y.Offset, snap.Y.Scale,
		snap.Z.Offset, snap.Z.Scale,
	)
	if err != nil {
		return fmt.Errorf("inserting calibration: %w", err)
	}
	return nil
}

// CountReadings returns the number of readings recorded under a session.
func (s *Store) CountReadings(ctx context.Context, sessionID string) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, countReadingsSQL, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting readings: %w", err)
	}
	return n, nil
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}
