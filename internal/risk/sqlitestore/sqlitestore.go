// Package sqlitestore provides a SQLite implementation of risk.Store for
// single-node deployments where running PostgreSQL is not worth the trouble.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/linnemanlabs/shuntwatch/internal/checkin"
	"github.com/linnemanlabs/shuntwatch/internal/risk"
)

const schema = `
CREATE TABLE IF NOT EXISTS check_ins (
    patient_id      TEXT NOT NULL,
    date            TEXT NOT NULL,
    confusion       INTEGER NOT NULL DEFAULT 0,
    sleep_reversal  INTEGER NOT NULL DEFAULT 0,
    tremor          INTEGER NOT NULL DEFAULT 0,
    bleeding        INTEGER NOT NULL DEFAULT 0,
    fever           INTEGER NOT NULL DEFAULT 0,
    bowel_movements INTEGER NOT NULL DEFAULT 0,
    weight_kg       REAL,
    meds_taken      TEXT NOT NULL DEFAULT '{}',
    updated_at      TEXT NOT NULL,
    PRIMARY KEY (patient_id, date)
);

CREATE TABLE IF NOT EXISTS risk_states (
    patient_id        TEXT PRIMARY KEY,
    level             TEXT NOT NULL,
    reasons           TEXT NOT NULL DEFAULT '[]',
    last_checkin_date TEXT NOT NULL DEFAULT '',
    updated_at        TEXT NOT NULL,
    notes             TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS evaluations (
    id           TEXT PRIMARY KEY,
    patient_id   TEXT NOT NULL,
    checkin_date TEXT NOT NULL,
    level        TEXT NOT NULL,
    reasons      TEXT NOT NULL DEFAULT '[]',
    created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS evaluations_patient_idx
    ON evaluations (patient_id, created_at DESC);
`

// Store persists check-ins, risk states, and the evaluation log in a
// local SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates the database file if needed, applies the schema, and
// returns a ready Store.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "shuntwatch.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The driver serializes access per connection; a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// PutCheckIn upserts a normalized check-in keyed by patient+date.
func (s *Store) PutCheckIn(ctx context.Context, c *checkin.CheckIn) error {
	medsJSON, err := json.Marshal(c.MedsTaken)
	if err != nil {
		return fmt.Errorf("marshal meds: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO check_ins (
		patient_id, date, confusion, sleep_reversal, tremor, bleeding, fever,
		bowel_movements, weight_kg, meds_taken, updated_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT (patient_id, date) DO UPDATE SET
		confusion       = excluded.confusion,
		sleep_reversal  = excluded.sleep_reversal,
		tremor          = excluded.tremor,
		bleeding        = excluded.bleeding,
		fever           = excluded.fever,
		bowel_movements = excluded.bowel_movements,
		weight_kg       = excluded.weight_kg,
		meds_taken      = excluded.meds_taken,
		updated_at      = excluded.updated_at`,
		c.PatientID, c.Date, c.Confusion, c.SleepReversal, c.Tremor, c.Bleeding, c.Fever,
		c.BowelMovements, c.WeightKg, string(medsJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert check-in: %w", err)
	}
	return nil
}

// WeightHistory returns up to limit weight-bearing check-ins with
// date <= the reference date, newest first.
func (s *Store) WeightHistory(ctx context.Context, patientID, date string, limit int) ([]checkin.WeightSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, weight_kg FROM check_ins
		 WHERE patient_id = ? AND date <= ? AND weight_kg IS NOT NULL
		 ORDER BY date DESC LIMIT ?`,
		patientID, date, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query weight history: %w", err)
	}
	defer rows.Close()

	var samples []checkin.WeightSample
	for rows.Next() {
		var ws checkin.WeightSample
		if err := rows.Scan(&ws.Date, &ws.WeightKg); err != nil {
			return nil, fmt.Errorf("scan weight sample: %w", err)
		}
		samples = append(samples, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weight history: %w", err)
	}
	return samples, nil
}

// GetState retrieves a patient's current risk state.
func (s *Store) GetState(ctx context.Context, patientID string) (*risk.State, bool, error) {
	var (
		st          risk.State
		level       string
		reasonsJSON string
		updatedAt   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT patient_id, level, reasons, last_checkin_date, updated_at, notes
		 FROM risk_states WHERE patient_id = ?`,
		patientID,
	).Scan(&st.PatientID, &level, &reasonsJSON, &st.LastCheckInDate, &updatedAt, &st.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("scan risk state: %w", err)
	}

	st.Level = risk.Level(level)
	if err := json.Unmarshal([]byte(reasonsJSON), &st.Reasons); err != nil {
		return nil, false, fmt.Errorf("unmarshal reasons: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, false, fmt.Errorf("parse updated_at: %w", err)
	}
	return &st, true, nil
}

// MergeState upserts only the patched columns of the patient's risk state.
// Clinician notes are not listed in the update set and survive the merge.
func (s *Store) MergeState(ctx context.Context, patch *risk.StatePatch) error {
	reasonsJSON, err := json.Marshal(patch.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO risk_states (patient_id, level, reasons, last_checkin_date, updated_at)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT (patient_id) DO UPDATE SET
			level             = excluded.level,
			reasons           = excluded.reasons,
			last_checkin_date = excluded.last_checkin_date,
			updated_at        = excluded.updated_at`,
		patch.PatientID, string(patch.Level), string(reasonsJSON),
		patch.LastCheckInDate, patch.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("merge risk state: %w", err)
	}
	return nil
}

// SetNotes replaces the clinician notes for a patient.
func (s *Store) SetNotes(ctx context.Context, patientID, notes string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE risk_states SET notes = ? WHERE patient_id = ?`, notes, patientID)
	if err != nil {
		return fmt.Errorf("update notes: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no risk state for patient %q", patientID)
	}
	return nil
}

// AppendEvaluation inserts one audit log record.
func (s *Store) AppendEvaluation(ctx context.Context, rec *risk.EvalRecord) error {
	reasonsJSON, err := json.Marshal(rec.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evaluations (id, patient_id, checkin_date, level, reasons, created_at)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.PatientID, rec.CheckInDate, string(rec.Level),
		string(reasonsJSON), rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// RecentEvaluations returns the newest audit entries for a patient.
func (s *Store) RecentEvaluations(ctx context.Context, patientID string, limit int) ([]risk.EvalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, checkin_date, level, reasons, created_at
		 FROM evaluations WHERE patient_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		patientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var recs []risk.EvalRecord
	for rows.Next() {
		var (
			rec         risk.EvalRecord
			level       string
			reasonsJSON string
			createdAt   string
		)
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.CheckInDate, &level, &reasonsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		rec.Level = risk.Level(level)
		if err := json.Unmarshal([]byte(reasonsJSON), &rec.Reasons); err != nil {
			return nil, fmt.Errorf("unmarshal reasons: %w", err)
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluations: %w", err)
	}
	return recs, nil
}

var _ risk.Store = (*Store)(nil)
