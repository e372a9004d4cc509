// Package pgstore provides a PostgreSQL implementation of risk.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/shuntwatch/internal/checkin"
	"github.com/linnemanlabs/shuntwatch/internal/risk"
)

var tracer = otel.Tracer("github.com/linnemanlabs/shuntwatch/internal/risk/pgstore")

//go:embed schema.sql
var schema string

// Store persists check-ins, risk states, and the evaluation log in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// PutCheckIn upserts a normalized check-in keyed by patient+date.
func (s *Store) PutCheckIn(ctx context.Context, c *checkin.CheckIn) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutCheckIn", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	medsJSON, err := json.Marshal(c.MedsTaken)
	if err != nil {
		return fmt.Errorf("marshal meds: %w", err)
	}

	query := `INSERT INTO check_ins (
		patient_id, date, confusion, sleep_reversal, tremor, bleeding, fever,
		bowel_movements, weight_kg, meds_taken, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	ON CONFLICT (patient_id, date) DO UPDATE SET
		confusion       = EXCLUDED.confusion,
		sleep_reversal  = EXCLUDED.sleep_reversal,
		tremor          = EXCLUDED.tremor,
		bleeding        = EXCLUDED.bleeding,
		fever           = EXCLUDED.fever,
		bowel_movements = EXCLUDED.bowel_movements,
		weight_kg       = EXCLUDED.weight_kg,
		meds_taken      = EXCLUDED.meds_taken,
		updated_at      = now()`

	_, err = s.pool.Exec(ctx, query,
		c.PatientID, c.Date, c.Confusion, c.SleepReversal, c.Tremor, c.Bleeding, c.Fever,
		c.BowelMovements, c.WeightKg, medsJSON,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert check-in: %w", err)
	}
	return nil
}

// WeightHistory returns up to limit weight-bearing check-ins with
// date <= the reference date, newest first.
func (s *Store) WeightHistory(ctx context.Context, patientID, date string, limit int) ([]checkin.WeightSample, error) {
	ctx, span := tracer.Start(ctx, "pgstore.WeightHistory", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT date, weight_kg FROM check_ins
		 WHERE patient_id = $1 AND date <= $2 AND weight_kg IS NOT NULL
		 ORDER BY date DESC LIMIT $3`,
		patientID, date, limit,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query weight history: %w", err)
	}
	defer rows.Close()

	var samples []checkin.WeightSample
	for rows.Next() {
		var ws checkin.WeightSample
		if err := rows.Scan(&ws.Date, &ws.WeightKg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan weight sample: %w", err)
		}
		samples = append(samples, ws)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate weight history: %w", err)
	}
	return samples, nil
}

// GetState retrieves a patient's current risk state.
func (s *Store) GetState(ctx context.Context, patientID string) (*risk.State, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetState", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var (
		st          risk.State
		level       string
		reasonsJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT patient_id, level, reasons, last_checkin_date, updated_at, notes
		 FROM risk_states WHERE patient_id = $1`,
		patientID,
	).Scan(&st.PatientID, &level, &reasonsJSON, &st.LastCheckInDate, &st.UpdatedAt, &st.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan risk state: %w", err)
	}

	st.Level = risk.Level(level)
	if err := json.Unmarshal(reasonsJSON, &st.Reasons); err != nil {
		return nil, false, fmt.Errorf("unmarshal reasons: %w", err)
	}
	return &st, true, nil
}

// MergeState upserts only the patched columns of the patient's risk state.
// Columns outside the patch (clinician notes) are never listed in the update
// set, so concurrent dashboard writes to them cannot be lost.
func (s *Store) MergeState(ctx context.Context, patch *risk.StatePatch) error {
	ctx, span := tracer.Start(ctx, "pgstore.MergeState", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	reasonsJSON, err := json.Marshal(patch.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	query := `INSERT INTO risk_states (patient_id, level, reasons, last_checkin_date, updated_at)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (patient_id) DO UPDATE SET
		level             = EXCLUDED.level,
		reasons           = EXCLUDED.reasons,
		last_checkin_date = EXCLUDED.last_checkin_date,
		updated_at        = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		patch.PatientID, string(patch.Level), reasonsJSON, patch.LastCheckInDate, patch.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("merge risk state: %w", err)
	}
	return nil
}

// AppendEvaluation inserts one audit log record.
func (s *Store) AppendEvaluation(ctx context.Context, rec *risk.EvalRecord) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendEvaluation", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	reasonsJSON, err := json.Marshal(rec.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO evaluations (id, patient_id, checkin_date, level, reasons, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.PatientID, rec.CheckInDate, string(rec.Level), reasonsJSON, rec.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// RecentEvaluations returns the newest audit entries for a patient.
func (s *Store) RecentEvaluations(ctx context.Context, patientID string, limit int) ([]risk.EvalRecord, error) {
	ctx, span := tracer.Start(ctx, "pgstore.RecentEvaluations", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, patient_id, checkin_date, level, reasons, created_at
		 FROM evaluations WHERE patient_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		patientID, limit,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var recs []risk.EvalRecord
	for rows.Next() {
		var (
			rec         risk.EvalRecord
			level       string
			reasonsJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.CheckInDate, &level, &reasonsJSON, &rec.CreatedAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		rec.Level = risk.Level(level)
		if err := json.Unmarshal(reasonsJSON, &rec.Reasons); err != nil {
			return nil, fmt.Errorf("unmarshal reasons: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate evaluations: %w", err)
	}
	return recs, nil
}
