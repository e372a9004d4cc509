package risk

import (
	"context"

	"github.com/linnemanlabs/shuntwatch/internal/checkin"
)

// Store is the persistence boundary for the risk pipeline. Implementations
// must be safe for concurrent use across patients; for a single patient,
// last-writer-wins on MergeState is acceptable.
type Store interface {
	// PutCheckIn upserts a normalized check-in keyed by patient+date.
	PutCheckIn(ctx context.Context, c *checkin.CheckIn) error

	// WeightHistory returns up to limit weight-bearing check-ins for the
	// patient with date <= the reference date, newest first. Check-ins
	// without a recorded weight are excluded before limiting.
	WeightHistory(ctx context.Context, patientID, date string, limit int) ([]checkin.WeightSample, error)

	// GetState returns the patient's current risk state, ok=false when the
	// patient has never been evaluated.
	GetState(ctx context.Context, patientID string) (*State, bool, error)

	// MergeState applies a partial update to the patient's risk state,
	// creating it if absent. Fields outside the patch are left untouched.
	MergeState(ctx context.Context, patch *StatePatch) error

	// AppendEvaluation appends one record to the evaluation audit log.
	AppendEvaluation(ctx context.Context, rec *EvalRecord) error

	// RecentEvaluations returns the newest audit log entries for a patient,
	// newest first.
	RecentEvaluations(ctx context.Context, patientID string, limit int) ([]EvalRecord, error)
}
