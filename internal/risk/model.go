package risk

import "time"

// Level is the triage risk level shown on the clinician dashboard.
type Level string

const (
	// LevelGreen means no concerning signal in the latest check-in.
	LevelGreen Level = "green"

	// LevelYellow means a signal worth watching (possible HE, volume overload).
	LevelYellow Level = "yellow"

	// LevelRed means a signal needing same-day clinician attention.
	LevelRed Level = "red"
)

// severity orders levels green < yellow < red. Unknown levels rank below
// green so a corrupted value can never mask a real escalation.
func (l Level) severity() int {
	switch l {
	case LevelGreen:
		return 1
	case LevelYellow:
		return 2
	case LevelRed:
		return 3
	default:
		return 0
	}
}

// Valid reports whether l is one of the three defined levels.
func (l Level) Valid() bool {
	return l == LevelGreen || l == LevelYellow || l == LevelRed
}

// maxLevel returns the more severe of two levels.
func maxLevel(a, b Level) Level {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Evaluation is the outcome of evaluating one check-in against the rule set.
// Reasons are ordered by rule position, never deduped, and never empty.
type Evaluation struct {
	Level   Level    `json:"level"`
	Reasons []string `json:"reasons"`
}

// State is the per-patient current risk record. There is exactly one per
// patient; it is replaced by merge-upsert on every processed check-in.
// Notes is clinician-authored and owned by the dashboard; the pipeline's
// merge never touches it.
type State struct {
	PatientID       string    `json:"patient_id"`
	Level           Level     `json:"level"`
	Reasons         []string  `json:"reasons"`
	LastCheckInDate string    `json:"last_checkin_date"`
	UpdatedAt       time.Time `json:"updated_at"`
	Notes           string    `json:"notes,omitempty"`
}

// StatePatch is the partial update applied to a patient's State. Only the
// fields listed here are written; everything else on the record survives.
type StatePatch struct {
	PatientID       string
	Level           Level
	Reasons         []string
	LastCheckInDate string
	UpdatedAt       time.Time
}

// EvalRecord is one immutable entry in the evaluation audit log, appended on
// every successfully processed check-in. The alert feed reads these.
type EvalRecord struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	CheckInDate string    `json:"checkin_date"`
	Level       Level     `json:"level"`
	Reasons     []string  `json:"reasons"`
	CreatedAt   time.Time `json:"created_at"`
}
