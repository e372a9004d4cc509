package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/shuntwatch/internal/checkin"
)

// Process outcomes, used for logging and metrics labels.
const (
	OutcomeSuccess = "success"
	OutcomeSkip    = "skip"
	OutcomeFailure = "failure"
)

// Notifier pushes a risk escalation to the alert feed. Implementations are
// best-effort; the pipeline never fails on a notification error.
type Notifier interface {
	NotifyEscalation(ctx context.Context, st *State) error
}

// ServiceHooks are optional callbacks for instrumentation. Nil fields are
// skipped.
type ServiceHooks struct {
	OnProcess  func(outcome string)
	OnEvaluate func(level Level, historySamples int)
	OnNotify   func(ok bool)
}

// ProcessResult is the terminal outcome of processing one check-in event.
type ProcessResult struct {
	Skipped      bool
	Reason       string
	PatientID    string
	CheckInDate  string
	EvaluationID string
	Evaluation   *Evaluation
}

// Service is the orchestrator: it reacts to a check-in write event and
// drives normalize, weight history, evaluate, and the state merge in order.
type Service struct {
	store    Store
	logger   log.Logger
	hooks    ServiceHooks
	notifier Notifier
}

// NewService creates the risk service. notifier may be nil.
func NewService(store Store, logger log.Logger, hooks ServiceHooks, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		logger:   logger,
		hooks:    hooks,
		notifier: notifier,
	}
}

// Process handles one check-in write event end to end. It has exactly three
// terminal outcomes: a Skip (deleted event or unusable identity/date, no
// store access), a Success (risk state merged exactly once and an audit
// record appended), or a Failure (store error propagated to the caller so
// the delivery platform can retry; the previous state is left intact).
//
// Processing is idempotent: redelivering the same event converges on the
// same risk state.
func (s *Service) Process(ctx context.Context, ev *checkin.Event) (*ProcessResult, error) {
	if ev == nil || ev.Record == nil {
		return s.skip(ctx, "", "empty event"), nil
	}
	if ev.Deleted {
		return s.skip(ctx, "", "deletion event"), nil
	}

	if checkin.IdentifierConflict(ev.Record) {
		s.logger.Warn(ctx, "conflicting patient identifier aliases, primary wins",
			"primary", ev.Record[checkin.FieldPatientID],
			"legacy", ev.Record[checkin.FieldPatientIDLegacy],
		)
	}

	c := checkin.Normalize(ev.Record)
	if c.PatientID == "" {
		return s.skip(ctx, "", "missing patient identifier"), nil
	}
	if c.Date == "" {
		return s.skip(ctx, c.PatientID, "missing or invalid date"), nil
	}

	L := s.logger.With("patient_id", c.PatientID, "checkin_date", c.Date)

	if err := s.store.PutCheckIn(ctx, c); err != nil {
		return s.fail(ctx, L, fmt.Errorf("put check-in: %w", err))
	}

	history, err := s.store.WeightHistory(ctx, c.PatientID, c.Date, HistoryWindow)
	if err != nil {
		return s.fail(ctx, L, fmt.Errorf("weight history: %w", err))
	}

	eval := Evaluate(c, history)

	// Must never happen per the evaluator contract; a violation is a defect,
	// not something to repair in flight.
	if !eval.Level.Valid() || len(eval.Reasons) == 0 {
		err := fmt.Errorf("evaluator invariant violation: level=%q reasons=%d", eval.Level, len(eval.Reasons))
		L.Error(ctx, err, "refusing to persist invalid evaluation")
		return s.fail(ctx, L, err)
	}

	if s.hooks.OnEvaluate != nil {
		s.hooks.OnEvaluate(eval.Level, len(history))
	}

	// Previous state is only consulted for escalation detection; a read
	// failure here degrades the notification, not the pipeline.
	prev, hadPrev, err := s.store.GetState(ctx, c.PatientID)
	if err != nil {
		L.Warn(ctx, "failed to read previous risk state, escalation check skipped", "error", err)
		hadPrev = false
	}

	now := time.Now().UTC()
	rec := &EvalRecord{
		ID:          ulid.Make().String(),
		PatientID:   c.PatientID,
		CheckInDate: c.Date,
		Level:       eval.Level,
		Reasons:     eval.Reasons,
		CreatedAt:   now,
	}
	if err := s.store.AppendEvaluation(ctx, rec); err != nil {
		return s.fail(ctx, L, fmt.Errorf("append evaluation: %w", err))
	}

	// The merge is the last state mutation: any failure above leaves the
	// previous risk state untouched.
	patch := &StatePatch{
		PatientID:       c.PatientID,
		Level:           eval.Level,
		Reasons:         eval.Reasons,
		LastCheckInDate: c.Date,
		UpdatedAt:       now,
	}
	if err := s.store.MergeState(ctx, patch); err != nil {
		return s.fail(ctx, L, fmt.Errorf("merge risk state: %w", err))
	}

	L.Info(ctx, "risk state updated",
		"level", eval.Level,
		"reasons", len(eval.Reasons),
		"history_samples", len(history),
		"evaluation_id", rec.ID,
	)

	if s.notifier != nil && eval.Level == LevelRed && (!hadPrev || prev.Level != LevelRed) {
		st := &State{
			PatientID:       c.PatientID,
			Level:           eval.Level,
			Reasons:         eval.Reasons,
			LastCheckInDate: c.Date,
			UpdatedAt:       now,
		}
		go s.notifyEscalation(context.WithoutCancel(ctx), st)
	}

	if s.hooks.OnProcess != nil {
		s.hooks.OnProcess(OutcomeSuccess)
	}
	return &ProcessResult{
		PatientID:    c.PatientID,
		CheckInDate:  c.Date,
		EvaluationID: rec.ID,
		Evaluation:   &eval,
	}, nil
}

// GetState retrieves a patient's current risk state.
func (s *Service) GetState(ctx context.Context, patientID string) (*State, bool, error) {
	return s.store.GetState(ctx, patientID)
}

// RecentEvaluations retrieves a patient's newest audit log entries.
func (s *Service) RecentEvaluations(ctx context.Context, patientID string, limit int) ([]EvalRecord, error) {
	return s.store.RecentEvaluations(ctx, patientID, limit)
}

func (s *Service) skip(ctx context.Context, patientID, reason string) *ProcessResult {
	s.logger.Info(ctx, "check-in event skipped", "reason", reason, "patient_id", patientID)
	if s.hooks.OnProcess != nil {
		s.hooks.OnProcess(OutcomeSkip)
	}
	return &ProcessResult{Skipped: true, Reason: reason, PatientID: patientID}
}

func (s *Service) fail(ctx context.Context, L log.Logger, err error) (*ProcessResult, error) {
	L.Error(ctx, err, "check-in processing failed")
	if s.hooks.OnProcess != nil {
		s.hooks.OnProcess(OutcomeFailure)
	}
	return nil, err
}

func (s *Service) notifyEscalation(ctx context.Context, st *State) {
	err := s.notifier.NotifyEscalation(ctx, st)
	if s.hooks.OnNotify != nil {
		s.hooks.OnNotify(err == nil)
	}
	if err != nil {
		s.logger.Error(ctx, err, "escalation notification failed", "patient_id", st.PatientID)
	}
}
