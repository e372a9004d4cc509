// Package memstore provides an in-memory implementation of risk.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/shuntwatch/internal/checkin"
	"github.com/linnemanlabs/shuntwatch/internal/risk"
)

// Store holds check-ins, risk states, and the evaluation log in memory.
// Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	checkins map[string]map[string]*checkin.CheckIn // patient ID -> date -> check-in
	states   map[string]*risk.State                 // patient ID -> current risk state
	evals    []risk.EvalRecord                      // append-only audit log
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		checkins: make(map[string]map[string]*checkin.CheckIn),
		states:   make(map[string]*risk.State),
	}
}

// PutCheckIn upserts a check-in keyed by patient+date. Stores a copy.
func (s *Store) PutCheckIn(_ context.Context, c *checkin.CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDate, ok := s.checkins[c.PatientID]
	if !ok {
		byDate = make(map[string]*checkin.CheckIn)
		s.checkins[c.PatientID] = byDate
	}
	cp := *c
	byDate[c.Date] = &cp
	return nil
}

// WeightHistory returns up to limit weight-bearing check-ins with
// date <= the reference date, newest first. Dates in YYYY-MM-DD form order
// lexicographically.
func (s *Store) WeightHistory(_ context.Context, patientID, date string, limit int) ([]checkin.WeightSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var dates []string
	for d, c := range s.checkins[patientID] {
		if d <= date && c.WeightKg != nil {
			dates = append(dates, d)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > limit {
		dates = dates[:limit]
	}

	out := make([]checkin.WeightSample, 0, len(dates))
	for _, d := range dates {
		out = append(out, checkin.WeightSample{Date: d, WeightKg: *s.checkins[patientID][d].WeightKg})
	}
	return out, nil
}

// GetState retrieves a patient's current risk state. Returns a copy.
func (s *Store) GetState(_ context.Context, patientID string) (*risk.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[patientID]
	if !ok {
		return nil, false, nil
	}
	cp := *st
	cp.Reasons = append([]string(nil), st.Reasons...)
	return &cp, true, nil
}

// MergeState applies the patch to the patient's state, creating it if
// absent. Fields outside the patch (clinician notes) are preserved.
func (s *Store) MergeState(_ context.Context, patch *risk.StatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[patch.PatientID]
	if !ok {
		st = &risk.State{PatientID: patch.PatientID}
		s.states[patch.PatientID] = st
	}
	st.Level = patch.Level
	st.Reasons = append([]string(nil), patch.Reasons...)
	st.LastCheckInDate = patch.LastCheckInDate
	st.UpdatedAt = patch.UpdatedAt
	return nil
}

// SetNotes sets the clinician-authored notes on a patient's state, creating
// the record if needed. Exists so dev deployments can exercise the merge
// semantics the dashboard relies on.
func (s *Store) SetNotes(_ context.Context, patientID, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[patientID]
	if !ok {
		st = &risk.State{PatientID: patientID}
		s.states[patientID] = st
	}
	st.Notes = notes
	return nil
}

// AppendEvaluation appends a copy of the record to the audit log.
func (s *Store) AppendEvaluation(_ context.Context, rec *risk.EvalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Reasons = append([]string(nil), rec.Reasons...)
	s.evals = append(s.evals, cp)
	return nil
}

// RecentEvaluations returns the newest audit entries for a patient.
func (s *Store) RecentEvaluations(_ context.Context, patientID string, limit int) ([]risk.EvalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []risk.EvalRecord
	for i := len(s.evals) - 1; i >= 0 && len(out) < limit; i-- {
		if s.evals[i].PatientID == patientID {
			cp := s.evals[i]
			cp.Reasons = append([]string(nil), s.evals[i].Reasons...)
			out = append(out, cp)
		}
	}
	return out, nil
}
