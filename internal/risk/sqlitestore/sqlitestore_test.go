package sqlitestore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/linnemanlabs/shuntwatch/internal/checkin"
	"github.com/linnemanlabs/shuntwatch/internal/risk"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func kg(v float64) *float64 { return &v }

func TestWeightHistory_OrderBoundAndNulls(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	days := []struct {
		date   string
		weight *float64
	}{
		{"2026-03-01", kg(77)},
		{"2026-03-02", kg(77.5)},
		{"2026-03-03", nil},
		{"2026-03-04", kg(78)},
		{"2026-03-05", kg(79)},
		{"2026-03-06", kg(80)},
		{"2026-03-07", kg(81)}, // after the reference date
	}
	for _, d := range days {
		err := s.PutCheckIn(ctx, &checkin.CheckIn{PatientID: "p-1", Date: d.date, WeightKg: d.weight})
		if err != nil {
			t.Fatalf("PutCheckIn %s: %v", d.date, err)
		}
	}

	got, err := s.WeightHistory(ctx, "p-1", "2026-03-06", 4)
	if err != nil {
		t.Fatalf("WeightHistory: %v", err)
	}
	wantDates := []string{"2026-03-06", "2026-03-05", "2026-03-04", "2026-03-02"}
	if len(got) != len(wantDates) {
		t.Fatalf("samples = %d, want %d", len(got), len(wantDates))
	}
	for i, w := range wantDates {
		if got[i].Date != w {
			t.Errorf("history[%d].Date = %q, want %q", i, got[i].Date, w)
		}
	}
}

func TestPutCheckIn_Upsert(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	c := &checkin.CheckIn{PatientID: "p-1", Date: "2026-03-01", BowelMovements: 1}
	if err := s.PutCheckIn(ctx, c); err != nil {
		t.Fatalf("PutCheckIn initial: %v", err)
	}
	c.WeightKg = kg(75)
	if err := s.PutCheckIn(ctx, c); err != nil {
		t.Fatalf("PutCheckIn update: %v", err)
	}

	got, err := s.WeightHistory(ctx, "p-1", "2026-03-01", 4)
	if err != nil {
		t.Fatalf("WeightHistory: %v", err)
	}
	if len(got) != 1 || got[0].WeightKg != 75 {
		t.Errorf("history = %v, want single 75kg sample", got)
	}
}

func TestMergeState_RoundTripAndNotes(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := s.MergeState(ctx, &risk.StatePatch{
		PatientID:       "p-1",
		Level:           risk.LevelYellow,
		Reasons:         []string{risk.ReasonPossibleHE},
		LastCheckInDate: "2026-03-01",
		UpdatedAt:       now,
	}); err != nil {
		t.Fatalf("MergeState: %v", err)
	}
	if err := s.SetNotes(ctx, "p-1", "reviewed at rounds"); err != nil {
		t.Fatalf("SetNotes: %v", err)
	}
	if err := s.MergeState(ctx, &risk.StatePatch{
		PatientID:       "p-1",
		Level:           risk.LevelRed,
		Reasons:         []string{risk.ReasonBleeding},
		LastCheckInDate: "2026-03-02",
		UpdatedAt:       now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("MergeState second: %v", err)
	}

	st, ok, err := s.GetState(ctx, "p-1")
	if err != nil || !ok {
		t.Fatalf("GetState: ok=%v err=%v", ok, err)
	}
	if st.Level != risk.LevelRed || st.LastCheckInDate != "2026-03-02" {
		t.Errorf("state = %+v", st)
	}
	if st.Notes != "reviewed at rounds" {
		t.Errorf("Notes = %q, merge must not touch notes", st.Notes)
	}
	if !st.UpdatedAt.Equal(now.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v, want %v", st.UpdatedAt, now.Add(time.Hour))
	}
}

func TestGetState_Missing(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	_, ok, err := s.GetState(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing patient")
	}
}

func TestEvaluationLog(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 1; i <= 3; i++ {
		err := s.AppendEvaluation(ctx, &risk.EvalRecord{
			ID:          fmt.Sprintf("e-%d", i),
			PatientID:   "p-1",
			CheckInDate: fmt.Sprintf("2026-03-%02d", i),
			Level:       risk.LevelGreen,
			Reasons:     []string{risk.ReasonNoSignal},
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendEvaluation %d: %v", i, err)
		}
	}

	got, err := s.RecentEvaluations(ctx, "p-1", 2)
	if err != nil {
		t.Fatalf("RecentEvaluations: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e-3" || got[1].ID != "e-2" {
		t.Errorf("RecentEvaluations = %+v, want e-3 then e-2", got)
	}
}

func TestAppendEvaluation_IdempotentOnID(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	rec := &risk.EvalRecord{
		ID:          "e-1",
		PatientID:   "p-1",
		CheckInDate: "2026-03-01",
		Level:       risk.LevelGreen,
		Reasons:     []string{risk.ReasonNoSignal},
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.AppendEvaluation(ctx, rec); err != nil {
		t.Fatalf("AppendEvaluation: %v", err)
	}
	if err := s.AppendEvaluation(ctx, rec); err != nil {
		t.Fatalf("AppendEvaluation duplicate: %v", err)
	}

	got, err := s.RecentEvaluations(ctx, "p-1", 10)
	if err != nil {
		t.Fatalf("RecentEvaluations: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("records = %d, want 1 after duplicate insert", len(got))
	}
}
