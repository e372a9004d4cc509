package consumer

import (
	"testing"
	"time"
)

func TestParseEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		values      map[string]any
		wantErr     bool
		wantDeleted bool
		wantPatient string
	}{
		{
			name:        "valid record",
			values:      map[string]any{"data": `{"record":{"patientId":"p-1","date":"2026-03-01"}}`},
			wantPatient: "p-1",
		},
		{
			name:        "deletion inside payload",
			values:      map[string]any{"data": `{"record":{"patientId":"p-1"},"deleted":true}`},
			wantPatient: "p-1",
			wantDeleted: true,
		},
		{
			name:        "deletion flag outside payload",
			values:      map[string]any{"data": `{"record":{"patientId":"p-1"}}`, "deleted": "true"},
			wantPatient: "p-1",
			wantDeleted: true,
		},
		{
			name:    "missing data field",
			values:  map[string]any{"timestamp": "12345"},
			wantErr: true,
		},
		{
			name:    "empty data",
			values:  map[string]any{"data": ""},
			wantErr: true,
		},
		{
			name:    "malformed json",
			values:  map[string]any{"data": "{not json"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev, err := parseEvent(tt.values)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEvent: %v", err)
			}
			if ev.Deleted != tt.wantDeleted {
				t.Errorf("Deleted = %v, want %v", ev.Deleted, tt.wantDeleted)
			}
			if tt.wantPatient != "" {
				if got, _ := ev.Record["patientId"].(string); got != tt.wantPatient {
					t.Errorf("patientId = %q, want %q", got, tt.wantPatient)
				}
			}
		})
	}
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	if got := nextBackoff(time.Second); got != 2*time.Second {
		t.Errorf("nextBackoff(1s) = %v, want 2s", got)
	}
	if got := nextBackoff(20 * time.Second); got != maxBackoff {
		t.Errorf("nextBackoff(20s) = %v, want capped at %v", got, maxBackoff)
	}
	if got := nextBackoff(maxBackoff); got != maxBackoff {
		t.Errorf("nextBackoff(max) = %v, want %v", got, maxBackoff)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil client did not panic")
		}
	}()
	New(nil, nil, nil, Config{})
}
