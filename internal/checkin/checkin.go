// Package checkin defines the patient check-in domain model and the
// normalizer that coerces arbitrary intake records into it.
package checkin

import (
	"math"
	"time"
)

// Identifier field names accepted on intake records. The legacy casing is a
// compatibility shim for records written by older intake clients; the primary
// name wins when both are present.
const (
	FieldPatientID       = "patientId"
	FieldPatientIDLegacy = "patientID"
)

// Event is a check-in write event as delivered by the intake system.
// Record carries the raw (possibly partial) check-in payload.
type Event struct {
	Record  map[string]any `json:"record"`
	Deleted bool           `json:"deleted,omitempty"`
}

// MedsTaken records adherence to the three standing TIPS prescriptions.
type MedsTaken struct {
	Lactulose bool `json:"lactulose"`
	Rifaximin bool `json:"rifaximin"`
	Diuretics bool `json:"diuretics"`
}

// CheckIn is one patient-reported daily check-in, fully normalized. Every
// field holds a concrete value; WeightKg is nil when no weight was measured,
// which is distinct from a weight of zero.
type CheckIn struct {
	PatientID      string    `json:"patient_id"`
	Date           string    `json:"date"` // YYYY-MM-DD, empty if unusable
	Confusion      bool      `json:"confusion"`
	SleepReversal  bool      `json:"sleep_reversal"`
	Tremor         bool      `json:"tremor"`
	Bleeding       bool      `json:"bleeding"`
	Fever          bool      `json:"fever"`
	BowelMovements int       `json:"bowel_movements"`
	WeightKg       *float64  `json:"weight_kg"`
	MedsTaken      MedsTaken `json:"meds_taken"`
}

// WeightSample projects a check-in down to its weight for trend comparison.
// It only exists for check-ins that carried a well-formed weight.
type WeightSample struct {
	Date     string  `json:"date"`
	WeightKg float64 `json:"weight_kg"`
}

// Normalize coerces an arbitrary intake record into a complete CheckIn.
// Every coercion is total: missing or malformed optional fields collapse to
// their defaults and never produce an error. A missing identifier or date
// yields an empty string, which the caller must treat as a skip.
func Normalize(record map[string]any) *CheckIn {
	return &CheckIn{
		PatientID:      ResolvePatientID(record),
		Date:           asDate(record["date"]),
		Confusion:      asBool(record["confusion"]),
		SleepReversal:  asBool(record["sleepReversal"]),
		Tremor:         asBool(record["tremor"]),
		Bleeding:       asBool(record["bleeding"]),
		Fever:          asBool(record["fever"]),
		BowelMovements: asCount(record["bowelMovements"]),
		WeightKg:       asWeight(record["weightKg"]),
		MedsTaken:      asMeds(record["medsTaken"]),
	}
}

// Record renders the check-in back into intake shape. Normalize is a fixed
// point over records produced here.
func (c *CheckIn) Record() map[string]any {
	return map[string]any{
		FieldPatientID:   c.PatientID,
		"date":           c.Date,
		"confusion":      c.Confusion,
		"sleepReversal":  c.SleepReversal,
		"tremor":         c.Tremor,
		"bleeding":       c.Bleeding,
		"fever":          c.Fever,
		"bowelMovements": c.BowelMovements,
		"weightKg":       c.WeightKg,
		"medsTaken": map[string]any{
			"lactulose": c.MedsTaken.Lactulose,
			"rifaximin": c.MedsTaken.Rifaximin,
			"diuretics": c.MedsTaken.Diuretics,
		},
	}
}

// ResolvePatientID resolves the patient identifier from the known alias
// fields, preferring the primary name. Returns "" when neither is usable.
func ResolvePatientID(record map[string]any) string {
	if id, ok := record[FieldPatientID].(string); ok && id != "" {
		return id
	}
	if id, ok := record[FieldPatientIDLegacy].(string); ok && id != "" {
		return id
	}
	return ""
}

// IdentifierConflict reports whether both identifier aliases are present
// with different non-empty values. The primary still wins; callers use this
// only to log the ambiguity.
func IdentifierConflict(record map[string]any) bool {
	primary, pok := record[FieldPatientID].(string)
	legacy, lok := record[FieldPatientIDLegacy].(string)
	return pok && lok && primary != "" && legacy != "" && primary != legacy
}

func asBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func asDate(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return ""
	}
	return s
}

// asNumber accepts the numeric shapes JSON decoding and normalized structs
// can produce. Anything else reports ok=false.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case *float64:
		if n == nil {
			return 0, false
		}
		return *n, true
	default:
		return 0, false
	}
}

func asCount(v any) int {
	n, ok := asNumber(v)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return 0
	}
	return int(n)
}

func asWeight(v any) *float64 {
	n, ok := asNumber(v)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return nil
	}
	return &n
}

func asMeds(v any) MedsTaken {
	m, ok := v.(map[string]any)
	if !ok {
		return MedsTaken{}
	}
	return MedsTaken{
		Lactulose: asBool(m["lactulose"]),
		Rifaximin: asBool(m["rifaximin"]),
		Diuretics: asBool(m["diuretics"]),
	}
}
