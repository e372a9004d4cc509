package risk

import (
	"fmt"

	"github.com/linnemanlabs/shuntwatch/internal/checkin"
)

const (
	// HistoryWindow bounds the weight trend to the last up-to-four
	// weight-bearing check-ins. Wide enough to smooth a single bad
	// reading, narrow enough to stay sensitive to recent retention.
	HistoryWindow = 4

	// weightGainThresholdKg is the inclusive gain across the history
	// window that flags possible volume overload.
	weightGainThresholdKg = 2.0
)

// Rule reason texts. The dashboard displays these verbatim (truncated to the
// first two), so they are part of the downstream contract.
const (
	ReasonBleeding       = "Bleeding reported"
	ReasonFever          = "Fever reported"
	ReasonSevereHE       = "Severe HE concern: confusion with no bowel movements"
	ReasonPossibleHE     = "Possible HE: neurological symptoms with low bowel movement count"
	ReasonNoSignal       = "No concerning signals detected"
	reasonVolumeOverload = "Possible volume overload: %+.1f kg"
)

// Evaluate maps one normalized check-in plus its recent weight history
// (newest first, at most HistoryWindow samples) onto a risk level and the
// reasons behind it. It is pure: no I/O, no mutation of its inputs, identical
// output for identical input.
//
// Rules run in a fixed order and each can only escalate the level; the final
// level is the maximum over fired rules while every fired rule's reason is
// kept, even when two rules point at overlapping symptoms.
func Evaluate(c *checkin.CheckIn, history []checkin.WeightSample) Evaluation {
	level := LevelGreen
	var reasons []string

	escalate := func(to Level, reason string) {
		level = maxLevel(level, to)
		reasons = append(reasons, reason)
	}

	if c.Bleeding {
		escalate(LevelRed, ReasonBleeding)
	}

	if c.Fever {
		escalate(LevelRed, ReasonFever)
	}

	if c.Confusion && c.BowelMovements == 0 {
		escalate(LevelRed, ReasonSevereHE)
	}

	// Bowel movements are the physiologic route for ammonia clearance; any
	// neuro flag with a low count is flagged even when the red rule above
	// already fired.
	neuro := c.Confusion || c.SleepReversal || c.Tremor
	if neuro && c.BowelMovements < 2 {
		escalate(LevelYellow, ReasonPossibleHE)
	}

	// Trend across the whole retrieved window, newest minus oldest. Skipped
	// outright below two samples: a new patient or one who never records a
	// weight can never trigger this rule.
	if len(history) >= 2 {
		delta := history[0].WeightKg - history[len(history)-1].WeightKg
		if delta >= weightGainThresholdKg {
			escalate(LevelYellow, fmt.Sprintf(reasonVolumeOverload, delta))
		}
	}

	if len(reasons) == 0 {
		reasons = []string{ReasonNoSignal}
	}

	return Evaluation{Level: level, Reasons: reasons}
}
