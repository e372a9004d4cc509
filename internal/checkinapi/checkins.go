package checkinapi

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/shuntwatch/internal/checkin"
)

// ingestEnvelope is the write-event payload from the check-in collection.
// Record carries the raw document fields as submitted; normalization is the
// pipeline's job, not the transport's.
type ingestEnvelope struct {
	Record  map[string]any `json:"record"`
	Deleted bool           `json:"deleted"`
}

func (a *API) handleIngestCheckIn(w http.ResponseWriter, r *http.Request) {
	var env ingestEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	ev := &checkin.Event{Record: env.Record, Deleted: env.Deleted}

	res, err := a.svc.Process(r.Context(), ev)
	if err != nil {
		a.logger.Error(r.Context(), err, "check-in processing failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	if res.Skipped {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"skipped": true,
			"reason":  res.Reason,
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"patientId":    res.PatientID,
		"checkinDate":  res.CheckInDate,
		"evaluationId": res.EvaluationID,
		"level":        res.Evaluation.Level,
		"reasons":      res.Evaluation.Reasons,
	})
}
