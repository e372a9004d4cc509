// Package checkinapi exposes the HTTP surface: check-in ingestion for the
// patient app backend and risk/evaluation reads for the clinician dashboard.
package checkinapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/shuntwatch/internal/checkin"
	"github.com/linnemanlabs/shuntwatch/internal/risk"
)

const (
	defaultEvaluationsLimit = 20
	maxEvaluationsLimit     = 100
)

// CheckInService defines the business operations checkinapi needs.
type CheckInService interface {
	Process(ctx context.Context, ev *checkin.Event) (*risk.ProcessResult, error)
	GetState(ctx context.Context, patientID string) (*risk.State, bool, error)
	RecentEvaluations(ctx context.Context, patientID string, limit int) ([]risk.EvalRecord, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    CheckInService
}

// New creates a new API handler.
func New(logger log.Logger, svc CheckInService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("check-in service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkins", a.handleIngestCheckIn)
		r.Get("/patients/{patientID}/risk", a.handleGetRisk)
		r.Get("/patients/{patientID}/evaluations", a.handleListEvaluations)
	})
}

func (a *API) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("shuntwatch.patient.id", patientID))

	st, ok, err := a.svc.GetState(r.Context(), patientID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get risk state", "patient_id", patientID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("shuntwatch.risk.level", string(st.Level)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func (a *API) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("shuntwatch.patient.id", patientID))

	limit := defaultEvaluationsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = min(n, maxEvaluationsLimit)
	}

	recs, err := a.svc.RecentEvaluations(r.Context(), patientID, limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list evaluations", "patient_id", patientID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []risk.EvalRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"evaluations": recs,
	})
}
