package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/flowstatus/internal/errors"
	"github.com/3leaps/flowstatus/pkg/statusdb"
)

// RecordsResponse lists the records of a run.
type RecordsResponse struct {
	RunID   string             `json:"run_id"`
	Project string             `json:"project,omitempty"`
	Count   int                `json:"count"`
	Records []*statusdb.Record `json:"records"`
}

// RecordsHandler serves GET /v1/runs/{runID}/records[?project=].
type RecordsHandler struct {
	store statusdb.Store
}

func NewRecordsHandler(store statusdb.Store) *RecordsHandler {
	return &RecordsHandler{store: store}
}

func (h *RecordsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(chi.URLParam(r, "runID"))
	if runID == "" {
		respondWithError(w, r, apperrors.NewBadRequestError("run id is required"))
		return
	}
	project := strings.TrimSpace(r.URL.Query().Get("project"))

	recs, err := h.store.ListByRun(r.Context(), runID, project)
	if err != nil {
		if statusdb.IsUnavailable(err) {
			respondWithError(w, r, apperrors.WrapExternal(err, "status store unavailable"))
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "list records"))
		return
	}
	if len(recs) == 0 {
		respondWithError(w, r, apperrors.NewNotFoundError("no records for run").
			WithDetail("run_id", runID).
			WithDetail("project", project))
		return
	}
	writeJSON(w, http.StatusOK, RecordsResponse{RunID: runID, Project: project, Count: len(recs), Records: recs})
}

// VersionInfo is the body of GET /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// VersionHandler serves info as JSON.
func VersionHandler(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, info)
	}
}
