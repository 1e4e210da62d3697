package api

import (
	"context"
	"net/http"

	service "github.com/aidenrawles/synergy/internal/app"
	"github.com/aidenrawles/synergy/internal/domain/model"
	"github.com/aidenrawles/synergy/internal/domain/types"
)

// AllocationDependencies defines what the allocation handler needs.
type AllocationDependencies interface {
	RunAllocation(ctx context.Context) (service.Run, error)
	CurrentAllocation(ctx context.Context) (types.AllocationView, error)
}

// AllocationHandler handles allocation requests.
type AllocationHandler struct {
	deps AllocationDependencies
}

// NewAllocationHandler creates a new allocation handler.
func NewAllocationHandler(deps AllocationDependencies) *AllocationHandler {
	return &AllocationHandler{deps: deps}
}

type runStats struct {
	Candidates     int     `json:"candidates"`
	Skipped        int     `json:"skipped"`
	Unratable      int     `json:"unratable"`
	SlotsRemaining int     `json:"slots_remaining"`
	DurationMs     float64 `json:"duration_ms"`
}

type allocationResponse struct {
	Projects []model.Project      `json:"projects"`
	Groups   []model.Group        `json:"groups"`
	Result   types.AllocationView `json:"result"`
	Loads    []types.ProjectLoad  `json:"loads"`
	Stats    runStats             `json:"stats"`
}

// HandleAllocation handles POST (run now) and GET (latest result) on
// /v1/allocation.
func (h *AllocationHandler) HandleAllocation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.run(w, r)
	case http.MethodGet:
		h.current(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *AllocationHandler) run(w http.ResponseWriter, r *http.Request) {
	const op = "api.run_allocation"
	run, err := h.deps.RunAllocation(r.Context())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	resp := allocationResponse{
		Projects: run.Snapshot.Projects,
		Groups:   run.Snapshot.Groups,
		Result:   types.NewAllocationView(run.Result),
		Loads:    run.Loads,
		Stats: runStats{
			Candidates:     run.Stats.Candidates,
			Skipped:        run.Stats.Skipped,
			Unratable:      run.Stats.Unratable,
			SlotsRemaining: run.Stats.SlotsRemaining,
			DurationMs:     float64(run.Duration.Microseconds()) / 1000,
		},
	}
	if resp.Projects == nil {
		resp.Projects = []model.Project{}
	}
	if resp.Groups == nil {
		resp.Groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AllocationHandler) current(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_allocation"
	view, err := h.deps.CurrentAllocation(r.Context())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
