package controllers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/jobs"
	"github.com/drewthekiiid/pipai-sub002/internal/publisher"
	"github.com/drewthekiiid/pipai-sub002/internal/runtime"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// WorkflowsController answers one-shot status requests and cancels jobs.
type WorkflowsController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// NewWorkflowsController creates a new workflows controller.
func NewWorkflowsController(rt *runtime.Runtime, logger logpkg.Logger) *WorkflowsController {
	return &WorkflowsController{rt: rt, logger: logger}
}

// RegisterRoutes registers workflow routes with the given router.
func (c *WorkflowsController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/workflows/{id}/status", c.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/workflows/{id}/cancel", c.handleCancel).Methods(http.MethodPost)
}

// handleStatus describes the workflow and adds its progress query when the
// workflow answers it. Source is "query" or "describe".
func (c *WorkflowsController) handleStatus(w http.ResponseWriter, r *http.Request) {
	wf := mux.Vars(r)["id"]
	h := c.rt.Engine().Handle(wf)
	desc, err := h.Describe(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := workflowStatusResp{WorkflowID: wf, State: string(desc.State), Source: "describe"}

	if !desc.State.Terminal() {
		st, err := h.QueryProgress(r.Context())
		switch {
		case err == nil:
			resp.Source = "query"
			resp.Step = st.Step
			resp.Progress = &st.Progress
			resp.Error = st.Error
		case errors.Is(err, jobs.ErrQueryUnsupported):
		default:
			writeErr(w, err)
			return
		}
	}
	if desc.State.Succeeded() {
		if res, err := h.FetchResult(r.Context()); err == nil {
			resp.Result = c.rt.RelayOptions().Redaction.Redact(res)
		}
	}
	writeJSON(w, resp)
}

// handleCancel asks the engine to cancel and records a cancelled progress
// event on the workflow subject.
func (c *WorkflowsController) handleCancel(w http.ResponseWriter, r *http.Request) {
	wf := mux.Vars(r)["id"]
	if err := c.rt.Engine().Handle(wf).Cancel(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	subject := publisher.WorkflowSubject(wf)
	cur, err := c.rt.Publisher().PublishProgress(r.Context(), subject, "cancelled", 0, "Analysis cancelled", map[string]any{
		"cancelled": true,
	})
	if err != nil {
		c.logger.Warn("workflow.cancel_event_failed", logpkg.Str("workflow_id", wf), logpkg.Err(err))
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]any{
		"workflow_id": wf,
		"status":      "cancelling",
		"id":          string(cur),
	})
}
