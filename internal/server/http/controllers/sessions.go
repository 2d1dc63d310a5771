package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/drewthekiiid/pipai-sub002/internal/runtime"
	"github.com/drewthekiiid/pipai-sub002/pkg/id"
)

const clientCancelReason = "cancelled by client"

// SessionsController lists and cancels active stream sessions.
type SessionsController struct {
	rt *runtime.Runtime
}

// NewSessionsController creates a new sessions controller.
func NewSessionsController(rt *runtime.Runtime) *SessionsController {
	return &SessionsController{rt: rt}
}

// RegisterRoutes registers session routes with the given router.
func (c *SessionsController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/sessions", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions", c.handleCancelKey).Methods(http.MethodDelete).Queries("key", "{key}")
	r.HandleFunc("/v1/sessions/{id}", c.handleCancel).Methods(http.MethodDelete)
}

func (c *SessionsController) handleList(w http.ResponseWriter, r *http.Request) {
	list := c.rt.Registry().Snapshot()
	writeJSON(w, map[string]any{"sessions": list, "count": len(list)})
}

// handleCancel drains one session by id. The session sends a cancelled
// frame followed by disconnected.
func (c *SessionsController) handleCancel(w http.ResponseWriter, r *http.Request) {
	sid, err := id.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	c.cancel(w, sid.String())
}

// handleCancelKey drains every session of a key, e.g. all viewers of
// user:42.
func (c *SessionsController) handleCancelKey(w http.ResponseWriter, r *http.Request) {
	c.cancel(w, mux.Vars(r)["key"])
}

func (c *SessionsController) cancel(w http.ResponseWriter, target string) {
	n := c.rt.Registry().Cancel(target, clientCancelReason)
	if n == 0 {
		writeError(w, http.StatusNotFound, "no active session "+target)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"cancelled": n})
}
