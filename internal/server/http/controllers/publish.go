package controllers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/publisher"
	"github.com/drewthekiiid/pipai-sub002/internal/runtime"
)

// PublishController exposes the publisher to producers that cannot link
// it, such as analysis workers written in other languages.
type PublishController struct {
	rt *runtime.Runtime
}

// NewPublishController creates a new publish controller.
func NewPublishController(rt *runtime.Runtime) *PublishController {
	return &PublishController{rt: rt}
}

// RegisterRoutes registers publish routes with the given router.
func (c *PublishController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/publish/progress", c.handleProgress).Methods(http.MethodPost)
	r.HandleFunc("/v1/publish/terminal", c.handleTerminal).Methods(http.MethodPost)
	r.HandleFunc("/v1/publish/notification", c.handleNotification).Methods(http.MethodPost)
}

// subjectOf picks the explicit subject key or derives it from an id.
func subjectOf(subject, workflowID, fileID string) (string, error) {
	switch {
	case subject != "":
		return subject, nil
	case workflowID != "":
		return publisher.WorkflowSubject(workflowID), nil
	case fileID != "":
		return publisher.FileSubject(fileID), nil
	default:
		return "", errors.NotValidf("missing subject_key, workflow_id or file_id")
	}
}

func (c *PublishController) handleProgress(w http.ResponseWriter, r *http.Request) {
	var req progressReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	subject, err := subjectOf(req.SubjectKey, req.WorkflowID, req.FileID)
	if err != nil {
		writeErr(w, err)
		return
	}
	cur, err := c.rt.Publisher().PublishProgress(r.Context(), subject, req.Step, req.Progress, req.Message, req.Data)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, publishResp{SubjectKey: subject, ID: string(cur)})
}

func (c *PublishController) handleTerminal(w http.ResponseWriter, r *http.Request) {
	var req terminalReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	subject, err := subjectOf(req.SubjectKey, req.WorkflowID, req.FileID)
	if err != nil {
		writeErr(w, err)
		return
	}
	outcome := publisher.Failure
	if req.Success {
		outcome = publisher.Success
	}
	cur, err := c.rt.Publisher().PublishTerminal(r.Context(), subject, outcome, req.Result, req.Error)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, publishResp{SubjectKey: subject, ID: string(cur)})
}

func (c *PublishController) handleNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	cur, err := c.rt.Publisher().PublishNotification(r.Context(), req.UserID, req.Title, req.Message, req.Data)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, publishResp{SubjectKey: publisher.TopicNotifications, ID: string(cur)})
}
