package controllers

import (
	"github.com/gorilla/mux"

	"github.com/drewthekiiid/pipai-sub002/internal/runtime"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and shares the runtime and logger between controllers.
type ControllerRegistry struct {
	general   *GeneralController
	sessions  *SessionsController
	streams   *StreamsController
	publish   *PublishController
	workflows *WorkflowsController
	uploads   *UploadsController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, logger logpkg.Logger) *ControllerRegistry {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	logger = logger.WithComponent("http")
	return &ControllerRegistry{
		general:   NewGeneralController(rt),
		sessions:  NewSessionsController(rt),
		streams:   NewStreamsController(rt, logger),
		publish:   NewPublishController(rt),
		workflows: NewWorkflowsController(rt, logger),
		uploads:   NewUploadsController(rt),
	}
}

// RegisterAllRoutes registers all controller routes with the given router.
func (r *ControllerRegistry) RegisterAllRoutes(router *mux.Router) {
	r.general.RegisterRoutes(router)
	r.sessions.RegisterRoutes(router)
	r.streams.RegisterRoutes(router)
	r.publish.RegisterRoutes(router)
	r.workflows.RegisterRoutes(router)
	r.uploads.RegisterRoutes(router)
}
