package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/runtime"
	"github.com/drewthekiiid/pipai-sub002/internal/upload"
)

const maxMemory = 32 << 20

// UploadsController accepts multipart file uploads.
type UploadsController struct {
	rt *runtime.Runtime
}

// NewUploadsController creates a new uploads controller.
func NewUploadsController(rt *runtime.Runtime) *UploadsController {
	return &UploadsController{rt: rt}
}

// RegisterRoutes registers upload routes with the given router.
func (c *UploadsController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/uploads", c.handleUpload).Methods(http.MethodPost)
}

// handleUpload expects form fields file, user_id and optionally
// analysis_type and options (a JSON object).
func (c *UploadsController) handleUpload(w http.ResponseWriter, r *http.Request) {
	svc := c.rt.Uploads()
	if svc == nil {
		writeErr(w, upload.ErrNoStore)
		return
	}
	if limit := c.rt.Config().Upload.MaxFileBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+maxMemory)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeErr(w, errors.Annotate(upload.ErrTooLarge, "request body"))
			return
		}
		writeErr(w, errors.NewNotValid(err, "multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeErr(w, errors.NewNotValid(err, "file field"))
		return
	}
	defer file.Close()

	var opts map[string]any
	if raw := r.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			writeErr(w, errors.NewNotValid(err, "options"))
			return
		}
	}
	res, err := svc.Upload(r.Context(), upload.Request{
		UserID:       r.FormValue("user_id"),
		FileName:     hdr.Filename,
		ContentType:  hdr.Header.Get("Content-Type"),
		Size:         hdr.Size,
		Body:         file,
		AnalysisType: r.FormValue("analysis_type"),
		Options:      opts,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}
