package upload

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/jobs"
	"github.com/drewthekiiid/pipai-sub002/internal/publisher"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

const (
	// ErrTooLarge is returned for files over the configured size limit.
	ErrTooLarge = errors.ConstError("file too large")
	// ErrNoStore is returned when no object store is configured.
	ErrNoStore = errors.ConstError("object store not configured")
)

// Category groups content types for the analysis workflow.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
	CategoryCode     Category = "code"
	CategoryData     Category = "data"
)

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true, ".java": true,
	".rb": true, ".rs": true, ".c": true, ".cpp": true, ".h": true, ".sh": true,
}

// Classify returns the category of a file from its content type and name.
func Classify(contentType, fileName string) Category {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return CategoryImage
	case codeExtensions[strings.ToLower(path.Ext(fileName))],
		strings.HasPrefix(contentType, "text/x-"),
		contentType == "application/javascript":
		return CategoryCode
	case contentType == "application/json", contentType == "text/csv",
		strings.Contains(contentType, "spreadsheet"), strings.Contains(contentType, "excel"):
		return CategoryData
	default:
		return CategoryDocument
	}
}

// Options configure a Service.
type Options struct {
	MaxFileBytes int64
	// AllowedContentTypes lists accepted media types; empty accepts all.
	AllowedContentTypes []string
	PresignTTL          time.Duration
	Clock               clock.Clock
	Logger              logpkg.Logger
}

// Request is one uploaded file.
type Request struct {
	UserID       string
	FileName     string
	ContentType  string
	Size         int64
	Body         io.ReadSeeker
	AnalysisType string
	Options      map[string]any
}

// Result describes a stored file and its analysis workflow.
type Result struct {
	FileID      string   `json:"file_id"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
	Key         string   `json:"s3_key"`
	FileName    string   `json:"file_name"`
	ContentType string   `json:"content_type"`
	Category    Category `json:"category"`
	Size        int64    `json:"size"`
	URL         string   `json:"url,omitempty"`
}

// Service stores uploads and starts their analysis.
type Service struct {
	store   ObjectStore
	engine  jobs.Engine
	pub     *publisher.Publisher
	opts    Options
	allowed map[string]bool
	logger  logpkg.Logger
}

// NewService builds a Service. store may be nil, in which case Upload fails
// with ErrNoStore.
func NewService(store ObjectStore, engine jobs.Engine, pub *publisher.Publisher, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}
	if engine == nil {
		engine = jobs.Disabled{}
	}
	allowed := make(map[string]bool, len(opts.AllowedContentTypes))
	for _, ct := range opts.AllowedContentTypes {
		allowed[strings.ToLower(ct)] = true
	}
	return &Service{
		store:   store,
		engine:  engine,
		pub:     pub,
		opts:    opts,
		allowed: allowed,
		logger:  opts.Logger.WithComponent("upload"),
	}
}

// Store returns the object store, or nil.
func (s *Service) Store() ObjectStore { return s.store }

// Upload validates and stores req, then starts its analysis. A disabled
// engine is not an error: the file is stored and WorkflowID stays empty.
func (s *Service) Upload(ctx context.Context, req Request) (Result, error) {
	if s.store == nil {
		return Result{}, ErrNoStore
	}
	contentType, err := s.validate(req)
	if err != nil {
		return Result{}, err
	}

	fileID := uuid.NewString()
	now := s.opts.Clock.Now().UTC()
	res := Result{
		FileID:      fileID,
		Key:         ObjectKey(req.UserID, now, fileID, req.FileName),
		FileName:    req.FileName,
		ContentType: contentType,
		Category:    Classify(contentType, req.FileName),
		Size:        req.Size,
	}
	if err := s.store.Put(ctx, res.Key, contentType, req.Body); err != nil {
		return Result{}, errors.Trace(err)
	}
	s.logger.Info("upload.stored",
		logpkg.Str("file_id", fileID),
		logpkg.Str("key", res.Key),
		logpkg.Int64("size", req.Size))

	fileSubject := publisher.FileSubject(fileID)
	if _, err := s.pub.PublishProgress(ctx, fileSubject, "uploaded", 25, "File uploaded", map[string]any{
		"user_id":   req.UserID,
		"file_name": req.FileName,
		"s3_key":    res.Key,
		"category":  string(res.Category),
	}); err != nil {
		s.logger.Warn("upload.publish_failed", logpkg.Str("file_id", fileID), logpkg.Err(err))
	}

	analysisType := req.AnalysisType
	if analysisType == "" {
		analysisType = "full"
	}
	options := req.Options
	if options == nil {
		options = map[string]any{}
	}
	workflowID, err := s.engine.Start(ctx, jobs.StartRequest{
		WorkflowID: "analyze-" + uuid.NewString(),
		Input: map[string]any{
			"fileUrl":      s.store.URL(res.Key),
			"userId":       req.UserID,
			"fileName":     req.FileName,
			"s3Key":        res.Key,
			"analysisType": analysisType,
			"options":      options,
		},
	})
	switch {
	case errors.Is(err, jobs.ErrEngineDisabled):
		s.logger.Info("upload.analysis_skipped", logpkg.Str("file_id", fileID))
	case err != nil:
		if _, perr := s.pub.PublishTerminal(ctx, fileSubject, publisher.Failure, nil, "could not start analysis"); perr != nil {
			s.logger.Warn("upload.publish_failed", logpkg.Str("file_id", fileID), logpkg.Err(perr))
		}
		return Result{}, errors.Annotatef(err, "start analysis of %s", fileID)
	default:
		res.WorkflowID = workflowID
		if _, err := s.pub.PublishProgress(ctx, publisher.WorkflowSubject(workflowID), "started", 30, "Analysis started", map[string]any{
			"user_id": req.UserID,
			"file_id": fileID,
		}); err != nil {
			s.logger.Warn("upload.publish_failed", logpkg.Str("workflow_id", workflowID), logpkg.Err(err))
		}
	}

	url, err := s.store.PresignGet(ctx, res.Key, s.opts.PresignTTL)
	if err != nil {
		s.logger.Warn("upload.presign_failed", logpkg.Str("key", res.Key), logpkg.Err(err))
	}
	res.URL = url
	return res, nil
}

func (s *Service) validate(req Request) (string, error) {
	if req.UserID == "" {
		return "", errors.NotValidf("empty user id")
	}
	if req.Body == nil || req.Size <= 0 {
		return "", errors.NotValidf("empty file")
	}
	if s.opts.MaxFileBytes > 0 && req.Size > s.opts.MaxFileBytes {
		return "", errors.Annotatef(ErrTooLarge, "%d bytes over limit %d", req.Size, s.opts.MaxFileBytes)
	}
	contentType := "application/octet-stream"
	if req.ContentType != "" {
		mt, _, err := mime.ParseMediaType(req.ContentType)
		if err != nil {
			return "", errors.NewNotValid(err, "content type "+req.ContentType)
		}
		contentType = mt
	}
	if len(s.allowed) > 0 && !s.allowed[contentType] {
		return "", errors.NotValidf("content type %q", contentType)
	}
	return contentType, nil
}

// ObjectKey is the storage key of an upload:
// uploads/{user}/{YYYY/MM/DD}/{fileID}_{safeName}.
func ObjectKey(userID string, at time.Time, fileID, fileName string) string {
	return "uploads/" + SafeName(userID) + "/" + at.UTC().Format("2006/01/02") + "/" + fileID + "_" + SafeName(fileName)
}

// SafeName keeps letters, digits, dot, dash and underscore; anything else
// becomes an underscore.
func SafeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if len(out) > 128 {
		out = out[len(out)-128:]
	}
	if out == "" {
		return "file"
	}
	return out
}
