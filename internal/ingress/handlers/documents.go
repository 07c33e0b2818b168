package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/janovincze/tributary/internal/docstore"
	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/ingress/models"
)

// Event types stamped on mutations captured from document writes.
const (
	EventTypeWrite  = "document.write"
	EventTypeDelete = "document.delete"
)

// DocumentConfig controls document write capture.
type DocumentConfig struct {
	// CollectionPath is the watched collection template, e.g. "users/{uid}/posts".
	CollectionPath string

	// ProjectID qualifies resource names.
	ProjectID string

	// CaptureWrites captures writes to watched documents directly. Leave it
	// off when the WAL source already observes the documents table.
	CaptureWrites bool

	// MaxBodyBytes bounds PUT bodies.
	MaxBodyBytes int64
}

// DocumentHandler serves the document API.
type DocumentHandler struct {
	store    docstore.Store
	capturer Capturer
	config   DocumentConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewDocumentHandler creates a new DocumentHandler. capturer may be nil when
// CaptureWrites is off.
func NewDocumentHandler(store docstore.Store, capturer Capturer, cfg DocumentConfig, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &DocumentHandler{
		store:    store,
		capturer: capturer,
		config:   cfg,
		logger:   logger.With("component", "document-api"),
		now:      time.Now,
	}
}

// GetDocument returns a document.
// GET /v1/documents/*path
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	path, ok := h.path(c)
	if !ok {
		return
	}

	snap, err := h.store.Get(c.Request.Context(), path)
	if err != nil {
		_ = c.Error(err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "failed to read document"))
		return
	}
	if !snap.Exists {
		models.RespondWithError(c, models.NewNotFoundError(c.Request.URL.Path, "document not found: "+path))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// PutDocument creates or replaces a document.
// PUT /v1/documents/*path
func (h *DocumentHandler) PutDocument(c *gin.Context) {
	path, ok := h.path(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxBodyBytes)
	var req models.DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			models.RespondWithError(c, models.NewPayloadTooLargeError(c.Request.URL.Path, err.Error()))
			return
		}
		models.RespondWithError(c, models.NewBadRequestError(c.Request.URL.Path, "invalid document: "+err.Error()))
		return
	}

	before, after, err := h.store.Put(c.Request.Context(), path, req.Data)
	if err != nil {
		_ = c.Error(err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "failed to write document"))
		return
	}

	if !h.capture(c, EventTypeWrite, before, after) {
		return
	}

	code := http.StatusOK
	if !before.Exists {
		code = http.StatusCreated
	}
	c.JSON(code, after)
}

// DeleteDocument removes a document.
// DELETE /v1/documents/*path
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	path, ok := h.path(c)
	if !ok {
		return
	}

	before, err := h.store.Delete(c.Request.Context(), path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			models.RespondWithError(c, models.NewNotFoundError(c.Request.URL.Path, "document not found: "+path))
			return
		}
		_ = c.Error(err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "failed to delete document"))
		return
	}

	after := export.Snapshot{Path: before.Path, ID: before.ID}
	if !h.capture(c, EventTypeDelete, before, after) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DocumentHandler) path(c *gin.Context) (string, bool) {
	path := strings.Trim(c.Param("path"), "/")
	if err := export.ValidateDocumentPath(path); err != nil {
		models.RespondWithError(c, models.NewBadRequestError(c.Request.URL.Path, err.Error()))
		return "", false
	}
	return path, true
}

// capture hands a completed write to the capture trigger when the document
// lives in the watched collection. It reports false after writing an error.
func (h *DocumentHandler) capture(c *gin.Context, eventType string, before, after export.Snapshot) bool {
	if !h.config.CaptureWrites || h.capturer == nil {
		return true
	}

	path := after.Path
	if path == "" {
		path = before.Path
	}
	params, ok := export.MatchDocument(h.config.CollectionPath, path)
	if !ok {
		return true
	}

	m := export.Mutation{
		Before: before,
		After:  after,
		Context: export.TriggerContext{
			EventID:   uuid.New().String(),
			Timestamp: h.now(),
			EventType: eventType,
			Resource:  export.Resource{Service: "tributary", Name: export.DocumentName(h.config.ProjectID, path)},
			Params:    params,
		},
	}

	if err := h.capturer.Handle(c.Request.Context(), m); err != nil {
		h.logger.Error("document written but not captured", "path", path, "event_id", m.Context.EventID, "error", err)
		_ = c.Error(err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "document written but capture failed"))
		return false
	}
	return true
}
