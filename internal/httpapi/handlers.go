package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/audit"
	"github.com/shovelend/pond/internal/domain"
	"github.com/shovelend/pond/internal/submission"
)

// SubmissionHandler fronts submission.API: submit, suspend/resume, status,
// an audit-backed poll-by-id, and a WebSocket stream of a submitted job's
// result. Adapted from api/internal/delivery/http/submission_handler.go's
// submit/get-by-id shape, generalized from a single code-execution resource
// into §4.E's five pool operations.
type SubmissionHandler struct {
	api    *submission.API
	logger *zap.Logger
	jobs   *jobStore
	audit  audit.Store // optional; nil disables GET /pools/:pool/jobs/:id
}

// NewSubmissionHandler builds a SubmissionHandler over api. auditStore may
// be nil, in which case Get reports the poll route as unavailable rather
// than panicking.
func NewSubmissionHandler(api *submission.API, logger *zap.Logger, auditStore audit.Store) *SubmissionHandler {
	return &SubmissionHandler{api: api, logger: logger, jobs: newJobStore(), audit: auditStore}
}

type submitRequest struct {
	Method string `json:"method" binding:"required"`
	Args   []any  `json:"args,omitempty"`
	Reply  bool   `json:"reply"`
}

type submitResponse struct {
	ID    uuid.UUID `json:"id"`
	Reply bool      `json:"reply"`
}

func ownerFromRequest(c *gin.Context) domain.Owner {
	if id := c.GetHeader("X-Client-ID"); id != "" {
		return domain.Owner(id)
	}
	return domain.Owner(c.ClientIP())
}

// Submit handles POST /api/v1/pools/:pool/jobs.
func (h *SubmissionHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	task := domain.Method(req.Method)
	if len(req.Args) > 0 {
		task = domain.MethodArgs(req.Method, req.Args...)
	}

	pool := domain.Local(c.Param("pool"))
	owner := ownerFromRequest(c)

	job, err := h.api.Async(c.Request.Context(), owner, pool, task, req.Reply)
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}
	if req.Reply {
		h.jobs.put(job, owner)
	}

	c.JSON(http.StatusAccepted, submitResponse{ID: job.ID, Reply: req.Reply})
}

func (h *SubmissionHandler) writeSubmitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNoQueue), errors.Is(err, domain.ErrPoolNotFound):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUnknownMethod):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("submit job failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// Suspend handles POST /api/v1/pools/:pool/suspend (§4.E suspend).
func (h *SubmissionHandler) Suspend(c *gin.Context) {
	pool := domain.Local(c.Param("pool"))
	if err := h.api.Suspend(c.Request.Context(), pool); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Resume handles POST /api/v1/pools/:pool/resume (§4.E resume).
func (h *SubmissionHandler) Resume(c *gin.Context) {
	pool := domain.Local(c.Param("pool"))
	if err := h.api.Resume(c.Request.Context(), pool); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Status handles GET /api/v1/pools/:pool/status (§4.E status).
func (h *SubmissionHandler) Status(c *gin.Context) {
	pool := domain.Local(c.Param("pool"))
	status, err := h.api.Status(c.Request.Context(), pool)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// Get handles GET /api/v1/pools/:pool/jobs/:id: a non-blocking poll of a
// job's audited history, as an alternative to Stream for callers that don't
// want to hold a WebSocket open. Adapted from
// api/internal/delivery/http/submission_handler.go's GetByID.
func (h *SubmissionHandler) Get(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit trail not configured"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	rec, err := h.audit.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("get job failed", zap.Error(err), zap.String("job_id", id.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
