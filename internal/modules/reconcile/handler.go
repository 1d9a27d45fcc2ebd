package reconcile

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/pkg/record"
	"github.com/contentforge/core/internal/pkg/response"
	"github.com/contentforge/core/internal/pkg/taskqueue"
)

// dedupKey keeps at most one reconciliation in flight at a time.
const dedupKey = "reconcile"

type triggerDTO struct {
	DryRun bool `json:"dryRun"`
}

type Handler struct {
	store record.Store
	queue *taskqueue.Service
}

func NewHandler(store record.Store, queue *taskqueue.Service) *Handler {
	return &Handler{store: store, queue: queue}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/reconcile", authMW)
	g.POST("", h.trigger)
	g.GET("/jobs", h.jobs)
	g.GET("/jobs/:id", h.job)
}

func (h *Handler) trigger(c *gin.Context) {
	// A bodyless POST triggers a live run with defaults.
	var dto triggerDTO
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&dto); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	task, err := h.queue.Enqueue(c.Request.Context(), TaskType, jobPayload{DryRun: dto.DryRun}, dedupKey)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Accepted(c, gin.H{"jobId": task.ID, "status": task.Status})
}

func (h *Handler) jobs(c *gin.Context) {
	taskType := TaskType
	tasks, err := h.queue.List(c.Request.Context(), &taskType, nil)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, tasks)
}

func (h *Handler) job(c *gin.Context) {
	var p models.Progress
	err := record.GetJSON(c.Request.Context(), h.store, record.ProgressKey(c.Param("id")), &p)
	if errors.Is(err, record.ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, p)
}
