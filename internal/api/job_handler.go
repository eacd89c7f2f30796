package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hireflow/internal/api/middleware"
	"hireflow/internal/database"
	"hireflow/internal/events"
)

// eventPublisher is the broker surface the gateway publishes intake
// events through. *events.Publisher satisfies it.
type eventPublisher interface {
	Publish(ctx context.Context, task *asynq.Task) error
}

// JobHandler 负责处理岗位相关的 API 请求。
type JobHandler struct {
	db        *gorm.DB
	publisher eventPublisher
	logger    *slog.Logger
}

// NewJobHandler 构造 JobHandler。
func NewJobHandler(db *gorm.DB, publisher eventPublisher, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{db: db, publisher: publisher, logger: logger}
}

type createJobRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description" binding:"required"`
}

type jobResponse struct {
	JobID        string         `json:"job_id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Requirements datatypes.JSON `json:"requirements,omitempty"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func newJobResponse(j database.Job, includeDescription bool) jobResponse {
	resp := jobResponse{
		JobID:        j.JobID,
		Title:        j.Title,
		Requirements: j.Requirements,
		Status:       j.Status,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if includeDescription {
		resp.Description = j.Description
	}
	return resp
}

// CreateJob 创建岗位并发布 job.jd.submitted 事件。
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	correlationID := middleware.GetCorrelationID(c)

	job := database.Job{
		JobID:       uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Status:      database.JobStatusActive,
	}
	if err := h.db.WithContext(ctx).Create(&job).Error; err != nil {
		Internal(c, "failed to create job")
		return
	}

	task, err := events.NewJDSubmittedTask(events.JDSubmitted{
		JobID:         job.JobID,
		JobTitle:      job.Title,
		JDText:        job.Description,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	})
	if err != nil {
		Internal(c, "failed to build intake event")
		return
	}
	if err := h.publisher.Publish(ctx, task); err != nil {
		h.logger.Error("publish jd.submitted failed",
			slog.String("correlation_id", correlationID),
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		Internal(c, "failed to submit job for processing")
		return
	}

	c.JSON(http.StatusCreated, newJobResponse(job, true))
}

// ListJobs 列出岗位，可按状态过滤。
func (h *JobHandler) ListJobs(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Order("created_at DESC")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var jobs []database.Job
	if err := query.Find(&jobs).Error; err != nil {
		Internal(c, "failed to list jobs")
		return
	}

	items := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, newJobResponse(j, false))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetJob 返回指定岗位。
func (h *JobHandler) GetJob(c *gin.Context) {
	var job database.Job
	err := h.db.WithContext(c.Request.Context()).
		Where("job_id = ?", c.Param("id")).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return
		}
		Internal(c, "failed to query job")
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job, true))
}

// CloseJob 关闭岗位。岗位从不删除，只会被关闭。
func (h *JobHandler) CloseJob(c *gin.Context) {
	res := h.db.WithContext(c.Request.Context()).Model(&database.Job{}).
		Where("job_id = ? AND status <> ?", c.Param("id"), database.JobStatusClosed).
		Update("status", database.JobStatusClosed)
	if res.Error != nil {
		Internal(c, "failed to close job")
		return
	}
	if res.RowsAffected == 0 {
		var count int64
		h.db.WithContext(c.Request.Context()).Model(&database.Job{}).
			Where("job_id = ?", c.Param("id")).Count(&count)
		if count == 0 {
			NotFound(c, "job not found")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": database.JobStatusClosed})
}
