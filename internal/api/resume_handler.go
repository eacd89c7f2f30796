package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hireflow/internal/api/middleware"
	"hireflow/internal/database"
	"hireflow/internal/events"
	"hireflow/internal/storage"
)

// objectStorage is the storage surface the gateway needs.
// *storage.Client satisfies it.
type objectStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	StatObject(ctx context.Context, objectKey string) (*storage.ObjectMeta, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// ResumeHandler 负责处理简历上传与查询。
type ResumeHandler struct {
	db        *gorm.DB
	publisher eventPublisher
	storage   objectStorage
	clamdAddr string
	logger    *slog.Logger
}

// NewResumeHandler 构造 ResumeHandler。clamdAddr 为空时跳过病毒扫描。
func NewResumeHandler(db *gorm.DB, publisher eventPublisher, store objectStorage, clamdAddr string, logger *slog.Logger) *ResumeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeHandler{
		db:        db,
		publisher: publisher,
		storage:   store,
		clamdAddr: clamdAddr,
		logger:    logger,
	}
}

type resumeResponse struct {
	ResumeID         string         `json:"resume_id"`
	JobID            string         `json:"job_id"`
	OriginalFilename string         `json:"original_filename"`
	Status           string         `json:"status"`
	ParsedData       datatypes.JSON `json:"parsed_data,omitempty"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	RetryCount       int            `json:"retry_count,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func newResumeResponse(r database.Resume) resumeResponse {
	return resumeResponse{
		ResumeID:         r.ResumeID,
		JobID:            r.JobID,
		OriginalFilename: r.OriginalFilename,
		Status:           r.Status,
		ParsedData:       r.ParsedData,
		FailureReason:    r.FailureReason,
		RetryCount:       r.RetryCount,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// UploadResume 接收简历文件：扫描、落盘到对象存储、建档并发布
// job.resume.submitted 事件。
func (h *ResumeHandler) UploadResume(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")
	correlationID := middleware.GetCorrelationID(c)

	var job database.Job
	if err := h.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return
		}
		Internal(c, "failed to query job")
		return
	}
	switch job.Status {
	case database.JobStatusClosed, database.JobStatusFailed:
		Conflict(c, "job no longer accepts resumes")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}

	if h.clamdAddr != "" {
		if err := h.scanUpload(file); err != nil {
			if errors.Is(err, errMaliciousFile) {
				BadRequest(c, "malicious file detected")
				return
			}
			h.logger.Error("scan file", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	defer fileReader.Close()

	resumeID := uuid.NewString()
	objectKey := fmt.Sprintf("resumes/%s/%s%s", jobID, resumeID, filepath.Ext(file.Filename))
	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := h.storage.UploadFile(ctx, objectKey, fileReader, file.Size, contentType); err != nil {
		h.logger.Error("upload resume file", slog.Any("error", err))
		Internal(c, "failed to store file")
		return
	}

	resume := database.Resume{
		ResumeID:         resumeID,
		JobID:            jobID,
		OriginalFilename: file.Filename,
		ObjectKey:        objectKey,
		Status:           database.ResumeStatusPending,
	}
	if err := h.db.WithContext(ctx).Create(&resume).Error; err != nil {
		// 建档失败时回收已上传的对象，避免 Bucket 里留下孤儿文件。
		if delErr := h.storage.DeleteObject(ctx, objectKey); delErr != nil {
			h.logger.Warn("cleanup orphaned object failed",
				slog.String("object_key", objectKey),
				slog.Any("error", delErr),
			)
		}
		Internal(c, "failed to create resume")
		return
	}

	task, err := events.NewResumeSubmittedTask(events.ResumeSubmitted{
		JobID:            jobID,
		ResumeID:         resumeID,
		OriginalFilename: file.Filename,
		TempFileURL:      objectKey,
		CorrelationID:    correlationID,
	})
	if err != nil {
		Internal(c, "failed to build intake event")
		return
	}
	if err := h.publisher.Publish(ctx, task); err != nil {
		h.logger.Error("publish resume.submitted failed",
			slog.String("correlation_id", correlationID),
			slog.String("resume_id", resumeID),
			slog.Any("error", err),
		)
		Internal(c, "failed to submit resume for processing")
		return
	}

	c.JSON(http.StatusCreated, newResumeResponse(resume))
}

var errMaliciousFile = errors.New("malicious file detected")

func (h *ResumeHandler) scanUpload(file *multipart.FileHeader) error {
	fileReader, err := file.Open()
	if err != nil {
		return fmt.Errorf("open upload for scan: %w", err)
	}

	clamdClient := clamd.NewClamd(h.clamdAddr)
	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
	fileReader.Close()
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return errMaliciousFile
		}
	}
	return nil
}

// ListJobResumes 列出某岗位下的全部简历。
func (h *ResumeHandler) ListJobResumes(c *gin.Context) {
	var resumes []database.Resume
	if err := h.db.WithContext(c.Request.Context()).
		Where("job_id = ?", c.Param("id")).
		Order("created_at DESC").
		Find(&resumes).Error; err != nil {
		Internal(c, "failed to list resumes")
		return
	}

	items := make([]resumeResponse, 0, len(resumes))
	for _, r := range resumes {
		items = append(items, newResumeResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetResume 返回指定简历。
func (h *ResumeHandler) GetResume(c *gin.Context) {
	var resume database.Resume
	err := h.db.WithContext(c.Request.Context()).
		Where("resume_id = ?", c.Param("id")).
		First(&resume).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "resume not found")
			return
		}
		Internal(c, "failed to query resume")
		return
	}
	c.JSON(http.StatusOK, newResumeResponse(resume))
}

// GetDownloadLink 返回原始简历文件的限时下载链接。
func (h *ResumeHandler) GetDownloadLink(c *gin.Context) {
	ctx := c.Request.Context()

	var resume database.Resume
	err := h.db.WithContext(ctx).
		Where("resume_id = ?", c.Param("id")).
		First(&resume).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "resume not found")
			return
		}
		Internal(c, "failed to query resume")
		return
	}

	// 先确认对象还在，避免签发指向已删除文件的链接。
	meta, err := h.storage.StatObject(ctx, resume.ObjectKey)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			NotFound(c, "resume file no longer available")
			return
		}
		h.logger.Error("stat resume object", slog.Any("error", err))
		Internal(c, "failed to check resume file")
		return
	}

	url, err := h.storage.GeneratePresignedURL(ctx, resume.ObjectKey, 10*time.Minute)
	if err != nil {
		h.logger.Error("generate download link", slog.Any("error", err))
		Internal(c, "failed to generate download link")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":                url,
		"size_bytes":         meta.Size,
		"expires_in_seconds": 600,
	})
}
