package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hireflow/internal/database"
)

// ReportHandler 负责报告与评分的读取端。
type ReportHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewReportHandler 构造 ReportHandler。
func NewReportHandler(db *gorm.DB, logger *slog.Logger) *ReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{db: db, logger: logger}
}

type reportResponse struct {
	ReportID           string         `json:"report_id"`
	JobID              string         `json:"job_id"`
	ResumeID           string         `json:"resume_id"`
	Summary            string         `json:"summary"`
	Strengths          datatypes.JSON `json:"strengths"`
	Gaps               datatypes.JSON `json:"gaps"`
	RedFlags           datatypes.JSON `json:"red_flags"`
	InterviewQuestions datatypes.JSON `json:"interview_questions"`
	GeneratedAt        time.Time      `json:"generated_at"`
}

func newReportResponse(r database.Report) reportResponse {
	return reportResponse{
		ReportID:           r.ReportID,
		JobID:              r.JobID,
		ResumeID:           r.ResumeID,
		Summary:            r.Summary,
		Strengths:          r.Strengths,
		Gaps:               r.Gaps,
		RedFlags:           r.RedFlags,
		InterviewQuestions: r.InterviewQuestions,
		GeneratedAt:        r.GeneratedAt,
	}
}

type scoreResponse struct {
	JobID            string         `json:"job_id"`
	ResumeID         string         `json:"resume_id"`
	Score            float64        `json:"score"`
	Breakdown        datatypes.JSON `json:"breakdown"`
	Recommendations  datatypes.JSON `json:"recommendations"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	ScoredAt         *time.Time     `json:"scored_at,omitempty"`
}

// ListJobReports 列出某岗位下的全部报告。
func (h *ReportHandler) ListJobReports(c *gin.Context) {
	var reports []database.Report
	if err := h.db.WithContext(c.Request.Context()).
		Where("job_id = ?", c.Param("id")).
		Order("generated_at DESC").
		Find(&reports).Error; err != nil {
		Internal(c, "failed to list reports")
		return
	}

	items := make([]reportResponse, 0, len(reports))
	for _, r := range reports {
		items = append(items, newReportResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetReport 返回指定报告。
func (h *ReportHandler) GetReport(c *gin.Context) {
	var report database.Report
	err := h.db.WithContext(c.Request.Context()).
		Where("report_id = ?", c.Param("id")).
		First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "report not found")
			return
		}
		Internal(c, "failed to query report")
		return
	}
	c.JSON(http.StatusOK, newReportResponse(report))
}

// GetResumeScore 返回某简历的匹配评分（含各维度子分）。
func (h *ReportHandler) GetResumeScore(c *gin.Context) {
	var score database.MatchScore
	err := h.db.WithContext(c.Request.Context()).
		Where("resume_id = ? AND status = ?", c.Param("id"), database.MatchStatusScored).
		First(&score).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "score not available")
			return
		}
		Internal(c, "failed to query score")
		return
	}
	c.JSON(http.StatusOK, scoreResponse{
		JobID:            score.JobID,
		ResumeID:         score.ResumeID,
		Score:            score.Score,
		Breakdown:        score.Breakdown,
		Recommendations:  score.Recommendations,
		ProcessingTimeMs: score.ProcessingTimeMs,
		ScoredAt:         score.ScoredAt,
	})
}
