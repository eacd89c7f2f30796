package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hireflow/internal/database"
	"hireflow/internal/events"
)

// ReportHandler 消费 analysis.match.scored 并为配对生成最终报告。
// 报告以 (job_id, resume_id) 唯一索引 upsert，重复投递不会产生
// 第二份报告。
type ReportHandler struct {
	db       *gorm.DB
	notifier *Notifier
	logger   *slog.Logger
}

// NewReportHandler 创建任务处理器。notifier 可以为 nil。
func NewReportHandler(db *gorm.DB, notifier *Notifier, logger *slog.Logger) *ReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{db: db, notifier: notifier, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *ReportHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload events.MatchScored
	if err := events.Decode(t, &payload); err != nil {
		h.logger.Error("invalid match.scored payload", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("job_id", payload.JobID),
		slog.String("resume_id", payload.ResumeID),
	)

	// 不变量：报告必须以已存在的 MatchScore 为前提。
	var score database.MatchScore
	if err := h.db.WithContext(ctx).
		Where("job_id = ? AND resume_id = ? AND status = ?",
			payload.JobID, payload.ResumeID, database.MatchStatusScored).
		First(&score).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("scored event without persisted match score")
			return fmt.Errorf("no match score for pair %s/%s", payload.JobID, payload.ResumeID)
		}
		return err
	}

	var job database.Job
	if err := h.db.WithContext(ctx).Where("job_id = ?", payload.JobID).First(&job).Error; err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	var resume database.Resume
	if err := h.db.WithContext(ctx).Where("resume_id = ?", payload.ResumeID).First(&resume).Error; err != nil {
		return fmt.Errorf("load resume: %w", err)
	}

	content := buildReportContent(job, resume, payload)

	strengthsJSON, err := json.Marshal(content.Strengths)
	if err != nil {
		return fmt.Errorf("marshal strengths: %w", err)
	}
	gapsJSON, err := json.Marshal(content.Gaps)
	if err != nil {
		return fmt.Errorf("marshal gaps: %w", err)
	}
	redFlagsJSON, err := json.Marshal(content.RedFlags)
	if err != nil {
		return fmt.Errorf("marshal red flags: %w", err)
	}
	questionsJSON, err := json.Marshal(content.InterviewQuestions)
	if err != nil {
		return fmt.Errorf("marshal interview questions: %w", err)
	}

	report := database.Report{
		ReportID:           uuid.NewString(),
		JobID:              payload.JobID,
		ResumeID:           payload.ResumeID,
		Summary:            content.Summary,
		Strengths:          strengthsJSON,
		Gaps:               gapsJSON,
		RedFlags:           redFlagsJSON,
		InterviewQuestions: questionsJSON,
		GeneratedAt:        time.Now().UTC(),
	}

	// 配对唯一索引上的 DO NOTHING：重复投递下报告不可变。
	res := h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "resume_id"}},
		DoNothing: true,
	}).Create(&report)
	if res.Error != nil {
		return fmt.Errorf("upsert report: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Info("report already exists, skipping")
		return nil
	}

	if err := h.db.WithContext(ctx).Model(&database.Job{}).
		Where("job_id = ? AND status IN ?", payload.JobID,
			[]string{database.JobStatusActive, database.JobStatusProcessing}).
		Update("status", database.JobStatusCompleted).Error; err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	if err := h.notifier.NotifyJob(ctx, ProgressMessage{
		Stage:         StageReportReady,
		Status:        "ok",
		JobID:         payload.JobID,
		ResumeID:      payload.ResumeID,
		Score:         &payload.Score,
		CorrelationID: payload.CorrelationID,
	}); err != nil {
		log.Warn("notify report ready failed", slog.Any("error", err))
	}

	log.Info("report generated", slog.String("report_id", report.ReportID))
	return nil
}

type reportContent struct {
	Summary            string
	Strengths          []string
	Gaps               []string
	RedFlags           []string
	InterviewQuestions []string
}

func buildReportContent(job database.Job, resume database.Resume, scored events.MatchScored) reportContent {
	var req events.JdDTO
	_ = json.Unmarshal(job.Requirements, &req)
	var cand events.ResumeDTO
	_ = json.Unmarshal(resume.ParsedData, &cand)

	candidate := cand.Name
	if candidate == "" {
		candidate = resume.OriginalFilename
	}

	var c reportContent
	c.Summary = fmt.Sprintf("%s scored %.0f/100 for %q (%s).",
		candidate, scored.Score, job.Title, fitLabel(scored.Score))

	matchedSet := make(map[string]struct{})
	for _, s := range cand.Skills {
		matchedSet[normalizeForReport(s)] = struct{}{}
	}
	for _, s := range req.Skills {
		if _, ok := matchedSet[normalizeForReport(s)]; ok {
			c.Strengths = append(c.Strengths, fmt.Sprintf("Has required skill: %s", s))
		} else {
			c.Gaps = append(c.Gaps, fmt.Sprintf("Missing required skill: %s", s))
			c.InterviewQuestions = append(c.InterviewQuestions,
				fmt.Sprintf("Walk me through any hands-on exposure you have had to %s.", s))
		}
	}

	if req.ExperienceYears > 0 {
		if cand.ExperienceYears >= req.ExperienceYears {
			c.Strengths = append(c.Strengths,
				fmt.Sprintf("%d years of experience against a %d-year requirement", cand.ExperienceYears, req.ExperienceYears))
		} else {
			c.Gaps = append(c.Gaps,
				fmt.Sprintf("%d of %d required years of experience", cand.ExperienceYears, req.ExperienceYears))
		}
	}

	if scored.Breakdown.Confidence < 40 {
		c.RedFlags = append(c.RedFlags, "Low parsing confidence: the resume yielded a sparse profile")
	}
	if scored.Breakdown.ExperienceMatch < 50 && req.ExperienceYears > 0 {
		c.RedFlags = append(c.RedFlags, "Experience level is well below the requirement")
	}

	for _, r := range req.Responsibilities {
		if len(c.InterviewQuestions) >= 8 {
			break
		}
		c.InterviewQuestions = append(c.InterviewQuestions,
			fmt.Sprintf("Describe a time you were responsible for: %s.", r))
	}
	if len(c.InterviewQuestions) == 0 {
		c.InterviewQuestions = append(c.InterviewQuestions,
			"What attracted you to this role, and what would you want to achieve in the first six months?")
	}

	return c
}

func fitLabel(score float64) string {
	switch {
	case score >= 80:
		return "strong fit"
	case score >= 60:
		return "promising fit"
	case score >= 40:
		return "partial fit"
	default:
		return "weak fit"
	}
}

func normalizeForReport(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
