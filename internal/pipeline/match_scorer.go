package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hireflow/internal/database"
	"hireflow/internal/events"
	"hireflow/internal/scoring"
)

// MatchScoreHandler 是管道的汇合点：它同时消费 analysis.jd.extracted
// 与 analysis.resume.parsed，当某个 (jobId, resumeId) 配对的两侧输入都
// 就绪时，恰好计算一次匹配分并发布 analysis.match.scored。
//
// 排他机制：MatchScore 行上的 (job_id, resume_id) 唯一索引。并发处理
// 同一配对时只有一个 INSERT ... ON CONFLICT DO NOTHING 能成功，赢家
// 负责计算；输家要么无事可做，要么接手一条超过 staleClaimAfter 的
// 陈旧认领（赢家崩溃的场景）。
type MatchScoreHandler struct {
	db              *gorm.DB
	publisher       publisher
	weights         scoring.Weights
	staleClaimAfter time.Duration
	logger          *slog.Logger
}

// NewMatchScoreHandler 创建汇合点处理器。
func NewMatchScoreHandler(db *gorm.DB, pub publisher, weights scoring.Weights, staleClaimAfter time.Duration, logger *slog.Logger) *MatchScoreHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if staleClaimAfter <= 0 {
		staleClaimAfter = 5 * time.Minute
	}
	return &MatchScoreHandler{
		db:              db,
		publisher:       pub,
		weights:         weights,
		staleClaimAfter: staleClaimAfter,
		logger:          logger,
	}
}

// ProcessTask 实现 asynq.Handler，按事件主题分派。
func (h *MatchScoreHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	switch t.Type() {
	case events.SubjectJDExtracted:
		return h.handleJDExtracted(ctx, t)
	case events.SubjectResumeParsed:
		return h.handleResumeParsed(ctx, t)
	default:
		return fmt.Errorf("unexpected subject %q: %w", t.Type(), asynq.SkipRetry)
	}
}

func (h *MatchScoreHandler) handleJDExtracted(ctx context.Context, t *asynq.Task) error {
	var payload events.JDExtracted
	if err := events.Decode(t, &payload); err != nil {
		h.logger.Error("invalid jd.extracted payload", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("job_id", payload.JobID),
	)

	// 岗位要求已由抽取服务落库；这里按事件负载再套用一次
	// （last-write-wins），保证汇合只依赖事件语义。
	reqJSON, err := json.Marshal(payload.ExtractedData)
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}
	if err := h.db.WithContext(ctx).Model(&database.Job{}).
		Where("job_id = ?", payload.JobID).
		Update("requirements", reqJSON).Error; err != nil {
		log.Error("store requirements", slog.Any("error", err))
		return err
	}

	// 要求侧就绪：对该岗位下所有已解析的简历尝试汇合。
	var resumes []database.Resume
	if err := h.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", payload.JobID, database.ResumeStatusCompleted).
		Find(&resumes).Error; err != nil {
		log.Error("list parsed resumes", slog.Any("error", err))
		return err
	}

	for _, r := range resumes {
		if err := h.attemptScore(ctx, payload.JobID, r.ResumeID, payload.CorrelationID); err != nil {
			return err
		}
	}
	return nil
}

func (h *MatchScoreHandler) handleResumeParsed(ctx context.Context, t *asynq.Task) error {
	var payload events.ResumeParsed
	if err := events.Decode(t, &payload); err != nil {
		h.logger.Error("invalid resume.parsed payload", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return h.attemptScore(ctx, payload.JobID, payload.ResumeID, payload.CorrelationID)
}

// attemptScore 在两侧输入都就绪时执行 Awaiting→Ready→Scored 迁移。
// 任一侧缺失则保持 Awaiting，静默返回。
func (h *MatchScoreHandler) attemptScore(ctx context.Context, jobID, resumeID, correlationID string) error {
	log := h.logger.With(
		slog.String("correlation_id", correlationID),
		slog.String("job_id", jobID),
		slog.String("resume_id", resumeID),
	)

	var job database.Job
	if err := h.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("job not found, pair stays awaiting")
			return nil
		}
		return err
	}
	if len(job.Requirements) == 0 {
		// 要求侧还没到。
		return nil
	}

	// 简历必须归属于该岗位：WHERE 同时约束两个键，杜绝跨配对取数。
	var resume database.Resume
	if err := h.db.WithContext(ctx).
		Where("resume_id = ? AND job_id = ?", resumeID, jobID).
		First(&resume).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("resume not found for pair, staying awaiting")
			return nil
		}
		return err
	}
	if resume.Status != database.ResumeStatusCompleted || len(resume.ParsedData) == 0 {
		return nil
	}

	var req events.JdDTO
	if err := json.Unmarshal(job.Requirements, &req); err != nil {
		return fmt.Errorf("unmarshal job requirements: %w", err)
	}
	var cand events.ResumeDTO
	if err := json.Unmarshal(resume.ParsedData, &cand); err != nil {
		return fmt.Errorf("unmarshal parsed resume: %w", err)
	}

	owned, err := h.claimPair(ctx, log, jobID, resumeID)
	if err != nil {
		return err
	}
	if !owned {
		return nil
	}

	start := time.Now()
	result := scoring.Score(req, cand, h.weights)

	breakdownJSON, err := json.Marshal(result.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}
	recsJSON, err := json.Marshal(result.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}

	now := time.Now().UTC()
	upd := h.db.WithContext(ctx).Model(&database.MatchScore{}).
		Where("job_id = ? AND resume_id = ? AND status = ?", jobID, resumeID, database.MatchStatusClaimed).
		Updates(map[string]any{
			"status":             database.MatchStatusScored,
			"score":              result.Score,
			"breakdown":          breakdownJSON,
			"recommendations":    recsJSON,
			"processing_time_ms": time.Since(start).Milliseconds(),
			"scored_at":          now,
		})
	if upd.Error != nil {
		return upd.Error
	}
	if upd.RowsAffected == 0 {
		// 另一个接手者抢先完成了。
		log.Info("pair scored concurrently, skipping publish")
		return nil
	}

	if err := h.publishScored(ctx, log, events.MatchScored{
		JobID:            jobID,
		ResumeID:         resumeID,
		Score:            result.Score,
		Breakdown:        result.Breakdown,
		Recommendations:  result.Recommendations,
		Timestamp:        now,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		CorrelationID:    correlationID,
	}); err != nil {
		return err
	}

	log.Info("pair scored",
		slog.Float64("score", result.Score),
		slog.Float64("skills_match", result.Breakdown.SkillsMatch),
		slog.Float64("experience_match", result.Breakdown.ExperienceMatch),
	)
	return nil
}

// claimPair 返回本处理器是否取得该配对的计算权。
func (h *MatchScoreHandler) claimPair(ctx context.Context, log *slog.Logger, jobID, resumeID string) (bool, error) {
	claim := database.MatchScore{
		JobID:    jobID,
		ResumeID: resumeID,
		Status:   database.MatchStatusClaimed,
	}
	res := h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "resume_id"}},
		DoNothing: true,
	}).Create(&claim)
	if res.Error != nil {
		return false, fmt.Errorf("claim pair: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// 认领已存在：要么已评分（最多补发事件），要么被并发处理器
	// 持有（仅当陈旧时接手）。
	var existing database.MatchScore
	if err := h.db.WithContext(ctx).
		Where("job_id = ? AND resume_id = ?", jobID, resumeID).
		First(&existing).Error; err != nil {
		return false, err
	}

	if existing.Status == database.MatchStatusScored {
		if !existing.Published {
			return false, h.republish(ctx, log, existing)
		}
		return false, nil
	}

	stale := time.Now().Add(-h.staleClaimAfter)
	take := h.db.WithContext(ctx).Model(&database.MatchScore{}).
		Where("job_id = ? AND resume_id = ? AND status = ? AND updated_at < ?",
			jobID, resumeID, database.MatchStatusClaimed, stale).
		Update("updated_at", time.Now())
	if take.Error != nil {
		return false, take.Error
	}
	if take.RowsAffected == 0 {
		// 活跃认领持有者会完成计算；若它崩溃，事件重投会再次走到这里。
		return false, nil
	}
	log.Warn("took over stale claim")
	return true, nil
}

// publishScored 发布评分事件，随后落下 published 标记。标记落下前
// 崩溃的窗口里事件可能重复发布，下游报告生成是幂等的。
func (h *MatchScoreHandler) publishScored(ctx context.Context, log *slog.Logger, payload events.MatchScored) error {
	task, err := events.NewMatchScoredTask(payload)
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(ctx, task); err != nil {
		log.Error("publish match.scored failed", slog.Any("error", err))
		return err
	}
	return h.db.WithContext(ctx).Model(&database.MatchScore{}).
		Where("job_id = ? AND resume_id = ? AND published = ?", payload.JobID, payload.ResumeID, false).
		Update("published", true).Error
}

func (h *MatchScoreHandler) republish(ctx context.Context, log *slog.Logger, ms database.MatchScore) error {
	var breakdown events.ScoreBreakdown
	if err := json.Unmarshal(ms.Breakdown, &breakdown); err != nil {
		return fmt.Errorf("unmarshal stored breakdown: %w", err)
	}
	var recs []string
	if err := json.Unmarshal(ms.Recommendations, &recs); err != nil {
		return fmt.Errorf("unmarshal stored recommendations: %w", err)
	}
	ts := time.Now().UTC()
	if ms.ScoredAt != nil {
		ts = *ms.ScoredAt
	}
	log.Info("republishing scored event left unpublished by a crashed handler")
	return h.publishScored(ctx, log, events.MatchScored{
		JobID:            ms.JobID,
		ResumeID:         ms.ResumeID,
		Score:            ms.Score,
		Breakdown:        breakdown,
		Recommendations:  recs,
		Timestamp:        ts,
		ProcessingTimeMs: ms.ProcessingTimeMs,
	})
}
