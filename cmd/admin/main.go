package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"hireflow/internal/config"
	"hireflow/internal/database"
	"hireflow/internal/events"
	"hireflow/internal/storage"
)

// 运维工具：巡检停滞的配对，或为未完成的简历重新投递提交事件。
func main() {
	var (
		stuck         = flag.Bool("stuck", false, "列出停滞超过 --older-than 的简历与配对")
		olderThan     = flag.Duration("older-than", 15*time.Minute, "停滞判定阈值")
		requeueResume = flag.String("requeue-resume", "", "重新投递指定简历的提交事件")
	)
	flag.Parse()

	if !*stuck && *requeueResume == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.MustLoad()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	ctx := context.Background()

	if *stuck {
		if err := listStuck(ctx, db, *olderThan); err != nil {
			log.Fatalf("list stuck: %v", err)
		}
	}

	if *requeueResume != "" {
		store, err := storage.NewClient(cfg.MinIO)
		if err != nil {
			log.Fatalf("init storage: %v", err)
		}

		asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
		defer asynqClient.Close()
		publisher := events.NewPublisher(asynqClient, slog.Default(), cfg.Pipeline.MaxRetry)

		if err := requeue(ctx, db, store, publisher, *requeueResume); err != nil {
			log.Fatalf("requeue resume: %v", err)
		}
	}
}

// listStuck 打印两类停滞：解析阶段卡住的简历，以及双方输入应已齐备
// 却仍未评分的配对。
func listStuck(ctx context.Context, db *gorm.DB, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)

	var pending []database.Resume
	if err := db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]string{database.ResumeStatusPending, database.ResumeStatusProcessing}, cutoff).
		Find(&pending).Error; err != nil {
		return fmt.Errorf("query pending resumes: %w", err)
	}
	for _, r := range pending {
		fmt.Printf("resume %s (job %s): stuck in %s since %s\n",
			r.ResumeID, r.JobID, r.Status, r.UpdatedAt.Format(time.RFC3339))
	}

	var parsed []database.Resume
	if err := db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", database.ResumeStatusCompleted, cutoff).
		Find(&parsed).Error; err != nil {
		return fmt.Errorf("query parsed resumes: %w", err)
	}

	stuckPairs := 0
	for _, r := range parsed {
		var score database.MatchScore
		err := db.WithContext(ctx).
			Where("job_id = ? AND resume_id = ? AND status = ?",
				r.JobID, r.ResumeID, database.MatchStatusScored).
			First(&score).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("query match score: %w", err)
		}

		var job database.Job
		if err := db.WithContext(ctx).Where("job_id = ?", r.JobID).First(&job).Error; err != nil {
			return fmt.Errorf("query job: %w", err)
		}
		reason := "match claim not finished"
		if len(job.Requirements) == 0 {
			reason = "jd extraction still missing"
		}
		fmt.Printf("pair (%s, %s): awaiting, %s\n", r.JobID, r.ResumeID, reason)
		stuckPairs++
	}

	fmt.Printf("%d stuck resumes, %d stuck pairs\n", len(pending), stuckPairs)
	return nil
}

func requeue(ctx context.Context, db *gorm.DB, store *storage.Client, publisher *events.Publisher, resumeID string) error {
	var resume database.Resume
	if err := db.WithContext(ctx).Where("resume_id = ?", resumeID).First(&resume).Error; err != nil {
		return fmt.Errorf("load resume %q: %w", resumeID, err)
	}
	if resume.Status == database.ResumeStatusCompleted {
		return fmt.Errorf("resume %q is already completed", resumeID)
	}

	// 文件已经不在 Bucket 里的简历重投也只会再失败一轮。
	meta, err := store.StatObject(ctx, resume.ObjectKey)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			return fmt.Errorf("stored file %q is gone, refusing to requeue", resume.ObjectKey)
		}
		return fmt.Errorf("stat stored file: %w", err)
	}
	fmt.Printf("stored file %s (%d bytes) verified\n", meta.Key, meta.Size)

	if err := db.WithContext(ctx).Model(&database.Resume{}).
		Where("resume_id = ?", resumeID).
		Updates(map[string]any{
			"status":         database.ResumeStatusPending,
			"failure_reason": "",
			"retry_count":    0,
		}).Error; err != nil {
		return fmt.Errorf("reset resume status: %w", err)
	}

	task, err := events.NewResumeSubmittedTask(events.ResumeSubmitted{
		JobID:            resume.JobID,
		ResumeID:         resume.ResumeID,
		OriginalFilename: resume.OriginalFilename,
		TempFileURL:      resume.ObjectKey,
	})
	if err != nil {
		return err
	}
	if err := publisher.Publish(ctx, task); err != nil {
		return err
	}

	fmt.Printf("requeued resume %s for job %s\n", resume.ResumeID, resume.JobID)
	return nil
}
