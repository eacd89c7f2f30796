package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job lifecycle statuses. Jobs are never deleted, only closed.
const (
	JobStatusActive     = "active"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusClosed     = "closed"
)

// Resume processing statuses.
const (
	ResumeStatusPending    = "pending"
	ResumeStatusProcessing = "processing"
	ResumeStatusCompleted  = "completed"
	ResumeStatusFailed     = "failed"
)

// MatchScore statuses. "claimed" means one handler won the join and is
// computing; "scored" is terminal.
const (
	MatchStatusClaimed = "claimed"
	MatchStatusScored  = "scored"
)

// Job 表示一个招聘岗位。Requirements 由 JD 抽取服务写入（last-write-wins）。
type Job struct {
	gorm.Model
	JobID        string         `gorm:"size:36;uniqueIndex"`
	Title        string         `gorm:"size:255"`
	Description  string         `gorm:"type:text"`
	Requirements datatypes.JSON `gorm:"type:jsonb"`
	Status       string         `gorm:"size:32;index"`
}

// Resume 表示针对某岗位上传的一份简历。ParsedData 由解析服务写入一次，
// 之后除状态外不可变。
type Resume struct {
	gorm.Model
	ResumeID         string         `gorm:"size:36;uniqueIndex"`
	JobID            string         `gorm:"size:36;index"`
	OriginalFilename string         `gorm:"size:255"`
	ObjectKey        string         `gorm:"size:512"`
	ParsedData       datatypes.JSON `gorm:"type:jsonb"`
	Status           string         `gorm:"size:32;index"`
	FailureReason    string         `gorm:"size:1024"`
	RetryCount       int
}

// MatchScore 是 (JobID, ResumeID) 配对的唯一评分记录。唯一索引即
// join 的原子认领点：并发插入只有一个能成功。
type MatchScore struct {
	gorm.Model
	JobID            string         `gorm:"size:36;uniqueIndex:idx_match_pair"`
	ResumeID         string         `gorm:"size:36;uniqueIndex:idx_match_pair"`
	Status           string         `gorm:"size:32;index"`
	Score            float64
	Breakdown        datatypes.JSON `gorm:"type:jsonb"`
	Recommendations  datatypes.JSON `gorm:"type:jsonb"`
	Published        bool           `gorm:"default:false"`
	ProcessingTimeMs int64
	ScoredAt         *time.Time
}

// Report 是某配对的最终报告，创建后不可变。
type Report struct {
	gorm.Model
	ReportID           string         `gorm:"size:36;uniqueIndex"`
	JobID              string         `gorm:"size:36;uniqueIndex:idx_report_pair"`
	ResumeID           string         `gorm:"size:36;uniqueIndex:idx_report_pair"`
	Summary            string         `gorm:"type:text"`
	Strengths          datatypes.JSON `gorm:"type:jsonb"`
	Gaps               datatypes.JSON `gorm:"type:jsonb"`
	RedFlags           datatypes.JSON `gorm:"type:jsonb"`
	InterviewQuestions datatypes.JSON `gorm:"type:jsonb"`
	GeneratedAt        time.Time
}

// Models lists every entity for AutoMigrate.
func Models() []any {
	return []any{&Job{}, &Resume{}, &MatchScore{}, &Report{}}
}
