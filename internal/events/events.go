package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Subject names double as asynq task types so producers and consumers
// stay in agreement about routing.
const (
	SubjectJDSubmitted     = "job.jd.submitted"
	SubjectJDExtracted     = "analysis.jd.extracted"
	SubjectResumeSubmitted = "job.resume.submitted"
	SubjectResumeParsed    = "analysis.resume.parsed"
	SubjectResumeFailed    = "job.resume.failed"
	SubjectMatchScored     = "analysis.match.scored"
)

// JdDTO is the structured requirement set derived from a free-text
// job description.
type JdDTO struct {
	Skills           []string `json:"skills"`
	ExperienceYears  int      `json:"experienceYears"`
	ExperienceLevel  string   `json:"experienceLevel"`
	Education        string   `json:"education"`
	Responsibilities []string `json:"responsibilities,omitempty"`
}

// ResumeDTO is the structured candidate data extracted from an
// uploaded résumé file.
type ResumeDTO struct {
	Name            string   `json:"name"`
	Email           string   `json:"email,omitempty"`
	Phone           string   `json:"phone,omitempty"`
	Skills          []string `json:"skills"`
	ExperienceYears int      `json:"experienceYears"`
	Education       string   `json:"education"`
	Positions       []string `json:"positions,omitempty"`
	Summary         string   `json:"summary,omitempty"`
}

// ScoreBreakdown carries the per-dimension sub-scores, each in [0,100].
type ScoreBreakdown struct {
	SkillsMatch     float64 `json:"skillsMatch"`
	ExperienceMatch float64 `json:"experienceMatch"`
	EducationMatch  float64 `json:"educationMatch"`
	OverallFit      float64 `json:"overallFit"`
	Confidence      float64 `json:"confidence"`
}

// JDSubmitted announces a newly created job posting.
type JDSubmitted struct {
	JobID         string    `json:"jobId"`
	JobTitle      string    `json:"jobTitle"`
	JDText        string    `json:"jdText"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// JDExtracted announces that structured requirements are available
// for a job.
type JDExtracted struct {
	JobID            string    `json:"jobId"`
	ExtractedData    JdDTO     `json:"extractedData"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	CorrelationID    string    `json:"correlationId,omitempty"`
}

// ResumeSubmitted announces an uploaded résumé awaiting parsing.
// TempFileURL is the object storage key of the raw file.
type ResumeSubmitted struct {
	JobID            string `json:"jobId"`
	ResumeID         string `json:"resumeId"`
	OriginalFilename string `json:"originalFilename"`
	TempFileURL      string `json:"tempFileUrl"`
	CorrelationID    string `json:"correlationId,omitempty"`
}

// ResumeParsed announces that structured candidate data is available
// for a résumé.
type ResumeParsed struct {
	JobID            string    `json:"jobId"`
	ResumeID         string    `json:"resumeId"`
	ResumeDTO        ResumeDTO `json:"resumeDto"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	CorrelationID    string    `json:"correlationId,omitempty"`
}

// ResumeFailed announces terminal parsing failure after retries were
// exhausted.
type ResumeFailed struct {
	JobID            string    `json:"jobId"`
	ResumeID         string    `json:"resumeId"`
	OriginalFilename string    `json:"originalFilename"`
	Error            string    `json:"error"`
	RetryCount       int       `json:"retryCount"`
	Timestamp        time.Time `json:"timestamp"`
	CorrelationID    string    `json:"correlationId,omitempty"`
}

// MatchScored announces a computed match score for a (job, résumé) pair.
type MatchScored struct {
	JobID            string         `json:"jobId"`
	ResumeID         string         `json:"resumeId"`
	Score            float64        `json:"score"`
	Breakdown        ScoreBreakdown `json:"breakdown"`
	Recommendations  []string       `json:"recommendations"`
	Timestamp        time.Time      `json:"timestamp"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
	CorrelationID    string         `json:"correlationId,omitempty"`
}

var errMissingJobID = errors.New("jobId is required")

// Validate reports whether the payload carries the identifiers the
// consumer side depends on.
func (p JDSubmitted) Validate() error {
	if p.JobID == "" {
		return errMissingJobID
	}
	return nil
}

func (p JDExtracted) Validate() error {
	if p.JobID == "" {
		return errMissingJobID
	}
	return nil
}

func (p ResumeSubmitted) Validate() error {
	if p.JobID == "" {
		return errMissingJobID
	}
	if p.ResumeID == "" {
		return errors.New("resumeId is required")
	}
	if p.TempFileURL == "" {
		return errors.New("tempFileUrl is required")
	}
	return nil
}

func (p ResumeParsed) Validate() error {
	if p.JobID == "" {
		return errMissingJobID
	}
	if p.ResumeID == "" {
		return errors.New("resumeId is required")
	}
	return nil
}

func (p ResumeFailed) Validate() error {
	if p.JobID == "" {
		return errMissingJobID
	}
	if p.ResumeID == "" {
		return errors.New("resumeId is required")
	}
	return nil
}

func (p MatchScored) Validate() error {
	if p.JobID == "" {
		return errMissingJobID
	}
	if p.ResumeID == "" {
		return errors.New("resumeId is required")
	}
	return nil
}

func newTask(subject string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	return asynq.NewTask(subject, data), nil
}

// NewJDSubmittedTask constructs the intake event for a job posting.
func NewJDSubmittedTask(p JDSubmitted) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return newTask(SubjectJDSubmitted, p)
}

// NewJDExtractedTask constructs the extraction completion event.
func NewJDExtractedTask(p JDExtracted) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return newTask(SubjectJDExtracted, p)
}

// NewResumeSubmittedTask constructs the intake event for an uploaded résumé.
func NewResumeSubmittedTask(p ResumeSubmitted) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return newTask(SubjectResumeSubmitted, p)
}

// NewResumeParsedTask constructs the parsing completion event.
func NewResumeParsedTask(p ResumeParsed) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return newTask(SubjectResumeParsed, p)
}

// NewResumeFailedTask constructs the terminal failure event.
func NewResumeFailedTask(p ResumeFailed) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return newTask(SubjectResumeFailed, p)
}

// NewMatchScoredTask constructs the scoring completion event.
func NewMatchScoredTask(p MatchScored) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return newTask(SubjectMatchScored, p)
}

// Decode unmarshals a task payload into the given typed event and
// validates it at the consumer boundary.
func Decode[T interface{ Validate() error }](t *asynq.Task, dst *T) error {
	if err := json.Unmarshal(t.Payload(), dst); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", t.Type(), err)
	}
	return (*dst).Validate()
}
