package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"hireflow/internal/database"
	"hireflow/internal/events"
)

const jdResponse = `{
	"skills": ["Go", "PostgreSQL"],
	"experienceYears": 5,
	"experienceLevel": "senior",
	"education": "Bachelor's degree",
	"responsibilities": ["Design backend services"]
}`

func TestJDExtractHandler_Success(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	gen := &fakeGenerator{textResponse: jdResponse}
	h := NewJDExtractHandler(db, pub, gen, time.Minute, testLogger())

	seedJob(t, db, "job-1", database.JobStatusActive, nil)

	task := mustTask(events.NewJDSubmittedTask(events.JDSubmitted{
		JobID:         "job-1",
		JobTitle:      "Backend Engineer",
		JDText:        "We build event-driven services in Go.",
		Timestamp:     time.Now().UTC(),
		CorrelationID: "corr-1",
	}))
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	var job database.Job
	if err := db.Where("job_id = ?", "job-1").First(&job).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != database.JobStatusProcessing {
		t.Errorf("job status = %q, want processing", job.Status)
	}
	var stored events.JdDTO
	if err := json.Unmarshal(job.Requirements, &stored); err != nil {
		t.Fatalf("unmarshal stored requirements: %v", err)
	}
	if len(stored.Skills) != 2 || stored.ExperienceYears != 5 {
		t.Errorf("stored requirements = %+v", stored)
	}

	published := pub.bySubject(events.SubjectJDExtracted)
	if len(published) != 1 {
		t.Fatalf("published %d jd.extracted events, want 1", len(published))
	}
	var payload events.JDExtracted
	if err := json.Unmarshal(published[0].Payload(), &payload); err != nil {
		t.Fatalf("unmarshal published payload: %v", err)
	}
	if payload.JobID != "job-1" || payload.CorrelationID != "corr-1" {
		t.Errorf("published payload = %+v", payload)
	}
	if len(payload.ExtractedData.Skills) != 2 {
		t.Errorf("extracted skills = %v", payload.ExtractedData.Skills)
	}
}

func TestJDExtractHandler_EmptyDescriptionFailsJobWithoutEvent(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	h := NewJDExtractHandler(db, pub, &fakeGenerator{}, time.Minute, testLogger())

	if err := db.Create(&database.Job{
		JobID:  "job-2",
		Title:  "Untitled",
		Status: database.JobStatusActive,
	}).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}

	task := mustTask(events.NewJDSubmittedTask(events.JDSubmitted{JobID: "job-2"}))
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	var job database.Job
	if err := db.Where("job_id = ?", "job-2").First(&job).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != database.JobStatusFailed {
		t.Errorf("job status = %q, want failed", job.Status)
	}
	if n := len(pub.tasks); n != 0 {
		t.Errorf("published %d events, want 0", n)
	}
}

func TestJDExtractHandler_RetryExhaustionMarksJobFailed(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	h := NewJDExtractHandler(db, pub, gen, time.Minute, testLogger())
	h.finalAttempt = func(context.Context) bool { return true }

	seedJob(t, db, "job-3", database.JobStatusActive, nil)

	task := mustTask(events.NewJDSubmittedTask(events.JDSubmitted{JobID: "job-3"}))
	if err := h.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("ProcessTask returned nil, want error on transient failure")
	}

	var job database.Job
	if err := db.Where("job_id = ?", "job-3").First(&job).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != database.JobStatusFailed {
		t.Errorf("job status = %q, want failed after final attempt", job.Status)
	}
}

func TestJDExtractHandler_SkipsTerminalJob(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	h := NewJDExtractHandler(db, pub, &fakeGenerator{textResponse: jdResponse}, time.Minute, testLogger())

	seedJob(t, db, "job-4", database.JobStatusClosed, nil)

	task := mustTask(events.NewJDSubmittedTask(events.JDSubmitted{JobID: "job-4"}))
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if n := len(pub.tasks); n != 0 {
		t.Errorf("published %d events for a closed job, want 0", n)
	}
}

func TestJDExtractHandler_UnknownJobIsNoOp(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	h := NewJDExtractHandler(db, pub, &fakeGenerator{textResponse: jdResponse}, time.Minute, testLogger())

	task := mustTask(events.NewJDSubmittedTask(events.JDSubmitted{JobID: "missing"}))
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if n := len(pub.tasks); n != 0 {
		t.Errorf("published %d events, want 0", n)
	}
}
