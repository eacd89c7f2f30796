package events

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

func TestNewResumeSubmittedTask_RejectsIncompletePayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload ResumeSubmitted
	}{
		{"missing job id", ResumeSubmitted{ResumeID: "r1", TempFileURL: "k"}},
		{"missing resume id", ResumeSubmitted{JobID: "j1", TempFileURL: "k"}},
		{"missing file url", ResumeSubmitted{JobID: "j1", ResumeID: "r1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewResumeSubmittedTask(tc.payload); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDecode_RoundTripsSubjectAndPayload(t *testing.T) {
	task, err := NewMatchScoredTask(MatchScored{
		JobID:    "j1",
		ResumeID: "r1",
		Score:    87.5,
		Breakdown: ScoreBreakdown{
			SkillsMatch:     90,
			ExperienceMatch: 85,
			EducationMatch:  100,
			OverallFit:      87.5,
			Confidence:      83,
		},
		Recommendations: []string{"Proceed to interview"},
		Timestamp:       time.Now().UTC(),
		CorrelationID:   "corr-9",
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if task.Type() != SubjectMatchScored {
		t.Errorf("task type = %q, want %q", task.Type(), SubjectMatchScored)
	}

	var decoded MatchScored
	if err := Decode(task, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.JobID != "j1" || decoded.ResumeID != "r1" || decoded.Score != 87.5 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Breakdown.SkillsMatch != 90 || decoded.CorrelationID != "corr-9" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDecode_RejectsMalformedAndInvalid(t *testing.T) {
	var p JDSubmitted
	if err := Decode(asynq.NewTask(SubjectJDSubmitted, []byte("{not json")), &p); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if err := Decode(asynq.NewTask(SubjectJDSubmitted, []byte(`{"jdText":"x"}`)), &p); err == nil {
		t.Error("expected validation error for missing jobId")
	}
}

func TestRetryDelay_DoublesPerRetry(t *testing.T) {
	fn := RetryDelay(time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for n, expected := range want {
		if got := fn(n, nil, nil); got != expected {
			t.Errorf("delay after %d retries = %v, want %v", n, got, expected)
		}
	}

	// Unset base falls back to one second.
	if got := RetryDelay(0)(0, nil, nil); got != time.Second {
		t.Errorf("fallback base delay = %v, want 1s", got)
	}
}
