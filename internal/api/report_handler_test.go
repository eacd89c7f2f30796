package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"hireflow/internal/database"
)

func TestGetResumeScore(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	if err := env.db.Create(&database.MatchScore{
		JobID:            "j1",
		ResumeID:         "r1",
		Status:           database.MatchStatusScored,
		Score:            82.5,
		Breakdown:        []byte(`{"skillsMatch":90}`),
		Recommendations:  []byte(`["Proceed to interview"]`),
		Published:        true,
		ProcessingTimeMs: 12,
		ScoredAt:         &now,
	}).Error; err != nil {
		t.Fatalf("seed match score: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/resumes/r1/score", nil, "")
	wantStatus(t, rec, http.StatusOK)

	var resp struct {
		JobID    string  `json:"job_id"`
		ResumeID string  `json:"resume_id"`
		Score    float64 `json:"score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.JobID != "j1" || resp.ResumeID != "r1" || resp.Score != 82.5 {
		t.Errorf("response = %+v", resp)
	}
}

// 仍在 claimed 状态的配对对外不可见。
func TestGetResumeScore_ClaimedPairIsNotVisible(t *testing.T) {
	env := newTestEnv(t)
	if err := env.db.Create(&database.MatchScore{
		JobID:    "j1",
		ResumeID: "r1",
		Status:   database.MatchStatusClaimed,
	}).Error; err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/resumes/r1/score", nil, "")
	wantStatus(t, rec, http.StatusNotFound)
}

func TestGetReport(t *testing.T) {
	env := newTestEnv(t)
	if err := env.db.Create(&database.Report{
		ReportID:           "rep-1",
		JobID:              "j1",
		ResumeID:           "r1",
		Summary:            "Jamie Rivera scored 82/100",
		Strengths:          []byte(`["Has required skill: Go"]`),
		Gaps:               []byte(`[]`),
		RedFlags:           []byte(`[]`),
		InterviewQuestions: []byte(`["Tell me about your last project."]`),
		GeneratedAt:        time.Now().UTC(),
	}).Error; err != nil {
		t.Fatalf("seed report: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/reports/rep-1", nil, "")
	wantStatus(t, rec, http.StatusOK)

	var resp struct {
		ReportID string `json:"report_id"`
		Summary  string `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ReportID != "rep-1" || resp.Summary == "" {
		t.Errorf("response = %+v", resp)
	}

	rec = env.do(t, http.MethodGet, "/v1/reports/missing", nil, "")
	wantStatus(t, rec, http.StatusNotFound)
}

func TestListJobReports(t *testing.T) {
	env := newTestEnv(t)
	for _, r := range []database.Report{
		{ReportID: "rep-1", JobID: "j1", ResumeID: "r1", GeneratedAt: time.Now().UTC()},
		{ReportID: "rep-2", JobID: "j2", ResumeID: "r2", GeneratedAt: time.Now().UTC()},
	} {
		if err := env.db.Create(&r).Error; err != nil {
			t.Fatalf("seed report: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/v1/jobs/j1/reports", nil, "")
	wantStatus(t, rec, http.StatusOK)

	var resp struct {
		Items []struct {
			ReportID string `json:"report_id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ReportID != "rep-1" {
		t.Errorf("items = %+v", resp.Items)
	}
}
