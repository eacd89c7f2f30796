package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"hireflow/internal/database"
	"hireflow/internal/events"
)

func TestUploadResume_StoresFileAndPublishesEvent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.db.Create(&database.Job{JobID: "j1", Title: "A", Status: database.JobStatusActive}).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}

	body, contentType := multipartFile(t, "file", "candidate.pdf", []byte("%PDF-1.4 fake resume"))
	rec := env.do(t, http.MethodPost, "/v1/jobs/j1/resumes", body, contentType)
	wantStatus(t, rec, http.StatusCreated)

	var resp struct {
		ResumeID string `json:"resume_id"`
		JobID    string `json:"job_id"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ResumeID == "" || resp.JobID != "j1" || resp.Status != database.ResumeStatusPending {
		t.Errorf("response = %+v", resp)
	}

	var resume database.Resume
	if err := env.db.Where("resume_id = ?", resp.ResumeID).First(&resume).Error; err != nil {
		t.Fatalf("resume not persisted: %v", err)
	}
	if resume.ObjectKey == "" || !strings.HasSuffix(resume.ObjectKey, ".pdf") {
		t.Errorf("object key = %q", resume.ObjectKey)
	}
	if _, ok := env.storage.objects[resume.ObjectKey]; !ok {
		t.Errorf("file not uploaded under %q", resume.ObjectKey)
	}

	if len(env.pub.tasks) != 1 || env.pub.tasks[0].Type() != events.SubjectResumeSubmitted {
		t.Fatalf("published tasks = %d", len(env.pub.tasks))
	}
	var payload events.ResumeSubmitted
	if err := json.Unmarshal(env.pub.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if payload.ResumeID != resp.ResumeID || payload.TempFileURL != resume.ObjectKey {
		t.Errorf("event payload = %+v", payload)
	}
	if payload.OriginalFilename != "candidate.pdf" {
		t.Errorf("original filename = %q", payload.OriginalFilename)
	}
}

func TestUploadResume_ClosedJobIsRejected(t *testing.T) {
	env := newTestEnv(t)
	if err := env.db.Create(&database.Job{JobID: "j1", Title: "A", Status: database.JobStatusClosed}).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}

	body, contentType := multipartFile(t, "file", "candidate.pdf", []byte("data"))
	rec := env.do(t, http.MethodPost, "/v1/jobs/j1/resumes", body, contentType)
	wantStatus(t, rec, http.StatusConflict)
	if n := len(env.pub.tasks); n != 0 {
		t.Errorf("published %d events for a closed job, want 0", n)
	}
}

func TestUploadResume_MissingFile(t *testing.T) {
	env := newTestEnv(t)
	if err := env.db.Create(&database.Job{JobID: "j1", Title: "A", Status: database.JobStatusActive}).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/v1/jobs/j1/resumes", strings.NewReader(""), "application/json")
	wantStatus(t, rec, http.StatusBadRequest)
}

func TestUploadResume_UnknownJob(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartFile(t, "file", "candidate.pdf", []byte("data"))
	rec := env.do(t, http.MethodPost, "/v1/jobs/missing/resumes", body, contentType)
	wantStatus(t, rec, http.StatusNotFound)
}

func TestGetDownloadLink(t *testing.T) {
	env := newTestEnv(t)
	if err := env.db.Create(&database.Resume{
		ResumeID:  "r1",
		JobID:     "j1",
		ObjectKey: "resumes/j1/r1.pdf",
		Status:    database.ResumeStatusCompleted,
	}).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}
	env.storage.objects["resumes/j1/r1.pdf"] = []byte("%PDF-1.4 fake resume")

	rec := env.do(t, http.MethodGet, "/v1/resumes/r1/download-link", nil, "")
	wantStatus(t, rec, http.StatusOK)

	var resp struct {
		URL       string `json:"url"`
		SizeBytes int64  `json:"size_bytes"`
		ExpiresIn int    `json:"expires_in_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !strings.Contains(resp.URL, "resumes/j1/r1.pdf") || resp.ExpiresIn != 600 {
		t.Errorf("response = %+v", resp)
	}
	if resp.SizeBytes != int64(len("%PDF-1.4 fake resume")) {
		t.Errorf("size_bytes = %d", resp.SizeBytes)
	}
}

// 对象已不在 Bucket 里时不得签发下载链接。
func TestGetDownloadLink_MissingObject(t *testing.T) {
	env := newTestEnv(t)
	if err := env.db.Create(&database.Resume{
		ResumeID:  "r1",
		JobID:     "j1",
		ObjectKey: "resumes/j1/r1.pdf",
		Status:    database.ResumeStatusCompleted,
	}).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/resumes/r1/download-link", nil, "")
	wantStatus(t, rec, http.StatusNotFound)
}

// 建档失败时要回收已上传的对象，Bucket 里不能留下孤儿文件。
func TestUploadResume_CleansUpObjectWhenCreateFails(t *testing.T) {
	env := newTestEnv(t)
	if err := env.db.Create(&database.Job{JobID: "j1", Title: "A", Status: database.JobStatusActive}).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	if err := env.db.Migrator().DropTable(&database.Resume{}); err != nil {
		t.Fatalf("drop resumes table: %v", err)
	}

	body, contentType := multipartFile(t, "file", "candidate.pdf", []byte("%PDF-1.4 fake resume"))
	rec := env.do(t, http.MethodPost, "/v1/jobs/j1/resumes", body, contentType)
	wantStatus(t, rec, http.StatusInternalServerError)

	if n := env.storage.count(); n != 0 {
		t.Errorf("bucket holds %d orphaned objects after failed create, want 0", n)
	}
	if n := len(env.pub.tasks); n != 0 {
		t.Errorf("published %d events after failed create, want 0", n)
	}
}

func TestListJobResumes(t *testing.T) {
	env := newTestEnv(t)
	for _, r := range []database.Resume{
		{ResumeID: "r1", JobID: "j1", Status: database.ResumeStatusPending},
		{ResumeID: "r2", JobID: "j1", Status: database.ResumeStatusCompleted},
		{ResumeID: "r3", JobID: "j2", Status: database.ResumeStatusPending},
	} {
		if err := env.db.Create(&r).Error; err != nil {
			t.Fatalf("seed resume: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/v1/jobs/j1/resumes", nil, "")
	wantStatus(t, rec, http.StatusOK)

	var resp struct {
		Items []struct {
			ResumeID string `json:"resume_id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Errorf("items = %+v, want the two resumes of j1", resp.Items)
	}
}
