package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"hireflow/internal/api/middleware"
	"hireflow/internal/database"
	"hireflow/internal/storage"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakePublisher 记录所有发布的事件。
type fakePublisher struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, task *asynq.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

// fakeStorage 用内存 map 代替 MinIO。
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (f *fakeStorage) UploadFile(_ context.Context, objectName string, reader io.Reader, size int64, _ string) (*minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[objectName] = data
	f.mu.Unlock()
	return &minio.UploadInfo{Key: objectName, Size: size}, nil
}

func (f *fakeStorage) StatObject(_ context.Context, objectKey string) (*storage.ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("stat object %q: %w", objectKey,
			minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."})
	}
	return &storage.ObjectMeta{Key: objectKey, Size: int64(len(data))}, nil
}

func (f *fakeStorage) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://storage.test/" + objectKey, nil
}

func (f *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectKey)
	return nil
}

func (f *fakeStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// testEnv 把网关的路由挂在一个裸引擎上，方便单测各处理器。
type testEnv struct {
	db      *gorm.DB
	pub     *fakePublisher
	storage *fakeStorage
	router  *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		db:      newTestDB(t),
		pub:     &fakePublisher{},
		storage: newFakeStorage(),
	}

	jobHandler := NewJobHandler(env.db, env.pub, testLogger())
	resumeHandler := NewResumeHandler(env.db, env.pub, env.storage, "", testLogger())
	reportHandler := NewReportHandler(env.db, testLogger())

	router := gin.New()
	router.Use(middleware.CorrelationIDMiddleware())
	v1 := router.Group("/v1")
	v1.POST("/jobs", jobHandler.CreateJob)
	v1.GET("/jobs", jobHandler.ListJobs)
	v1.GET("/jobs/:id", jobHandler.GetJob)
	v1.POST("/jobs/:id/close", jobHandler.CloseJob)
	v1.POST("/jobs/:id/resumes", resumeHandler.UploadResume)
	v1.GET("/jobs/:id/resumes", resumeHandler.ListJobResumes)
	v1.GET("/jobs/:id/reports", reportHandler.ListJobReports)
	v1.GET("/resumes/:id", resumeHandler.GetResume)
	v1.GET("/resumes/:id/download-link", resumeHandler.GetDownloadLink)
	v1.GET("/resumes/:id/score", reportHandler.GetResumeScore)
	v1.GET("/reports/:id", reportHandler.GetReport)

	env.router = router
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func multipartFile(t *testing.T, fieldName, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}
