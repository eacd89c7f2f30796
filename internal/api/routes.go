package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"hireflow/internal/storage"
)

// RegisterRoutes 注册 API 路由。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	publisher eventPublisher,
	storageClient *storage.Client,
	redisClient *redis.Client,
	clamdAddr string,
	logger *slog.Logger,
) {
	jobHandler := NewJobHandler(db, publisher, logger)
	resumeHandler := NewResumeHandler(db, publisher, storageClient, clamdAddr, logger)
	reportHandler := NewReportHandler(db, logger)
	wsHandler := NewWsHandler(redisClient, logger)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		jobGroup := v1.Group("/jobs")
		{
			jobGroup.POST("", jobHandler.CreateJob)
			jobGroup.GET("", jobHandler.ListJobs)
			jobGroup.GET("/:id", jobHandler.GetJob)
			jobGroup.POST("/:id/close", jobHandler.CloseJob)
			jobGroup.POST("/:id/resumes", resumeHandler.UploadResume)
			jobGroup.GET("/:id/resumes", resumeHandler.ListJobResumes)
			jobGroup.GET("/:id/reports", reportHandler.ListJobReports)
		}

		resumeGroup := v1.Group("/resumes")
		{
			resumeGroup.GET("/:id", resumeHandler.GetResume)
			resumeGroup.GET("/:id/download-link", resumeHandler.GetDownloadLink)
			resumeGroup.GET("/:id/score", reportHandler.GetResumeScore)
		}

		v1.GET("/reports/:id", reportHandler.GetReport)
	}
}
