package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/pdfmill/internal/auth"
	"github.com/yourusername/pdfmill/internal/config"
	"github.com/yourusername/pdfmill/internal/convert"
	"github.com/yourusername/pdfmill/internal/jobs"
	"github.com/yourusername/pdfmill/internal/metrics"
	"github.com/yourusername/pdfmill/internal/results"
)

// convertScheduler は受領済みマニフェストをジョブとして登録・投入します。
type convertScheduler struct {
	manager *jobs.Manager
	metrics *metrics.Metrics
}

func (s *convertScheduler) Schedule(ctx context.Context, manifest *convert.JobManifest) error {
	s.metrics.ObserveReceived()

	err := s.manager.Enqueue(ctx, &jobs.Record{
		JobID:    manifest.JobID,
		Filename: manifest.Document.OriginalName,
		Size:     manifest.Document.Size,
		Pages:    manifest.Document.Pages,
	})
	if errors.Is(err, jobs.ErrConflictingJob) {
		return &convert.Error{
			Code:    convert.CodeConflictingJob,
			Message: "同一IDのジョブが既に登録されています。",
			Err:     err,
		}
	}
	return err
}

func setupJobs(cfg *config.Config, convertService *convert.Service, m *metrics.Metrics) (*jobs.Manager, results.Store, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, err
	}
	redisClient := redis.NewClient(opt)

	jobStore := jobs.NewRedisStore(redisClient, time.Duration(cfg.JobExpireMinutes)*time.Minute)
	resultStore := results.NewRedisStore(redisClient, time.Duration(cfg.ResultRetentionMinutes)*time.Minute)

	manager, err := jobs.NewManager(cfg, jobStore, resultStore, convertService, m, log.Default())
	if err != nil {
		return nil, nil, err
	}
	return manager, resultStore, nil
}

// setupRoutes は API の配線を行います。
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	convertService *convert.Service,
	manager *jobs.Manager,
	resultStore results.Store,
	m *metrics.Metrics,
) {
	// 誰でも叩ける運用系エンドポイント
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	documents := router.Group("/documents")
	if cfg.AuthEnabled() {
		authManager := auth.NewManager(cfg)
		authRoutes := router.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}
		documents.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
	}

	scheduler := &convertScheduler{manager: manager, metrics: m}
	documents.POST("", convert.SubmitHandler(convertService, scheduler))
	documents.GET("/:id", jobStatusHandler(manager, resultStore))
	documents.GET("/:id/pages/:page/image", pageImageHandler(convertService))
}

// jobStatusHandler は GET /documents/:id のハンドラーを返します。
// succeeded のジョブには変換結果を含めて返します。
func jobStatusHandler(manager *jobs.Manager, resultStore results.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		record, err := manager.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "NOT_FOUND",
					"message": "指定されたジョブは存在しません。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}

		payload := gin.H{
			"jobId":    record.JobID,
			"status":   record.Status,
			"filename": record.Filename,
			"progress": gin.H{
				"percent": record.Progress.Percent,
				"stage":   record.Progress.Stage,
			},
			"createdAt": record.CreatedAt,
			"updatedAt": record.UpdatedAt,
		}
		if record.CompletedAt != nil {
			payload["completedAt"] = record.CompletedAt
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		if record.Status == jobs.StatusSucceeded {
			result, err := resultStore.Get(c.Request.Context(), jobID)
			switch {
			case errors.Is(err, results.ErrExpired), errors.Is(err, results.ErrNotFound):
				// ジョブ自体は成功しているので、結果だけが期限切れ
				c.JSON(http.StatusGone, gin.H{
					"code":    "EXPIRED",
					"message": "変換結果は保持期間を過ぎたため取得できません。",
				})
				return
			case err != nil:
				c.JSON(http.StatusInternalServerError, gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "変換結果の取得に失敗しました。",
				})
				return
			}
			payload["result"] = result
		}

		c.JSON(http.StatusOK, payload)
	}
}

// pageImageHandler は GET /documents/:id/pages/:page/image のハンドラーを返します。
func pageImageHandler(convertService *convert.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		page, err := strconv.Atoi(c.Param("page"))
		if jobID == "" || err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId とページ番号を指定してください。",
			})
			return
		}

		file, err := convertService.OpenPageImage(jobID, page)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "NOT_FOUND",
					"message": "指定されたページ画像が見つかりませんでした。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ページ画像の取得に失敗しました。",
			})
			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ページ画像の取得に失敗しました。",
			})
			return
		}

		c.Header("Content-Type", "image/png")
		c.Header("Content-Disposition", fmt.Sprintf("inline; filename=\"page-%03d.png\"", page))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", jobID)
		c.DataFromReader(http.StatusOK, info.Size(), "image/png", file, nil)
	}
}
