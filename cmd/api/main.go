// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdfmill/internal/auth"
	"github.com/yourusername/pdfmill/internal/config"
	"github.com/yourusername/pdfmill/internal/convert"
	"github.com/yourusername/pdfmill/internal/metrics"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// 変換エンジンの確認。ツールが欠けているとすべてのジョブが同じ理由で
	// 失敗するため、ジョブ単位ではなくここで起動を止める。
	engine := convert.NewPopplerEngine(cfg)
	if err := engine.Check(context.Background()); err != nil {
		log.Fatalf("Rendering toolset unavailable: %v", err)
	}

	convertService, err := convert.NewService(cfg, engine)
	if err != nil {
		log.Fatalf("Failed to initialize convert service: %v", err)
	}

	m := metrics.New()

	// ジョブ基盤（Redis + Asynq）の配線
	manager, resultStore, err := setupJobs(cfg, convertService, m)
	if err != nil {
		log.Fatalf("Failed to initialize job manager: %v", err)
	}
	manager.StartWorkers()
	manager.StartJanitor()

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアは認証を使う場合のみ配線する
	if cfg.AuthEnabled() {
		store := cookie.NewStore([]byte(cfg.SessionSecret))
		store.Options(sessions.Options{
			Path:     "/",
			MaxAge:   auth.SessionMaxAgeSeconds(),
			HttpOnly: true,
			Secure:   cfg.GinMode == gin.ReleaseMode,
			SameSite: http.SameSiteStrictMode,
		})
		router.Use(sessions.Sessions(auth.SessionCookieName, store))
	}

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token",
	}
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "X-Job-Id"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, convertService, manager, resultStore, m)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pdfmill-api",
		"version": "0.1.0",
	})
}
