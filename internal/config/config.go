// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定（認証は資格情報が設定されている場合のみ有効）
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// アップロード制限
	MaxFileSize int64 // 単一ファイルの最大サイズ（バイト）
	MaxPages    int   // 単一ファイルの最大ページ数

	// ジョブ/キュー設定
	QueueRedisURL            string // Asynq用Redis接続URL
	WorkerConcurrency        int    // 変換ワーカーの並列数
	JobExpireMinutes         int    // ジョブレコードの保持期間（分）
	ResultRetentionMinutes   int    // 変換結果の保持期間（分）
	ProcessingTimeoutSeconds int    // processing のまま放置されたジョブを失敗扱いにするまでの秒数

	// 変換エンジン設定（poppler-utils）
	PdfInfoPath   string // pdfinfo 実行ファイルのパス
	PdfToTextPath string // pdftotext 実行ファイルのパス
	PdfToPpmPath  string // pdftoppm 実行ファイルのパス

	// 作業ディレクトリ設定
	WorkspaceRoot string // ジョブごとの入出力ファイルを置くルートディレクトリ
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		Port:    getEnv("PORT", "8000"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 52428800), // 50MB
		MaxPages:    getEnvAsInt("MAX_PAGES", 200),

		QueueRedisURL:            getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		WorkerConcurrency:        getEnvAsInt("WORKER_CONCURRENCY", 4),
		JobExpireMinutes:         getEnvAsInt("JOB_EXPIRE_MINUTES", 60),
		ResultRetentionMinutes:   getEnvAsInt("RESULT_RETENTION_MINUTES", 30),
		ProcessingTimeoutSeconds: getEnvAsInt("PROCESSING_TIMEOUT_SECONDS", 300),

		PdfInfoPath:   getEnv("PDFINFO_PATH", "pdfinfo"),
		PdfToTextPath: getEnv("PDFTOTEXT_PATH", "pdftotext"),
		PdfToPpmPath:  getEnv("PDFTOPPM_PATH", "pdftoppm"),

		WorkspaceRoot: getEnv("WORKSPACE_ROOT", filepath.Join(os.TempDir(), "pdfmill")),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("MAX_PAGES must be positive")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.ResultRetentionMinutes <= 0 {
		return fmt.Errorf("RESULT_RETENTION_MINUTES must be positive")
	}

	// 認証は任意だが、使う場合は3点セットで揃っている必要がある
	if c.AuthEnabled() {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required when authentication is configured")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required when authentication is configured")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required when authentication is configured")
		}
	}

	if c.GinMode == "release" && c.QueueRedisURL == "" {
		return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
	}

	return nil
}

// AuthEnabled はセッション認証を有効化すべきかどうかを返します。
func (c *Config) AuthEnabled() bool {
	return c.AppUsername != "" || c.AppPasswordHash != "" || c.SessionSecret != ""
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
