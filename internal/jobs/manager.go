package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/pdfmill/internal/config"
	"github.com/yourusername/pdfmill/internal/convert"
	"github.com/yourusername/pdfmill/internal/metrics"
)

const (
	taskTypeConvert = "document:convert"
	queueConvert    = "convert"

	janitorInterval = 30 * time.Second
)

// Runner は claim 済みジョブの変換を実行できるサービスが実装します。
type Runner interface {
	RunJob(ctx context.Context, jobID string, reporter convert.ProgressReporter) (*convert.ConversionResult, error)
}

// ResultWriter は変換結果の保存先です。
type ResultWriter interface {
	Write(ctx context.Context, result *convert.ConversionResult) error
}

// Manager はジョブの投入・ワーカー実行・状態管理を担います。
// 状態の書き換えはすべて Store 経由で行い、ワーカーが Record を
// 直接書き換えることはありません。
type Manager struct {
	cfg     *config.Config
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	store   Store
	results ResultWriter
	runner  Runner
	metrics *metrics.Metrics
	logger  *log.Logger

	janitorStop chan struct{}
}

// TaskPayload は変換ジョブのペイロードです。
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, store Store, results ResultWriter, runner Runner, m *metrics.Metrics, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if results == nil {
		return nil, errors.New("results is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}

	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				queueConvert: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:         cfg,
		client:      client,
		server:      server,
		mux:         mux,
		store:       store,
		results:     results,
		runner:      runner,
		metrics:     m,
		logger:      logger,
		janitorStop: make(chan struct{}),
	}
	mux.HandleFunc(taskTypeConvert, manager.handleConvertTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logf("asynq server stopped with error: %v", err)
		}
	}()
}

// StartJanitor は processing のまま放置されたジョブを失敗扱いにする
// 巡回処理をバックグラウンドで起動します。
func (m *Manager) StartJanitor() {
	timeout := time.Duration(m.cfg.ProcessingTimeoutSeconds) * time.Second
	if timeout <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.janitorStop:
				return
			case <-ticker.C:
				count, err := m.store.FailStale(context.Background(), timeout)
				if err != nil {
					m.logf("failed to sweep stale jobs: %v", err)
					continue
				}
				if count > 0 {
					m.logf("marked %d stale jobs as failed", count)
				}
			}
		}
	}()
}

// Shutdown はジャニター・サーバー・クライアントを停止します。
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.janitorStop)
	m.server.Shutdown()
	return m.client.Close()
}

// Enqueue はジョブを queued 状態で登録し、キューに投入します。
// 同一IDの二重投入は ErrConflictingJob で拒否されます。
func (m *Manager) Enqueue(ctx context.Context, record *Record) error {
	if record == nil || record.JobID == "" {
		return fmt.Errorf("record with JobID is required")
	}

	if err := m.store.Create(ctx, record); err != nil {
		return err
	}

	body, err := json.Marshal(&TaskPayload{JobID: record.JobID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeConvert, body, asynq.Queue(queueConvert))
	opts := []asynq.Option{asynq.MaxRetry(1)}
	if m.cfg.ProcessingTimeoutSeconds > 0 {
		opts = append(opts, asynq.Timeout(time.Duration(m.cfg.ProcessingTimeoutSeconds)*time.Second))
	}
	if _, err := m.client.EnqueueContext(ctx, task, opts...); err != nil {
		return err
	}

	m.metrics.ObserveEnqueued()
	return nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handleConvertTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}
	return m.ProcessJob(ctx, payload.JobID)
}

// ProcessJob は1件のジョブを claim して変換を実行し、結果を保存します。
// claim に敗れた場合（他のワーカーが先行、または期限切れで回収済み）は
// 何もせず正常終了します。
func (m *Manager) ProcessJob(ctx context.Context, jobID string) error {
	if _, err := m.store.Claim(ctx, jobID); err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
			m.logf("skipping job %s: not claimable (%v)", jobID, err)
			return nil
		}
		return err
	}

	m.metrics.ObserveStarted()
	started := time.Now()

	result, err := m.runner.RunJob(ctx, jobID, func(stage string, percent int) {
		_ = m.store.UpdateProgress(ctx, jobID, ProgressInfo{
			Percent: percent,
			Stage:   stage,
		})
	})
	if err != nil {
		m.metrics.ObserveFinished(false, time.Since(started).Seconds())
		return m.failJobWithError(ctx, jobID, err)
	}

	if err := m.results.Write(ctx, result); err != nil {
		m.metrics.ObserveFinished(false, time.Since(started).Seconds())
		m.logf("failed to store result for job %s: %v", jobID, err)
		return m.failJob(ctx, jobID, "RESULT_WRITE_FAILED", "変換結果の保存に失敗しました。")
	}

	if err := m.store.MarkSucceeded(ctx, jobID); err != nil {
		// ジャニターが先に失敗扱いにしていた場合は結果を残さず従う
		m.metrics.ObserveFinished(false, time.Since(started).Seconds())
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}

	m.metrics.ObserveFinished(true, time.Since(started).Seconds())
	return nil
}

func (m *Manager) failJob(ctx context.Context, jobID, code, message string) error {
	err := m.store.MarkFailed(ctx, jobID, &ErrorInfo{
		Code:    code,
		Message: message,
	})
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return err
	}
	return nil
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	var apiErr *convert.Error
	if errors.As(err, &apiErr) {
		return m.failJob(ctx, jobID, apiErr.Code, apiErr.Message)
	}
	return m.failJob(ctx, jobID, "INTERNAL_ERROR", err.Error())
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
