package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MemoryStore は Store のインメモリ実装です。Redis を用意できない
// 開発環境とテストで使用します。
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock はテスト用に時刻取得関数を差し替えます。
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create は queued 状態のジョブを登録します。
func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	if record == nil || record.JobID == "" {
		return fmt.Errorf("record with JobID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.JobID]; exists {
		return ErrConflictingJob
	}

	now := s.now().UTC()
	record.Status = StatusQueued
	record.Progress = ProgressInfo{Percent: 0, Stage: "queued"}
	record.CreatedAt = now
	record.UpdatedAt = now
	if s.ttl > 0 {
		record.ExpiresAt = now.Add(s.ttl)
	}

	clone := *record
	s.records[record.JobID] = &clone
	return nil
}

// Get はジョブ情報のコピーを返します。
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getLocked(jobID)
	if err != nil {
		return nil, err
	}
	clone := *record
	return &clone, nil
}

// Claim は queued → processing への遷移を原子的に行います。
func (s *MemoryStore) Claim(ctx context.Context, jobID string) (*Record, error) {
	return s.transition(jobID, StatusQueued, func(record *Record) {
		record.Status = StatusProcessing
		record.Progress = ProgressInfo{Percent: 0, Stage: "claimed"}
	})
}

// UpdateProgress は processing 中のジョブの進捗を更新します。
func (s *MemoryStore) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	_, err := s.transition(jobID, StatusProcessing, func(record *Record) {
		record.Progress = progress
	})
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

// MarkSucceeded は processing → succeeded への遷移を行います。
func (s *MemoryStore) MarkSucceeded(ctx context.Context, jobID string) error {
	_, err := s.transition(jobID, StatusProcessing, func(record *Record) {
		now := s.now().UTC()
		record.Status = StatusSucceeded
		record.Progress = ProgressInfo{Percent: 100, Stage: "completed"}
		record.CompletedAt = &now
		record.Error = nil
	})
	return err
}

// MarkFailed は processing → failed への遷移を行います。
func (s *MemoryStore) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	_, err := s.transition(jobID, StatusProcessing, func(record *Record) {
		now := s.now().UTC()
		record.Status = StatusFailed
		record.CompletedAt = &now
		if errInfo != nil {
			record.Error = errInfo
		}
	})
	return err
}

// FailStale は processing のまま olderThan を超過したジョブを失敗扱いにします。
func (s *MemoryStore) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-olderThan)
	count := 0
	for _, record := range s.records {
		if record.Status != StatusProcessing || record.UpdatedAt.After(cutoff) {
			continue
		}
		now := s.now().UTC()
		record.Status = StatusFailed
		record.CompletedAt = &now
		record.UpdatedAt = now
		record.Error = &ErrorInfo{
			Code:    "CONVERSION_TIMEOUT",
			Message: "変換処理が制限時間内に完了しませんでした。",
		}
		count++
	}
	return count, nil
}

func (s *MemoryStore) transition(jobID string, from Status, mutate func(*Record)) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getLocked(jobID)
	if err != nil {
		return nil, err
	}
	if record.Status != from {
		return nil, ErrInvalidTransition
	}

	mutate(record)
	record.UpdatedAt = s.now().UTC()
	clone := *record
	return &clone, nil
}

// getLocked は保持期間切れのレコードを削除しつつ取得します。呼び出し側がロックを保持します。
func (s *MemoryStore) getLocked(jobID string) (*Record, error) {
	record, ok := s.records[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if !record.ExpiresAt.IsZero() && s.now().UTC().After(record.ExpiresAt) {
		delete(s.records, jobID)
		return nil, ErrNotFound
	}
	return record, nil
}
