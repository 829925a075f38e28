package results

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yourusername/pdfmill/internal/convert"
)

// MemoryStore は Store のインメモリ実装です。Redis を用意できない
// 開発環境とテストで使用します。
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]*convert.ConversionResult
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		items:     make(map[string]*convert.ConversionResult),
		retention: retention,
		now:       time.Now,
	}
}

// SetClock はテスト用に時刻取得関数を差し替えます。
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Write は結果を保存します。
func (s *MemoryStore) Write(ctx context.Context, result *convert.ConversionResult) error {
	if result == nil || result.JobID == "" {
		return fmt.Errorf("result with JobID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[result.JobID]; exists {
		return ErrAlreadyWritten
	}

	now := s.now().UTC()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	result.ExpiresAt = now.Add(s.retention)

	clone := *result
	s.items[result.JobID] = &clone
	return nil
}

// Get は結果を取得します。
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*convert.ConversionResult, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.items[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if !result.ExpiresAt.IsZero() && s.now().UTC().After(result.ExpiresAt) {
		return nil, ErrExpired
	}
	clone := *result
	return &clone, nil
}
