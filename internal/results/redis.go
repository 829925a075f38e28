package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/pdfmill/internal/convert"
)

const resultKeyPrefix = "result:"

// RedisStore は変換結果を Redis に保存する Store 実装です。
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisStore は RedisStore を作成します。retention は結果の保持期間です。
func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{
		rdb:       rdb,
		retention: retention,
	}
}

// Write は SetNX により write-once を保証して結果を保存します。
func (s *RedisStore) Write(ctx context.Context, result *convert.ConversionResult) error {
	if result == nil || result.JobID == "" {
		return fmt.Errorf("result with JobID is required")
	}

	now := time.Now().UTC()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	result.ExpiresAt = now.Add(s.retention)

	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	// キー自体は保持期間の2倍残し、その間は NotFound ではなく
	// Expired と答えられるようにする。最終的な削除は Redis に任せる。
	ok, err := s.rdb.SetNX(ctx, resultKey(result.JobID), payload, 2*s.retention).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyWritten
	}
	return nil
}

// Get は結果を取得します。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*convert.ConversionResult, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}

	data, err := s.rdb.Get(ctx, resultKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var result convert.ConversionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	if !result.ExpiresAt.IsZero() && time.Now().UTC().After(result.ExpiresAt) {
		return nil, ErrExpired
	}
	return &result, nil
}

func resultKey(id string) string {
	return resultKeyPrefix + id
}
