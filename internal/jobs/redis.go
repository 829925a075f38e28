package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobKeyPrefix = "job:"

// RedisStore はジョブ状態を Redis に保存する Store 実装です。
// 状態遷移は WATCH/MULTI による楽観ロックで直列化します。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore は RedisStore を作成します。ttl はジョブレコードの保持期間です。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
	}
}

// Create は queued 状態のジョブを登録します。SetNX により同一IDの
// 二重登録は ErrConflictingJob になります。
func (s *RedisStore) Create(ctx context.Context, record *Record) error {
	if record == nil || record.JobID == "" {
		return fmt.Errorf("record with JobID is required")
	}

	now := time.Now().UTC()
	record.Status = StatusQueued
	record.Progress = ProgressInfo{Percent: 0, Stage: "queued"}
	record.CreatedAt = now
	record.UpdatedAt = now
	if s.ttl > 0 {
		record.ExpiresAt = now.Add(s.ttl)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, jobKey(record.JobID), payload, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflictingJob
	}
	return nil
}

// Get はジョブ情報を取得します。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Claim は queued → processing への遷移を原子的に行います。
func (s *RedisStore) Claim(ctx context.Context, jobID string) (*Record, error) {
	return s.transition(ctx, jobID, StatusQueued, func(record *Record) {
		record.Status = StatusProcessing
		record.Progress = ProgressInfo{Percent: 0, Stage: "claimed"}
	})
}

// UpdateProgress は processing 中のジョブの進捗を更新します。
// 既に終端状態へ進んでいた場合は何もしません。
func (s *RedisStore) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	_, err := s.transition(ctx, jobID, StatusProcessing, func(record *Record) {
		record.Progress = progress
	})
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

// MarkSucceeded は processing → succeeded への遷移を行います。
func (s *RedisStore) MarkSucceeded(ctx context.Context, jobID string) error {
	_, err := s.transition(ctx, jobID, StatusProcessing, func(record *Record) {
		now := time.Now().UTC()
		record.Status = StatusSucceeded
		record.Progress = ProgressInfo{Percent: 100, Stage: "completed"}
		record.CompletedAt = &now
		record.Error = nil
	})
	return err
}

// MarkFailed は processing → failed への遷移を行います。
func (s *RedisStore) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	_, err := s.transition(ctx, jobID, StatusProcessing, func(record *Record) {
		now := time.Now().UTC()
		record.Status = StatusFailed
		record.CompletedAt = &now
		if errInfo != nil {
			record.Error = errInfo
		}
	})
	return err
}

// FailStale は processing のまま olderThan を超過したジョブを失敗扱いにします。
func (s *RedisStore) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	count := 0

	iter := s.rdb.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		jobID := iter.Val()[len(jobKeyPrefix):]
		record, err := s.Get(ctx, jobID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return count, err
		}
		if record.Status != StatusProcessing || record.UpdatedAt.After(cutoff) {
			continue
		}
		err = s.MarkFailed(ctx, jobID, &ErrorInfo{
			Code:    "CONVERSION_TIMEOUT",
			Message: "変換処理が制限時間内に完了しませんでした。",
		})
		if err != nil {
			// 競合して終端状態へ進んでいた場合はそのまま次へ
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				continue
			}
			return count, err
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// transition は from 状態のジョブにのみ mutate を適用して保存します。
// 楽観ロックが競合した場合はリトライします。
func (s *RedisStore) transition(ctx context.Context, jobID string, from Status, mutate func(*Record)) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	key := jobKey(jobID)

	for {
		var updated *Record
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			if record.Status != from {
				return ErrInvalidTransition
			}

			mutate(&record)
			record.UpdatedAt = time.Now().UTC()
			payload, err := json.Marshal(&record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, redis.KeepTTL)
				return nil
			})
			if err == nil {
				updated = &record
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
