package jobs

import (
	"context"
	"time"
)

// Store はジョブ状態の正本を保持します。状態の書き換えはすべて
// Store 経由で行い、呼び出し側が Record を直接書き換えることはありません。
type Store interface {
	// Create は queued 状態のジョブを新規登録します。
	// 同一IDが既に存在する場合は ErrConflictingJob を返します。
	Create(ctx context.Context, record *Record) error

	// Get はジョブ情報を取得します。存在しない場合は ErrNotFound を返します。
	Get(ctx context.Context, jobID string) (*Record, error)

	// Claim は queued → processing への遷移を原子的に行います。
	// 同一ジョブに対して成功するのは常に1回だけで、queued 以外の
	// 状態に対しては ErrInvalidTransition を返します。
	Claim(ctx context.Context, jobID string) (*Record, error)

	// UpdateProgress は processing 中のジョブの進捗を更新します。
	// 終端状態のジョブに対する更新は無視されます。
	UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error

	// MarkSucceeded は processing → succeeded への遷移を行います。
	// processing 以外からの遷移は ErrInvalidTransition を返します。
	MarkSucceeded(ctx context.Context, jobID string) error

	// MarkFailed は processing → failed への遷移を行います。
	// processing 以外からの遷移は ErrInvalidTransition を返します。
	MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error

	// FailStale は olderThan より長く processing のままのジョブを
	// 失敗扱いにし、処理した件数を返します。
	FailStale(ctx context.Context, olderThan time.Duration) (int, error)
}
