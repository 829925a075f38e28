package jobs

import "errors"

var (
	// ErrNotFound は指定されたジョブが存在しない場合に返されます。
	ErrNotFound = errors.New("job not found")
	// ErrConflictingJob は同一IDのジョブが既に登録済みの場合に返されます。
	ErrConflictingJob = errors.New("job already exists")
	// ErrInvalidTransition は許可されない状態遷移が要求された場合に返されます。
	ErrInvalidTransition = errors.New("invalid job state transition")
)
