package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal は終端状態（以降遷移しない状態）かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。
// 状態遷移は queued → processing → succeeded|failed の一方向のみです。
type Record struct {
	JobID       string       `json:"jobId"`
	Filename    string       `json:"filename,omitempty"`
	Size        int64        `json:"size,omitempty"`
	Pages       int          `json:"pages,omitempty"`
	Status      Status       `json:"status"`
	Progress    ProgressInfo `json:"progress"`
	Error       *ErrorInfo   `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}
