package convert

import "time"

// PageArtifact は1ページ分の変換成果物です。テキストは本文をそのまま保持し、
// 画像はワークスペース上のファイル名で参照します。
type PageArtifact struct {
	Page      int    `json:"page"`
	Text      string `json:"text"`
	ImageFile string `json:"imageFile,omitempty"`
}

// ConversionResult は1ドキュメント分の変換成果物です。
// 書き込まれた後は不変で、ページ順はページ番号の昇順を保証します。
type ConversionResult struct {
	JobID          string         `json:"jobId"`
	PageCount      int            `json:"pageCount"`
	Pages          []PageArtifact `json:"pages"`
	Info           *DocumentInfo  `json:"info,omitempty"`
	DurationMillis int64          `json:"durationMillis"`
	CreatedAt      time.Time      `json:"createdAt"`
	ExpiresAt      time.Time      `json:"expiresAt,omitempty"`
}
