package convert

import "context"

// DocumentInfo はドキュメント全体のメタデータです。
type DocumentInfo struct {
	Title     string `json:"title,omitempty"`
	Author    string `json:"author,omitempty"`
	Producer  string `json:"producer,omitempty"`
	PageCount int    `json:"pageCount"`
}

// Engine は外部レンダリングツールへの窓口です。ワーカーのロジックを
// 実バイナリなしで検証できるよう、能力を絞ったインターフェースにしています。
type Engine interface {
	// Check はツール一式が利用可能かを起動時に検証します。
	Check(ctx context.Context) error
	// Info はドキュメントのメタデータとページ数を取得します。
	Info(ctx context.Context, path string) (*DocumentInfo, error)
	// ExtractText は指定ページのテキストを抽出します。ページ番号は1始まりです。
	ExtractText(ctx context.Context, path string, page int) (string, error)
	// RenderImage は指定ページを outPath へPNGとして描画します。
	RenderImage(ctx context.Context, path string, page int, outPath string) error
}
