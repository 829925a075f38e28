// Package convert はPDFドキュメントの変換処理（テキスト抽出・ページ画像生成・
// メタデータ取得）を提供します。
package convert

import "fmt"

// エラーコード一覧。HTTPレスポンスの code フィールドにそのまま使われます。
const (
	CodeInvalidDocument  = "INVALID_DOCUMENT"
	CodeLimitExceeded    = "LIMIT_EXCEEDED"
	CodeConversionFailed = "CONVERSION_FAILED"
	CodeConflictingJob   = "CONFLICTING_JOB"
)

// Error は呼び出し元へ返すアプリケーションエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error は error インターフェースを実装します。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap は内包するエラーを返します。
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
