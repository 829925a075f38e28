// Package results は変換結果の保存と取得を提供します。結果はジョブIDを
// キーとして一度だけ書き込まれ、保持期間を過ぎると取得できなくなります。
package results

import (
	"context"
	"errors"

	"github.com/yourusername/pdfmill/internal/convert"
)

var (
	// ErrAlreadyWritten は同一ジョブIDへの二重書き込みで返されます。
	ErrAlreadyWritten = errors.New("result already written")
	// ErrNotFound は結果が存在しない場合に返されます。
	ErrNotFound = errors.New("result not found")
	// ErrExpired は保持期間を過ぎた結果への読み取りで返されます。
	ErrExpired = errors.New("result expired")
)

// Store は変換結果の保存先です。
type Store interface {
	// Write は結果を保存します。同一ジョブIDへの2回目の書き込みは
	// ErrAlreadyWritten で拒否されます。
	Write(ctx context.Context, result *convert.ConversionResult) error

	// Get は結果を取得します。未知のIDは ErrNotFound、保持期間切れは
	// ErrExpired を返します。一度読み取り済みでも期限後は ErrExpired です。
	Get(ctx context.Context, jobID string) (*convert.ConversionResult, error)
}
