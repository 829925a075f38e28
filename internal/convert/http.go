package convert

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SubmitService はドキュメント受領に必要な操作を提供します。
type SubmitService interface {
	PrepareConvertJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error)
	DiscardJob(jobID string) error
}

// JobScheduler は受領済みジョブを非同期キューに投入します。
type JobScheduler interface {
	Schedule(ctx context.Context, manifest *JobManifest) error
}

// SubmitHandler は POST /documents のハンドラーを返します。
// 検証エラーはこの場で返し、受領できた場合は 202 と jobId を返します。
// 変換の完了を待つことはありません。
func SubmitHandler(svc SubmitService, scheduler JobScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidDocument,
				"message": "multipart/form-data でPDFファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidDocument,
				"message": err.Error(),
			})
			return
		}

		manifest, err := svc.PrepareConvertJob(c.Request.Context(), file)
		if err != nil {
			RespondWithError(c, err)
			return
		}

		if err := scheduler.Schedule(c.Request.Context(), manifest); err != nil {
			// キュー投入に失敗した入力は残しておいても処理されない
			_ = svc.DiscardJob(manifest.JobID)
			RespondWithError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
	}
}

// RespondWithError はエラーを {code, message} 形式のJSONに変換して返します。
func RespondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case CodeLimitExceeded:
			status = http.StatusRequestEntityTooLarge
		case CodeConflictingJob:
			status = http.StatusConflict
		case CodeConversionFailed:
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New("PDFファイルを選択してください。")
	}
	for _, field := range []string{"file", "file[]", "files", "files[]"} {
		if files := form.File[field]; len(files) > 0 {
			return files[0], nil
		}
	}
	return nil, errors.New("PDFファイルを選択してください。")
}
