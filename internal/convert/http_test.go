package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubmitService struct {
	manifest  *JobManifest
	err       error
	discarded []string
}

func (s *stubSubmitService) PrepareConvertJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.manifest, nil
}

func (s *stubSubmitService) DiscardJob(jobID string) error {
	s.discarded = append(s.discarded, jobID)
	return nil
}

type stubScheduler struct {
	err       error
	scheduled []*JobManifest
}

func (s *stubScheduler) Schedule(ctx context.Context, manifest *JobManifest) error {
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, manifest)
	return nil
}

func newSubmitRouter(svc SubmitService, scheduler JobScheduler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/documents", SubmitHandler(svc, scheduler))
	return router
}

func newUploadRequest(t *testing.T, field, filename string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 dummy"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestSubmitHandlerAccepted(t *testing.T) {
	svc := &stubSubmitService{manifest: &JobManifest{JobID: "job-1"}}
	scheduler := &stubScheduler{}
	router := newSubmitRouter(svc, scheduler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "file", "resume.pdf"))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "job-1", decodeBody(t, rec)["jobId"])
	require.Len(t, scheduler.scheduled, 1)
	assert.Empty(t, svc.discarded)
}

func TestSubmitHandlerAlternateFieldName(t *testing.T) {
	svc := &stubSubmitService{manifest: &JobManifest{JobID: "job-2"}}
	scheduler := &stubScheduler{}
	router := newSubmitRouter(svc, scheduler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "files[]", "resume.pdf"))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSubmitHandlerMissingFile(t *testing.T) {
	svc := &stubSubmitService{manifest: &JobManifest{JobID: "job-3"}}
	router := newSubmitRouter(svc, &stubScheduler{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("note", "no file here"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidDocument, decodeBody(t, rec)["code"])
}

func TestSubmitHandlerValidationError(t *testing.T) {
	svc := &stubSubmitService{err: newError(CodeInvalidDocument, "PDFではないファイルです。", nil)}
	scheduler := &stubScheduler{}
	router := newSubmitRouter(svc, scheduler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "file", "resume.pdf"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidDocument, decodeBody(t, rec)["code"])
	assert.Empty(t, scheduler.scheduled)
}

func TestSubmitHandlerLimitExceeded(t *testing.T) {
	svc := &stubSubmitService{err: newError(CodeLimitExceeded, "ファイルサイズが上限を超えています。", nil)}
	router := newSubmitRouter(svc, &stubScheduler{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "file", "resume.pdf"))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, CodeLimitExceeded, decodeBody(t, rec)["code"])
}

func TestSubmitHandlerConflictingJob(t *testing.T) {
	svc := &stubSubmitService{manifest: &JobManifest{JobID: "job-4"}}
	scheduler := &stubScheduler{err: newError(CodeConflictingJob, "同一IDのジョブが既に登録されています。", nil)}
	router := newSubmitRouter(svc, scheduler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "file", "resume.pdf"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeConflictingJob, decodeBody(t, rec)["code"])
	assert.Equal(t, []string{"job-4"}, svc.discarded)
}

func TestSubmitHandlerSchedulerFailureDiscardsJob(t *testing.T) {
	svc := &stubSubmitService{manifest: &JobManifest{JobID: "job-5"}}
	scheduler := &stubScheduler{err: errors.New("queue unavailable")}
	router := newSubmitRouter(svc, scheduler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "file", "resume.pdf"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody(t, rec)["code"])
	assert.Equal(t, []string{"job-5"}, svc.discarded)
}
