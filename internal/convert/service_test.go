package convert

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileHeaderFor はテスト用に *multipart.FileHeader を組み立てます。
func fileHeaderFor(t *testing.T, filename, contentType string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(32<<20))
	files := req.MultipartForm.File["file"]
	require.Len(t, files, 1)
	return files[0]
}

func assertWorkspaceEmpty(t *testing.T, svc *Service) {
	t.Helper()
	entries, err := os.ReadDir(svc.cfg.WorkspaceRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "検証エラー後にワークスペースが残っています")
}

func requireConvertError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, code, apiErr.Code)
}

func TestPrepareConvertJobRejectsNonPDFExtension(t *testing.T) {
	svc := newTestService(t, newFakeEngine(1))
	fh := fileHeaderFor(t, "resume.txt", "application/pdf", []byte("%PDF-1.4"))

	_, err := svc.PrepareConvertJob(context.Background(), fh)
	requireConvertError(t, err, CodeInvalidDocument)
	assertWorkspaceEmpty(t, svc)
}

func TestPrepareConvertJobRejectsDeclaredContentType(t *testing.T) {
	svc := newTestService(t, newFakeEngine(1))
	fh := fileHeaderFor(t, "resume.pdf", "text/plain", []byte("%PDF-1.4"))

	_, err := svc.PrepareConvertJob(context.Background(), fh)
	requireConvertError(t, err, CodeInvalidDocument)
	assertWorkspaceEmpty(t, svc)
}

func TestPrepareConvertJobRejectsOversizedFile(t *testing.T) {
	svc := newTestService(t, newFakeEngine(1))
	svc.cfg.MaxFileSize = 8
	fh := fileHeaderFor(t, "resume.pdf", "application/pdf", []byte("%PDF-1.4 this is too big"))

	_, err := svc.PrepareConvertJob(context.Background(), fh)
	requireConvertError(t, err, CodeLimitExceeded)
	assertWorkspaceEmpty(t, svc)
}

func TestPrepareConvertJobRejectsMasqueradingFile(t *testing.T) {
	svc := newTestService(t, newFakeEngine(1))
	// 拡張子と申告はPDFだが中身はただのテキスト
	fh := fileHeaderFor(t, "resume.pdf", "application/pdf", []byte("plain text pretending to be a pdf"))

	_, err := svc.PrepareConvertJob(context.Background(), fh)
	requireConvertError(t, err, CodeInvalidDocument)
	assertWorkspaceEmpty(t, svc)
}

func TestPrepareConvertJobRejectsNilFile(t *testing.T) {
	svc := newTestService(t, newFakeEngine(1))

	_, err := svc.PrepareConvertJob(context.Background(), nil)
	requireConvertError(t, err, CodeInvalidDocument)
}

func TestDiscardJobRemovesWorkspace(t *testing.T) {
	svc := newTestService(t, newFakeEngine(1))
	ws := prepareJobDir(t, svc, 1)

	require.NoError(t, svc.DiscardJob(ws.jobID))
	assert.NoDirExists(t, ws.dir)
}

func TestOpenPageImageMissingArtifact(t *testing.T) {
	svc := newTestService(t, newFakeEngine(1))

	_, err := svc.OpenPageImage("unknown-job", 1)
	assert.Error(t, err)
}
