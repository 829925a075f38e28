package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/pdfmill/internal/config"
)

// fakeEngine は Engine のテスト用実装です。ページごとに指定回数だけ失敗させられます。
type fakeEngine struct {
	pages      int
	failText   map[int]int
	failImage  map[int]int
	textCalls  map[int]int
	imageCalls map[int]int
}

func newFakeEngine(pages int) *fakeEngine {
	return &fakeEngine{
		pages:      pages,
		failText:   make(map[int]int),
		failImage:  make(map[int]int),
		textCalls:  make(map[int]int),
		imageCalls: make(map[int]int),
	}
}

func (e *fakeEngine) Check(ctx context.Context) error {
	return nil
}

func (e *fakeEngine) Info(ctx context.Context, path string) (*DocumentInfo, error) {
	return &DocumentInfo{Producer: "fake", PageCount: e.pages}, nil
}

func (e *fakeEngine) ExtractText(ctx context.Context, path string, page int) (string, error) {
	e.textCalls[page]++
	if e.failText[page] > 0 {
		e.failText[page]--
		return "", errors.New("pdftotext exited with status 1")
	}
	return fmt.Sprintf("text of page %d", page), nil
}

func (e *fakeEngine) RenderImage(ctx context.Context, path string, page int, outPath string) error {
	e.imageCalls[page]++
	if e.failImage[page] > 0 {
		e.failImage[page]--
		return errors.New("pdftoppm exited with status 1")
	}
	return os.WriteFile(outPath, []byte("png"), 0o640)
}

func newTestService(t *testing.T, engine Engine) *Service {
	t.Helper()
	cfg := &config.Config{
		MaxFileSize:            1 << 20,
		MaxPages:               50,
		ResultRetentionMinutes: 30,
		WorkspaceRoot:          t.TempDir(),
	}
	svc, err := NewService(cfg, engine)
	require.NoError(t, err)
	return svc
}

func prepareJobDir(t *testing.T, svc *Service, pages int) workspace {
	t.Helper()
	ws, err := svc.createWorkspace()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(ws.inDir, storedFilename), []byte("%PDF-1.4 dummy"), 0o640))
	require.NoError(t, writeManifest(ws.dir, &JobManifest{
		JobID: ws.jobID,
		Document: JobFile{
			StoredName:   storedFilename,
			OriginalName: "input.pdf",
			Size:         14,
			Pages:        pages,
		},
	}))
	return ws
}

func TestRunJobSuccess(t *testing.T) {
	engine := newFakeEngine(3)
	svc := newTestService(t, engine)
	ws := prepareJobDir(t, svc, 3)

	var stages []string
	result, err := svc.RunJob(context.Background(), ws.jobID, func(stage string, percent int) {
		stages = append(stages, stage)
	})
	require.NoError(t, err)

	assert.Equal(t, ws.jobID, result.JobID)
	assert.Equal(t, 3, result.PageCount)
	require.Len(t, result.Pages, 3)
	for i, page := range result.Pages {
		assert.Equal(t, i+1, page.Page)
		assert.Equal(t, fmt.Sprintf("text of page %d", i+1), page.Text)
		assert.FileExists(t, filepath.Join(ws.outDir, page.ImageFile))
	}
	require.NotNil(t, result.Info)
	assert.Equal(t, "fake", result.Info.Producer)
	assert.Contains(t, stages, "completed")
}

func TestRunJobPageFailureFailsWholeJob(t *testing.T) {
	engine := newFakeEngine(3)
	engine.failImage[2] = 10 // 再試行しても失敗し続ける
	svc := newTestService(t, engine)
	ws := prepareJobDir(t, svc, 3)

	_, err := svc.RunJob(context.Background(), ws.jobID, nil)
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeConversionFailed, apiErr.Code)
	assert.Contains(t, apiErr.Message, "ページ 2")

	// 再試行は1回だけ
	assert.Equal(t, 2, engine.imageCalls[2])
	// 部分的な成果物は残さない
	assert.NoDirExists(t, ws.dir)
}

func TestRunJobSingleRetryRecovers(t *testing.T) {
	engine := newFakeEngine(2)
	engine.failText[2] = 1 // 1回目だけ失敗
	svc := newTestService(t, engine)
	ws := prepareJobDir(t, svc, 2)

	result, err := svc.RunJob(context.Background(), ws.jobID, nil)
	require.NoError(t, err)
	assert.Len(t, result.Pages, 2)
	assert.Equal(t, 2, engine.textCalls[2])
}

func TestRunJobMissingManifest(t *testing.T) {
	engine := newFakeEngine(1)
	svc := newTestService(t, engine)

	_, err := svc.RunJob(context.Background(), "no-such-job", nil)
	require.Error(t, err)
}
