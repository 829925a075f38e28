package convert

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/pdfmill/internal/config"
)

const storedFilename = "source.pdf"

// pdfContentTypes はアップロード時に申告として受け付ける Content-Type です。
var pdfContentTypes = map[string]struct{}{
	"application/pdf":          {},
	"application/x-pdf":        {},
	"application/octet-stream": {},
}

// Service は変換ジョブのワークスペース管理・入力検証・変換実行を担います。
type Service struct {
	cfg    *config.Config
	engine Engine
	now    func() time.Time
}

// NewService は Service を作成し、ワークスペースのルートを用意します。
func NewService(cfg *config.Config, engine Engine) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Service{
		cfg:    cfg,
		engine: engine,
		now:    time.Now,
	}, nil
}

type workspace struct {
	jobID  string
	dir    string
	inDir  string
	outDir string
}

func (s *Service) workspaceFor(jobID string) workspace {
	dir := filepath.Join(s.cfg.WorkspaceRoot, jobID)
	return workspace{
		jobID:  jobID,
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}

func (s *Service) createWorkspace() (workspace, error) {
	ws := s.workspaceFor(uuid.NewString())
	for _, dir := range []string{ws.inDir, ws.outDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = removeDir(ws.dir)
			return workspace{}, fmt.Errorf("failed to create workspace: %w", err)
		}
	}
	return ws, nil
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

type storedFile struct {
	path         string
	originalName string
	size         int64
	pages        int
}

// PrepareConvertJob はアップロードを検証して保存し、queued 相当の
// ジョブマニフェストを作成します。検証エラーは呼び出し元へ同期的に返し、
// その場合ジョブは作成されません。
func (s *Service) PrepareConvertJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError(CodeInvalidDocument, "PDFファイルを選択してください。", nil)
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}

	stored, err := s.storeMultipartFile(ctx, file, ws.inDir)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}

	manifest := &JobManifest{
		JobID: ws.jobID,
		Document: JobFile{
			StoredName:   filepath.Base(stored.path),
			OriginalName: stored.originalName,
			Size:         stored.size,
			Pages:        stored.pages,
		},
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return manifest, nil
}

// DiscardJob はジョブのワークスペースを破棄します。
func (s *Service) DiscardJob(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("jobID is required")
	}
	return removeDir(s.workspaceFor(jobID).dir)
}

// OpenPageImage はジョブの指定ページのPNGを開きます。
// 成果物が存在しない場合は fs.ErrNotExist を内包したエラーを返します。
func (s *Service) OpenPageImage(jobID string, page int) (*os.File, error) {
	if strings.TrimSpace(jobID) == "" || page < 1 {
		return nil, fmt.Errorf("jobID and page are required: %w", fs.ErrNotExist)
	}
	ws := s.workspaceFor(jobID)
	return os.Open(filepath.Join(ws.outDir, pageImageName(page)))
}

func pageImageName(page int) string {
	return fmt.Sprintf("page-%03d.png", page)
}

// storeMultipartFile はアップロードを検証しながら destDir へ保存します。
// 申告された Content-Type・拡張子・実バイトのMIME・PDF構造・ページ数の順に検証します。
func (s *Service) storeMultipartFile(ctx context.Context, file *multipart.FileHeader, destDir string) (storedFile, error) {
	if err := ctx.Err(); err != nil {
		return storedFile{}, err
	}

	if s.cfg.MaxFileSize > 0 && file.Size > s.cfg.MaxFileSize {
		return storedFile{}, newError(CodeLimitExceeded,
			fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", s.cfg.MaxFileSize), nil)
	}

	if !strings.HasSuffix(strings.ToLower(file.Filename), ".pdf") {
		return storedFile{}, newError(CodeInvalidDocument, "PDFファイル（.pdf）のみアップロードできます。", nil)
	}

	if declared := file.Header.Get("Content-Type"); declared != "" {
		base := declared
		if idx := strings.Index(declared, ";"); idx >= 0 {
			base = declared[:idx]
		}
		if _, ok := pdfContentTypes[strings.TrimSpace(strings.ToLower(base))]; !ok {
			return storedFile{}, newError(CodeInvalidDocument,
				fmt.Sprintf("Content-Type %s はサポートされていません。", declared), nil)
		}
	}

	src, err := file.Open()
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルのオープンに失敗しました: %w", err)
	}
	defer src.Close()

	destPath := filepath.Join(destDir, storedFilename)
	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", err)
	}

	written, err := io.Copy(dest, src)
	closeErr := dest.Close()
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルの書き込みに失敗しました: %w", err)
	}
	if closeErr != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルの書き込みに失敗しました: %w", closeErr)
	}
	if s.cfg.MaxFileSize > 0 && written > s.cfg.MaxFileSize {
		return storedFile{}, newError(CodeLimitExceeded,
			fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", s.cfg.MaxFileSize), nil)
	}

	// 申告はあてにせず、実バイトのシグネチャでPDFかどうかを確認する
	mtype, err := mimetype.DetectFile(destPath)
	if err != nil {
		return storedFile{}, fmt.Errorf("ファイル種別の判定に失敗しました: %w", err)
	}
	if !mtype.Is("application/pdf") {
		return storedFile{}, newError(CodeInvalidDocument,
			fmt.Sprintf("PDFではないファイルです（検出: %s）。", mtype.String()), nil)
	}

	if err := pdfapi.ValidateFile(destPath, nil); err != nil {
		return storedFile{}, newError(CodeInvalidDocument, "PDFの構造が壊れているため受け付けられません。", err)
	}

	pages, err := pdfapi.PageCountFile(destPath)
	if err != nil {
		return storedFile{}, newError(CodeInvalidDocument, "PDFのページ数を取得できませんでした。", err)
	}
	if pages < 1 {
		return storedFile{}, newError(CodeInvalidDocument, "ページが存在しないPDFは変換できません。", nil)
	}
	if s.cfg.MaxPages > 0 && pages > s.cfg.MaxPages {
		return storedFile{}, newError(CodeLimitExceeded,
			fmt.Sprintf("ページ数が上限（%dページ）を超えています。", s.cfg.MaxPages), nil)
	}

	return storedFile{
		path:         destPath,
		originalName: file.Filename,
		size:         written,
		pages:        pages,
	}, nil
}
