package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yourusername/pdfmill/internal/config"
)

// レンダリング解像度（DPI）。プレビュー用途なので控えめにしています。
const renderDPI = "150"

// PopplerEngine は poppler-utils（pdfinfo / pdftotext / pdftoppm）を
// 外部プロセスとして呼び出す Engine 実装です。
type PopplerEngine struct {
	infoPath string
	textPath string
	ppmPath  string
}

// NewPopplerEngine は設定からエンジンを作成します。
func NewPopplerEngine(cfg *config.Config) *PopplerEngine {
	return &PopplerEngine{
		infoPath: cfg.PdfInfoPath,
		textPath: cfg.PdfToTextPath,
		ppmPath:  cfg.PdfToPpmPath,
	}
}

// Check は3つのバイナリがすべて解決できることを確認します。
// ここで失敗した場合はジョブごとに失敗させず、プロセス起動自体を止めるべきです。
func (e *PopplerEngine) Check(ctx context.Context) error {
	for _, bin := range []string{e.infoPath, e.textPath, e.ppmPath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("レンダリングツールが見つかりません: %s: %w", bin, err)
		}
	}
	return nil
}

// Info は pdfinfo の出力からページ数とメタデータを取り出します。
func (e *PopplerEngine) Info(ctx context.Context, path string) (*DocumentInfo, error) {
	out, err := e.run(ctx, e.infoPath, path)
	if err != nil {
		return nil, err
	}
	return parseInfoOutput(out)
}

func parseInfoOutput(out []byte) (*DocumentInfo, error) {
	info := &DocumentInfo{}
	for _, line := range strings.Split(string(out), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Title":
			info.Title = value
		case "Author":
			info.Author = value
		case "Producer":
			info.Producer = value
		case "Pages":
			pages, convErr := strconv.Atoi(value)
			if convErr != nil {
				return nil, fmt.Errorf("pdfinfo のページ数を解釈できません: %q", value)
			}
			info.PageCount = pages
		}
	}

	if info.PageCount <= 0 {
		return nil, fmt.Errorf("pdfinfo がページ数を返しませんでした")
	}
	return info, nil
}

// ExtractText は pdftotext を1ページ分だけ実行し、標準出力を返します。
func (e *PopplerEngine) ExtractText(ctx context.Context, path string, page int) (string, error) {
	pageArg := strconv.Itoa(page)
	out, err := e.run(ctx, e.textPath, "-f", pageArg, "-l", pageArg, "-layout", path, "-")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// RenderImage は pdftoppm で1ページをPNG化します。outPath は .png で終わる必要があります。
func (e *PopplerEngine) RenderImage(ctx context.Context, path string, page int, outPath string) error {
	pageArg := strconv.Itoa(page)
	// -singlefile 指定時は <prefix>.png 形式で出力される
	prefix := strings.TrimSuffix(outPath, ".png")
	_, err := e.run(ctx, e.ppmPath,
		"-png",
		"-r", renderDPI,
		"-f", pageArg,
		"-l", pageArg,
		"-singlefile",
		path,
		prefix,
	)
	if err != nil {
		return err
	}

	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("出力画像が生成されませんでした: %w", err)
	}
	return nil
}

// run は外部コマンドを実行し、非ゼロ終了コードを stderr 込みのエラーに変換します。
func (e *PopplerEngine) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("%s の実行に失敗しました: %s: %w", filepath.Base(bin), detail, err)
	}
	return stdout.Bytes(), nil
}
