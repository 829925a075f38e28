package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

// RunJob は claim 済みジョブの変換を実行します。ページ単位でテキスト抽出と
// 画像生成を行い、いずれかのページが（1回の再試行後も）失敗した場合は
// ジョブ全体を失敗として返します。部分的な成果物は返しません。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*ConversionResult, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}

	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}

	doc := manifest.Document
	if doc.StoredName == "" {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("manifest has no input document")
	}
	inputPath := filepath.Join(ws.inDir, doc.StoredName)

	started := s.now()
	reportProgress(reporter, "load", 5)

	info, err := s.engine.Info(ctx, inputPath)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, newError(CodeConversionFailed, "ドキュメント情報の取得に失敗しました。", err)
	}

	pages := doc.Pages
	if info.PageCount > 0 {
		pages = info.PageCount
	}

	artifacts := make([]PageArtifact, 0, pages)
	for page := 1; page <= pages; page++ {
		select {
		case <-ctx.Done():
			_ = removeDir(ws.dir)
			return nil, ctx.Err()
		default:
		}

		text, err := s.extractPageText(ctx, inputPath, page)
		if err != nil {
			_ = removeDir(ws.dir)
			return nil, newError(CodeConversionFailed,
				fmt.Sprintf("ページ %d のテキスト抽出に失敗しました。", page), err)
		}

		imageName := pageImageName(page)
		if err := s.renderPageImage(ctx, inputPath, page, filepath.Join(ws.outDir, imageName)); err != nil {
			_ = removeDir(ws.dir)
			return nil, newError(CodeConversionFailed,
				fmt.Sprintf("ページ %d の画像生成に失敗しました。", page), err)
		}

		artifacts = append(artifacts, PageArtifact{
			Page:      page,
			Text:      text,
			ImageFile: imageName,
		})
		reportProgress(reporter, "process", 10+(80*page)/pages)
	}

	reportProgress(reporter, "write", 95)

	// 保持期間を過ぎたワークスペースは画像ごと回収する
	retention := time.Duration(s.cfg.ResultRetentionMinutes) * time.Minute
	time.AfterFunc(retention, func() {
		_ = removeDir(ws.dir)
	})

	result := &ConversionResult{
		JobID:          jobID,
		PageCount:      pages,
		Pages:          artifacts,
		Info:           info,
		DurationMillis: time.Since(started).Milliseconds(),
		CreatedAt:      s.now().UTC(),
	}

	reportProgress(reporter, "completed", 100)
	return result, nil
}

// extractPageText は1回だけ再試行します。再試行後の失敗はそのまま返し、
// それ以上の再試行は行いません。
func (s *Service) extractPageText(ctx context.Context, path string, page int) (string, error) {
	text, err := s.engine.ExtractText(ctx, path, page)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	return s.engine.ExtractText(ctx, path, page)
}

// renderPageImage は extractPageText と同じく1回だけ再試行します。
func (s *Service) renderPageImage(ctx context.Context, path string, page int, outPath string) error {
	err := s.engine.RenderImage(ctx, path, page, outPath)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	return s.engine.RenderImage(ctx, path, page, outPath)
}
