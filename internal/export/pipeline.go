package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/lightencc/mistakebook/internal/imaging"
	"github.com/lightencc/mistakebook/internal/markdown"
	"github.com/lightencc/mistakebook/internal/session"
	"github.com/lightencc/mistakebook/shared/gemini"
	"github.com/lightencc/mistakebook/shared/logger"
)

// Options wires the pipeline's collaborators and directories.
type Options struct {
	Sessions   *session.Store
	UploadsDir string
	ExportsDir string

	// RepoImageDir is the top-level directory assets land under in the
	// remote image store. Defaults to "images".
	RepoImageDir string

	CompressMaxSide     int
	CompressJPEGQuality int

	// NewUploader and NewGenerator are resolved lazily, on the first
	// run that needs them, so a misconfigured credential surfaces as a
	// run failure instead of refusing to boot.
	NewUploader  func() (Uploader, error)
	NewGenerator func() (Generator, error)

	Logger *logger.Logger
	Now    func() time.Time
}

// Pipeline executes export runs. Safe for concurrent use as long as
// callers never run two exports for the same session at once.
type Pipeline struct {
	sessions     *session.Store
	uploadsDir   string
	exportsDir   string
	repoImageDir string
	maxSide      int
	quality      int
	newUploader  func() (Uploader, error)
	newGenerator func() (Generator, error)
	logger       *logger.Logger
	now          func() time.Time
}

func NewPipeline(opts Options) *Pipeline {
	if opts.RepoImageDir == "" {
		opts.RepoImageDir = "images"
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		sessions:     opts.Sessions,
		uploadsDir:   opts.UploadsDir,
		exportsDir:   opts.ExportsDir,
		repoImageDir: opts.RepoImageDir,
		maxSide:      opts.CompressMaxSide,
		quality:      opts.CompressJPEGQuality,
		newUploader:  opts.NewUploader,
		newGenerator: opts.NewGenerator,
		logger:       opts.Logger,
		now:          opts.Now,
	}
}

// questionRecord is one fully prepared question awaiting generation.
type questionRecord struct {
	index       int
	imageName   string
	number      string
	ocrText     string
	cropName    string
	cropPath    string
	questionURL string
	figureURLs  []string
	docName     string
}

// Run executes one export. Fatal failures abort the run; recoverable
// ones (figure asset loss, generation failure) degrade the output and
// are collected into Result.Warnings.
func (p *Pipeline) Run(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	begin := p.now()

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	sess, err := p.sessions.Load(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("导出失败：%w", err)
	}
	// An empty list is a valid run that exports a bare index; only an
	// absent images field is rejected.
	if req.Images == nil {
		return nil, ErrInvalidImages
	}

	log := p.logger.With("session", sessionID)

	template := strings.TrimSpace(req.PromptTemplate)
	if template == "" {
		template = strings.TrimSpace(sess.PromptTemplate)
	}
	if template == "" {
		template = markdown.DefaultPromptTemplate
	}

	totalHint := 0
	for _, img := range req.Images {
		totalHint += len(img.Questions)
	}
	log.Info("export run started", "images", len(req.Images), "question_hint", totalHint)
	emit(progress, Event{
		Phase:         PhasePrepare,
		Current:       "正在准备题目裁剪与图片上传...",
		QuestionTotal: totalHint,
	})

	outDir := filepath.Join(p.exportsDir, sessionID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("导出失败：%w", err)
	}

	var (
		uploader    Uploader
		warnings    = []string{}
		records     []*questionRecord
		globalIndex = 0
		prepared    = 0
	)

	for imgIdx, input := range req.Images {
		imageID := strings.TrimSpace(input.ImageID)
		img, ok := sess.FindImage(imageID)
		if !ok {
			log.Warn("skip image", "image_id", imageID, "reason", "not_in_session")
			continue
		}
		imagePath := filepath.Join(p.uploadsDir, img.StoredName)
		if _, err := os.Stat(imagePath); err != nil {
			log.Warn("skip image", "image_id", imageID, "reason", "missing_file")
			continue
		}
		if len(input.Questions) == 0 {
			log.Info("skip image", "image_id", imageID, "reason", "no_questions")
			continue
		}

		for qIdx, raw := range input.Questions {
			q := raw.Normalize()
			n, m := imgIdx+1, qIdx+1

			cropName := fmt.Sprintf("img%d_q%d_question.png", n, m)
			cropPath := filepath.Join(outDir, cropName)
			if ok, err := imaging.Crop(imagePath, q.Rect, cropPath); err != nil || !ok {
				log.Warn("question crop failed", "image", n, "question", m, "error", err)
				continue
			}

			uploadName := fmt.Sprintf("img%d_q%d_question_upload.jpg", n, m)
			uploadPath := filepath.Join(outDir, uploadName)
			if err := imaging.CompressForUpload(cropPath, uploadPath, p.maxSide, p.quality); err != nil {
				return nil, fmt.Errorf("题目图片压缩失败（%s）：%w", cropName, err)
			}

			var figureNames, figurePaths []string
			for fIdx, rect := range q.FigureRects {
				figName := fmt.Sprintf("img%d_q%d_fig%d.png", n, m, fIdx+1)
				figPath := filepath.Join(outDir, figName)
				if ok, err := imaging.Crop(imagePath, rect, figPath); err != nil || !ok {
					log.Warn("figure crop failed", "file", figName, "error", err)
					continue
				}
				figureNames = append(figureNames, figName)
				figurePaths = append(figurePaths, figPath)
			}

			if uploader == nil {
				up, err := p.newUploader()
				if err != nil {
					return nil, fmt.Errorf("GitHub 上传失败（%s）：%w", cropName, err)
				}
				uploader = up
			}
			repoPath := path.Join(p.repoImageDir, sessionID, uploadName)
			commit := fmt.Sprintf("upload question image %s/%s", sessionID, uploadName)
			questionURL, err := uploader.Upload(ctx, uploadPath, repoPath, commit)
			if err != nil {
				return nil, fmt.Errorf("GitHub 上传失败（%s）：%w", cropName, err)
			}

			var figureURLs []string
			for i, figName := range figureNames {
				figUploadName := strings.TrimSuffix(figName, ".png") + "_upload.jpg"
				figUploadPath := filepath.Join(outDir, figUploadName)
				if err := imaging.CompressForUpload(figurePaths[i], figUploadPath, p.maxSide, p.quality); err != nil {
					log.Warn("figure compress failed", "file", figName, "error", err)
					warnings = append(warnings, fmt.Sprintf("图形图片压缩失败（%s）：%v", figName, err))
					continue
				}
				figRepoPath := path.Join(p.repoImageDir, sessionID, figUploadName)
				figCommit := fmt.Sprintf("upload figure image %s/%s", sessionID, figUploadName)
				figURL, err := uploader.Upload(ctx, figUploadPath, figRepoPath, figCommit)
				if err != nil {
					log.Warn("figure upload failed", "file", figName, "error", err)
					warnings = append(warnings, fmt.Sprintf("GitHub 上传失败（%s）：%v", figName, err))
					continue
				}
				figureURLs = append(figureURLs, figURL)
			}

			globalIndex++
			prepared++
			records = append(records, &questionRecord{
				index:       globalIndex,
				imageName:   img.Name,
				number:      q.Number,
				ocrText:     q.OCRText,
				cropName:    cropName,
				cropPath:    cropPath,
				questionURL: questionURL,
				figureURLs:  figureURLs,
				docName:     fmt.Sprintf("q%d.md", globalIndex),
			})
			log.Info("question prepared", "index", globalIndex, "image", img.Name, "figures", len(figureURLs))

			denom := totalHint
			if denom == 0 {
				denom = 1
			}
			emit(progress, Event{
				Phase:            PhasePrepare,
				Current:          fmt.Sprintf("已完成题目准备 %d/%d", prepared, max(globalIndex, denom)),
				QuestionTotal:    max(globalIndex, totalHint),
				QuestionPrepared: prepared,
			})
		}
	}

	var generator Generator
	if len(records) > 0 {
		generator, err = p.newGenerator()
		if err != nil {
			log.Error("generator init failed", "error", err)
			return nil, fmt.Errorf("导出失败：%w", err)
		}
	}

	emit(progress, Event{
		Phase:            PhaseAI,
		Current:          fmt.Sprintf("准备开始 AI 生成（共 %d 题）", globalIndex),
		QuestionTotal:    globalIndex,
		QuestionPrepared: prepared,
	})

	indexedAt := p.now()
	documents := []DocumentRef{}
	entries := make([]markdown.IndexEntry, 0, len(records))
	aiDone := 0
	aiElapsedTotal := 0.0

	for _, rec := range records {
		emit(progress, Event{
			Phase:             PhaseAI,
			Current:           fmt.Sprintf("AI 生成中 %d/%d", rec.index, globalIndex),
			QuestionTotal:     globalIndex,
			QuestionPrepared:  prepared,
			QuestionDone:      aiDone,
			AIElapsedTotalSec: aiElapsedTotal,
		})

		aiBegin := p.now()
		content, err := generator.GenerateReview(ctx, gemini.ReviewRequest{
			QuestionIndex:     rec.index,
			QuestionImagePath: rec.cropPath,
			QuestionImageURL:  rec.questionURL,
			OCRText:           rec.ocrText,
			Template:          template,
			FigureURLs:        rec.figureURLs,
		})
		if err != nil {
			log.Warn("generation failed, using template", "question", rec.index, "error", err)
			warnings = append(warnings, fmt.Sprintf("错题 %d AI 生成失败，已使用模板占位：%v", rec.index, err))
			content = markdown.RenderQuestionTemplate(rec.questionURL, rec.ocrText, rec.figureURLs)
		}
		elapsed := p.now().Sub(aiBegin).Seconds()
		aiDone++
		aiElapsedTotal += elapsed
		emit(progress, Event{
			Phase:             PhaseAI,
			Current:           fmt.Sprintf("AI 完成 %d/%d，本题耗时 %.1fs", aiDone, globalIndex, elapsed),
			QuestionTotal:     globalIndex,
			QuestionPrepared:  prepared,
			QuestionDone:      aiDone,
			LastAIElapsedSec:  elapsed,
			AIElapsedTotalSec: aiElapsedTotal,
		})

		if err := os.WriteFile(filepath.Join(outDir, rec.docName), []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("导出失败：%w", err)
		}
		documents = append(documents, DocumentRef{
			Title: fmt.Sprintf("错题 %d", rec.index),
			URL:   fmt.Sprintf("/exports/%s/%s", sessionID, rec.docName),
		})
		entries = append(entries, markdown.IndexEntry{
			Index:     rec.index,
			ImageName: rec.imageName,
			DocName:   rec.docName,
		})
	}

	emit(progress, Event{
		Phase:             PhaseFinalize,
		Current:           "正在写入 Markdown 文件...",
		QuestionTotal:     globalIndex,
		QuestionPrepared:  prepared,
		QuestionDone:      aiDone,
		AIElapsedTotalSec: aiElapsedTotal,
	})

	index := markdown.RenderIndex(entries, indexedAt, globalIndex)
	if err := os.WriteFile(filepath.Join(outDir, "mistakes.md"), []byte(index), 0o644); err != nil {
		return nil, fmt.Errorf("导出失败：%w", err)
	}

	sess.PromptTemplate = template
	sess.LastExportAt = p.now().Format(session.TimeLayout)
	if err := p.sessions.Save(sess); err != nil {
		return nil, fmt.Errorf("导出失败：%w", err)
	}

	log.Info("export run finished",
		"questions", globalIndex,
		"warnings", len(warnings),
		"elapsed_sec", p.now().Sub(begin).Seconds(),
	)

	return &Result{
		OK:            true,
		MarkdownURL:   fmt.Sprintf("/exports/%s/mistakes.md", sessionID),
		Documents:     documents,
		ExportDir:     outDir,
		QuestionCount: globalIndex,
		Warnings:      warnings,
	}, nil
}
