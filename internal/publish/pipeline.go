package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/lightencc/mistakebook/shared/logger"
	"github.com/lightencc/mistakebook/shared/notionapi"
)

// Options wires the pipeline's collaborators.
type Options struct {
	// NewStore is resolved per publish so missing credentials surface
	// as item failures instead of refusing to boot.
	NewStore func() (PageStore, error)

	// Convert defaults to notionapi.ConvertMarkdownToBlocks.
	Convert ConvertFunc

	// TitlePrefix is inserted between the date part and the ID value
	// of the final page title when set.
	TitlePrefix string

	Logger *logger.Logger
	Now    func() time.Time
}

// Pipeline publishes one markdown document per call.
type Pipeline struct {
	newStore    func() (PageStore, error)
	convert     ConvertFunc
	titlePrefix string
	logger      *logger.Logger
	now         func() time.Time
}

func NewPipeline(opts Options) *Pipeline {
	if opts.Convert == nil {
		opts.Convert = notionapi.ConvertMarkdownToBlocks
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		newStore:    opts.NewStore,
		convert:     opts.Convert,
		titlePrefix: opts.TitlePrefix,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// Publish creates one page from the document: provisional title first,
// then the database-assigned ID becomes part of the final title, then
// the block content lands in batches. Steps record how far the flow
// got; on error they are discarded with the page half-built, which is
// how the page database behaves anyway (no rollback).
func (p *Pipeline) Publish(ctx context.Context, markdownText string) (*UploadResult, error) {
	store, err := p.newStore()
	if err != nil {
		return nil, err
	}
	parent, schema, err := store.ResolveSchema(ctx)
	if err != nil {
		return nil, err
	}

	blocks, err := p.convert(markdownText)
	if err != nil {
		return nil, err
	}
	blocks = EnsureImagesInBlocks(markdownText, blocks)

	var steps []string
	page, err := store.CreatePage(ctx, parent, schema.TitleProperty, "待命名")
	if err != nil {
		return nil, err
	}
	if page.ID == "" {
		return nil, fmt.Errorf("Notion 创建页面失败：未返回 page_id。")
	}
	steps = append(steps, fmt.Sprintf("已创建页面（%s）", parent.Type))

	props, err := store.RetrievePageProperties(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	idValue := ""
	if prop, ok := props[schema.IDProperty].(map[string]any); ok {
		idValue = notionapi.ExtractIDValue(prop)
	}
	if idValue == "" {
		idValue = "NOID"
	}
	steps = append(steps, fmt.Sprintf("已检索 ID：%s", idValue))

	prefix := ""
	if p.titlePrefix != "" {
		prefix = p.titlePrefix + "-"
	}
	finalTitle := fmt.Sprintf("%s-%s%s", p.now().Format("2006-0102"), prefix, idValue)
	if err := store.UpdatePageTitle(ctx, page.ID, schema.TitleProperty, finalTitle); err != nil {
		return nil, err
	}
	steps = append(steps, fmt.Sprintf("已更新标题：%s", finalTitle))

	if len(blocks) > 0 {
		for _, chunk := range notionapi.ChunkBlocks(blocks, notionapi.BlockBatchLimit) {
			if err := store.AppendBlockChildren(ctx, page.ID, chunk); err != nil {
				return nil, err
			}
		}
		steps = append(steps, fmt.Sprintf("已写入内容：%d blocks", len(blocks)))
	} else {
		steps = append(steps, "Markdown 内容为空，未写入 blocks")
	}

	p.logger.Info("document published", "page_id", page.ID, "title", finalTitle, "blocks", len(blocks))
	return &UploadResult{
		PageID:  page.ID,
		PageURL: page.URL,
		Title:   finalTitle,
		IDValue: idValue,
		Steps:   steps,
	}, nil
}
