package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightencc/mistakebook/shared/notionapi"
)

func paragraphText(b notionapi.Block) string {
	body, ok := b["paragraph"].(map[string]any)
	if !ok {
		return ""
	}
	spans, ok := body["rich_text"].([]any)
	if !ok || len(spans) == 0 {
		return ""
	}
	span, ok := spans[0].(map[string]any)
	if !ok {
		return ""
	}
	text, ok := span["text"].(map[string]any)
	if !ok {
		return ""
	}
	content, _ := text["content"].(string)
	return content
}

func TestEnsureImagesInBlocks_InjectsAfterLeadingHeading(t *testing.T) {
	md := "# 错题 1\n\n![题目](https://raw.example.com/a.jpg)\n"
	blocks := []notionapi.Block{
		{"object": "block", "type": "heading_1", "heading_1": map[string]any{"rich_text": []any{}}},
		notionapi.ParagraphBlock("正文"),
	}

	out := EnsureImagesInBlocks(md, blocks)
	require.Len(t, out, 4)
	assert.Equal(t, "heading_1", out[0]["type"])
	assert.Equal(t, "paragraph", out[1]["type"])
	assert.Equal(t, "题目截图（自动补充）", paragraphText(out[1]))
	assert.Equal(t, "image", out[2]["type"])
	assert.Equal(t, "paragraph", out[3]["type"])
}

func TestEnsureImagesInBlocks_InjectsAtFrontWithoutHeading(t *testing.T) {
	md := "![题目](https://raw.example.com/a.jpg)\n"
	blocks := []notionapi.Block{notionapi.ParagraphBlock("正文")}

	out := EnsureImagesInBlocks(md, blocks)
	require.Len(t, out, 3)
	assert.Equal(t, "题目截图（自动补充）", paragraphText(out[0]))
	assert.Equal(t, "image", out[1]["type"])
}

func TestEnsureImagesInBlocks_SkipsPresentImages(t *testing.T) {
	md := "![题目](https://raw.example.com/a.jpg)\n"
	blocks := []notionapi.Block{notionapi.ExternalImageBlock("https://raw.example.com/a.jpg", "题目")}

	out := EnsureImagesInBlocks(md, blocks)
	assert.Equal(t, blocks, out)
}

func TestEnsureImagesInBlocks_NoImagesInSource(t *testing.T) {
	blocks := []notionapi.Block{notionapi.ParagraphBlock("正文")}
	out := EnsureImagesInBlocks("没有图片的文档", blocks)
	assert.Equal(t, blocks, out)
}

func TestEnsureImagesInBlocks_DefaultCaption(t *testing.T) {
	md := "![](https://raw.example.com/a.jpg)\n"
	out := EnsureImagesInBlocks(md, nil)
	require.Len(t, out, 2)

	body, ok := out[1]["image"].(map[string]any)
	require.True(t, ok)
	captions, ok := body["caption"].([]any)
	require.True(t, ok)
	require.Len(t, captions, 1)
	span, ok := captions[0].(map[string]any)
	require.True(t, ok)
	text, ok := span["text"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "题目截图 1", text["content"])
}
