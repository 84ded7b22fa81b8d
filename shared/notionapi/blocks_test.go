package notionapi

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParagraphBlock(t *testing.T) {
	block := ParagraphBlock("题目截图（自动补充）")
	require.Equal(t, "block", block["object"])
	require.Equal(t, "paragraph", block["type"])

	rich := block["paragraph"].(map[string]any)["rich_text"].([]any)
	require.Len(t, rich, 1)
	text := rich[0].(map[string]any)["text"].(map[string]any)
	require.Equal(t, "题目截图（自动补充）", text["content"])
}

func TestParagraphBlock_TruncatesByRune(t *testing.T) {
	block := ParagraphBlock(strings.Repeat("题", 1905))
	rich := block["paragraph"].(map[string]any)["rich_text"].([]any)
	content := rich[0].(map[string]any)["text"].(map[string]any)["content"].(string)
	require.Equal(t, 1900, len([]rune(content)))
	require.True(t, strings.HasSuffix(content, "题"))
}

func TestExternalImageBlock(t *testing.T) {
	block := ExternalImageBlock("https://raw.example.com/q1.png", "题目截图 1")
	require.Equal(t, "image", block["type"])

	image := block["image"].(map[string]any)
	require.Equal(t, "external", image["type"])
	require.Equal(t, "https://raw.example.com/q1.png", image["external"].(map[string]any)["url"])

	caption := image["caption"].([]any)
	require.Equal(t, "题目截图 1", caption[0].(map[string]any)["text"].(map[string]any)["content"])
}

func TestExternalImageBlock_NoCaption(t *testing.T) {
	block := ExternalImageBlock("https://raw.example.com/q1.png", "")
	image := block["image"].(map[string]any)
	require.NotContains(t, image, "caption")
}

func TestExternalImageBlock_CaptionTruncated(t *testing.T) {
	block := ExternalImageBlock("https://x/a.png", strings.Repeat("图", 130))
	caption := block["image"].(map[string]any)["caption"].([]any)
	content := caption[0].(map[string]any)["text"].(map[string]any)["content"].(string)
	require.Equal(t, 120, len([]rune(content)))
}

func TestChunkBlocks(t *testing.T) {
	blocks := make([]Block, 250)
	for i := range blocks {
		blocks[i] = ParagraphBlock("x")
	}

	chunks := ChunkBlocks(blocks, 100)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 100)
	require.Len(t, chunks[1], 100)
	require.Len(t, chunks[2], 50)

	require.Empty(t, ChunkBlocks(nil, 100))
	require.Len(t, ChunkBlocks(blocks, 0), 1)
}

func TestExtractIDValue(t *testing.T) {
	parse := func(raw string) map[string]any {
		prop := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(raw), &prop))
		return prop
	}

	tests := []struct {
		name string
		prop map[string]any
		want string
	}{
		{
			name: "unique id with prefix",
			prop: parse(`{"type":"unique_id","unique_id":{"prefix":"MB","number":7}}`),
			want: "MB7",
		},
		{
			name: "unique id number only",
			prop: parse(`{"type":"unique_id","unique_id":{"prefix":null,"number":12}}`),
			want: "12",
		},
		{
			name: "unique id empty",
			prop: parse(`{"type":"unique_id","unique_id":{"prefix":null,"number":null}}`),
			want: "",
		},
		{
			name: "rich text",
			prop: parse(`{"type":"rich_text","rich_text":[{"text":{"content":"A-"}},{"plain_text":"42"}]}`),
			want: "A-42",
		},
		{
			name: "title",
			prop: parse(`{"type":"title","title":[{"plain_text":"标题值"}]}`),
			want: "标题值",
		},
		{
			name: "number",
			prop: parse(`{"type":"number","number":4.5}`),
			want: "4.5",
		},
		{
			name: "whole number keeps integer form",
			prop: parse(`{"type":"number","number":7}`),
			want: "7",
		},
		{
			name: "formula string",
			prop: parse(`{"type":"formula","formula":{"type":"string","string":" F-9 "}}`),
			want: "F-9",
		},
		{
			name: "formula number",
			prop: parse(`{"type":"formula","formula":{"type":"number","number":3}}`),
			want: "3",
		},
		{
			name: "unknown type",
			prop: parse(`{"type":"checkbox","checkbox":true}`),
			want: "",
		},
		{
			name: "nil property",
			prop: nil,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ExtractIDValue(tt.prop))
		})
	}
}

func TestCollectImageURLs(t *testing.T) {
	nested := Block{
		"object": "block",
		"type":   "bulleted_list_item",
		"bulleted_list_item": map[string]any{
			"rich_text": []any{},
			"children": []Block{
				ExternalImageBlock("https://x/nested.png", ""),
			},
		},
	}
	blocks := []Block{
		ParagraphBlock("无图"),
		ExternalImageBlock("https://x/top.png", "说明"),
		ExternalImageBlock("https://x/top.png", "重复"),
		nested,
	}

	found := CollectImageURLs(blocks)
	require.Len(t, found, 2)
	require.Contains(t, found, "https://x/top.png")
	require.Contains(t, found, "https://x/nested.png")
}

func TestCollectImageURLs_DecodedJSON(t *testing.T) {
	raw := `[
		{"object":"block","type":"image","image":{"type":"external","external":{"url":"https://x/a.png"}}},
		{"object":"block","type":"quote","quote":{"children":[
			{"object":"block","type":"image","image":{"type":"external","external":{"url":"https://x/b.png"}}}
		]}}
	]`
	var blocks []Block
	require.NoError(t, json.Unmarshal([]byte(raw), &blocks))

	found := CollectImageURLs(blocks)
	require.Contains(t, found, "https://x/a.png")
	require.Contains(t, found, "https://x/b.png")
}
