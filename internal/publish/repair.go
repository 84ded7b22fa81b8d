package publish

import (
	"fmt"
	"strings"

	"github.com/lightencc/mistakebook/internal/markdown"
	"github.com/lightencc/mistakebook/shared/notionapi"
)

// EnsureImagesInBlocks re-injects image links the block conversion
// dropped. The source document is the authority: any image URL present
// in the markdown but absent from the converted blocks is appended as
// an external image block under a marker paragraph, placed after a
// leading heading when there is one.
func EnsureImagesInBlocks(markdownText string, blocks []notionapi.Block) []notionapi.Block {
	entries := markdown.ExtractImageEntries(markdownText)
	if len(entries) == 0 {
		return blocks
	}

	existed := notionapi.CollectImageURLs(blocks)
	var missing []markdown.ImageEntry
	for _, e := range entries {
		if _, ok := existed[e.URL]; !ok {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return blocks
	}

	inject := []notionapi.Block{notionapi.ParagraphBlock("题目截图（自动补充）")}
	for i, e := range missing {
		caption := e.Alt
		if caption == "" {
			caption = fmt.Sprintf("题目截图 %d", i+1)
		}
		inject = append(inject, notionapi.ExternalImageBlock(e.URL, caption))
	}

	if len(blocks) > 0 {
		if t, _ := blocks[0]["type"].(string); strings.HasPrefix(t, "heading_") {
			out := make([]notionapi.Block, 0, len(blocks)+len(inject))
			out = append(out, blocks[0])
			out = append(out, inject...)
			return append(out, blocks[1:]...)
		}
	}
	out := make([]notionapi.Block, 0, len(blocks)+len(inject))
	out = append(out, inject...)
	return append(out, blocks...)
}
