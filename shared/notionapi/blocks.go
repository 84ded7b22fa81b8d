package notionapi

import (
	"fmt"
	"strconv"
	"strings"
)

// Block is one page-store content node in wire form.
type Block = map[string]any

const (
	maxTextContentLen = 1900
	maxCaptionLen     = 120
)

// ParagraphBlock builds a plain paragraph block.
func ParagraphBlock(text string) Block {
	return Block{
		"object": "block",
		"type":   "paragraph",
		"paragraph": map[string]any{
			"rich_text": []any{
				map[string]any{
					"type": "text",
					"text": map[string]any{"content": truncateRunes(text, maxTextContentLen)},
				},
			},
		},
	}
}

// ExternalImageBlock builds an externally hosted image block.
func ExternalImageBlock(url, caption string) Block {
	image := map[string]any{
		"type":     "external",
		"external": map[string]any{"url": url},
	}
	if caption != "" {
		image["caption"] = []any{
			map[string]any{
				"type": "text",
				"text": map[string]any{"content": truncateRunes(caption, maxCaptionLen)},
			},
		}
	}
	return Block{"object": "block", "type": "image", "image": image}
}

// ChunkBlocks splits blocks into append-sized batches.
func ChunkBlocks(blocks []Block, size int) [][]Block {
	if size <= 0 {
		return [][]Block{blocks}
	}
	var chunks [][]Block
	for start := 0; start < len(blocks); start += size {
		end := start + size
		if end > len(blocks) {
			end = len(blocks)
		}
		chunks = append(chunks, blocks[start:end])
	}
	return chunks
}

// ExtractIDValue pulls a printable identifier out of a page property,
// whichever of the store's property types the database models it as.
func ExtractIDValue(prop map[string]any) string {
	switch strings.TrimSpace(stringField(prop, "type")) {
	case "unique_id":
		uid, ok := prop["unique_id"].(map[string]any)
		if !ok {
			return ""
		}
		prefix := ""
		if raw := uid["prefix"]; raw != nil {
			prefix = strings.TrimSpace(fmt.Sprint(raw))
		}
		number := ""
		if raw, ok := uid["number"]; ok && raw != nil {
			number = strings.TrimSpace(formatNumber(raw))
		}
		if prefix == "" && number == "" {
			return ""
		}
		return prefix + number
	case "rich_text":
		return propertyPlainText(prop["rich_text"])
	case "title":
		return propertyPlainText(prop["title"])
	case "number":
		if raw := prop["number"]; raw != nil {
			return strings.TrimSpace(formatNumber(raw))
		}
	case "formula":
		formula, ok := prop["formula"].(map[string]any)
		if !ok {
			return ""
		}
		switch strings.TrimSpace(stringField(formula, "type")) {
		case "string":
			s, _ := formula["string"].(string)
			return strings.TrimSpace(s)
		case "number":
			if raw := formula["number"]; raw != nil {
				return strings.TrimSpace(formatNumber(raw))
			}
		}
	}
	return ""
}

// CollectImageURLs walks a block tree and gathers every external image
// URL it references, children included.
func CollectImageURLs(blocks []Block) map[string]struct{} {
	found := map[string]struct{}{}
	var walk func(node any)
	walk = func(node any) {
		switch v := node.(type) {
		case map[string]any:
			if strings.TrimSpace(stringField(v, "type")) == "image" {
				if image, ok := v["image"].(map[string]any); ok {
					if external, ok := image["external"].(map[string]any); ok {
						if url := strings.TrimSpace(stringField(external, "url")); url != "" {
							found[url] = struct{}{}
						}
					}
				}
			}
			for _, value := range v {
				walk(value)
			}
		case []map[string]any:
			for _, item := range v {
				walk(item)
			}
		case []any:
			for _, item := range v {
				walk(item)
			}
		}
	}
	for _, block := range blocks {
		walk(map[string]any(block))
	}
	return found
}

func propertyPlainText(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		var parts []string
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if textObj, ok := entry["text"].(map[string]any); ok {
				if content := strings.TrimSpace(stringField(textObj, "content")); content != "" {
					parts = append(parts, content)
					continue
				}
			}
			if plain := strings.TrimSpace(stringField(entry, "plain_text")); plain != "" {
				parts = append(parts, plain)
			}
		}
		return strings.TrimSpace(strings.Join(parts, ""))
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	if raw, ok := m[key]; ok && raw != nil {
		return fmt.Sprint(raw)
	}
	return ""
}

func formatNumber(raw any) string {
	switch v := raw.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
