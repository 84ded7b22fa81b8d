package notionapi

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// codeLanguages maps fence info strings to the language names the store
// accepts. Anything unlisted degrades to plain text.
var codeLanguages = map[string]string{
	"bash":       "bash",
	"c":          "c",
	"cpp":        "c++",
	"css":        "css",
	"go":         "go",
	"html":       "html",
	"java":       "java",
	"javascript": "javascript",
	"js":         "javascript",
	"json":       "json",
	"markdown":   "markdown",
	"py":         "python",
	"python":     "python",
	"ruby":       "ruby",
	"rust":       "rust",
	"shell":      "shell",
	"sql":        "sql",
	"ts":         "typescript",
	"typescript": "typescript",
	"yaml":       "yaml",
}

// ConvertMarkdownToBlocks parses markdown and renders it as page-store
// blocks: headings (clamped to three levels), paragraphs, list items,
// quotes, dividers, code fences, and externally hosted images.
func ConvertMarkdownToBlocks(markdownText string) ([]Block, error) {
	source := []byte(markdownText)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))
	return convertChildren(doc, source)
}

func convertChildren(parent ast.Node, source []byte) ([]Block, error) {
	blocks := make([]Block, 0)
	for child := parent.FirstChild(); child != nil; child = child.NextSibling() {
		converted, err := convertNode(child, source)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, converted...)
	}
	return blocks, nil
}

func convertNode(node ast.Node, source []byte) ([]Block, error) {
	switch n := node.(type) {
	case *ast.Heading:
		rich, images := inlineContent(n, source)
		level := n.Level
		if level > 3 {
			level = 3
		}
		key := fmt.Sprintf("heading_%d", level)
		block := Block{"object": "block", "type": key, key: map[string]any{"rich_text": rich}}
		return append([]Block{block}, images...), nil

	case *ast.Paragraph:
		return paragraphBlocks(n, source), nil

	case *ast.List:
		return listBlocks(n, source)

	case *ast.FencedCodeBlock:
		lang := "plain text"
		if name := strings.ToLower(strings.TrimSpace(string(n.Language(source)))); name != "" {
			if mapped, ok := codeLanguages[name]; ok {
				lang = mapped
			}
		}
		return []Block{codeBlock(blockLines(n, source), lang)}, nil

	case *ast.CodeBlock:
		return []Block{codeBlock(blockLines(n, source), "plain text")}, nil

	case *ast.Blockquote:
		inner, err := convertChildren(n, source)
		if err != nil {
			return nil, err
		}
		return quoteBlocks(inner), nil

	case *ast.ThematicBreak:
		return []Block{{"object": "block", "type": "divider", "divider": map[string]any{}}}, nil
	}

	// Raw HTML and other unhandled kinds contribute nothing.
	return nil, nil
}

func paragraphBlocks(n ast.Node, source []byte) []Block {
	rich, images := inlineContent(n, source)
	if len(rich) == 0 {
		return images
	}
	block := Block{
		"object":    "block",
		"type":      "paragraph",
		"paragraph": map[string]any{"rich_text": rich},
	}
	return append([]Block{block}, images...)
}

func listBlocks(n *ast.List, source []byte) ([]Block, error) {
	itemType := "bulleted_list_item"
	if n.IsOrdered() {
		itemType = "numbered_list_item"
	}
	blocks := make([]Block, 0)
	for item := n.FirstChild(); item != nil; item = item.NextSibling() {
		rich := make([]any, 0)
		var images []Block
		var children []Block
		for part := item.FirstChild(); part != nil; part = part.NextSibling() {
			switch part.(type) {
			case *ast.TextBlock, *ast.Paragraph:
				if len(rich) == 0 && len(images) == 0 {
					rich, images = inlineContent(part, source)
					continue
				}
				children = append(children, paragraphBlocks(part, source)...)
			default:
				converted, err := convertNode(part, source)
				if err != nil {
					return nil, err
				}
				children = append(children, converted...)
			}
		}
		children = append(children, images...)
		payload := map[string]any{"rich_text": rich}
		if len(children) > 0 {
			payload["children"] = children
		}
		blocks = append(blocks, Block{"object": "block", "type": itemType, itemType: payload})
	}
	return blocks, nil
}

func quoteBlocks(inner []Block) []Block {
	quote := map[string]any{"rich_text": []any{}}
	rest := inner
	if len(inner) > 0 {
		if para, ok := inner[0]["paragraph"].(map[string]any); ok {
			if rich, ok := para["rich_text"]; ok {
				quote["rich_text"] = rich
				rest = inner[1:]
			}
		}
	}
	if len(rest) > 0 {
		quote["children"] = rest
	}
	return []Block{{"object": "block", "type": "quote", "quote": quote}}
}

type inlineStyle struct {
	bold   bool
	italic bool
	code   bool
	link   string
}

// inlineContent flattens a block node's inline children into rich-text
// spans. Embedded images cannot live inside rich text, so they come back
// separately as standalone blocks.
func inlineContent(parent ast.Node, source []byte) ([]any, []Block) {
	rich := make([]any, 0)
	images := make([]Block, 0)

	var walk func(node ast.Node, style inlineStyle)
	walk = func(node ast.Node, style inlineStyle) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch n := child.(type) {
			case *ast.Text:
				content := string(n.Segment.Value(source))
				if n.SoftLineBreak() || n.HardLineBreak() {
					content += "\n"
				}
				if content != "" {
					rich = append(rich, textSpan(content, style))
				}
			case *ast.String:
				if len(n.Value) > 0 {
					rich = append(rich, textSpan(string(n.Value), style))
				}
			case *ast.CodeSpan:
				next := style
				next.code = true
				walk(n, next)
			case *ast.Emphasis:
				next := style
				if n.Level >= 2 {
					next.bold = true
				} else {
					next.italic = true
				}
				walk(n, next)
			case *ast.Link:
				next := style
				next.link = string(n.Destination)
				walk(n, next)
			case *ast.AutoLink:
				url := string(n.URL(source))
				next := style
				next.link = url
				rich = append(rich, textSpan(url, next))
			case *ast.Image:
				url := strings.TrimSpace(string(n.Destination))
				if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
					images = append(images, ExternalImageBlock(url, imageAlt(n, source)))
				}
			default:
				walk(n, style)
			}
		}
	}
	walk(parent, inlineStyle{})
	return rich, images
}

func textSpan(content string, style inlineStyle) map[string]any {
	textObj := map[string]any{"content": truncateRunes(content, maxTextContentLen)}
	if style.link != "" {
		textObj["link"] = map[string]any{"url": style.link}
	}
	span := map[string]any{"type": "text", "text": textObj}
	annotations := map[string]any{}
	if style.bold {
		annotations["bold"] = true
	}
	if style.italic {
		annotations["italic"] = true
	}
	if style.code {
		annotations["code"] = true
	}
	if len(annotations) > 0 {
		span["annotations"] = annotations
	}
	return span
}

func codeBlock(content, language string) Block {
	return Block{
		"object": "block",
		"type":   "code",
		"code": map[string]any{
			"rich_text": []any{
				map[string]any{
					"type": "text",
					"text": map[string]any{"content": truncateRunes(content, maxTextContentLen)},
				},
			},
			"language": language,
		},
	}
}

func imageAlt(n *ast.Image, source []byte) string {
	var buf bytes.Buffer
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return strings.TrimSpace(buf.String())
}

func blockLines(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return strings.TrimRight(buf.String(), "\n")
}
