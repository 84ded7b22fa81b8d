// Package markdown holds the review-document building blocks: the
// default prompt template, the placeholder renderer used when generation
// fails, fence stripping and image-reference scanning.
package markdown

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultPromptTemplate is the review document skeleton sent to the
// generation model and rendered verbatim as the fallback.
const DefaultPromptTemplate = `## 1️⃣ 原题 Results

- 题目截图/题干：

- 我的原答案：

- 正确答案：


## 2️⃣ 原因 Reason

- 我认为错因：

- 家长复核：

- 本题核心遗漏：


## 3️⃣ 针对性练习 Action

- 练习1：
  - 题目：
  - 参考答案：
  - 是否做对：
  - 用时：
  - 备注：
- 练习2：
  - 题目：
  - 参考答案：
  - 是否做对：
  - 用时：
  - 备注：
- 练习3：
  - 题目：
  - 参考答案：
  - 是否做对：
  - 用时：
  - 备注：


## 4️⃣ 复盘 Review

- 下次遇到什么信号要警觉：

- 能迁移到哪些题型：

- 是否可升阶：
`

var imagePattern = regexp.MustCompile(`!\[([^\]]*)\]\((https?://[^)\s]+)\)`)

// ImageEntry is one remote image reference found in a document body.
type ImageEntry struct {
	Alt string
	URL string
}

// ExtractImageEntries scans a document for remote image references,
// deduplicated by URL in first-seen order. Relative references are
// ignored since they cannot be resolved by a remote page store.
func ExtractImageEntries(text string) []ImageEntry {
	var entries []ImageEntry
	seen := make(map[string]struct{})
	for _, m := range imagePattern.FindAllStringSubmatch(text, -1) {
		alt := strings.TrimSpace(m[1])
		url := strings.TrimSpace(m[2])
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		entries = append(entries, ImageEntry{Alt: alt, URL: url})
	}
	return entries
}

// StripFence removes a surrounding code fence from model output. Models
// sometimes wrap the whole document in one despite being told not to.
func StripFence(text string) string {
	value := strings.TrimSpace(text)
	if strings.HasPrefix(value, "```") {
		if lines := strings.Split(value, "\n"); len(lines) >= 2 {
			value = strings.Join(lines[1:], "\n")
		}
		value = strings.TrimSuffix(value, "```")
	}
	return strings.TrimSpace(value)
}

// RenderQuestionTemplate renders the bare review skeleton with the
// question assets filled in. Used as the per-question fallback so a
// failed generation call still yields a document.
func RenderQuestionTemplate(questionImageURL, ocrText string, figureURLs []string) string {
	lines := []string{
		"## 1️⃣ 原题 Results",
		"",
		"- 题目截图/题干：",
		fmt.Sprintf("  - 题目截图：![](%s)", questionImageURL),
	}
	for i, u := range figureURLs {
		lines = append(lines, fmt.Sprintf("  - 图形补充%d：![](%s)", i+1, u))
	}
	stem := ocrText
	if strings.TrimSpace(stem) == "" {
		stem = "（待补充）"
	}
	lines = append(lines,
		fmt.Sprintf("  - 题干：%s", stem),
		"",
		"- 我的原答案：",
		"",
		"- 正确答案：",
		"",
		"",
		"## 2️⃣ 原因 Reason",
		"",
		"- 我认为错因：",
		"",
		"- 家长复核：",
		"",
		"- 本题核心遗漏：",
		"",
		"",
		"## 3️⃣ 针对性练习 Action",
		"",
		"- 练习1：",
		"  - 题目：",
		"  - 参考答案：",
		"  - 是否做对：",
		"  - 用时：",
		"  - 备注：",
		"- 练习2：",
		"  - 题目：",
		"  - 参考答案：",
		"  - 是否做对：",
		"  - 用时：",
		"  - 备注：",
		"- 练习3：",
		"  - 题目：",
		"  - 参考答案：",
		"  - 是否做对：",
		"  - 用时：",
		"  - 备注：",
		"",
		"",
		"## 4️⃣ 复盘 Review",
		"",
		"- 下次遇到什么信号要警觉：",
		"",
		"- 能迁移到哪些题型：",
		"",
		"- 是否可升阶：",
		"",
	)
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

// IndexEntry is one line of the export index document.
type IndexEntry struct {
	Index     int
	ImageName string
	DocName   string
}

// RenderIndex renders the per-session index document linking every
// generated review file. count is the number of exported questions, which
// can differ from len(entries) only when nothing was exported at all.
func RenderIndex(entries []IndexEntry, generatedAt time.Time, count int) string {
	lines := []string{
		"# 错题 Markdown 索引",
		"",
		fmt.Sprintf("- 生成时间: %s", generatedAt.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("- 题目数量: %d", count),
		"",
	}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- [错题 %d（%s）](%s)", e.Index, e.ImageName, e.DocName))
	}
	if count == 0 {
		lines = append(lines, "当前没有可导出的手动标注错题。")
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

// SanitizeDocName validates a client-supplied document filename. Only
// bare .md filenames are accepted; anything that could traverse out of
// the export directory comes back empty.
func SanitizeDocName(value string) string {
	name := strings.TrimSpace(value)
	if name == "" {
		return ""
	}
	if !strings.HasSuffix(strings.ToLower(name), ".md") {
		return ""
	}
	if strings.ContainsAny(name, `/\`) {
		return ""
	}
	return name
}
