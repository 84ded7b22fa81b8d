package detect

import (
	"fmt"
	"strings"
	"time"
)

// ReportEntry pairs one detected question with the crop assets saved for
// it. Crop paths are relative to the report file.
type ReportEntry struct {
	Question     Question
	QuestionCrop string
	FigureCrops  []string
}

// ImageResult is everything detected on one photo. A photo with no
// entries still gets a section in the report.
type ImageResult struct {
	ImageName string
	Entries   []ReportEntry
}

// BuildReport renders the combined batch report for a detection run.
func BuildReport(inputDir string, results []ImageResult, generatedAt time.Time) string {
	lines := []string{
		"# 数学错题整理",
		"",
		fmt.Sprintf("- 生成时间: %s", generatedAt.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("- 图片目录: `%s`", inputDir),
		"",
	}

	total := 0
	for _, r := range results {
		total += len(r.Entries)
	}
	lines = append(lines, fmt.Sprintf("共识别到 **%d** 道错题。", total), "")

	for _, r := range results {
		lines = append(lines, fmt.Sprintf("## 图片 `%s`", r.ImageName), "")
		if len(r.Entries) == 0 {
			lines = append(lines, "- 未识别到明确错题。", "")
			continue
		}

		for i, e := range r.Entries {
			q := e.Question
			heading := fmt.Sprintf("### 错题 %d", i+1)
			if q.Number != "" {
				heading += fmt.Sprintf("（题号: %s）", q.Number)
			}
			lines = append(lines,
				heading,
				"",
				"- 题干: "+orPlaceholder(q.Text, "（未识别清楚）"),
				"- 孩子作答: "+orPlaceholder(q.StudentAnswer, "（未识别清楚）"),
				"- 参考正确答案: "+orPlaceholder(q.CorrectAnswer, "（无法判断）"),
				"- 错因简述: "+orPlaceholder(q.ErrorReason, "（未给出）"),
			)
			if e.QuestionCrop != "" {
				lines = append(lines, "- 题目截图:", fmt.Sprintf("  - ![](%s)", e.QuestionCrop))
			}
			if len(e.FigureCrops) > 0 {
				lines = append(lines, "- 题目图形:")
				for _, p := range e.FigureCrops {
					lines = append(lines, fmt.Sprintf("  - ![](%s)", p))
				}
			}
			lines = append(lines, "")
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

func orPlaceholder(value, placeholder string) string {
	if value == "" {
		return placeholder
	}
	return value
}
