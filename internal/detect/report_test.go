package detect

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReport(t *testing.T) {
	generated := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	results := []ImageResult{
		{
			ImageName: "page1.jpg",
			Entries: []ReportEntry{
				{
					Question: Question{
						Number:        "5",
						Text:          "计算 18+7",
						StudentAnswer: "24",
						CorrectAnswer: "25",
						ErrorReason:   "进位漏加",
					},
					QuestionCrop: "assets/page1_q1_question.png",
					FigureCrops:  []string{"assets/page1_q1_fig1.png", "assets/page1_q1_fig2.png"},
				},
				{Question: Question{}},
			},
		},
		{ImageName: "page2.jpg"},
	}

	report := BuildReport("photos", results, generated)

	assert.True(t, strings.HasPrefix(report, "# 数学错题整理\n"))
	assert.Contains(t, report, "- 生成时间: 2026-03-14 10:30:00")
	assert.Contains(t, report, "- 图片目录: `photos`")
	assert.Contains(t, report, "共识别到 **2** 道错题。")

	assert.Contains(t, report, "## 图片 `page1.jpg`")
	assert.Contains(t, report, "### 错题 1（题号: 5）")
	assert.Contains(t, report, "- 题干: 计算 18+7")
	assert.Contains(t, report, "- 孩子作答: 24")
	assert.Contains(t, report, "- 参考正确答案: 25")
	assert.Contains(t, report, "- 错因简述: 进位漏加")
	assert.Contains(t, report, "- 题目截图:\n  - ![](assets/page1_q1_question.png)")
	assert.Contains(t, report, "- 题目图形:\n  - ![](assets/page1_q1_fig1.png)\n  - ![](assets/page1_q1_fig2.png)")

	assert.Contains(t, report, "### 错题 2\n")
	assert.Contains(t, report, "- 题干: （未识别清楚）")
	assert.Contains(t, report, "- 孩子作答: （未识别清楚）")
	assert.Contains(t, report, "- 参考正确答案: （无法判断）")
	assert.Contains(t, report, "- 错因简述: （未给出）")

	assert.Contains(t, report, "## 图片 `page2.jpg`\n\n- 未识别到明确错题。")

	// Entries without saved crops carry no asset bullets.
	rest := strings.SplitN(report, "### 错题 2", 2)
	require.Len(t, rest, 2)
	assert.NotContains(t, rest[1], "题目截图")
	assert.NotContains(t, rest[1], "题目图形")

	assert.True(t, strings.HasSuffix(report, "\n"))
	assert.False(t, strings.HasSuffix(report, "\n\n"))
}

func TestBuildReport_NoResults(t *testing.T) {
	report := BuildReport("photos", nil, time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC))
	assert.Contains(t, report, "共识别到 **0** 道错题。")
	assert.True(t, strings.HasSuffix(report, "道错题。\n"))
}
