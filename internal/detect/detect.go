// Package detect finds wrongly-answered questions on a homework photo by
// prompting a vision model for schema-constrained JSON.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lightencc/mistakebook/internal/geometry"
	"github.com/lightencc/mistakebook/shared/logger"
)

// JSONGenerator is the single generation call Detect needs. Implemented
// by the gemini client.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, prompt, imagePath string, schema map[string]any) (string, error)
}

// Question is one detected wrongly-answered question. Bounding boxes are
// normalized to the source photo.
type Question struct {
	Number        string          `json:"question_no"`
	Text          string          `json:"question_text"`
	StudentAnswer string          `json:"student_answer"`
	CorrectAnswer string          `json:"correct_answer"`
	ErrorReason   string          `json:"error_reason"`
	HasFigure     bool            `json:"has_figure"`
	Rect          geometry.Rect   `json:"question_bbox"`
	FigureRects   []geometry.Rect `json:"figure_bboxes"`
}

const detectPrompt = `你是一位小学数学错题整理助手。请识别照片中的“做错的题”，并只输出 JSON。

严格要求：
1) 只提取明确可见的错题（如有老师红叉、扣分、错号，或作答与题意明显不符）。
2) 不要编造看不清的内容；看不清就填空字符串 ""。
3) 输出字段必须与给定 schema 一致。
4) bbox 使用归一化坐标 [x1, y1, x2, y2]，范围 0~1，基于“原图”。
5) question_bbox 是整道题区域；figure_bboxes 只放图形/示意图区域（可多个）。
6) 如果题目没有图形，has_figure=false 且 figure_bboxes=[]。
7) question_no 可填题号（如 "5"），看不清可用 ""。
`

// Schema returns the strict response schema. The same schema is sent with
// the generation request and enforced again on the reply.
func Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"wrong_questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question_no":    map[string]any{"type": "string"},
						"question_text":  map[string]any{"type": "string"},
						"student_answer": map[string]any{"type": "string"},
						"correct_answer": map[string]any{"type": "string"},
						"error_reason":   map[string]any{"type": "string"},
						"has_figure":     map[string]any{"type": "boolean"},
						"question_bbox":  bboxSchema(),
						"figure_bboxes": map[string]any{
							"type":  "array",
							"items": bboxSchema(),
						},
					},
					"required": []string{
						"question_no",
						"question_text",
						"student_answer",
						"correct_answer",
						"error_reason",
						"has_figure",
						"question_bbox",
						"figure_bboxes",
					},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"wrong_questions"},
		"additionalProperties": false,
	}
}

func bboxSchema() map[string]any {
	return map[string]any{
		"type":     "array",
		"items":    map[string]any{"type": "number"},
		"minItems": 4,
		"maxItems": 4,
	}
}

// Detector runs the detection prompt against single photos.
type Detector struct {
	gen    JSONGenerator
	logger *logger.Logger
}

// NewDetector builds a Detector around a generation client.
func NewDetector(gen JSONGenerator, log *logger.Logger) *Detector {
	return &Detector{gen: gen, logger: log}
}

// Detect analyzes one photo and returns the questions found on it. A
// reply that fails schema validation is an error, never a partial result.
func (d *Detector) Detect(ctx context.Context, imagePath string) ([]Question, error) {
	raw, err := d.gen.GenerateJSON(ctx, detectPrompt, imagePath, Schema())
	if err != nil {
		return nil, err
	}

	payload, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	var doc struct {
		WrongQuestions []Question `json:"wrong_questions"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode detection payload: %w", err)
	}
	for i := range doc.WrongQuestions {
		q := &doc.WrongQuestions[i]
		q.Number = strings.TrimSpace(q.Number)
		q.Text = strings.TrimSpace(q.Text)
		q.StudentAnswer = strings.TrimSpace(q.StudentAnswer)
		q.CorrectAnswer = strings.TrimSpace(q.CorrectAnswer)
		q.ErrorReason = strings.TrimSpace(q.ErrorReason)
	}

	d.logger.Debug("detection parsed",
		"image", filepath.Base(imagePath),
		"questions", len(doc.WrongQuestions),
	)
	return doc.WrongQuestions, nil
}

// extractJSON pulls the JSON object out of a model reply. Replies are
// usually bare JSON but may wrap the object in prose or a code fence.
func extractJSON(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}
	left := strings.Index(trimmed, "{")
	right := strings.LastIndex(trimmed, "}")
	if left >= 0 && right > left {
		snippet := trimmed[left : right+1]
		if json.Valid([]byte(snippet)) {
			return []byte(snippet), nil
		}
	}
	return nil, errors.New("model output is not valid JSON")
}

// validatePayload checks a reply against Schema before it is decoded.
func validatePayload(data []byte) error {
	raw, err := json.Marshal(Schema())
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("detect.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("detect.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal detection payload: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("detection payload does not match schema: %w", err)
	}
	return nil
}
