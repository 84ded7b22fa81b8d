// Package gemini is a REST client for the Gemini generateContent API,
// exposing the two generation modes the pipelines need: templated review
// markdown and schema-constrained JSON.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lightencc/mistakebook/internal/markdown"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultModel      = "gemini-3-flash-preview"
	DefaultAPIVersion = "v1beta"
	DefaultTimeout    = 90 * time.Second
)

// versionSuffix strips an API version the caller baked into the base
// URL; the client appends its own and would otherwise produce /v1/v1beta.
var versionSuffix = regexp.MustCompile(`/v1(?:beta)?$`)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	APIVersion string
	Timeout    time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("缺少 API Key，请设置 GEMINI_API_KEY 或 GOOGLE_API_KEY。")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = versionSuffix.ReplaceAllString(strings.TrimRight(cfg.BaseURL, "/"), "")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// ReviewRequest carries one prepared question into generation.
type ReviewRequest struct {
	QuestionIndex     int
	QuestionImagePath string
	QuestionImageURL  string
	OCRText           string
	Template          string
	FigureURLs        []string
}

const reviewPromptFormat = `你是小学数学错题整理助手，擅长按模板输出结构化复盘 Markdown。
请根据以下材料，严格按照模板输出最终 Markdown。

【模板】
%s

【题目信息文本】
%s

【图片说明】
请结合附带图片识别题目内容；忽略手写批注、打勾打叉、红笔分数等非题干信息。

要求：
1) 必须保持模板四个章节与条目结构，不要删除条目。
2) 填写“题目截图/题干、我的原答案、正确答案、我认为错因、家长复核、本题核心遗漏”。
3) 将“解题思路解析”写入“家长复核”或“本题核心遗漏”中。
4) 在“题目截图”行使用提供的题目图片URL。
5) 信息不确定时写“（待家长补充）”。
6) “针对性练习 Action”必须由你生成 3 道举一反三的类似题，围绕本题核心知识点，不能与原题完全相同。
7) 三道练习题需体现难度递进（基础 -> 变式 -> 提升），并覆盖同一知识点的不同问法。
8) 每道练习请填写“题目”和“参考答案”；“是否做对/用时/备注”保留给孩子练习记录，可填写“（待练习后填写）”。
9) 只输出 Markdown 正文，不要代码围栏。
`

// GenerateReview fills the review template for one question, attaching
// the question crop as inline image data. Output is stripped of a
// surrounding code fence; an empty result is an error.
func (c *Client) GenerateReview(ctx context.Context, req ReviewRequest) (string, error) {
	img, err := imagePart(req.QuestionImagePath)
	if err != nil {
		return "", err
	}

	temperature := 0.1
	text, err := c.generate(ctx, []part{{Text: buildReviewPrompt(req)}, img}, &generationConfig{
		Temperature:     &temperature,
		MaxOutputTokens: 2048,
	})
	if err != nil {
		return "", err
	}

	result := markdown.StripFence(text)
	if result == "" {
		return "", errors.New("Gemini 未返回有效 Markdown 内容。")
	}
	return result, nil
}

// GenerateJSON runs a schema-constrained JSON generation over a prompt
// and one image. The raw model text is returned for the caller to parse.
func (c *Client) GenerateJSON(ctx context.Context, prompt, imagePath string, schema map[string]any) (string, error) {
	img, err := imagePart(imagePath)
	if err != nil {
		return "", err
	}

	temperature := 0.0
	return c.generate(ctx, []part{{Text: prompt}, img}, &generationConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	})
}

// Ping issues a one-token generation, catching bad credentials or an
// unreachable endpoint before a batch starts burning real calls.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.generate(ctx, []part{{Text: "ping"}}, &generationConfig{MaxOutputTokens: 1})
	return err
}

func buildReviewPrompt(req ReviewRequest) string {
	ocr := strings.TrimSpace(req.OCRText)
	if ocr == "" {
		ocr = "（空）"
	}
	info := []string{
		fmt.Sprintf("题号: %d", req.QuestionIndex),
		fmt.Sprintf("题目图片URL: %s", req.QuestionImageURL),
		fmt.Sprintf("题目文本(用户编辑): %s", ocr),
	}
	if len(req.FigureURLs) > 0 {
		info = append(info, "图形URL:")
		for _, u := range req.FigureURLs {
			info = append(info, "- "+u)
		}
	}

	template := strings.TrimSpace(req.Template)
	if template == "" {
		template = strings.TrimSpace(markdown.DefaultPromptTemplate)
	}
	return fmt.Sprintf(reviewPromptFormat, template, strings.Join(info, "\n"))
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	MaxOutputTokens  int            `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *Client) generate(ctx context.Context, parts []part, cfg *generationConfig) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: parts}},
		GenerationConfig: cfg,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent",
		c.cfg.BaseURL, c.cfg.APIVersion, url.PathEscape(c.cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, endpoint, apiErr.Error.Message)
		}
		return "", fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, endpoint, string(respBody))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var texts []string
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			if t := strings.TrimSpace(p.Text); t != "" {
				texts = append(texts, t)
			}
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n")), nil
}

func imagePart(path string) (part, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return part{}, fmt.Errorf("failed to read image file: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}
	return part{InlineData: &inlineData{
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}, nil
}
