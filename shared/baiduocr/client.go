// Package baiduocr is a client for the Baidu education OCR endpoint with
// a cached OAuth access token.
package baiduocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTokenURL     = "https://aip.baidubce.com/oauth/2.0/token"
	DefaultRecognizeURL = "https://aip.baidubce.com/rest/2.0/ocr/v1/paper_cut_edu"
	DefaultTimeout      = 25 * time.Second
)

// tokenCodes are the provider error codes meaning the access token is
// invalid or expired; both are worth exactly one forced refresh.
var tokenCodes = map[int]struct{}{110: {}, 111: {}}

type Config struct {
	APIKey       string
	SecretKey    string
	TokenURL     string
	RecognizeURL string
	Timeout      time.Duration
}

// Client calls the OCR provider. The access token is cached under a
// mutex and refreshed ahead of its reported expiry.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	expireAt    time.Time

	now func() time.Time
}

func New(cfg Config) *Client {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.RecognizeURL == "" {
		cfg.RecognizeURL = DefaultRecognizeURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

// Recognize runs OCR on the image at path and returns the provider's
// decoded response. When the provider reports an invalid or expired
// token, the token is force-refreshed and the call retried exactly once.
func (c *Client) Recognize(ctx context.Context, imagePath string) (map[string]any, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	raw, err := c.recognizeOnce(ctx, encoded, false)
	if err != nil {
		return nil, err
	}
	if _, stale := tokenCodes[ErrorCode(raw)]; stale {
		return c.recognizeOnce(ctx, encoded, true)
	}
	return raw, nil
}

// ErrorCode returns the provider error code carried by a response, or 0.
func ErrorCode(raw map[string]any) int {
	return asInt(raw["error_code"])
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return int(f)
		}
	}
	return 0
}

// ErrorMessage returns the provider error text, or empty.
func ErrorMessage(raw map[string]any) string {
	if s, ok := raw["error_msg"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func (c *Client) recognizeOnce(ctx context.Context, encoded string, forceRefresh bool) (map[string]any, error) {
	token, err := c.token(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}

	form := url.Values{"image": {encoded}}
	endpoint := c.cfg.RecognizeURL + "?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP POST %s: %w", c.cfg.RecognizeURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, c.cfg.RecognizeURL, truncate(body, 512))
	}

	return extractJSONObject(string(body)), nil
}

// token returns a cached access token. forceRefresh bypasses the cache;
// the fetch happens under the same lock that guards the cached value so
// concurrent callers cannot race a refresh.
func (c *Client) token(ctx context.Context, forceRefresh bool) (string, error) {
	if c.cfg.APIKey == "" || c.cfg.SecretKey == "" {
		return "", errors.New("缺少百度 OCR 鉴权配置，请设置 BAIDU_OCR_API_KEY/BAIDU_OCR_SECRET_KEY。")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !forceRefresh && c.accessToken != "" && c.now().Before(c.expireAt) {
		return c.accessToken, nil
	}

	query := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.APIKey},
		"client_secret": {c.cfg.SecretKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.TokenURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP GET %s: %w", c.cfg.TokenURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, c.cfg.TokenURL, truncate(body, 512))
	}

	data := extractJSONObject(string(body))
	token, _ := data["access_token"].(string)
	token = strings.TrimSpace(token)
	if token == "" {
		message, _ := data["error_description"].(string)
		if message == "" {
			message, _ = data["error_msg"].(string)
		}
		if message == "" {
			message = "未返回 access_token"
		}
		return "", fmt.Errorf("获取百度 access_token 失败：%s", message)
	}

	ttl := time.Duration(asInt(data["expires_in"]))*time.Second - 2*time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}

	c.accessToken = token
	c.expireAt = c.now().Add(ttl)
	return token, nil
}

// extractJSONObject decodes a JSON object, tolerating noise around it by
// retrying on the substring between the first { and the last }.
func extractJSONObject(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]any{}
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err == nil {
		return data
	}

	left, right := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if left >= 0 && right > left {
		if err := json.Unmarshal([]byte(text[left:right+1]), &data); err == nil {
			return data
		}
	}
	return map[string]any{}
}

func truncate(body []byte, n int) string {
	if len(body) > n {
		body = body[:n]
	}
	return string(body)
}
