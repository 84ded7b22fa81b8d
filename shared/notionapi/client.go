// Package notionapi is a small REST client for the Notion API covering
// the database, page, and block operations the publish pipeline needs,
// plus a markdown-to-block converter.
package notionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.notion.com"
	DefaultVersion = "2022-06-28"
	DefaultTimeout = 30 * time.Second

	// BlockBatchLimit is the per-call cap the API places on appended
	// block children.
	BlockBatchLimit = 100
)

type Config struct {
	APIKey        string
	DatabaseID    string
	DataSourceID  string
	TitleProperty string
	IDProperty    string
	TitlePrefix   string
	BaseURL       string
	Version       string
	Timeout       time.Duration
}

// Enabled reports whether the config is complete enough to reach a page
// store at all.
func (c Config) Enabled() bool {
	return c.APIKey != "" && (c.DatabaseID != "" || c.DataSourceID != "")
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("缺少 NOTION_API_KEY（或 NOTION_TOKEN）。")
	}
	if cfg.DatabaseID == "" && cfg.DataSourceID == "" {
		return nil, errors.New("缺少 NOTION_DATABASE_ID 或 NOTION_DATA_SOURCE_ID。")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.IDProperty == "" {
		cfg.IDProperty = "ID"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// TitlePrefix returns the configured final-title prefix, possibly empty.
func (c *Client) TitlePrefix() string { return c.cfg.TitlePrefix }

// Parent identifies where new pages land. Type is either "database" or
// "data_source", the two parent kinds the API accepts.
type Parent struct {
	Type string
	ID   string
}

func (p Parent) ref() map[string]any {
	if p.Type == "data_source" {
		return map[string]any{"data_source_id": p.ID}
	}
	return map[string]any{"database_id": p.ID}
}

// Schema carries the resolved property names of the target database.
type Schema struct {
	TitleProperty string
	IDProperty    string
}

// Page is the identity a create call hands back.
type Page struct {
	ID  string
	URL string
}

// ResolveSchema retrieves the target database (or data source) and works
// out which property holds the page title and which carries the assigned
// row ID. A database that only exposes data sources is followed to its
// first data source.
func (c *Client) ResolveSchema(ctx context.Context) (Parent, Schema, error) {
	parent, info, err := c.resolveParent(ctx)
	if err != nil {
		return Parent{}, Schema{}, err
	}
	schema, err := c.detectProperties(info)
	if err != nil {
		return Parent{}, Schema{}, err
	}
	return parent, schema, nil
}

func (c *Client) resolveParent(ctx context.Context) (Parent, map[string]any, error) {
	if c.cfg.DataSourceID != "" {
		id := normalizeUUID(c.cfg.DataSourceID)
		info := map[string]any{}
		if err := c.do(ctx, http.MethodGet, "/v1/data_sources/"+id, nil, &info); err != nil {
			return Parent{}, nil, err
		}
		return Parent{Type: "data_source", ID: id}, info, nil
	}

	id := normalizeUUID(c.cfg.DatabaseID)
	info := map[string]any{}
	if err := c.do(ctx, http.MethodGet, "/v1/databases/"+id, nil, &info); err != nil {
		return Parent{}, nil, err
	}
	if props, ok := info["properties"].(map[string]any); ok && len(props) > 0 {
		return Parent{Type: "database", ID: id}, info, nil
	}

	// Newer workspaces expose the schema one level down, on the
	// database's data sources.
	if items, ok := info["data_sources"].([]any); ok && len(items) > 0 {
		if first, ok := items[0].(map[string]any); ok {
			raw, _ := first["id"].(string)
			if dsID := normalizeUUID(raw); dsID != "" {
				dsInfo := map[string]any{}
				if err := c.do(ctx, http.MethodGet, "/v1/data_sources/"+dsID, nil, &dsInfo); err != nil {
					return Parent{}, nil, err
				}
				return Parent{Type: "data_source", ID: dsID}, dsInfo, nil
			}
		}
	}
	return Parent{}, nil, errors.New("未找到可用的数据源，请设置 NOTION_DATA_SOURCE_ID。")
}

func (c *Client) detectProperties(info map[string]any) (Schema, error) {
	var props map[string]any
	if raw, exists := info["properties"]; exists {
		m, ok := raw.(map[string]any)
		if !ok {
			return Schema{}, errors.New("Notion 数据库结构异常：properties 缺失。")
		}
		props = m
	}

	// Property maps decode in whatever order the runtime hands out, so
	// fall back to name order when scanning for typed properties.
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	titleProp := c.cfg.TitleProperty
	if titleProp == "" {
		for _, name := range names {
			if propertyType(props[name]) == "title" {
				titleProp = name
				break
			}
		}
	}
	if titleProp == "" {
		return Schema{}, errors.New("未找到 Notion 标题属性，请设置 NOTION_TITLE_PROPERTY。")
	}

	idProp := c.cfg.IDProperty
	if idProp != "" {
		if _, ok := props[idProp]; ok {
			return Schema{TitleProperty: titleProp, IDProperty: idProp}, nil
		}
	}
	for _, name := range names {
		if propertyType(props[name]) == "unique_id" {
			return Schema{TitleProperty: titleProp, IDProperty: name}, nil
		}
	}
	return Schema{TitleProperty: titleProp, IDProperty: idProp}, nil
}

func propertyType(raw any) string {
	prop, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	t, _ := prop["type"].(string)
	return strings.TrimSpace(t)
}

func titleProperty(titleProp, title string) map[string]any {
	return map[string]any{
		titleProp: map[string]any{
			"title": []any{
				map[string]any{
					"type": "text",
					"text": map[string]any{"content": title},
				},
			},
		},
	}
}

// CreatePage creates a page under parent with the given title.
func (c *Client) CreatePage(ctx context.Context, parent Parent, titleProp, title string) (Page, error) {
	payload := map[string]any{
		"parent":     parent.ref(),
		"properties": titleProperty(titleProp, title),
	}
	out := map[string]any{}
	if err := c.do(ctx, http.MethodPost, "/v1/pages", payload, &out); err != nil {
		return Page{}, err
	}
	id, _ := out["id"].(string)
	url, _ := out["url"].(string)
	return Page{ID: strings.TrimSpace(id), URL: strings.TrimSpace(url)}, nil
}

// RetrievePageProperties fetches a page and returns its properties map.
func (c *Client) RetrievePageProperties(ctx context.Context, pageID string) (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(ctx, http.MethodGet, "/v1/pages/"+pageID, nil, &out); err != nil {
		return nil, err
	}
	props, _ := out["properties"].(map[string]any)
	return props, nil
}

// UpdatePageTitle rewrites the title property of an existing page.
func (c *Client) UpdatePageTitle(ctx context.Context, pageID, titleProp, title string) error {
	payload := map[string]any{"properties": titleProperty(titleProp, title)}
	return c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, payload, nil)
}

// AppendBlockChildren appends one batch of blocks to a page. Callers are
// responsible for honoring BlockBatchLimit.
func (c *Client) AppendBlockChildren(ctx context.Context, pageID string, blocks []Block) error {
	payload := map[string]any{"children": blocks}
	return c.do(ctx, http.MethodPatch, "/v1/blocks/"+pageID+"/children", payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode notion payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	endpoint := c.cfg.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build notion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Notion-Version", c.cfg.Version)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, endpoint, notionErrorMessage(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse notion response: %w", err)
	}
	return nil
}

func notionErrorMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && strings.TrimSpace(payload.Message) != "" {
		return strings.TrimSpace(payload.Message)
	}
	return strings.TrimSpace(string(raw))
}

func normalizeUUID(v string) string {
	return strings.ReplaceAll(strings.TrimSpace(v), "-", "")
}
