package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App     AppConfig     `yaml:"app"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	OCR     OCRConfig     `yaml:"ocr"`
	GitHub  GitHubConfig  `yaml:"github"`
	Notion  NotionConfig  `yaml:"notion"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// StorageConfig holds local data directory and upload compression settings
type StorageConfig struct {
	DataDir             string `yaml:"data_dir"`
	CompressMaxSide     int    `yaml:"compress_max_side"`
	CompressJPEGQuality int    `yaml:"compress_jpeg_quality"`
}

// UploadsDir is where original uploaded photos are stored.
func (s StorageConfig) UploadsDir() string { return filepath.Join(s.DataDir, "uploads") }

// SessionsDir is where per-upload session records are stored.
func (s StorageConfig) SessionsDir() string { return filepath.Join(s.DataDir, "sessions") }

// ExportsDir is where per-session export artifacts are written.
func (s StorageConfig) ExportsDir() string { return filepath.Join(s.DataDir, "exports") }

// OCRCacheDir is where recognize-question crops are cached.
func (s StorageConfig) OCRCacheDir() string { return filepath.Join(s.DataDir, "ocr_cache") }

// JobsConfig holds job registry retention settings
type JobsConfig struct {
	ExportRetention  time.Duration `yaml:"export_retention"`
	PublishRetention time.Duration `yaml:"publish_retention"`
}

// GeminiConfig holds generative model client configuration
type GeminiConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	APIVersion string        `yaml:"api_version"`
	Timeout    time.Duration `yaml:"timeout"`
}

// OCRConfig holds OCR provider client configuration
type OCRConfig struct {
	APIKey               string        `yaml:"api_key"`
	SecretKey            string        `yaml:"secret_key"`
	TokenURL             string        `yaml:"token_url"`
	RecognizeURL         string        `yaml:"recognize_url"`
	Timeout              time.Duration `yaml:"timeout"`
	PrintedMinConfidence float64       `yaml:"printed_min_confidence"`
}

// GitHubConfig holds asset upload repository configuration
type GitHubConfig struct {
	Token      string        `yaml:"token"`
	Repo       string        `yaml:"repo"`
	Branch     string        `yaml:"branch"`
	ImageDir   string        `yaml:"image_dir"`
	RawBaseURL string        `yaml:"raw_base_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// NotionConfig holds page store configuration
type NotionConfig struct {
	APIKey        string        `yaml:"api_key"`
	DatabaseID    string        `yaml:"database_id"`
	DataSourceID  string        `yaml:"data_source_id"`
	TitleProperty string        `yaml:"title_property"`
	IDProperty    string        `yaml:"id_property"`
	TitlePrefix   string        `yaml:"title_prefix"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Enabled reports whether the page store is configured.
func (n NotionConfig) Enabled() bool {
	return n.APIKey != "" && (n.DatabaseID != "" || n.DataSourceID != "")
}

// Load reads and parses the configuration file, then overlays secrets from
// the environment and fills defaults for anything still unset.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	return &config, nil
}

// FromEnv builds a configuration purely from the environment and
// defaults, for running without a config file.
func FromEnv() *Config {
	var config Config
	config.applyEnv()
	config.applyDefaults()
	return &config
}

// applyEnv overlays environment variables onto the loaded file. Secrets are
// expected to arrive this way rather than being committed in the YAML.
func (c *Config) applyEnv() {
	overlay(&c.Gemini.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	overlay(&c.Gemini.BaseURL, "GEMINI_BASE_URL")
	overlay(&c.Gemini.Model, "GEMINI_MODEL")
	overlay(&c.Gemini.APIVersion, "GEMINI_API_VERSION")

	overlay(&c.OCR.APIKey, "BAIDU_OCR_API_KEY")
	overlay(&c.OCR.SecretKey, "BAIDU_OCR_SECRET_KEY")
	overlay(&c.OCR.TokenURL, "BAIDU_OAUTH_URL")
	overlay(&c.OCR.RecognizeURL, "BAIDU_OCR_URL")

	overlay(&c.GitHub.Token, "GITHUB_TOKEN", "GH_TOKEN")
	overlay(&c.GitHub.Repo, "GITHUB_REPO")
	overlay(&c.GitHub.Branch, "GITHUB_BRANCH")
	overlay(&c.GitHub.ImageDir, "GITHUB_IMAGE_DIR")
	overlay(&c.GitHub.RawBaseURL, "GITHUB_RAW_BASE")

	overlay(&c.Notion.APIKey, "NOTION_API_KEY", "NOTION_TOKEN", "NOTION_SECRET")
	overlay(&c.Notion.DatabaseID, "NOTION_DATABASE_ID")
	overlay(&c.Notion.DataSourceID, "NOTION_DATA_SOURCE_ID")
	overlay(&c.Notion.TitleProperty, "NOTION_TITLE_PROPERTY")
	overlay(&c.Notion.IDProperty, "NOTION_ID_PROPERTY")
	overlay(&c.Notion.TitlePrefix, "NOTION_TITLE_PREFIX")
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 7860
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "web_data"
	}
	if c.Storage.CompressMaxSide == 0 {
		c.Storage.CompressMaxSide = 1800
	}
	if c.Storage.CompressJPEGQuality == 0 {
		c.Storage.CompressJPEGQuality = 82
	}
	if c.Jobs.ExportRetention == 0 {
		c.Jobs.ExportRetention = 24 * time.Hour
	}
	if c.Jobs.PublishRetention == 0 {
		c.Jobs.PublishRetention = 24 * time.Hour
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-3-flash-preview"
	}
	if c.Gemini.Timeout == 0 {
		c.Gemini.Timeout = 90 * time.Second
	}
	if c.OCR.TokenURL == "" {
		c.OCR.TokenURL = "https://aip.baidubce.com/oauth/2.0/token"
	}
	if c.OCR.RecognizeURL == "" {
		c.OCR.RecognizeURL = "https://aip.baidubce.com/rest/2.0/ocr/v1/paper_cut_edu"
	}
	if c.OCR.Timeout == 0 {
		c.OCR.Timeout = 25 * time.Second
	}
	if c.OCR.PrintedMinConfidence == 0 {
		c.OCR.PrintedMinConfidence = 0.5
	}
	if c.GitHub.Branch == "" {
		c.GitHub.Branch = "main"
	}
	if c.GitHub.ImageDir == "" {
		c.GitHub.ImageDir = "images"
	}
	if c.GitHub.RawBaseURL == "" {
		c.GitHub.RawBaseURL = "https://raw.githubusercontent.com"
	}
	if c.GitHub.Timeout == 0 {
		c.GitHub.Timeout = 30 * time.Second
	}
	if c.Notion.IDProperty == "" {
		c.Notion.IDProperty = "ID"
	}
	if c.Notion.Timeout == 0 {
		c.Notion.Timeout = 30 * time.Second
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir is required")
	}

	if c.Storage.CompressMaxSide <= 0 {
		return fmt.Errorf("storage compress_max_side must be greater than 0")
	}

	if c.OCR.PrintedMinConfidence < 0 || c.OCR.PrintedMinConfidence > 1 {
		return fmt.Errorf("ocr printed_min_confidence must be within [0, 1]")
	}

	if c.GitHub.Repo != "" && !strings.Contains(c.GitHub.Repo, "/") {
		return fmt.Errorf("github repo must be in owner/name form: %q", c.GitHub.Repo)
	}

	return nil
}

func overlay(dst *string, keys ...string) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
			return
		}
	}
}
