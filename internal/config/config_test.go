package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func clearOverlayEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "GEMINI_BASE_URL", "GEMINI_MODEL", "GEMINI_API_VERSION",
		"BAIDU_OCR_API_KEY", "BAIDU_OCR_SECRET_KEY", "BAIDU_OAUTH_URL", "BAIDU_OCR_URL",
		"GITHUB_TOKEN", "GH_TOKEN", "GITHUB_REPO", "GITHUB_BRANCH", "GITHUB_IMAGE_DIR", "GITHUB_RAW_BASE",
		"NOTION_API_KEY", "NOTION_TOKEN", "NOTION_SECRET", "NOTION_DATABASE_ID", "NOTION_DATA_SOURCE_ID",
		"NOTION_TITLE_PROPERTY", "NOTION_ID_PROPERTY", "NOTION_TITLE_PREFIX",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearOverlayEnv(t)

			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, "mistakebook", cfg.App.Name)
				assert.Equal(t, 7860, cfg.Server.Port)
				assert.Equal(t, "web_data", cfg.Storage.DataDir)
				assert.Equal(t, 1800, cfg.Storage.CompressMaxSide)
				assert.Equal(t, 24*time.Hour, cfg.Jobs.ExportRetention)
				assert.Equal(t, "gemini-3-flash-preview", cfg.Gemini.Model)
				assert.Equal(t, "lightencc/quiz_content", cfg.GitHub.Repo)
				assert.Equal(t, 0.5, cfg.OCR.PrintedMinConfidence)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearOverlayEnv(t)

	path := filepath.Join(t.TempDir(), "minimal.yaml")
	writeFile(t, path, "app:\n  name: mistakebook\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7860, cfg.Server.Port)
	assert.Equal(t, "web_data", cfg.Storage.DataDir)
	assert.Equal(t, 1800, cfg.Storage.CompressMaxSide)
	assert.Equal(t, 82, cfg.Storage.CompressJPEGQuality)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.ExportRetention)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.PublishRetention)
	assert.Equal(t, "gemini-3-flash-preview", cfg.Gemini.Model)
	assert.Equal(t, 90*time.Second, cfg.Gemini.Timeout)
	assert.Equal(t, "https://aip.baidubce.com/oauth/2.0/token", cfg.OCR.TokenURL)
	assert.Equal(t, 25*time.Second, cfg.OCR.Timeout)
	assert.Equal(t, 0.5, cfg.OCR.PrintedMinConfidence)
	assert.Equal(t, "main", cfg.GitHub.Branch)
	assert.Equal(t, "images", cfg.GitHub.ImageDir)
	assert.Equal(t, "https://raw.githubusercontent.com", cfg.GitHub.RawBaseURL)
	assert.Equal(t, "ID", cfg.Notion.IDProperty)
}

func TestLoad_EnvOverlay(t *testing.T) {
	clearOverlayEnv(t)
	t.Setenv("GEMINI_API_KEY", "env-gemini-key")
	t.Setenv("GITHUB_TOKEN", "env-gh-token")
	t.Setenv("NOTION_TOKEN", "env-notion-key")
	t.Setenv("GEMINI_MODEL", "gemini-env-model")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "env-gemini-key", cfg.Gemini.APIKey)
	assert.Equal(t, "env-gh-token", cfg.GitHub.Token)
	assert.Equal(t, "env-notion-key", cfg.Notion.APIKey)
	// env overrides the file value
	assert.Equal(t, "gemini-env-model", cfg.Gemini.Model)
}

func TestFromEnv(t *testing.T) {
	clearOverlayEnv(t)
	t.Setenv("GEMINI_API_KEY", "env-gemini-key")
	t.Setenv("NOTION_API_KEY", "env-notion-key")
	t.Setenv("NOTION_DATA_SOURCE_ID", "ds-42")

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	// Secrets come from the environment, everything else from defaults.
	assert.Equal(t, "env-gemini-key", cfg.Gemini.APIKey)
	assert.Equal(t, "env-notion-key", cfg.Notion.APIKey)
	assert.Equal(t, "ds-42", cfg.Notion.DataSourceID)
	assert.True(t, cfg.Notion.Enabled())
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7860, cfg.Server.Port)
	assert.Equal(t, "web_data", cfg.Storage.DataDir)
	assert.Equal(t, "gemini-3-flash-preview", cfg.Gemini.Model)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: 7860},
			Storage: StorageConfig{DataDir: "web_data", CompressMaxSide: 1800, CompressJPEGQuality: 82},
			OCR:     OCRConfig{PrintedMinConfidence: 0.5},
			GitHub:  GitHubConfig{Repo: "lightencc/quiz_content"},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing data dir",
			mutate:    func(c *Config) { c.Storage.DataDir = "" },
			wantErr:   true,
			errString: "data_dir is required",
		},
		{
			name:      "non-positive compress max side",
			mutate:    func(c *Config) { c.Storage.CompressMaxSide = 0 },
			wantErr:   true,
			errString: "compress_max_side",
		},
		{
			name:      "confidence out of range",
			mutate:    func(c *Config) { c.OCR.PrintedMinConfidence = 1.5 },
			wantErr:   true,
			errString: "printed_min_confidence",
		},
		{
			name:      "github repo without owner",
			mutate:    func(c *Config) { c.GitHub.Repo = "quiz_content" },
			wantErr:   true,
			errString: "owner/name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestStorageConfig_Dirs(t *testing.T) {
	s := StorageConfig{DataDir: "web_data"}

	assert.Equal(t, filepath.Join("web_data", "uploads"), s.UploadsDir())
	assert.Equal(t, filepath.Join("web_data", "sessions"), s.SessionsDir())
	assert.Equal(t, filepath.Join("web_data", "exports"), s.ExportsDir())
	assert.Equal(t, filepath.Join("web_data", "ocr_cache"), s.OCRCacheDir())
}

func TestNotionConfig_Enabled(t *testing.T) {
	assert.False(t, NotionConfig{}.Enabled())
	assert.False(t, NotionConfig{APIKey: "secret"}.Enabled())
	assert.False(t, NotionConfig{DatabaseID: "db"}.Enabled())
	assert.True(t, NotionConfig{APIKey: "secret", DatabaseID: "db"}.Enabled())
}
