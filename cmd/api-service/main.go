package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/lightencc/mistakebook/internal/api/handler"
	"github.com/lightencc/mistakebook/internal/api/router"
	"github.com/lightencc/mistakebook/internal/config"
	"github.com/lightencc/mistakebook/internal/export"
	"github.com/lightencc/mistakebook/internal/publish"
	"github.com/lightencc/mistakebook/internal/session"
	"github.com/lightencc/mistakebook/shared/baiduocr"
	"github.com/lightencc/mistakebook/shared/gemini"
	"github.com/lightencc/mistakebook/shared/githubstore"
	"github.com/lightencc/mistakebook/shared/logger"
	"github.com/lightencc/mistakebook/shared/notionapi"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty: environment only)")
	flag.Parse()

	// Load configuration; without a file everything comes from the
	// environment.
	var (
		cfg *config.Config
		err error
	)
	if *configPath == "" {
		cfg = config.FromEnv()
	} else {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Create the data directories up front so uploads and exports never
	// race their first request.
	if err := ensureDataDirs(&cfg.Storage); err != nil {
		return fmt.Errorf("failed to prepare data directories: %w", err)
	}

	appLogger.Info("Data directories ready",
		slog.String("data_dir", cfg.Storage.DataDir),
	)

	sessions := session.NewStore(cfg.Storage.SessionsDir())

	// The OCR client resolves its access token per call, so missing
	// credentials surface as recognize errors rather than at boot.
	ocrClient := baiduocr.New(baiduocr.Config{
		APIKey:       cfg.OCR.APIKey,
		SecretKey:    cfg.OCR.SecretKey,
		TokenURL:     cfg.OCR.TokenURL,
		RecognizeURL: cfg.OCR.RecognizeURL,
		Timeout:      cfg.OCR.Timeout,
	})

	// The health pinger stays nil without an API key; the handler
	// reports the missing key instead of probing.
	var pinger handler.HealthPinger
	if cfg.Gemini.APIKey != "" {
		client, err := initGemini(&cfg.Gemini)
		if err != nil {
			return fmt.Errorf("failed to initialize AI client: %w", err)
		}
		pinger = client
	}

	exportService := initExportService(cfg, sessions, appLogger)
	publishService := initPublishService(cfg, appLogger)

	appLogger.Info("Pipelines ready",
		slog.Bool("ai_configured", cfg.Gemini.APIKey != ""),
		slog.Bool("notion_configured", cfg.Notion.Enabled()),
	)

	// Initialize router
	r := initRouter(cfg, appLogger, sessions, ocrClient, pinger, exportService, publishService)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	// In-flight export and publish jobs keep their own lifecycles; let
	// them land before exiting.
	appLogger.Info("Waiting for background jobs...")
	exportService.Wait()
	publishService.Wait()

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// ensureDataDirs creates the working directories under the data root.
func ensureDataDirs(cfg *config.StorageConfig) error {
	dirs := []string{
		cfg.UploadsDir(),
		cfg.SessionsDir(),
		cfg.ExportsDir(),
		cfg.OCRCacheDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// initGemini initializes the AI generation client
func initGemini(cfg *config.GeminiConfig) (*gemini.Client, error) {
	return gemini.New(gemini.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		APIVersion: cfg.APIVersion,
		Timeout:    cfg.Timeout,
	})
}

// initExportService wires the export pipeline. The uploader and the
// generator are resolved lazily per run so credential problems surface
// as task failures instead of refusing to boot.
func initExportService(cfg *config.Config, sessions *session.Store, log *logger.Logger) *export.Service {
	pipeline := export.NewPipeline(export.Options{
		Sessions:            sessions,
		UploadsDir:          cfg.Storage.UploadsDir(),
		ExportsDir:          cfg.Storage.ExportsDir(),
		RepoImageDir:        cfg.GitHub.ImageDir,
		CompressMaxSide:     cfg.Storage.CompressMaxSide,
		CompressJPEGQuality: cfg.Storage.CompressJPEGQuality,
		NewUploader: func() (export.Uploader, error) {
			return githubstore.New(githubstore.Config{
				Token:   cfg.GitHub.Token,
				Repo:    cfg.GitHub.Repo,
				Branch:  cfg.GitHub.Branch,
				RawBase: cfg.GitHub.RawBaseURL,
				Timeout: cfg.GitHub.Timeout,
			})
		},
		NewGenerator: func() (export.Generator, error) {
			return initGemini(&cfg.Gemini)
		},
		Logger: log,
	})
	return export.NewService(pipeline, cfg.Jobs.ExportRetention, log)
}

// initPublishService wires the publish pipeline against the page
// database client.
func initPublishService(cfg *config.Config, log *logger.Logger) *publish.Service {
	pipeline := publish.NewPipeline(publish.Options{
		NewStore: func() (publish.PageStore, error) {
			if !cfg.Notion.Enabled() {
				return nil, publish.ErrNotConfigured
			}
			return notionapi.New(notionapi.Config{
				APIKey:        cfg.Notion.APIKey,
				DatabaseID:    cfg.Notion.DatabaseID,
				DataSourceID:  cfg.Notion.DataSourceID,
				TitleProperty: cfg.Notion.TitleProperty,
				IDProperty:    cfg.Notion.IDProperty,
				TitlePrefix:   cfg.Notion.TitlePrefix,
				Timeout:       cfg.Notion.Timeout,
			})
		},
		TitlePrefix: cfg.Notion.TitlePrefix,
		Logger:      log,
	})
	return publish.NewService(pipeline, cfg.Storage.ExportsDir(), cfg.Notion.Enabled(), cfg.Jobs.PublishRetention, log)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(
	cfg *config.Config,
	log *logger.Logger,
	sessions *session.Store,
	ocrClient *baiduocr.Client,
	pinger handler.HealthPinger,
	exportService *export.Service,
	publishService *publish.Service,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:   log,
		Config:   cfg,
		Sessions: sessions,
		OCR:      ocrClient,
		Pinger:   pinger,
		Export:   exportService,
		Publish:  publishService,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
