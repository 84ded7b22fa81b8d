package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/lightencc/mistakebook/internal/config"
	"github.com/lightencc/mistakebook/internal/detect"
	"github.com/lightencc/mistakebook/internal/imaging"
	"github.com/lightencc/mistakebook/shared/gemini"
	"github.com/lightencc/mistakebook/shared/logger"
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
	inputDir := flag.String("input-dir", "photos", "Folder with input images")
	outputMD := flag.String("output-md", "output/mistakes.md", "Output markdown file")
	assetsDir := flag.String("assets-dir", "output/assets", "Directory for extracted crops")
	model := flag.String("model", "", "Vision-capable model name (empty: configured default)")
	maxImages := flag.Int("max-images", 0, "Only process first N images; 0 means all")
	configPath := flag.String("config", os.Getenv("DETECT_BATCH_CONFIG_PATH"), "Path to configuration file (empty: environment only)")
	flag.Parse()

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
	if *model != "" {
		cfg.Gemini.Model = *model
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	info, err := os.Stat(*inputDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("input dir not found: %s", *inputDir)
	}

	client, err := gemini.New(gemini.Config{
		APIKey:     cfg.Gemini.APIKey,
		BaseURL:    cfg.Gemini.BaseURL,
		Model:      cfg.Gemini.Model,
		APIVersion: cfg.Gemini.APIVersion,
		Timeout:    cfg.Gemini.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize AI client: %w", err)
	}
	detector := detect.NewDetector(client, appLogger)

	images, err := listImages(*inputDir)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(images) == 0 {
		return fmt.Errorf("no image files found in: %s", *inputDir)
	}
	if *maxImages > 0 && len(images) > *maxImages {
		images = images[:*maxImages]
	}

	if err := os.MkdirAll(filepath.Dir(*outputMD), 0o755); err != nil {
		return fmt.Errorf("failed to prepare output directory: %w", err)
	}
	if err := os.MkdirAll(*assetsDir, 0o755); err != nil {
		return fmt.Errorf("failed to prepare assets directory: %w", err)
	}

	appLogger.Info("Starting detection batch",
		slog.String("input_dir", *inputDir),
		slog.Int("images", len(images)),
		slog.String("model", cfg.Gemini.Model),
	)

	ctx := context.Background()
	results := make([]detect.ImageResult, 0, len(images))
	for _, imagePath := range images {
		appLogger.Info("Analyzing image",
			slog.String("image", filepath.Base(imagePath)),
		)

		// A failed photo keeps its report section; the batch moves on.
		questions, err := detector.Detect(ctx, imagePath)
		if err != nil {
			appLogger.Warn("Detection failed",
				slog.String("image", filepath.Base(imagePath)),
				slog.Any("error", err),
			)
			questions = nil
		}
		results = append(results, cropEntries(appLogger, imagePath, *outputMD, *assetsDir, questions))
	}

	report := detect.BuildReport(*inputDir, results, time.Now())
	if err := os.WriteFile(*outputMD, []byte(report), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	appLogger.Info("Detection batch complete",
		slog.String("markdown", *outputMD),
		slog.String("assets", *assetsDir),
	)
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

// listImages returns the supported photos of the directory in name order.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !imaging.AllowedImage(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

// cropEntries saves the question and figure crops for one analyzed photo
// and pairs them with the detections, linked relative to the report file.
func cropEntries(log *logger.Logger, imagePath, outputMD, assetsDir string, questions []detect.Question) detect.ImageResult {
	base := filepath.Base(imagePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	result := detect.ImageResult{ImageName: base}
	for i, q := range questions {
		entry := detect.ReportEntry{Question: q}

		cropPath := filepath.Join(assetsDir, fmt.Sprintf("%s_q%d_question.png", stem, i+1))
		switch ok, err := imaging.Crop(imagePath, q.Rect, cropPath); {
		case err != nil:
			log.Warn("Question crop failed",
				slog.String("image", base),
				slog.Int("question", i+1),
				slog.Any("error", err),
			)
		case ok:
			entry.QuestionCrop = relativeTo(outputMD, cropPath)
		}

		for j, rect := range q.FigureRects {
			figPath := filepath.Join(assetsDir, fmt.Sprintf("%s_q%d_fig%d.png", stem, i+1, j+1))
			ok, err := imaging.Crop(imagePath, rect, figPath)
			if err != nil {
				log.Warn("Figure crop failed",
					slog.String("image", base),
					slog.Int("question", i+1),
					slog.Int("figure", j+1),
					slog.Any("error", err),
				)
				continue
			}
			if ok {
				entry.FigureCrops = append(entry.FigureCrops, relativeTo(outputMD, figPath))
			}
		}

		result.Entries = append(result.Entries, entry)
	}
	return result
}

// relativeTo links target from the report file's directory.
func relativeTo(outputMD, target string) string {
	rel, err := filepath.Rel(filepath.Dir(outputMD), target)
	if err != nil {
		return filepath.ToSlash(target)
	}
	return filepath.ToSlash(rel)
}
