package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lightencc/mistakebook/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "mistakebook-api",
		})
	})

	// Stored uploads and export artifacts
	r.Static("/uploads", deps.Config.Storage.UploadsDir())
	r.Static("/exports", deps.Config.Storage.ExportsDir())

	// Initialize handlers
	sessionHandler := handler.NewSessionHandler(deps)
	exportHandler := handler.NewExportHandler(deps)
	publishHandler := handler.NewPublishHandler(deps)
	healthHandler := handler.NewHealthHandler(deps)

	// API routes
	api := r.Group("/api")
	{
		// POST /api/upload - Store photos and open a session over them
		api.POST("/upload", sessionHandler.Upload)

		// POST /api/recognize-question - OCR one annotated question region
		api.POST("/recognize-question", sessionHandler.RecognizeQuestion)

		// GET /api/ai-health - Probe the generative endpoint
		api.GET("/ai-health", healthHandler.AIHealth)

		// POST /api/export - Run an export inline
		api.POST("/export", exportHandler.Export)

		exportTasks := api.Group("/export/tasks")
		{
			// POST /api/export/tasks - Start a background export
			exportTasks.POST("", exportHandler.CreateExportTask)

			// GET /api/export/tasks/:task_id - Poll a background export
			exportTasks.GET("/:task_id", exportHandler.GetExportTask)
		}

		// POST /api/notion-upload - Upload one exported document inline
		api.POST("/notion-upload", publishHandler.PublishDocument)

		publishTasks := api.Group("/notion-upload/tasks")
		{
			// POST /api/notion-upload/tasks - Start a background batch upload
			publishTasks.POST("", publishHandler.CreatePublishTask)

			// GET /api/notion-upload/tasks/:task_id - Poll a batch upload
			publishTasks.GET("/:task_id", publishHandler.GetPublishTask)
		}
	}

	return r
}
