package router

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"crimson-pen/api/handlers"
	"crimson-pen/config"
	"crimson-pen/repositories"
	"crimson-pen/services"
)

// Options wires the router to the history store and, optionally, Mongo.
type Options struct {
	Store  *repositories.HistoryStore
	Render config.RenderConfig
	// Mongo enables the attempt log routes and the mongo health probe.
	Mongo *mongo.Database
}

func New(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		if opts.Mongo != nil {
			if err := opts.Mongo.RunCommand(c.Request.Context(), bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "mongo": "down", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// v1 routes
	api := r.Group("/api/v1")
	{
		records := services.NewRecordService(opts.Store, opts.Render.PermalinkDir)
		api.GET("/records", handlers.ListRecordsHandler(records))
		api.GET("/records/:date", handlers.GetRecordHandler(records))

		if opts.Mongo != nil {
			attempts := services.NewAttemptService(repositories.NewAILogRepository(opts.Mongo))
			api.GET("/runs/:run_id/attempts", handlers.ListAttemptsHandler(attempts))
		}
	}

	// Rendered site
	if dir := opts.Render.OutputDir; dir != "" {
		r.StaticFile("/", filepath.Join(dir, opts.Render.FeedFile))
		r.Static("/"+opts.Render.PermalinkDir, filepath.Join(dir, opts.Render.PermalinkDir))
		r.NoRoute(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/api/") {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.File(filepath.Join(dir, opts.Render.FeedFile))
		})
	}

	return r
}

// requestLogger emits one structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		config.InfoWithFields("http request", config.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})
	}
}
