package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/mpcrawl/internal/api/handler"
	"github.com/timmy/mpcrawl/internal/api/middleware"
	"github.com/timmy/mpcrawl/internal/config"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/logger"
	"github.com/timmy/mpcrawl/internal/metrics"
	"github.com/timmy/mpcrawl/internal/progress"
	"github.com/timmy/mpcrawl/internal/service"
)

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	Mode     string
	CORS     config.CORSConfig
	Logger   *logger.Logger
	Tasks    *service.TaskManager
	Events   *progress.Broadcaster
	Articles *service.ArticleService
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // nil disables /metrics
	DB       handler.Pinger

	DefaultOptions    domain.TaskOptions
	DefaultAccount    string
	HeartbeatInterval time.Duration
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps RouterDeps) *gin.Engine {
	// Set Gin mode
	switch deps.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(deps.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.DB, deps.Tasks.ActiveAccounts)
	taskHandler := handler.NewTaskHandler(deps.Tasks, deps.Events, deps.Metrics, handler.TaskHandlerConfig{
		Defaults:          deps.DefaultOptions,
		DefaultAccount:    deps.DefaultAccount,
		HeartbeatInterval: deps.HeartbeatInterval,
	})

	// Health check
	r.GET("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Tasks
		v1.POST("/tasks", taskHandler.Start)
		v1.GET("/tasks", taskHandler.List)
		v1.GET("/tasks/events", taskHandler.Events)
		v1.GET("/tasks/:id", taskHandler.Get)
		v1.POST("/tasks/:id/stop", taskHandler.Stop)
		v1.POST("/tasks/:id/pause", taskHandler.Pause)
		v1.POST("/tasks/:id/resume", taskHandler.Resume)

		if deps.Articles != nil {
			articleHandler := handler.NewArticleHandler(deps.Articles)

			// Articles
			v1.GET("/articles", articleHandler.List)
			v1.GET("/articles/lookup", articleHandler.Get)
			v1.GET("/search", articleHandler.Search)
			v1.GET("/categories", articleHandler.Categories)
			v1.GET("/stats", articleHandler.Stats)
		}
	}

	return r
}
