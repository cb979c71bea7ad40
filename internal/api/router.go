package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/api/handler"
	"github.com/timmy/catalogsync/internal/api/middleware"
	"github.com/timmy/catalogsync/internal/service"
	"github.com/timmy/catalogsync/internal/tracker"
)

// RouterConfig holds router options.
type RouterConfig struct {
	Mode string
	CORS middleware.CORSConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	tr *tracker.Tracker,
	runner *service.JobRunner,
	catalog handler.CatalogReader,
	cfg RouterConfig,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(tr)
	catalogHandler := handler.NewCatalogHandler(tr, catalog)
	jobHandler := handler.NewJobHandler(runner, tr)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", jobHandler.Status)
		v1.POST("/jobs/:job", jobHandler.StartJob)

		v1.GET("/refresh/preview", catalogHandler.Preview)
		v1.GET("/failures", catalogHandler.Failures)

		v1.GET("/items/:id", catalogHandler.Item)
		v1.GET("/items/:id/history", catalogHandler.History)
	}

	return r
}
