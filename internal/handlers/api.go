package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	"datalab-service/internal/cache"
	"datalab-service/internal/database"
	"datalab-service/internal/registry"
	"datalab-service/internal/tasks"
)

// NonePlaceholder stands in for an absent characteristic or geography.
const NonePlaceholder = "none"

// API serves the query and administration endpoints.
type API struct {
	db       *gorm.DB
	cache    *cache.Manager
	registry *registry.Registry
	queue    tasks.Queue
	env      registry.Environment
	log      logrus.FieldLogger

	// MetricsPath is where Prometheus metrics are exposed. Empty disables them.
	MetricsPath string
}

func NewAPI(db *gorm.DB, cm *cache.Manager, reg *registry.Registry, queue tasks.Queue, env registry.Environment, log logrus.FieldLogger) *API {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &API{db: db, cache: cm, registry: reg, queue: queue, env: env, log: log, MetricsPath: "/metrics"}
}

// RegisterRoutes registers every route on router.
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", a.healthHandler)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if a.MetricsPath != "" {
		router.GET(a.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/datalab/init", a.initHandler)
	v1.GET("/resources/:resource", a.listResourceHandler)
	v1.GET("/data", a.listDataHandler)

	datasets := v1.Group("/datasets")
	{
		datasets.GET("", a.listDatasetsHandler)
		datasets.POST("", a.uploadDatasetHandler)
		datasets.POST("/initialize", a.initializeHandler)
		datasets.POST("/:id/activate", a.activateDatasetHandler)
	}
	v1.GET("/tasks/:id", a.getTaskHandler)
}

// healthHandler godoc
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} models.APIError
// @Router /health [get]
func (a *API) healthHandler(c *gin.Context) {
	if err := database.Ping(c.Request.Context(), a.db); err != nil {
		a.respondWithErr(c, err, "Store is unreachable.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// initHandler godoc
// @Summary Structural summary for client start-up
// @Description Countries, surveys, indicators, characteristic groups and languages of the active dataset. Served from the cache.
// @Tags datalab
// @Produce json
// @Success 200 {object} cache.InitPayload
// @Failure 503 {object} models.APIError
// @Router /api/v1/datalab/init [get]
func (a *API) initHandler(c *gin.Context) {
	entry, err := a.cache.EnsureFresh(c.Request.Context(), cache.InitKey, nil)
	if err != nil {
		a.respondWithErr(c, err, "Failed to build the init payload.")
		return
	}
	c.Data(http.StatusOK, entry.Mimetype, []byte(entry.Value))
}
