package bridge

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/middleware"
)

// RouterConfig describes the bridge router
type RouterConfig struct {
	ServiceName    string
	Version        string
	Environment    string
	AllowedOrigins []string
	HealthChecks   map[string]func() error
}

// NewRouter builds the bridge engine with the middleware chain, health and
// metrics endpoints, and every handler route.
func NewRouter(cfg RouterConfig, h *Handler) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(cfg.ServiceName))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", middleware.CorrelationIDHeader}
	corsConfig.ExposeHeaders = []string{middleware.CorrelationIDHeader}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", common.HealthCheck(cfg.ServiceName, cfg.Version, cfg.HealthChecks))
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": cfg.ServiceName,
			"version": cfg.Version,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h.RegisterRoutes(router)
	return router
}
