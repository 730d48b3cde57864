package server

import (
	"time"

	httpHandler "crosspost/interfaces/http"
	"crosspost/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	SecretKey      string
	AllowedOrigins []string
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func InitiateRouter(
	cfg RouterConfig,
	healthHandler httpHandler.IHealthHandler,
	postHandler httpHandler.IPostHandler,
	accountHandler httpHandler.IAccountHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler.Healthz)
	router.GET("/readyz", healthHandler.Readyz)
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("api")
	api.Use(middleware.Auth(cfg.SecretKey))

	if postHandler != nil {
		api.POST("/posts", postHandler.Create)
		api.GET("/posts", postHandler.List)
		api.GET("/posts/:requestId", postHandler.Get)
		api.GET("/posts/:requestId/logs", postHandler.Logs)
		api.GET("/posts/:requestId/destinations/:destination/logs", postHandler.DestinationLogs)
	}

	// OAuth account linking; the callback is reached by browser redirect and
	// identifies the user through the state parameter.
	if accountHandler != nil {
		api.GET("/connect/:platform", accountHandler.Connect)
		api.GET("/accounts/:destination", accountHandler.Status)
		router.GET("/auth/:platform/callback", accountHandler.Callback)
	}

	return router
}
