package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxRefreshBodyBytes = 1024

// SetupRouter sets up the Gin router
func SetupRouter(handlers *WithingsHandlers, production bool, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	withings := router.Group("/withings")

	// OAuth routes
	auth := withings.Group("/auth")
	auth.Use(RequireHTTPS(production))
	{
		auth.GET("/start", handlers.signed("/auth/start"), handlers.AuthStart)
		auth.GET("/callback", handlers.AuthCallback)
	}

	// Signed data routes
	withings.GET("/sleep", handlers.signed("/sleep"), handlers.Sleep)
	withings.GET("/measure", handlers.signed("/measure"), handlers.Measure)
	withings.GET("/activity", handlers.signed("/activity"), handlers.Activity)

	withings.POST("/token/refresh",
		LimitBody(maxRefreshBodyBytes),
		handlers.signed("/token/refresh"),
		handlers.TokenRefresh,
	)

	router.HandleMethodNotAllowed = true
	router.NoMethod(methodNotAllowed(router.Routes()))

	return router
}

// methodNotAllowed answers 405 naming the methods registered for the path
func methodNotAllowed(routes gin.RoutesInfo) gin.HandlerFunc {
	allowed := make(map[string][]string)
	for _, route := range routes {
		allowed[route.Path] = append(allowed[route.Path], route.Method)
	}

	return func(c *gin.Context) {
		methods := strings.Join(allowed[c.Request.URL.Path], "|")
		respondError(c, http.StatusMethodNotAllowed, "method_not_allowed", "Use "+methods)
	}
}
