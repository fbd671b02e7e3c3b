package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agrimap-backend/internal/mapanalysis"
	"agrimap-backend/internal/shared/config"
	"agrimap-backend/internal/shared/metrics"
	"agrimap-backend/internal/shared/server/middleware"
	"agrimap-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers wired by bootstrap.
type RouterDeps struct {
	Config      config.Config
	MapAnalysis *mapanalysis.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Config.Env),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				// Analysis submissions fan out to the vision provider;
				// keep them to a trickle per principal.
				"ANALYZE": {Rate: 0.5, Burst: 5},
			},
			GroupFor: func(c *gin.Context) string {
				if c.Request.Method == http.MethodPost &&
					strings.HasPrefix(c.Request.URL.Path, "/api/v1/map-image/analyze") &&
					!strings.HasSuffix(c.Request.URL.Path, "/confirm") {
					return "ANALYZE"
				}
				return ""
			},
		}),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	api.GET("/metrics", metrics.Handler())
	registerMeRoutes(api)
	deps.MapAnalysis.RegisterRoutes(api)

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
