package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.Middleware())
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	// ─── 1. Attempt Group (JWT + Single Device + Rate Limit) ───────────
	limiter := middleware.NewRateLimiter(cfg.HTTPRatePerMinute, time.Minute)

	attemptAPI := router.Group("/api/v1/student/attempts/:attempt_id")
	attemptAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		limiter.Middleware(),
		middleware.NoStore(),
	)
	{
		attemptAPI.POST("/start", handlers.Attempt.Start)
		attemptAPI.GET("", handlers.Attempt.View)
		attemptAPI.PUT("/answers/:question_id", handlers.Attempt.SetAnswer)
		attemptAPI.POST("/answers/:question_id/mark", handlers.Attempt.ToggleMark)
		attemptAPI.POST("/answers/:question_id/visit", handlers.Attempt.Visit)
		attemptAPI.GET("/answers", handlers.Attempt.Answers)
		attemptAPI.POST("/navigate", handlers.Attempt.Navigate)
		attemptAPI.POST("/next", handlers.Attempt.Next)
		attemptAPI.POST("/prev", handlers.Attempt.Prev)
		attemptAPI.PUT("/language", handlers.Attempt.SetLanguage)
		attemptAPI.POST("/sync", handlers.Attempt.Sync)
		attemptAPI.POST("/submit", handlers.Attempt.Submit)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentWSAuth(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
