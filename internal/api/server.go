package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer creates the gin engine with all routes configured.
func NewServer(handler *Handler, log *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.Use(requestLogger(log.With("component", "http")))
	r.Use(gin.Recovery())

	setupRoutes(r, handler)
	return r
}

func setupRoutes(r *gin.Engine, handler *Handler) {
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/telegram/webhook", handler.TelegramWebhook)

	api := r.Group("/api", handler.RequireToken)
	{
		api.GET("/pending", handler.ListPending)
		api.POST("/cycle", handler.RunCycle)
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP())
	}
}

// NewHTTPServer wraps engine in an http.Server listening on addr.
func NewHTTPServer(addr string, engine http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
