package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"jobchat/internal/infra/config"
	"jobchat/internal/infra/obs"
)

type ChatHTTP interface {
	ListThreads(c *gin.Context)
	Open(c *gin.Context)
	Close(c *gin.Context)
	State(c *gin.Context)
	Send(c *gin.Context)
	Attach(c *gin.Context)
	RetryAttachment(c *gin.Context)
	Typing(c *gin.Context)
	MarkRead(c *gin.Context)
	Resync(c *gin.Context)
	Complete(c *gin.Context)
	Cancel(c *gin.Context)
	Events(c *gin.Context)
	Logout(c *gin.Context)
}

type Handlers struct {
	Chat           ChatHTTP
	AuthMiddleware gin.HandlerFunc
	Metrics        http.Handler
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{Addr: cfg.HTTPAddr, Handler: NewRouter(cfg, obsMW, health, h), ReadHeaderTimeout: 10 * time.Second}
}

// NewRouter builds the gin engine. Split from NewServer for tests.
func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	api := router.Group("/api/v1")
	if h.AuthMiddleware != nil {
		api.Use(h.AuthMiddleware)
	}
	if h.Chat != nil {
		api.GET("/threads", h.Chat.ListThreads)
		api.GET("/events", h.Chat.Events)
		api.DELETE("/session", h.Chat.Logout)

		conv := api.Group("/conversations/:id")
		conv.GET("", h.Chat.State)
		conv.POST("/open", h.Chat.Open)
		conv.POST("/close", h.Chat.Close)
		conv.POST("/messages", h.Chat.Send)
		conv.POST("/attachments", h.Chat.Attach)
		conv.POST("/attachments/retry", h.Chat.RetryAttachment)
		conv.POST("/typing", h.Chat.Typing)
		conv.POST("/read", h.Chat.MarkRead)
		conv.POST("/resync", h.Chat.Resync)
		conv.POST("/complete", h.Chat.Complete)
		conv.POST("/cancel", h.Chat.Cancel)
	}
	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
