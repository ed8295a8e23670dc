package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"marketplace/internal/infra/config"
	"marketplace/internal/infra/obs"
)

type ChatHTTP interface {
	StartConversation(c *gin.Context)
	ListConversations(c *gin.Context)
	GetConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	UnreadCount(c *gin.Context)
	Presence(c *gin.Context)
}

type CatalogHTTP interface {
	Create(kind string) gin.HandlerFunc
	List(kind string) gin.HandlerFunc
	Get(kind string) gin.HandlerFunc
	AttachImage(kind string) gin.HandlerFunc
}

type Handlers struct {
	Auth           AuthHTTP
	Chat           ChatHTTP
	Catalog        CatalogHTTP
	Socket         http.Handler
	Metrics        http.Handler
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the gin engine; tests mount it on httptest servers.
func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}
	if h.Socket != nil {
		router.GET("/socket", gin.WrapH(h.Socket))
	}

	api := router.Group("/api")
	if h.AuthMiddleware != nil {
		api.Use(h.AuthMiddleware)
	}
	if h.Auth != nil {
		api.POST("/auth/register", h.Auth.Register)
		api.POST("/auth/login", h.Auth.Login)
		api.POST("/auth/logout", h.Auth.Logout)
		api.GET("/auth/me", h.Auth.Me)
	}

	secured := api.Group("", requireAuth)
	if h.Chat != nil {
		conv := secured.Group("/conversations")
		conv.POST("", h.Chat.StartConversation)
		conv.GET("", h.Chat.ListConversations)
		conv.GET("/unread/count", h.Chat.UnreadCount)
		conv.GET("/:id", h.Chat.GetConversation)
		conv.GET("/:id/messages", h.Chat.ListMessages)
		conv.POST("/:id/messages", h.Chat.SendMessage)
		conv.POST("/:id/read", h.Chat.MarkRead)
		secured.GET("/users/:id/presence", h.Chat.Presence)
	}
	if h.Catalog != nil {
		for _, kind := range []string{"listing", "service"} {
			group := secured.Group("/" + kind + "s")
			group.POST("", h.Catalog.Create(kind))
			group.GET("", h.Catalog.List(kind))
			group.GET("/:id", h.Catalog.Get(kind))
			group.POST("/:id/images", h.Catalog.AttachImage(kind))
		}
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
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
