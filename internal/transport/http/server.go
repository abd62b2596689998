package http

import (
	"github.com/gin-gonic/gin"

	"infosec-rag/internal/bootstrap"
	"infosec-rag/internal/transport/http/handler"
	"infosec-rag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	cfg := app.Config
	gin.SetMode(cfg.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	if app.Metrics != nil {
		router.Use(app.Metrics.Middleware())
		router.GET(cfg.Metrics.Path, gin.WrapH(app.Metrics.Handler()))
	}

	healthHandler := handler.NewHealthHandler(cfg.App.Name, cfg.App.Env, app.StartedAt, app.Probes())
	router.GET("/healthz", healthHandler.Check)

	v1 := router.Group("/api/v1")
	if app.Auth != nil {
		authHandler := handler.NewAuthHandler(app.Auth)
		v1.POST("/auth/token", authHandler.Token)
	}

	ragHandler := handler.NewRAGHandler(app.RAG)
	ragGroup := v1.Group("/rag")
	if cfg.Auth.Enabled {
		ragGroup.Use(middleware.AuthJWT(cfg.Auth.JWTSecret))
	}
	ragGroup.POST("/query", ragHandler.Query)
	ragGroup.GET("/stats", ragHandler.Stats)
	ragGroup.GET("/categories", ragHandler.Categories)
	ragGroup.POST("/reload", ragHandler.Reload)

	return router
}
