package api

import (
	"github.com/gin-gonic/gin"

	"github.com/driftlock/filestore/internal/api/handlers"
	"github.com/driftlock/filestore/internal/api/middleware"
)

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, PATCH, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	}
}

func RegisterRoutes(r *gin.Engine, h *handlers.Handlers) {
	// Enable CORS for preflight requests
	r.Use(corsMiddleware())

	api := r.Group("/api")
	{
		api.GET("/health", h.HealthCheck)

		auth := api.Group("", middleware.RequireAuth())
		{
			auth.POST("/upload", h.Upload)                        // upload one or more files
			auth.POST("/files/query", h.GetFiles)                 // batch record lookup
			auth.GET("/files/:id/info", h.GetFileInfo)            // record without bytes
			auth.GET("/files/:id/download", h.Download)           // redirect or local serve
			auth.DELETE("/files/:id", h.DeleteFile)               // explicit delete
			auth.POST("/files/usage", h.MarkUsage)                // attachment diff
			auth.POST("/files/expiry", h.SetExpiry)               // expiry diff
		}
	}
}
