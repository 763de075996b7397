package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine) {
	apiGroup := r.Group("/api")
	apiGroup.GET("/health", GetHealth)
	apiGroup.GET("/report", GetReport)
	apiGroup.GET("/batches", GetBatches)
	apiGroup.GET("/bookmarks", GetBookmarks)
}
