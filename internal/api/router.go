package api

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feed-engine/internal/api/handler"
)

// NewRouter 挂载路由
func NewRouter(h *handler.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	{
		v1.POST("/feeds", h.PostFeed)
		v1.GET("/feeds", h.GetFeed)
		v1.DELETE("/feeds/:uuid", h.DeleteFeed)
		v1.POST("/users", h.Register)
		v1.GET("/users/:user_id/profile", h.GetProfile)
	}
	return r
}
