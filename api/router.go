package api

import (
	"github.com/gin-gonic/gin"

	"videdit/config"
	"videdit/coordinator"
	"videdit/registry"
	"videdit/task"
)

func SetupRouter(coord *coordinator.Coordinator, tasks *task.Manager, reg *registry.Registry, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	h := NewHandler(coord, tasks, reg, cfg)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/tasks", RateLimitMiddleware(NewSubmitLimiter(cfg)), h.handleCreateTask)
		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTaskStatus)
		v1.GET("/tasks/:taskId/result", h.handleGetTaskResult)
		v1.PATCH("/tasks/:taskId/cancel", h.handleCancelTask)

		v1.GET("/processors", h.handleListProcessors)

		// Output names are unguessable, but downloads stay behind auth.
		v1.GET("/files/*filename", h.handleGetFile)
	}
	return r
}
