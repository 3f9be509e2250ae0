package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ridesharepro/notification-service/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	notificationHandler := handler.NewNotificationHandler(deps)

	// Liveness: the process is up. Dependency status lives under /health/detailed.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
		})
	})
	r.GET("/health/detailed", notificationHandler.DetailedHealth)

	v1 := r.Group("/api/v1")
	{
		notifications := v1.Group("/notifications")
		{
			// POST /api/v1/notifications - Enqueue a notification
			notifications.POST("", notificationHandler.SendNotification)

			// GET /api/v1/notifications - List history with filtering and pagination
			notifications.GET("", notificationHandler.ListNotifications)

			// GET /api/v1/notifications/:notification_id - Get status record
			notifications.GET("/:notification_id", notificationHandler.GetNotification)
		}
	}

	return r
}
