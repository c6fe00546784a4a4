package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"umamicore/api/middleware"
)

type Router struct {
	Auth    *AuthHandlers
	Collect *CollectHandlers
	Sites   *WebsiteHandlers
	Stats   *StatsHandlers
	Reports *ReportHandlers
	Teams   *TeamHandlers
	Health  *HealthHandlers
}

// Register mounts every route on r. Collection and share lookup are public;
// everything else sits behind AuthRequired.
func (h Router) Register(r *gin.Engine, apiKey string, log *zap.Logger) {
	r.GET("/health", h.Health.Health)
	r.GET("/p", h.Collect.Pixel)

	api := r.Group("/api")
	{
		api.POST("/send", h.Collect.Send)
		api.POST("/batch", h.Collect.Batch)
		api.POST("/auth/login", h.Auth.Login)
		api.POST("/auth/logout", h.Auth.Logout)
		api.GET("/share/:shareId", h.Sites.Share)

		protected := api.Group("/")
		protected.Use(middleware.AuthRequired(apiKey, log))
		{
			protected.POST("/auth/verify", h.Auth.Verify)
			protected.POST("/users", middleware.AdminRequired(), h.Auth.CreateUser)

			protected.POST("/websites", h.Sites.Create)
			protected.GET("/websites", h.Sites.List)
			protected.GET("/reports/:reportId", h.Reports.GetReport)
			protected.POST("/teams", h.Teams.Create)
			protected.POST("/teams/:teamId/users", h.Teams.AddMember)

			site := protected.Group("/websites/:id")
			{
				site.GET("", h.Sites.Get)
				site.POST("", h.Sites.Update)
				site.DELETE("", h.Sites.Delete)
				site.POST("/reset", h.Sites.Reset)
				site.POST("/restore", h.Sites.Restore)

				site.GET("/stats", h.Stats.Stats)
				site.GET("/pageviews", h.Stats.Pageviews)
				site.GET("/metrics", h.Stats.Metrics)
				site.GET("/revenue", h.Stats.Revenue)
				site.GET("/event-counts", h.Stats.EventCounts)
				site.GET("/event-data", h.Stats.EventDataKeys)
				site.GET("/event-data/:key", h.Stats.EventDataValues)
				site.GET("/events/:eventId", h.Stats.Event)
				site.GET("/sessions/:sessionId", h.Stats.Session)
				site.GET("/sessions/:sessionId/data", h.Stats.SessionData)

				site.GET("/reports", h.Reports.ListReports)
				site.POST("/reports", h.Reports.CreateReport)
				site.POST("/reports/:reportId", h.Reports.UpdateReport)
				site.DELETE("/reports/:reportId", h.Reports.DeleteReport)
				site.GET("/reports/:reportId/run", h.Reports.RunReport)

				site.GET("/segments", h.Reports.ListSegments)
				site.POST("/segments", h.Reports.CreateSegment)
				site.DELETE("/segments/:segmentId", h.Reports.DeleteSegment)
			}
		}
	}
}
