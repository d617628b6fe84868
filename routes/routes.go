package routes

import (
	"github.com/gin-gonic/gin"

	config "github.com/phillip/case-funding-ledger/config"
	controllers "github.com/phillip/case-funding-ledger/controllers"
	middleware "github.com/phillip/case-funding-ledger/middleware"
)

func SetupRoutes(r *gin.Engine, cfg *config.Config) {
	// protected
	auth := middleware.AuthMiddleware(cfg)

	contributions := r.Group("/contributions")
	contributions.Use(auth)
	{
		contributions.POST("", controllers.CreateContribution(cfg))
		contributions.GET("/:id", controllers.GetContribution(cfg))
		contributions.POST("/:id/decision", controllers.SubmitDecision(cfg))
		contributions.POST("/:id/resubmit", controllers.ResubmitContribution(cfg))
		contributions.POST("/:id/proof", controllers.UploadProof(cfg))
	}

	cases := r.Group("/cases")
	cases.Use(auth)
	{
		cases.GET("/:id", controllers.GetCase(cfg))
		cases.POST("/:id/recompute", controllers.RecomputeCase(cfg))
	}

	batches := r.Group("/batches")
	batches.Use(auth)
	{
		batches.POST("", controllers.CreateBatch(cfg))
		batches.GET("/:id", controllers.GetBatch(cfg))
		batches.POST("/:id/mappings", controllers.MapBatchNicknames(cfg))
		batches.POST("/:id/process", controllers.ProcessBatch(cfg))
		batches.POST("/:id/repair", controllers.RepairBatch(cfg))
		batches.DELETE("/:id", controllers.DeleteBatch(cfg))
	}

	notifs := r.Group("/notifications")
	notifs.Use(auth)
	{
		notifs.GET("", controllers.ListNotifications(cfg))
		notifs.PATCH("/:id/read", controllers.MarkNotificationRead(cfg))
	}
}
