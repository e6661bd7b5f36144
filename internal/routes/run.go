package routes

import (
	"poolcontrol/internal/handlers"
	"poolcontrol/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRunRoutes sets up all routes related to run lifecycle management
func SetupRunRoutes(r *gin.Engine) {
	r.GET("/runs", handlers.ListRuns)
	r.GET("/runs/:run_id", handlers.GetRun)

	runs := r.Group("/runs")
	runs.Use(middleware.AuthRequired(), middleware.OperatorOnly())
	{
		runs.POST("", handlers.CreateRun)
		runs.POST("/:run_id/start", handlers.StartRun)
		runs.POST("/:run_id/settle", handlers.SettleRun)
		runs.POST("/:run_id/vote-stats", handlers.UpdateVoteStats)
		runs.POST("/:run_id/emergency-withdraw", handlers.EmergencyWithdraw)
	}
}
