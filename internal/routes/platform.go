package routes

import (
	"poolcontrol/internal/handlers"
	"poolcontrol/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupPlatformRoutes sets up all routes related to platform administration
func SetupPlatformRoutes(r *gin.Engine) {
	r.GET("/platform", handlers.GetPlatform)

	platform := r.Group("/platform")
	platform.Use(middleware.AuthRequired(), middleware.OperatorOnly())
	{
		platform.POST("", handlers.InitializePlatform)
		platform.POST("/pause", handlers.PausePlatform)
		platform.POST("/resume", handlers.UnpausePlatform)
		platform.PUT("/fee-rate", handlers.SetFeeRate)
		platform.POST("/withdraw-fees", handlers.WithdrawCollectedFees)
	}
}
