package routes

import (
	"poolcontrol/internal/handlers"
	"poolcontrol/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupParticipationRoutes sets up the participant-facing deposit and
// withdrawal routes. These are rate limited per client IP.
func SetupParticipationRoutes(r *gin.Engine) {
	r.GET("/runs/:run_id/participations", handlers.ListParticipations)

	participant := r.Group("/runs")
	participant.Use(
		middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{RequestsPerSecond: 5, Burst: 10}),
		middleware.AuthRequired(),
	)
	{
		participant.POST("/:run_id/deposit", handlers.Deposit)
		participant.POST("/:run_id/withdraw", handlers.Withdraw)
	}
}
