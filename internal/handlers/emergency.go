package handlers

import (
	"net/http"

	"poolcontrol/internal/handlers/business"
	dbconfig "poolcontrol/pkg/config"

	"github.com/gin-gonic/gin"
)

// EmergencyWithdraw moves funds out of a run's custody outside the normal
// withdrawal flow. Requires the platform to be paused.
func EmergencyWithdraw(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	var request EmergencyWithdrawRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := business.EmergencyWithdraw(c.Request.Context(), dbconfig.DB, vaultClient,
		callerAddress(c), runID, request.Amount, request.Destination)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":      runID,
		"amount":      request.Amount,
		"destination": request.Destination,
	})
}
