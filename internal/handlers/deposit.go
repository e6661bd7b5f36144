package handlers

import (
	"net/http"

	"poolcontrol/internal/handlers/business"
	"poolcontrol/pkg/metrics"
	dbconfig "poolcontrol/pkg/config"

	"github.com/gin-gonic/gin"
)

// Deposit accepts a participant contribution into a waiting run. The caller
// deposits for itself; the wallet comes from the auth token, never the body.
func Deposit(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	var request DepositRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	participation, err := business.Deposit(c.Request.Context(), dbconfig.DB, vaultClient,
		runID, callerAddress(c), request.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.Deposits.Inc()
	metrics.DepositedUnits.Add(float64(request.Amount))
	c.JSON(http.StatusCreated, gin.H{
		"run_id":             runID,
		"user_address":       participation.UserAddress,
		"deposit_amount":     participation.DepositAmount,
		"deposit_readable":   readableAmount(participation.DepositAmount),
	})
}
