package handlers

import (
	"net/http"

	"poolcontrol/internal/handlers/business"
	"poolcontrol/pkg/metrics"
	dbconfig "poolcontrol/pkg/config"

	"github.com/gin-gonic/gin"
)

// Withdraw pays out the caller's share of a settled run. Retrying after a
// failure is safe: a failed withdrawal changes no state, and a duplicate
// attempt after success fails with already_done.
func Withdraw(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}

	user := callerAddress(c)
	payout, err := business.Withdraw(c.Request.Context(), dbconfig.DB, vaultClient, runID, user)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.Withdrawals.Inc()
	metrics.WithdrawnUnits.Add(float64(payout))
	c.JSON(http.StatusOK, WithdrawResponse{
		RunID:          runID,
		UserAddress:    user,
		Payout:         payout,
		PayoutReadable: readableAmount(payout),
	})
}
