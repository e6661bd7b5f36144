package handlers

import (
	"net/http"

	"poolcontrol/internal/handlers/business"
	dbconfig "poolcontrol/pkg/config"

	"github.com/gin-gonic/gin"
)

// UpdateVoteStats records a participant's decision-accuracy counters for an
// active run. Fed by the off-chain voting pipeline through the operator.
func UpdateVoteStats(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	var request VoteStatsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := business.UpdateVoteStats(dbconfig.DB, callerAddress(c), runID,
		request.UserAddress, request.CorrectVotes, request.TotalVotes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":        runID,
		"user_address":  request.UserAddress,
		"correct_votes": request.CorrectVotes,
		"total_votes":   request.TotalVotes,
	})
}
