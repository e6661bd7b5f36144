package handlers

import (
	"net/http"
	"strconv"

	"poolcontrol/internal/handlers/business"
	"poolcontrol/internal/models"
	"poolcontrol/pkg/metrics"
	dbconfig "poolcontrol/pkg/config"

	"github.com/gin-gonic/gin"
)

func runIDParam(c *gin.Context) (uint64, bool) {
	runID, err := strconv.ParseUint(c.Param("run_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_id"})
		return 0, false
	}
	return runID, true
}

// CreateRun provisions custody and creates a run in the waiting state.
func CreateRun(c *gin.Context) {
	var request CreateRunRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := business.CreateRun(c.Request.Context(), dbconfig.DB, vaultClient, callerAddress(c),
		request.RunID, request.MinDeposit, request.MaxDeposit, request.MaxParticipants)
	if err != nil {
		respondError(c, err)
		return
	}
	publishRunEvent(RunEvent{Event: "run_created", RunID: run.RunID})
	c.JSON(http.StatusCreated, run)
}

// StartRun transitions a run from waiting to active.
func StartRun(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}

	if err := business.StartRun(dbconfig.DB, callerAddress(c), runID); err != nil {
		respondError(c, err)
		return
	}
	publishRunEvent(RunEvent{Event: "run_started", RunID: runID})
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "status": models.RunStatusActive})
}

// SettleRun closes an active run against its live custody balance.
func SettleRun(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	var request SettleRunRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := business.SettleRun(c.Request.Context(), dbconfig.DB, vaultClient, callerAddress(c),
		runID, request.FinalBalance)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.RunsSettled.Inc()
	metrics.FeeRevenue.Add(float64(run.FeeAmount))
	publishRunEvent(RunEvent{
		Event:          "run_settled",
		RunID:          runID,
		TotalDeposited: run.TotalDeposited,
		FinalBalance:   run.FinalBalance,
		FeeAmount:      run.FeeAmount,
	})
	c.JSON(http.StatusOK, run)
}

// ListRuns returns all runs, newest first.
func ListRuns(c *gin.Context) {
	var runs []models.Run
	if err := dbconfig.DB.Order("run_id desc").Find(&runs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// GetRun returns a single run by its numeric identifier.
func GetRun(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}

	var run models.Run
	if err := dbconfig.DB.Where("run_id = ?", runID).First(&run).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListParticipations returns all participation records for a run.
func ListParticipations(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}

	var participations []models.Participation
	if err := dbconfig.DB.Where("run_id = ?", runID).Find(&participations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, participations)
}
