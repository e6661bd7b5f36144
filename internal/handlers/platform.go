package handlers

import (
	"errors"
	"net/http"

	"poolcontrol/internal/handlers/business"
	"poolcontrol/internal/models"
	"poolcontrol/pkg/metrics"
	dbconfig "poolcontrol/pkg/config"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// InitializePlatform creates the one platform record with the caller as the
// operator authority.
func InitializePlatform(c *gin.Context) {
	var request InitializePlatformRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	platform, err := business.InitializePlatform(dbconfig.DB, callerAddress(c), request.FeeBps, request.FeeVault)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, platform)
}

// GetPlatform returns the platform record.
func GetPlatform(c *gin.Context) {
	var platform models.Platform
	if err := dbconfig.DB.First(&platform).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "platform not initialized"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, platform)
}

// SetFeeRate updates the protocol fee rate.
func SetFeeRate(c *gin.Context) {
	var request SetFeeRateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := business.SetFeeRate(dbconfig.DB, callerAddress(c), request.FeeBps); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_bps": request.FeeBps})
}

// PausePlatform sets the emergency pause flag.
func PausePlatform(c *gin.Context) {
	if err := business.PausePlatform(dbconfig.DB, callerAddress(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_paused": true})
}

// UnpausePlatform clears the emergency pause flag.
func UnpausePlatform(c *gin.Context) {
	if err := business.UnpausePlatform(dbconfig.DB, callerAddress(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_paused": false})
}

// WithdrawCollectedFees drains accumulated protocol fees to a destination
// wallet.
func WithdrawCollectedFees(c *gin.Context) {
	var request WithdrawFeesRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := business.WithdrawCollectedFees(c.Request.Context(), dbconfig.DB, vaultClient,
		callerAddress(c), request.Amount, request.Destination)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.FeeDrains.Inc()
	c.JSON(http.StatusOK, gin.H{
		"amount":          request.Amount,
		"amount_readable": readableAmount(request.Amount),
		"destination":     request.Destination,
	})
}
