package handlers

import (
	"math/big"
	"net/http"

	"poolcontrol/internal/handlers/business"
	"poolcontrol/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// vaultClient is the custody collaborator shared by all handlers, injected
// from cmd/api at startup.
var vaultClient business.Vault

// SetVault injects the custody implementation.
func SetVault(v business.Vault) {
	vaultClient = v
}

// statusForKind maps engine failure kinds to HTTP statuses so clients can
// tell a retryable condition from a terminal one.
func statusForKind(kind business.Kind) int {
	switch kind {
	case business.KindAuthorization:
		return http.StatusForbidden
	case business.KindNotFound:
		return http.StatusNotFound
	case business.KindOutOfRange:
		return http.StatusBadRequest
	case business.KindAlreadyDone, business.KindInvalidState, business.KindBalanceMismatch:
		return http.StatusConflict
	case business.KindOverflow, business.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the typed failure to the client.
func respondError(c *gin.Context, err error) {
	kind := business.KindOf(err)
	if kind == business.KindInternal {
		log.Errorf("Internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": kind})
		return
	}
	c.JSON(statusForKind(kind), gin.H{"error": err.Error(), "kind": kind})
}

// callerAddress returns the wallet address the auth middleware attached.
func callerAddress(c *gin.Context) string {
	if v, ok := c.Get("wallet"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// readableAmount renders base units as a human USDC amount, e.g. 61875000
// becomes "61.875".
func readableAmount(units uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -business.USDCDecimals).String()
}

// publishRunEvent pushes a lifecycle event to the run_events queue. Queueing
// is best-effort: a broker outage must never fail a ledger operation that
// already committed.
func publishRunEvent(event RunEvent) {
	if config.RabbitMQ == nil {
		return
	}
	publisher, err := config.NewPublisher()
	if err != nil {
		log.Warnf("Failed to create publisher for run event: %v", err)
		return
	}
	defer publisher.Close()
	if err := publisher.Publish("run_events", event); err != nil {
		log.Warnf("Failed to publish run event %s for run #%d: %v", event.Event, event.RunID, err)
	}
}
