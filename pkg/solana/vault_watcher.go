package solana

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Connection states
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"

	// Reconnect settings
	maxReconnectAttempts = 10
	reconnectDelay       = 5 * time.Second

	// Error threshold
	maxWatchErrors = 6 // Maximum consecutive errors before stopping a watch
)

// BalanceCallback receives live custody balance updates in base units.
type BalanceCallback func(runID uint64, balance uint64)

// vaultWatch is one WebSocket subscription on a vault's token account.
type vaultWatch struct {
	RunID          uint64
	TokenAccount   string
	Conn           *websocket.Conn
	Status         string
	LastMessage    time.Time
	ReconnectCh    chan bool
	StopCh         chan bool
	SubscriptionID interface{}
	Callback       BalanceCallback
	mu             sync.RWMutex
	errorCount     int
}

// VaultWatcher keeps WebSocket subscriptions on run vault token accounts
// and pushes balance changes to a callback. The reconcile job uses it to
// spot custody movements between its polling passes.
type VaultWatcher struct {
	watches    sync.Map // map[uint64]*vaultWatch
	wsEndpoint string
}

// NewVaultWatcher creates a watcher over DEFAULT_SOLANA_WSS.
func NewVaultWatcher() (*VaultWatcher, error) {
	wsEndpoint := os.Getenv("DEFAULT_SOLANA_WSS")
	if wsEndpoint == "" {
		return nil, fmt.Errorf("DEFAULT_SOLANA_WSS environment variable is not set")
	}
	return &VaultWatcher{wsEndpoint: wsEndpoint}, nil
}

// Watch subscribes to the token account backing a run's vault.
func (w *VaultWatcher) Watch(runID uint64, vaultAddress string, mint string, callback BalanceCallback) error {
	if _, exists := w.watches.Load(runID); exists {
		log.WithFields(log.Fields{
			"run_id": runID,
		}).Info("Watch already exists, skipping")
		return nil
	}

	owner, err := solana.PublicKeyFromBase58(vaultAddress)
	if err != nil {
		return fmt.Errorf("invalid vault address: %w", err)
	}
	mintPK, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return fmt.Errorf("invalid mint: %w", err)
	}
	ata, err := associatedTokenAddress(mintPK, owner)
	if err != nil {
		return err
	}

	watch := &vaultWatch{
		RunID:        runID,
		TokenAccount: ata.String(),
		Status:       StateDisconnected,
		ReconnectCh:  make(chan bool, 1),
		StopCh:       make(chan bool, 1),
		Callback:     callback,
	}
	w.watches.Store(runID, watch)

	go w.connectAndWatch(watch)

	log.WithFields(log.Fields{
		"run_id":        runID,
		"token_account": watch.TokenAccount,
	}).Info("Vault watch created")
	return nil
}

// Unwatch stops the subscription for a run.
func (w *VaultWatcher) Unwatch(runID uint64) error {
	value, exists := w.watches.Load(runID)
	if !exists {
		return fmt.Errorf("watch for run #%d not found", runID)
	}

	watch := value.(*vaultWatch)
	close(watch.StopCh)
	w.watches.Delete(runID)
	log.WithFields(log.Fields{
		"run_id": runID,
	}).Info("Vault watch stopped")
	return nil
}

// Status returns the connection state of a run's watch.
func (w *VaultWatcher) Status(runID uint64) (string, error) {
	value, exists := w.watches.Load(runID)
	if !exists {
		return StateDisconnected, fmt.Errorf("watch not found")
	}

	watch := value.(*vaultWatch)
	watch.mu.RLock()
	defer watch.mu.RUnlock()
	return watch.Status, nil
}

// incrementErrorCount returns true once the consecutive-error threshold is
// reached and the watch should be torn down.
func (w *VaultWatcher) incrementErrorCount(watch *vaultWatch) bool {
	watch.mu.Lock()
	defer watch.mu.Unlock()

	watch.errorCount++
	log.WithFields(log.Fields{
		"run_id":      watch.RunID,
		"error_count": watch.errorCount,
		"max_errors":  maxWatchErrors,
	}).Warn("Error count increased")

	return watch.errorCount >= maxWatchErrors
}

func (w *VaultWatcher) resetErrorCount(watch *vaultWatch) {
	watch.mu.Lock()
	defer watch.mu.Unlock()
	watch.errorCount = 0
}

// connectAndWatch handles the WebSocket connection lifecycle.
func (w *VaultWatcher) connectAndWatch(watch *vaultWatch) {
	reconnectAttempts := 0

	for {
		select {
		case <-watch.StopCh:
			log.WithFields(log.Fields{
				"run_id": watch.RunID,
			}).Info("Stopping vault watch")
			if watch.Conn != nil {
				watch.Conn.Close()
			}
			return
		default:
			watch.mu.Lock()
			watch.Status = StateConnecting
			watch.mu.Unlock()

			c, _, err := websocket.DefaultDialer.Dial(w.wsEndpoint, nil)
			if err != nil {
				log.WithFields(log.Fields{
					"run_id": watch.RunID,
					"error":  err.Error(),
				}).Error("Failed to connect to Solana WebSocket")
				reconnectAttempts++

				if w.incrementErrorCount(watch) || reconnectAttempts >= maxReconnectAttempts {
					log.WithFields(log.Fields{
						"run_id":             watch.RunID,
						"reconnect_attempts": reconnectAttempts,
					}).Error("Stopping vault watch due to excessive errors")
					w.Unwatch(watch.RunID)
					return
				}
				time.Sleep(reconnectDelay)
				continue
			}

			watch.mu.Lock()
			watch.Conn = c
			watch.Status = StateConnected
			watch.mu.Unlock()

			reconnectAttempts = 0
			w.resetErrorCount(watch)
			log.WithFields(log.Fields{
				"run_id": watch.RunID,
			}).Info("Connected to Solana WebSocket")

			subscribeMsg := map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      1,
				"method":  "accountSubscribe",
				"params": []interface{}{
					watch.TokenAccount,
					map[string]interface{}{
						"encoding":   "jsonParsed",
						"commitment": "confirmed",
					},
				},
			}
			if err := c.WriteJSON(subscribeMsg); err != nil {
				log.WithFields(log.Fields{
					"run_id": watch.RunID,
					"error":  err.Error(),
				}).Error("Failed to send subscription message")
				c.Close()
				if w.incrementErrorCount(watch) {
					w.Unwatch(watch.RunID)
					return
				}
				time.Sleep(reconnectDelay)
				continue
			}

			go w.readMessages(watch)

			select {
			case <-watch.ReconnectCh:
				log.WithFields(log.Fields{
					"run_id": watch.RunID,
				}).Info("Reconnect requested")
				c.Close()
				time.Sleep(reconnectDelay)
			case <-watch.StopCh:
				c.Close()
				return
			}
		}
	}
}

// readMessages reads account notifications until the connection drops.
func (w *VaultWatcher) readMessages(watch *vaultWatch) {
	defer func() {
		watch.mu.Lock()
		if watch.Conn != nil {
			watch.Conn.Close()
		}
		watch.Status = StateDisconnected
		watch.mu.Unlock()

		// Trigger reconnect
		select {
		case watch.ReconnectCh <- true:
		default:
		}
	}()

	for {
		watch.mu.RLock()
		c := watch.Conn
		watch.mu.RUnlock()

		if c == nil {
			return
		}

		_, message, err := c.ReadMessage()
		if err != nil {
			log.WithFields(log.Fields{
				"run_id": watch.RunID,
				"error":  err.Error(),
			}).Error("Error reading message")
			if w.incrementErrorCount(watch) {
				w.Unwatch(watch.RunID)
			}
			return
		}

		w.resetErrorCount(watch)
		watch.mu.Lock()
		watch.LastMessage = time.Now()
		watch.mu.Unlock()

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			log.WithFields(log.Fields{
				"run_id": watch.RunID,
				"error":  err.Error(),
			}).Error("Failed to unmarshal message")
			continue
		}

		// Subscription confirmation: {"jsonrpc":"2.0","result":<id>,"id":1}
		if _, hasID := msg["id"]; hasID {
			if result, ok := msg["result"].(float64); ok {
				watch.mu.Lock()
				watch.SubscriptionID = result
				watch.mu.Unlock()
				log.WithFields(log.Fields{
					"run_id":          watch.RunID,
					"subscription_id": result,
				}).Info("Subscription confirmed")
				continue
			}
		}

		// Account notification with the parsed token amount
		if method, ok := msg["method"].(string); ok && method == "accountNotification" {
			if balance, ok := extractTokenAmount(msg); ok {
				log.WithFields(log.Fields{
					"run_id":  watch.RunID,
					"balance": balance,
				}).Debug("Vault balance update")
				if watch.Callback != nil {
					watch.Callback(watch.RunID, balance)
				}
			}
		}

		if wsErr, ok := msg["error"].(map[string]interface{}); ok {
			log.WithFields(log.Fields{
				"run_id": watch.RunID,
				"error":  wsErr,
			}).Error("WebSocket error")
			if w.incrementErrorCount(watch) {
				w.Unwatch(watch.RunID)
				return
			}
		}
	}
}

// extractTokenAmount digs the base-unit amount out of a jsonParsed
// accountNotification:
// params.result.value.data.parsed.info.tokenAmount.amount
func extractTokenAmount(msg map[string]interface{}) (uint64, bool) {
	params, ok := msg["params"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	result, ok := params["result"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	value, ok := result["value"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	data, ok := value["data"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	parsed, ok := data["parsed"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	info, ok := parsed["info"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	tokenAmount, ok := info["tokenAmount"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	amountStr, ok := tokenAmount["amount"].(string)
	if !ok {
		return 0, false
	}

	var amount uint64
	if _, err := fmt.Sscanf(amountStr, "%d", &amount); err != nil {
		return 0, false
	}
	return amount, true
}
