package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"poolcontrol/internal/models"
	dbconfig "poolcontrol/pkg/config"
	"poolcontrol/pkg/metrics"
	"poolcontrol/pkg/solana"

	"github.com/robfig/cron/v3"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DriftAlert is pushed to RabbitMQ when a run's custody balance disagrees
// with what the ledger says it should hold.
type DriftAlert struct {
	RunID    uint64 `json:"run_id"`
	Status   string `json:"status"`
	Expected uint64 `json:"expected"`
	Actual   uint64 `json:"actual"`
}

// expectedCustody returns the balance a run's vault should hold according
// to the ledger. Before settlement everything deposited is still pooled;
// after settlement the fee has left and withdrawals drain the rest.
func expectedCustody(run *models.Run) uint64 {
	if run.Status == models.RunStatusSettled {
		return run.FinalBalance - run.TotalWithdrawn
	}
	return run.TotalDeposited
}

// ReconcileRuns compares ledger state with live custody for every run that
// still holds funds, and cross-checks run totals against participation rows.
func ReconcileRuns(vault *solana.VaultManager) error {
	logger.Info("> Starting custody reconciliation")

	var runs []models.Run
	if err := dbconfig.DB.Find(&runs).Error; err != nil {
		logger.Errorf("> Failed to load runs: %v", err)
		return err
	}

	logger.Infof("> Found %d runs", len(runs))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for i := range runs {
		run := &runs[i]

		// Skip fully drained runs, there is nothing left to reconcile.
		if run.Status == models.RunStatusSettled && run.WithdrawnCount == run.ParticipantCount {
			continue
		}

		// Deposits recorded per participant must add up to the run total.
		var depositSum *uint64
		if err := dbconfig.DB.Model(&models.Participation{}).
			Where("run_id = ?", run.RunID).
			Select("SUM(deposit_amount)").
			Scan(&depositSum).Error; err != nil {
			logger.Errorf("> Failed to sum deposits for run #%d: %v", run.RunID, err)
			continue
		}
		if depositSum != nil && *depositSum != run.TotalDeposited {
			logger.Errorf("> Run #%d deposit sum mismatch: participations=%d run=%d",
				run.RunID, *depositSum, run.TotalDeposited)
		}

		actual, err := vault.Balance(ctx, run.RunID)
		if err != nil {
			logger.Errorf("> Failed to read custody for run #%d: %v", run.RunID, err)
			continue
		}

		expected := expectedCustody(run)
		drift := float64(expected) - float64(actual)
		metrics.CustodyDrift.WithLabelValues(strconv.FormatUint(run.RunID, 10)).Set(drift)

		if expected == actual {
			logger.Infof("> Run #%d reconciled: custody=%d", run.RunID, actual)
			continue
		}

		logger.Errorf("> Run #%d custody drift: expected=%d actual=%d", run.RunID, expected, actual)
		publishDriftAlert(&DriftAlert{
			RunID:    run.RunID,
			Status:   run.Status,
			Expected: expected,
			Actual:   actual,
		})
	}

	logger.Info("> Custody reconciliation finished")
	return nil
}

// onCustodyUpdate handles a live balance push from a vault watch. It runs
// between polling passes so a custody movement outside the engine surfaces
// immediately instead of at the next cron tick.
func onCustodyUpdate(runID uint64, balance uint64) {
	var run models.Run
	if err := dbconfig.DB.Where("run_id = ?", runID).First(&run).Error; err != nil {
		logger.Errorf("> Balance update for unknown run #%d: %v", runID, err)
		return
	}

	expected := expectedCustody(&run)
	drift := float64(expected) - float64(balance)
	metrics.CustodyDrift.WithLabelValues(strconv.FormatUint(runID, 10)).Set(drift)

	if expected == balance {
		return
	}
	logger.Errorf("> Run #%d live custody drift: expected=%d actual=%d", runID, expected, balance)
	publishDriftAlert(&DriftAlert{
		RunID:    runID,
		Status:   run.Status,
		Expected: expected,
		Actual:   balance,
	})
}

// syncVaultWatches keeps one WebSocket subscription per run that still holds
// funds and drops subscriptions for drained runs.
func syncVaultWatches(watcher *solana.VaultWatcher) {
	mint := os.Getenv("USDC_MINT")

	var runs []models.Run
	if err := dbconfig.DB.Find(&runs).Error; err != nil {
		logger.Errorf("> Failed to load runs for watch sync: %v", err)
		return
	}

	for i := range runs {
		run := &runs[i]
		if run.Status == models.RunStatusSettled && run.WithdrawnCount == run.ParticipantCount {
			watcher.Unwatch(run.RunID) // no-op if never watched
			continue
		}
		if err := watcher.Watch(run.RunID, run.VaultAddress, mint, onCustodyUpdate); err != nil {
			logger.Errorf("> Failed to watch vault for run #%d: %v", run.RunID, err)
		}
	}
}

// publishDriftAlert sends a drift alert to RabbitMQ, best effort.
func publishDriftAlert(alert *DriftAlert) {
	if dbconfig.RabbitMQ == nil {
		return
	}
	publisher, err := dbconfig.NewPublisher()
	if err != nil {
		logger.Errorf("> Failed to create publisher: %v", err)
		return
	}
	defer publisher.Close()

	if err := publisher.Publish("custody_drift_alerts", alert); err != nil {
		logger.Errorf("> Failed to publish drift alert: %v", err)
	}
}

// ReconcilePlatformFees checks the fee vault against accumulated fees minus
// recorded drains.
func ReconcilePlatformFees(vault *solana.VaultManager) error {
	var platform models.Platform
	if err := dbconfig.DB.First(&platform).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil // not initialized yet
		}
		return err
	}

	var drained *uint64
	if err := dbconfig.DB.Model(&models.FundTransferRecord{}).
		Where("kind = ?", models.TransferKindFeeDrain).
		Select("SUM(amount)").
		Scan(&drained).Error; err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	actual, err := vault.FeeBalance(ctx)
	if err != nil {
		return err
	}

	expected := platform.TotalFeesCollected
	if drained != nil {
		if *drained > expected {
			logger.Errorf("> Fee drains %d exceed collected fees %d", *drained, expected)
			return nil
		}
		expected -= *drained
	}
	if expected != actual {
		logger.Errorf("> Fee vault drift: expected=%d actual=%d", expected, actual)
	} else {
		logger.Infof("> Fee vault reconciled: balance=%d", actual)
	}
	return nil
}

func main() {
	os.MkdirAll("logs", 0755)
	file, err := os.OpenFile("logs/reconcile.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		logger.SetOutput(file)
	} else {
		logger.Warn("Could not open log file, logging to stdout")
	}

	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logger.InfoLevel)
	logger.Info("> Initializing reconcile job...")

	dbconfig.InitDB()
	logger.Info("> Database initialized")

	if os.Getenv("RABBITMQ_HOST") != "" {
		dbconfig.InitRabbitMQ()
	}

	vault, err := solana.NewVaultManagerFromEnv()
	if err != nil {
		logger.Fatalf("> Failed to initialize vault manager: %v", err)
	}

	var watcher *solana.VaultWatcher
	if os.Getenv("DEFAULT_SOLANA_WSS") != "" {
		watcher, err = solana.NewVaultWatcher()
		if err != nil {
			logger.Fatalf("> Failed to initialize vault watcher: %v", err)
		}
		logger.Info("> Live vault watching enabled")
	} else {
		logger.Warn("> DEFAULT_SOLANA_WSS not set, drift detection is poll-only")
	}

	c := cron.New(cron.WithSeconds())

	// Every 5 minutes
	_, err = c.AddFunc("0 */5 * * * *", func() {
		if err := ReconcileRuns(vault); err != nil {
			logger.Errorf("> Run reconciliation failed: %v", err)
		}
		if err := ReconcilePlatformFees(vault); err != nil {
			logger.Errorf("> Fee reconciliation failed: %v", err)
		}
		if watcher != nil {
			syncVaultWatches(watcher)
		}
	})
	if err != nil {
		logger.Fatalf("> Failed to register cron job: %v", err)
	}

	logger.Info("> Reconcile job scheduled every 5 minutes")

	c.Start()

	select {}
}
